// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

const (
	devControlTypeActivePowerControl = 0x0B

	powerControlPayloadSize       = 14
	activePowerControlPayloadSize = 18
)

// devControlCommand is the 0x51 family. Its answer is a single
// acknowledgement fragment carrying the command id with bit 7 set.
type devControlCommand struct {
	commandBase
}

func newDevControlCommand(name string, target, router Serial) devControlCommand {
	c := devControlCommand{commandBase: newCommandBase(name, cmdDevControl, target, router)}
	c.payload[9] = lastFragmentFlag | 0x01
	c.timeout = timeoutDevControl
	return c
}

func (c *devControlCommand) acknowledged(fragments []Fragment) bool {
	for i := range fragments {
		if fragments[i].MainCmd != c.payload[0]|lastFragmentFlag {
			return false
		}
	}
	return true
}

// ============================================================
// PowerControl
// ============================================================

type PowerControlCommand struct {
	devControlCommand
}

func NewPowerControlCommand(target, router Serial) *PowerControlCommand {
	c := &PowerControlCommand{newDevControlCommand("PowerControl", target, router)}
	c.SetPowerOn(true)
	return c
}

func (c *PowerControlCommand) setState(s PowerState) {
	c.payload[10] = uint8(s)
	c.payload[11] = 0x00
	c.putCRC16(10, 2)
	c.size = powerControlPayloadSize
}

func (c *PowerControlCommand) SetPowerOn(on bool) {
	if on {
		c.setState(PowerOn)
	} else {
		c.setState(PowerOff)
	}
}

func (c *PowerControlCommand) SetRestart() {
	c.setState(PowerRestart)
}

func (c *PowerControlCommand) State() PowerState {
	return PowerState(c.payload[10])
}

func (c *PowerControlCommand) QueueInsertType() QueueInsertType { return InsertRemoveOldest }

func (c *PowerControlCommand) HandleResponse(inv *Inverter, fragments []Fragment) bool {
	if !c.acknowledged(fragments) {
		return false
	}
	inv.PowerCommand.SetLastPowerCommandSuccess(CommandOK)
	inv.PowerCommand.SetLastUpdate(inv.clock.Now())
	return true
}

func (c *PowerControlCommand) GotTimeout(inv *Inverter) {
	inv.PowerCommand.SetLastPowerCommandSuccess(CommandNOK)
}

// ============================================================
// ActivePowerControl
// ============================================================

type ActivePowerControlCommand struct {
	devControlCommand
}

func NewActivePowerControlCommand(target, router Serial) *ActivePowerControlCommand {
	c := &ActivePowerControlCommand{newDevControlCommand("ActivePowerControl", target, router)}
	c.payload[10] = devControlTypeActivePowerControl
	c.payload[11] = 0x00
	c.SetActivePowerLimit(10, RelativNonPersistent)
	return c
}

// SetActivePowerLimit encodes limit (watts or percent) in tenths.
func (c *ActivePowerControlCommand) SetActivePowerLimit(limit float32, t PowerLimitControlType) {
	binary.BigEndian.PutUint16(c.payload[12:14], uint16(limit*10))
	binary.BigEndian.PutUint16(c.payload[14:16], uint16(t))
	c.putCRC16(10, 6)
	c.size = activePowerControlPayloadSize
}

func (c *ActivePowerControlCommand) Limit() float32 {
	return float32(binary.BigEndian.Uint16(c.payload[12:14])) / 10
}

func (c *ActivePowerControlCommand) Type() PowerLimitControlType {
	return PowerLimitControlType(binary.BigEndian.Uint16(c.payload[14:16]))
}

func (c *ActivePowerControlCommand) QueueInsertType() QueueInsertType { return InsertRemoveOldest }

func (c *ActivePowerControlCommand) SameParameter(other Command) bool {
	o, ok := other.(*ActivePowerControlCommand)
	return ok && c.commandBase.SameParameter(other) && o.Type() == c.Type()
}

func (c *ActivePowerControlCommand) HandleResponse(inv *Inverter, fragments []Fragment) bool {
	if !c.acknowledged(fragments) {
		return false
	}
	// A newer limit of the same kind is still queued; its answer decides.
	if n := inv.radio.CountSimilarCommands(c); n == 1 {
		inv.SystemConfigPara.SetLastLimitCommandSuccess(CommandOK)
	} else {
		inv.log.WithFields(logrus.Fields{"trace": c.traceID, "pending": n}).Debug("limit acknowledged, newer limit queued")
	}
	if c.Type().IsRelative() {
		inv.SystemConfigPara.SetLimitPercent(c.Limit())
	} else if maxPower := inv.Statistics.MaxPower(); maxPower > 0 {
		inv.SystemConfigPara.SetLimitPercent(c.Limit() / float32(maxPower) * 100)
	}
	inv.SystemConfigPara.SetLastUpdateCommand(inv.clock.Now())
	return true
}

func (c *ActivePowerControlCommand) GotTimeout(inv *Inverter) {
	inv.SystemConfigPara.SetLastLimitCommandSuccess(CommandNOK)
}
