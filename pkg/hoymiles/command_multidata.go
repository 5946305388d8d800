// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"encoding/binary"
	"time"

	"github.com/sirupsen/logrus"
)

const multiDataPayloadSize = 26

// multiDataCommand is the 0x15 request whose answer spans several
// fragments protected by a trailing CRC16.
type multiDataCommand struct {
	commandBase
}

func newMultiDataCommand(name string, dataType uint8, target, router Serial, timeout time.Duration) multiDataCommand {
	c := multiDataCommand{commandBase: newCommandBase(name, cmdMultiData, target, router)}
	c.payload[9] = lastFragmentFlag
	c.payload[10] = dataType
	c.payload[11] = 0x00
	// [12..15] time, [16..23] gap and password
	c.size = multiDataPayloadSize
	c.timeout = timeout
	c.putCRC16(10, 14)
	return c
}

func (c *multiDataCommand) DataType() uint8 { return c.payload[10] }

// SetTime stores t as big-endian unix seconds.
func (c *multiDataCommand) SetTime(t time.Time) {
	binary.BigEndian.PutUint32(c.payload[12:16], uint32(t.Unix()))
	c.putCRC16(10, 14)
}

func (c *multiDataCommand) Time() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(c.payload[12:16])), 0)
}

func (c *multiDataCommand) QueueInsertType() QueueInsertType { return InsertReplaceExistent }

// verifyCRC checks the CRC16 carried in the last two bytes of the last
// fragment against all preceding payload bytes.
func (c *multiDataCommand) verifyCRC(inv *Inverter, fragments []Fragment) bool {
	if len(fragments) == 0 {
		return false
	}
	acc := NewCRC16Accumulator()
	for i := 0; i < len(fragments)-1; i++ {
		acc.Write(fragments[i].Bytes())
	}
	last := fragments[len(fragments)-1].Bytes()
	if len(last) < 2 {
		return false
	}
	acc.Write(last[:len(last)-2])
	want := binary.BigEndian.Uint16(last[len(last)-2:])
	if got := acc.Sum16(); got != want {
		inv.log.WithFields(logrus.Fields{
			"command":  c.name,
			"trace":    c.traceID,
			"got":      got,
			"expected": want,
		}).Warn("response CRC16 mismatch")
		return false
	}
	return true
}

// hasMinimumSize rejects answers with a valid CRC but too few bytes, which
// inverters send when running on low power.
func (c *multiDataCommand) hasMinimumSize(inv *Inverter, fragments []Fragment, expected int) bool {
	if got := totalFragmentSize(fragments); got < expected {
		inv.log.WithFields(logrus.Fields{
			"command":  c.name,
			"trace":    c.traceID,
			"received": got,
			"expected": expected,
		}).Warn("response shorter than expected")
		return false
	}
	return true
}

// fragmentSink receives the concatenated payload of an answer.
type fragmentSink interface {
	BeginAppendFragment()
	ClearBuffer()
	AppendFragment(offset int, data []byte)
	EndAppendFragment()
}

func copyFragments(sink fragmentSink, fragments []Fragment) {
	sink.BeginAppendFragment()
	sink.ClearBuffer()
	offs := 0
	for i := range fragments {
		sink.AppendFragment(offs, fragments[i].Bytes())
		offs += int(fragments[i].Len)
	}
	sink.EndAppendFragment()
}

// ============================================================
// RealTimeRunData
// ============================================================

type RealTimeRunDataCommand struct {
	multiDataCommand
}

func NewRealTimeRunDataCommand(target, router Serial, t time.Time) *RealTimeRunDataCommand {
	c := &RealTimeRunDataCommand{newMultiDataCommand("RealTimeRunData", dataTypeRealTimeRunData, target, router, timeoutRealTimeRunData)}
	c.SetTime(t)
	return c
}

func (c *RealTimeRunDataCommand) HandleResponse(inv *Inverter, fragments []Fragment) bool {
	if !c.verifyCRC(inv, fragments) {
		return false
	}
	if !c.hasMinimumSize(inv, fragments, inv.Statistics.ExpectedByteCount()) {
		return false
	}
	copyFragments(inv.Statistics, fragments)
	inv.Statistics.ResetRxFailureCount()
	inv.Statistics.SetLastUpdate(inv.clock.Now())
	return true
}

func (c *RealTimeRunDataCommand) GotTimeout(inv *Inverter) {
	inv.Statistics.IncrementRxFailureCount()
}

// ============================================================
// SystemConfigPara
// ============================================================

type SystemConfigParaCommand struct {
	multiDataCommand
}

func NewSystemConfigParaCommand(target, router Serial, t time.Time) *SystemConfigParaCommand {
	c := &SystemConfigParaCommand{newMultiDataCommand("SystemConfigPara", dataTypeSystemConfigPara, target, router, timeoutSystemConfigPara)}
	c.SetTime(t)
	return c
}

func (c *SystemConfigParaCommand) HandleResponse(inv *Inverter, fragments []Fragment) bool {
	if !c.verifyCRC(inv, fragments) {
		return false
	}
	if !c.hasMinimumSize(inv, fragments, inv.SystemConfigPara.ExpectedByteCount()) {
		return false
	}
	now := inv.clock.Now()
	copyFragments(inv.SystemConfigPara, fragments)
	inv.SystemConfigPara.SetLastUpdate(now)
	inv.SystemConfigPara.SetLastUpdateRequest(now)
	inv.SystemConfigPara.SetLastLimitRequestSuccess(CommandOK)
	return true
}

func (c *SystemConfigParaCommand) GotTimeout(inv *Inverter) {
	inv.SystemConfigPara.SetLastLimitRequestSuccess(CommandNOK)
}

// ============================================================
// AlarmData
// ============================================================

type AlarmDataCommand struct {
	multiDataCommand
}

func NewAlarmDataCommand(target, router Serial, t time.Time) *AlarmDataCommand {
	c := &AlarmDataCommand{newMultiDataCommand("AlarmData", dataTypeAlarmData, target, router, timeoutAlarmData)}
	c.SetTime(t)
	return c
}

func (c *AlarmDataCommand) HandleResponse(inv *Inverter, fragments []Fragment) bool {
	if !c.verifyCRC(inv, fragments) {
		return false
	}
	copyFragments(inv.EventLog, fragments)
	inv.EventLog.SetLastUpdate(inv.clock.Now())
	inv.EventLog.SetLastAlarmRequestSuccess(CommandOK)
	return true
}

func (c *AlarmDataCommand) GotTimeout(inv *Inverter) {
	inv.EventLog.SetLastAlarmRequestSuccess(CommandNOK)
}

// ============================================================
// DevInfo
// ============================================================

type DevInfoAllCommand struct {
	multiDataCommand
}

func NewDevInfoAllCommand(target, router Serial, t time.Time) *DevInfoAllCommand {
	c := &DevInfoAllCommand{newMultiDataCommand("DevInfoAll", dataTypeDevInfoAll, target, router, timeoutDevInfo)}
	c.SetTime(t)
	return c
}

func (c *DevInfoAllCommand) HandleResponse(inv *Inverter, fragments []Fragment) bool {
	if !c.verifyCRC(inv, fragments) {
		return false
	}
	copyFragments(inv.DevInfo.allSink(), fragments)
	inv.DevInfo.SetLastUpdateAll(inv.clock.Now())
	return true
}

type DevInfoSimpleCommand struct {
	multiDataCommand
}

func NewDevInfoSimpleCommand(target, router Serial, t time.Time) *DevInfoSimpleCommand {
	c := &DevInfoSimpleCommand{newMultiDataCommand("DevInfoSimple", dataTypeDevInfoSimple, target, router, timeoutDevInfo)}
	c.SetTime(t)
	return c
}

func (c *DevInfoSimpleCommand) HandleResponse(inv *Inverter, fragments []Fragment) bool {
	if !c.verifyCRC(inv, fragments) {
		return false
	}
	copyFragments(inv.DevInfo.simpleSink(), fragments)
	inv.DevInfo.SetLastUpdateSimple(inv.clock.Now())
	return true
}

// ============================================================
// GridOnProFilePara
// ============================================================

type GridOnProFileParaCommand struct {
	multiDataCommand
}

func NewGridOnProFileParaCommand(target, router Serial, t time.Time) *GridOnProFileParaCommand {
	c := &GridOnProFileParaCommand{newMultiDataCommand("GridOnProFilePara", dataTypeGridOnProFile, target, router, timeoutGridOnProFile)}
	c.SetTime(t)
	return c
}

func (c *GridOnProFileParaCommand) HandleResponse(inv *Inverter, fragments []Fragment) bool {
	if !c.verifyCRC(inv, fragments) {
		return false
	}
	copyFragments(inv.GridProfile, fragments)
	inv.GridProfile.SetLastUpdate(inv.clock.Now())
	return true
}
