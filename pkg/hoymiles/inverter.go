// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Inverter is one polled microinverter: its reassembly buffer, its parsed
// data and the requests it can issue on its radio.
type Inverter struct {
	name   string
	serial Serial
	model  *InverterModel
	radio  Radio
	clock  Clock
	log    logrus.FieldLogger
	freq   FrequencyManager

	enablePolling  atomic.Bool
	enableCommands atomic.Bool

	// Receive state. Only the engine loop touches it.
	fragments       [MaxRFFragmentCount]Fragment
	lastPacketID    uint8
	maxPacketID     uint8
	retransmitCount int

	lastAlarmLogCount uint8

	controlMu        sync.Mutex
	activePowerLimit float32
	activePowerType  PowerLimitControlType
	powerState       PowerState

	Statistics       *StatisticsParser
	EventLog         *AlarmLogParser
	DevInfo          *DevInfoParser
	SystemConfigPara *SystemConfigParaParser
	GridProfile      *GridProfileParser
	PowerCommand     *PowerCommandParser
	RadioStats       *RadioStatistics
}

func newInverter(name string, serial Serial, model *InverterModel, radio Radio, clock Clock, log logrus.FieldLogger) *Inverter {
	inv := &Inverter{
		name:             name,
		serial:           serial,
		model:            model,
		radio:            radio,
		clock:            clock,
		log:              log.WithFields(logrus.Fields{"serial": serial.String(), "inverter": name}),
		Statistics:       NewStatisticsParser(model.fields),
		EventLog:         NewAlarmLogParser(),
		DevInfo:          NewDevInfoParser(),
		SystemConfigPara: NewSystemConfigParaParser(),
		GridProfile:      NewGridProfileParser(),
		PowerCommand:     NewPowerCommandParser(),
		RadioStats:       NewRadioStatistics(clock.Now()),
		activePowerType:  RelativNonPersistent,
	}
	inv.enablePolling.Store(true)
	inv.enableCommands.Store(true)
	inv.freq = radio.newFrequencyManager(inv)
	return inv
}

func (inv *Inverter) Name() string { return inv.name }
func (inv *Inverter) Serial() Serial { return inv.serial }
func (inv *Inverter) Model() *InverterModel { return inv.model }
func (inv *Inverter) Type() InverterType { return inv.model.Type }
func (inv *Inverter) RadioKind() RadioKind { return inv.radio.Kind() }
func (inv *Inverter) Frequency() FrequencyManager { return inv.freq }

func (inv *Inverter) EnablePolling() bool { return inv.enablePolling.Load() }
func (inv *Inverter) SetEnablePolling(b bool) { inv.enablePolling.Store(b) }
func (inv *Inverter) EnableCommands() bool { return inv.enableCommands.Load() }
func (inv *Inverter) SetEnableCommands(b bool) { inv.enableCommands.Store(b) }

// IsReachable is false while polling is disabled or after more than
// MaxOnlineFailureCount stats requests in a row went unanswered.
func (inv *Inverter) IsReachable() bool {
	return inv.EnablePolling() && inv.Statistics.RxFailureCount() <= MaxOnlineFailureCount
}

// IsProducing reports AC output on a reachable inverter.
func (inv *Inverter) IsProducing() bool {
	return inv.IsReachable() && inv.Statistics.ChannelFieldValue(TypeAC, 0, FieldPAC) > 0
}

// ============================================================
// Fragment reassembly
// ============================================================

func (inv *Inverter) clearRxFragmentBuffer() {
	for i := range inv.fragments {
		inv.fragments[i] = Fragment{}
	}
	inv.lastPacketID = 0
	inv.maxPacketID = 0
	inv.retransmitCount = 0
}

// AddRxFragment stores a received frame in the slot named by its fragment
// number.
func (inv *Inverter) AddRxFragment(data []byte, rssi int8) {
	inv.RadioStats.update(func(s *RadioStatsSnapshot) { s.LastRSSI = rssi })

	if len(data) < fragmentOverhead {
		inv.log.WithField("len", len(data)).Warn("fragment too short")
		return
	}
	if len(data)-fragmentOverhead > MaxRFPayloadSize {
		inv.log.WithField("len", len(data)).Warn("fragment too large")
		return
	}

	id := data[9] & fragmentIDMask
	if id == 0 {
		inv.log.Warn("fragment number zero received, ignored")
		return
	}
	if id >= MaxRFFragmentCount {
		inv.log.WithField("fragment", id).Warn("fragment number too large, ignored")
		return
	}

	slot := &inv.fragments[id-1]
	slot.Len = uint8(copy(slot.Data[:], data[fragmentHeaderSize:len(data)-1]))
	slot.MainCmd = data[0]
	slot.RSSI = rssi
	slot.WasReceived = true

	if id > inv.lastPacketID {
		inv.lastPacketID = id
	}
	if data[9]&lastFragmentFlag != 0 {
		inv.maxPacketID = id
	}
}

// rxComplete reports whether the last fragment and all before it arrived.
func (inv *Inverter) rxComplete() bool {
	if inv.maxPacketID == 0 {
		return false
	}
	for i := 0; i < int(inv.maxPacketID); i++ {
		if !inv.fragments[i].WasReceived {
			return false
		}
	}
	return true
}

// VerifyAllFragments decides what to do with the answer to cmd: accept it,
// re-request a fragment, resend cmd or give up.
func (inv *Inverter) VerifyAllFragments(cmd Command) VerifyResult {
	if inv.lastPacketID == 0 {
		if cmd.SendCount() <= cmd.MaxResendCount() {
			return FragmentAllMissingResend
		}
		cmd.GotTimeout(inv)
		return FragmentAllMissingTimeout
	}

	if inv.maxPacketID == 0 {
		return inv.retransmit(cmd, inv.lastPacketID+1)
	}

	for i := 0; i < int(inv.maxPacketID)-1; i++ {
		if !inv.fragments[i].WasReceived {
			return inv.retransmit(cmd, uint8(i+1))
		}
	}

	if !cmd.HandleResponse(inv, inv.fragments[:inv.maxPacketID]) {
		cmd.GotTimeout(inv)
		return FragmentHandleError
	}
	return FragmentOK
}

func (inv *Inverter) retransmit(cmd Command, id uint8) VerifyResult {
	if inv.retransmitCount < cmd.MaxRetransmitCount() {
		inv.retransmitCount++
		return VerifyResult(id)
	}
	cmd.GotTimeout(inv)
	return FragmentRetransmitTimeout
}

// ============================================================
// Requests
// ============================================================

func (inv *Inverter) dtu() Serial { return inv.radio.DTUSerial() }

func (inv *Inverter) SendStatsRequest() bool {
	if !inv.EnablePolling() {
		return false
	}
	inv.radio.Enqueue(NewRealTimeRunDataCommand(inv.serial, inv.dtu(), inv.clock.Now()))
	return true
}

// SendAlarmLogRequest asks for the event log when the event counter in the
// last stats changed, or unconditionally when force is set.
func (inv *Inverter) SendAlarmLogRequest(force bool) bool {
	if !inv.EnablePolling() {
		return false
	}
	if inv.Statistics.HasChannelFieldValue(TypeInverter, 0, FieldEventLog) {
		count := uint8(inv.Statistics.ChannelFieldValue(TypeInverter, 0, FieldEventLog))
		if count == inv.lastAlarmLogCount && !force {
			return false
		}
		inv.lastAlarmLogCount = count
	}
	inv.EventLog.SetLastAlarmRequestSuccess(CommandPending)
	inv.radio.Enqueue(NewAlarmDataCommand(inv.serial, inv.dtu(), inv.clock.Now()))
	return true
}

func (inv *Inverter) SendDevInfoRequest() bool {
	if !inv.EnablePolling() {
		return false
	}
	now := inv.clock.Now()
	inv.radio.Enqueue(NewDevInfoAllCommand(inv.serial, inv.dtu(), now))
	inv.radio.Enqueue(NewDevInfoSimpleCommand(inv.serial, inv.dtu(), now))
	return true
}

func (inv *Inverter) SendSystemConfigParaRequest() bool {
	if !inv.EnablePolling() {
		return false
	}
	inv.SystemConfigPara.SetLastLimitRequestSuccess(CommandPending)
	inv.radio.Enqueue(NewSystemConfigParaCommand(inv.serial, inv.dtu(), inv.clock.Now()))
	return true
}

func (inv *Inverter) SendGridOnProFileParaRequest() bool {
	if !inv.EnablePolling() {
		return false
	}
	inv.radio.Enqueue(NewGridOnProFileParaCommand(inv.serial, inv.dtu(), inv.clock.Now()))
	return true
}

// SendActivePowerControlRequest queues a new power limit. Relative limits
// are capped at 100 percent.
func (inv *Inverter) SendActivePowerControlRequest(limit float32, t PowerLimitControlType) error {
	if !inv.EnableCommands() {
		return ErrCommandsDisabled
	}
	if t.IsRelative() && limit > 100 {
		limit = 100
	}
	if limit < 0 {
		limit = 0
	}
	inv.controlMu.Lock()
	inv.activePowerLimit = limit
	inv.activePowerType = t
	inv.controlMu.Unlock()

	cmd := NewActivePowerControlCommand(inv.serial, inv.dtu())
	cmd.SetActivePowerLimit(limit, t)
	inv.SystemConfigPara.SetLastLimitCommandSuccess(CommandPending)
	inv.radio.Enqueue(cmd)
	return nil
}

func (inv *Inverter) ResendActivePowerControlRequest() error {
	inv.controlMu.Lock()
	limit, t := inv.activePowerLimit, inv.activePowerType
	inv.controlMu.Unlock()
	return inv.SendActivePowerControlRequest(limit, t)
}

func (inv *Inverter) SendPowerControlRequest(on bool) error {
	if !inv.EnableCommands() {
		return ErrCommandsDisabled
	}
	state := PowerOff
	if on {
		state = PowerOn
	}
	return inv.sendPowerState(state)
}

func (inv *Inverter) SendRestartControlRequest() error {
	if !inv.EnableCommands() {
		return ErrCommandsDisabled
	}
	return inv.sendPowerState(PowerRestart)
}

func (inv *Inverter) sendPowerState(state PowerState) error {
	inv.controlMu.Lock()
	inv.powerState = state
	inv.controlMu.Unlock()

	cmd := NewPowerControlCommand(inv.serial, inv.dtu())
	if state == PowerRestart {
		cmd.SetRestart()
	} else {
		cmd.SetPowerOn(state == PowerOn)
	}
	inv.PowerCommand.SetLastPowerCommandSuccess(CommandPending)
	inv.radio.Enqueue(cmd)
	return nil
}

func (inv *Inverter) ResendPowerControlRequest() error {
	if !inv.EnableCommands() {
		return ErrCommandsDisabled
	}
	inv.controlMu.Lock()
	state := inv.powerState
	inv.controlMu.Unlock()
	return inv.sendPowerState(state)
}

// SendChangeChannelRequest queues a channel change on radios that need one.
func (inv *Inverter) SendChangeChannelRequest() bool {
	cmd := inv.radio.channelChangeCommand(inv)
	if cmd == nil {
		return false
	}
	inv.radio.Enqueue(cmd)
	return true
}
