// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"fmt"
	"time"
)

const (
	alarmLogHeaderSize = 2
	alarmLogEntrySize  = 12
	halfDay            = 12 * 60 * 60
)

// AlarmLogEntry is one event reported by the inverter. Times are seconds
// since local midnight on the inverter.
type AlarmLogEntry struct {
	MessageID uint16
	Message   string
	StartTime uint32
	EndTime   uint32
}

func (e AlarmLogEntry) String() string {
	return fmt.Sprintf("%s-%s #%d %s", secondsOfDay(e.StartTime), secondsOfDay(e.EndTime), e.MessageID, e.Message)
}

func secondsOfDay(s uint32) string {
	d := time.Duration(s) * time.Second
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

var alarmMessages = map[uint16]string{
	1:   "Inverter start",
	2:   "DTU command failed",
	4:   "Offline",
	11:  "Grid voltage surge",
	12:  "Grid voltage sharp drop",
	13:  "Grid frequency mutation",
	14:  "Grid phase mutation",
	15:  "Grid transient fluctuation",
	36:  "INV overvoltage or overcurrent",
	46:  "FB overvoltage",
	47:  "FB overcurrent",
	48:  "FB clamp overvoltage",
	49:  "FB clamp overvoltage",
	61:  "Calibration parameter error",
	62:  "System configuration parameter error",
	63:  "Abnormal power generation data",
	71:  "Grid overvoltage load reduction (VW) function enable",
	72:  "Power grid over-frequency load reduction (FW) function enable",
	73:  "Over-temperature load reduction (TW) function enable",
	121: "Over temperature protection",
	122: "Microinverter is suspected of being stolen",
	123: "Locked by remote control",
	124: "Shut down by remote control",
	125: "Grid configuration parameter error",
	127: "Firmware error",
	129: "Abnormal bias",
	130: "Offline",
	141: "Grid: Grid overvoltage",
	142: "Grid: 10 min value grid overvoltage",
	143: "Grid: Grid undervoltage",
	144: "Grid: Grid overfrequency",
	145: "Grid: Grid underfrequency",
	146: "Grid: Rapid grid frequency change rate",
	147: "Grid: Power grid outage",
	148: "Grid: Grid disconnection",
	149: "Grid: Island detected",
	205: "MPPT-A: Input overvoltage",
	206: "MPPT-B: Input overvoltage",
	207: "MPPT-A: Input undervoltage",
	208: "MPPT-B: Input undervoltage",
	209: "PV-1: No input",
	210: "PV-2: No input",
	211: "PV-3: No input",
	212: "PV-4: No input",
	213: "MPPT-A: PV-1 & PV-2 abnormal wiring",
	214: "MPPT-B: PV-3 & PV-4 abnormal wiring",
}

// AlarmLogParser decodes AlarmData answers.
type AlarmLogParser struct {
	parserBase
	buf parserBuffer

	lastAlarmRequestSuccess CommandState
}

func NewAlarmLogParser() *AlarmLogParser {
	return &AlarmLogParser{
		buf:                     newParserBuffer(alarmLogPayloadSize),
		lastAlarmRequestSuccess: CommandPending,
	}
}

func (p *AlarmLogParser) ClearBuffer() { p.buf.clear() }

func (p *AlarmLogParser) AppendFragment(offset int, data []byte) { p.buf.append(offset, data) }

func (p *AlarmLogParser) EntryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entryCount()
}

func (p *AlarmLogParser) entryCount() int {
	if p.buf.length <= alarmLogHeaderSize {
		return 0
	}
	return (p.buf.length - alarmLogHeaderSize) / alarmLogEntrySize
}

// Entry decodes entry i. Bits 13 and 12 of the leading word flag start and
// end times in the afternoon.
func (p *AlarmLogParser) Entry(i int) (AlarmLogEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= p.entryCount() {
		return AlarmLogEntry{}, false
	}
	off := alarmLogHeaderSize + i*alarmLogEntrySize
	wcode := p.buf.u16(off)
	e := AlarmLogEntry{
		MessageID: uint16(p.buf.data[off+1]),
		StartTime: uint32(p.buf.u16(off + 4)),
		EndTime:   uint32(p.buf.u16(off + 6)),
	}
	if (wcode>>13)&0x01 == 1 {
		e.StartTime += halfDay
	}
	if (wcode>>12)&0x01 == 1 {
		e.EndTime += halfDay
	}
	if msg, ok := alarmMessages[e.MessageID]; ok {
		e.Message = msg
	} else {
		e.Message = "Unknown"
	}
	return e, true
}

// Entries decodes all entries.
func (p *AlarmLogParser) Entries() []AlarmLogEntry {
	n := p.EntryCount()
	out := make([]AlarmLogEntry, 0, n)
	for i := 0; i < n; i++ {
		if e, ok := p.Entry(i); ok {
			out = append(out, e)
		}
	}
	return out
}

func (p *AlarmLogParser) LastAlarmRequestSuccess() CommandState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAlarmRequestSuccess
}

func (p *AlarmLogParser) SetLastAlarmRequestSuccess(s CommandState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAlarmRequestSuccess = s
}
