// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// Buffer sizes of the parsers
const (
	statisticsPacketSize   = 7 * 16
	alarmLogPayloadSize    = MaxRFFragmentCount * 16
	devInfoPayloadSize     = 20
	gridProfilePayloadSize = 141
	systemConfigParaSize   = 16
)

// parserBase serialises access to a parser's buffer. Appending happens
// between BeginAppendFragment and EndAppendFragment with the lock held.
type parserBase struct {
	mu         sync.Mutex
	lastUpdate time.Time
}

func (p *parserBase) BeginAppendFragment() { p.mu.Lock() }
func (p *parserBase) EndAppendFragment() { p.mu.Unlock() }

func (p *parserBase) LastUpdate() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUpdate
}

func (p *parserBase) SetLastUpdate(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastUpdate = t
}

// parserBuffer is a fixed-size byte buffer filled from fragments.
type parserBuffer struct {
	data   []byte
	length int
}

func newParserBuffer(size int) parserBuffer {
	return parserBuffer{data: make([]byte, size)}
}

func (b *parserBuffer) clear() {
	clear(b.data)
	b.length = 0
}

// append copies src at offset, truncating at the buffer end.
func (b *parserBuffer) append(offset int, src []byte) {
	if offset >= len(b.data) {
		return
	}
	n := copy(b.data[offset:], src)
	if offset+n > b.length {
		b.length = offset + n
	}
}

func (b *parserBuffer) u16(off int) uint16 {
	if off+2 > len(b.data) {
		return 0
	}
	return binary.BigEndian.Uint16(b.data[off:])
}

func (b *parserBuffer) u32(off int) uint32 {
	if off+4 > len(b.data) {
		return 0
	}
	return binary.BigEndian.Uint32(b.data[off:])
}

// ============================================================
// SystemConfigPara
// ============================================================

// SystemConfigParaParser holds the inverter's active power limit and the
// state of limit requests and limit commands.
type SystemConfigParaParser struct {
	parserBase
	buf parserBuffer

	lastLimitRequestSuccess CommandState
	lastLimitCommandSuccess CommandState
	lastUpdateRequest       time.Time
	lastUpdateCommand       time.Time
}

func NewSystemConfigParaParser() *SystemConfigParaParser {
	return &SystemConfigParaParser{
		buf:                     newParserBuffer(systemConfigParaSize),
		lastLimitRequestSuccess: CommandNOK,
		// nothing has been commanded at startup
		lastLimitCommandSuccess: CommandOK,
	}
}

func (p *SystemConfigParaParser) ClearBuffer() { p.buf.clear() }

func (p *SystemConfigParaParser) AppendFragment(offset int, data []byte) { p.buf.append(offset, data) }

func (p *SystemConfigParaParser) ExpectedByteCount() int { return systemConfigParaSize }

// LimitPercent is the relative active power limit.
func (p *SystemConfigParaParser) LimitPercent() float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float32(p.buf.u16(2)) / 10
}

func (p *SystemConfigParaParser) SetLimitPercent(pct float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.BigEndian.PutUint16(p.buf.data[2:4], uint16(pct*10))
}

func (p *SystemConfigParaParser) LastLimitRequestSuccess() CommandState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLimitRequestSuccess
}

func (p *SystemConfigParaParser) SetLastLimitRequestSuccess(s CommandState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastLimitRequestSuccess = s
}

func (p *SystemConfigParaParser) LastLimitCommandSuccess() CommandState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLimitCommandSuccess
}

func (p *SystemConfigParaParser) SetLastLimitCommandSuccess(s CommandState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastLimitCommandSuccess = s
}

func (p *SystemConfigParaParser) LastUpdateRequest() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUpdateRequest
}

func (p *SystemConfigParaParser) SetLastUpdateRequest(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastUpdateRequest = t
}

func (p *SystemConfigParaParser) LastUpdateCommand() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUpdateCommand
}

func (p *SystemConfigParaParser) SetLastUpdateCommand(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastUpdateCommand = t
}

// ============================================================
// PowerCommand
// ============================================================

type PowerCommandParser struct {
	parserBase
	lastPowerCommandSuccess CommandState
}

func NewPowerCommandParser() *PowerCommandParser {
	return &PowerCommandParser{lastPowerCommandSuccess: CommandOK}
}

func (p *PowerCommandParser) LastPowerCommandSuccess() CommandState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPowerCommandSuccess
}

func (p *PowerCommandParser) SetLastPowerCommandSuccess(s CommandState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPowerCommandSuccess = s
}

// ============================================================
// DevInfo
// ============================================================

// DevInfoParser decodes the firmware (DevInfoAll) and hardware
// (DevInfoSimple) identification answers.
type DevInfoParser struct {
	parserBase
	all    parserBuffer
	simple parserBuffer

	lastUpdateAll    time.Time
	lastUpdateSimple time.Time
}

func NewDevInfoParser() *DevInfoParser {
	return &DevInfoParser{
		all:    newParserBuffer(devInfoPayloadSize),
		simple: newParserBuffer(devInfoPayloadSize),
	}
}

type devInfoSink struct {
	p   *DevInfoParser
	buf *parserBuffer
}

func (s devInfoSink) BeginAppendFragment() { s.p.mu.Lock() }
func (s devInfoSink) EndAppendFragment() { s.p.mu.Unlock() }
func (s devInfoSink) ClearBuffer() { s.buf.clear() }
func (s devInfoSink) AppendFragment(offset int, data []byte) { s.buf.append(offset, data) }

func (p *DevInfoParser) allSink() fragmentSink { return devInfoSink{p, &p.all} }
func (p *DevInfoParser) simpleSink() fragmentSink { return devInfoSink{p, &p.simple} }

func (p *DevInfoParser) SetLastUpdateAll(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastUpdateAll = t
	p.lastUpdate = t
}

func (p *DevInfoParser) SetLastUpdateSimple(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastUpdateSimple = t
	p.lastUpdate = t
}

func (p *DevInfoParser) LastUpdateAll() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUpdateAll
}

func (p *DevInfoParser) LastUpdateSimple() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUpdateSimple
}

func formatVersion(v uint16) string {
	return fmt.Sprintf("%d.%d.%d", v/10000, (v/100)%100, v%100)
}

// FirmwareVersion is the application firmware version, e.g. 1.0.18.
func (p *DevInfoParser) FirmwareVersion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return formatVersion(p.all.u16(0))
}

func (p *DevInfoParser) BootloaderVersion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return formatVersion(p.all.u16(8))
}

// FirmwareBuildTime is the build timestamp reported by the inverter.
func (p *DevInfoParser) FirmwareBuildTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	year := int(p.all.u16(2))
	md := p.all.u16(4)
	hm := p.all.u16(6)
	return time.Date(year, time.Month(md/100), int(md%100), int(hm/100), int(hm%100), 0, 0, time.UTC)
}

func (p *DevInfoParser) HardwarePartNumber() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.simple.u32(2)
}

func (p *DevInfoParser) HardwareVersion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.simple.u16(6)
	return fmt.Sprintf("%02d.%02d", v/100, v%100)
}

// ContainsValidData reports whether both answers arrived with a plausible
// build year.
func (p *DevInfoParser) ContainsValidData() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	year := p.all.u16(2)
	return p.all.length > 0 && p.simple.length > 0 && year >= 2016 && year < 2100
}

// ============================================================
// GridProfile
// ============================================================

var gridProfileNames = map[uint16]string{
	0x0300: "EN 50549-1:2019",
	0x0a00: "DE NF_EN_50549-1:2019",
	0x1200: "EU_EN50438",
}

// GridProfileParser keeps the raw grid-on profile for display.
type GridProfileParser struct {
	parserBase
	buf parserBuffer
}

func NewGridProfileParser() *GridProfileParser {
	return &GridProfileParser{buf: newParserBuffer(gridProfilePayloadSize)}
}

func (p *GridProfileParser) ClearBuffer() { p.buf.clear() }

func (p *GridProfileParser) AppendFragment(offset int, data []byte) { p.buf.append(offset, data) }

func (p *GridProfileParser) ProfileID() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.u16(2)
}

func (p *GridProfileParser) ProfileName() string {
	if name, ok := gridProfileNames[p.ProfileID()]; ok {
		return name
	}
	return "Unknown"
}

func (p *GridProfileParser) ProfileVersion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("%d.%d.%d", (p.buf.data[4]>>4)&0x0F, p.buf.data[4]&0x0F, p.buf.data[5])
}

// RawData returns a copy of the received profile.
func (p *GridProfileParser) RawData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.buf.data[:p.buf.length]...)
}

func (p *GridProfileParser) ContainsValidData() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.length > 6
}
