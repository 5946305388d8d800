// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

// ChannelType groups fields into DC inputs, AC outputs and inverter-wide
// values.
type ChannelType int

const (
	TypeAC ChannelType = iota
	TypeDC
	TypeInverter
)

func (t ChannelType) String() string {
	switch t {
	case TypeAC:
		return "AC"
	case TypeDC:
		return "DC"
	default:
		return "INV"
	}
}

type FieldID int

const (
	FieldUDC FieldID = iota
	FieldIDC
	FieldPDC
	FieldYD
	FieldYT
	FieldUAC
	FieldIAC
	FieldPAC
	FieldQ
	FieldF
	FieldT
	FieldPF
	FieldEFF
	FieldIRR
	FieldEventLog
	fieldCount
)

var fieldInfo = [fieldCount]struct {
	name string
	unit string
}{
	FieldUDC:      {"Voltage", "V"},
	FieldIDC:      {"Current", "A"},
	FieldPDC:      {"Power", "W"},
	FieldYD:       {"YieldDay", "Wh"},
	FieldYT:       {"YieldTotal", "kWh"},
	FieldUAC:      {"Voltage", "V"},
	FieldIAC:      {"Current", "A"},
	FieldPAC:      {"Power", "W"},
	FieldQ:        {"ReactivePower", "var"},
	FieldF:        {"Frequency", "Hz"},
	FieldT:        {"Temperature", "°C"},
	FieldPF:       {"PowerFactor", ""},
	FieldEFF:      {"Efficiency", "%"},
	FieldIRR:      {"Irradiation", "%"},
	FieldEventLog: {"EventLogCount", ""},
}

func (f FieldID) String() string {
	if f < 0 || f >= fieldCount {
		return "Unknown"
	}
	return fieldInfo[f].name
}

func (f FieldID) Unit() string {
	if f < 0 || f >= fieldCount {
		return ""
	}
	return fieldInfo[f].unit
}

type calcFunc func(p *StatisticsParser, ch uint8) float32

// byteAssign maps a field to its bytes in the RealTimeRunData answer. A
// field with calc set is derived from other fields.
type byteAssign struct {
	typ    ChannelType
	ch     uint8
	field  FieldID
	start  uint8
	num    uint8
	div    uint16
	signed bool
	calc   calcFunc
}

// StatisticsParser decodes RealTimeRunData answers according to the byte
// table of the inverter model.
type StatisticsParser struct {
	parserBase
	buf parserBuffer

	fields   []byteAssign
	expected int

	rxFailureCount  int
	channelMaxPower [4]uint16
}

func NewStatisticsParser(fields []byteAssign) *StatisticsParser {
	p := &StatisticsParser{
		buf:    newParserBuffer(statisticsPacketSize),
		fields: fields,
	}
	for _, f := range fields {
		if f.calc != nil {
			continue
		}
		if end := int(f.start) + int(f.num); end > p.expected {
			p.expected = end
		}
	}
	return p
}

func (p *StatisticsParser) ClearBuffer() { p.buf.clear() }

func (p *StatisticsParser) AppendFragment(offset int, data []byte) { p.buf.append(offset, data) }

// ExpectedByteCount is the minimum answer length covering every field.
func (p *StatisticsParser) ExpectedByteCount() int { return p.expected }

func (p *StatisticsParser) find(t ChannelType, ch uint8, field FieldID) *byteAssign {
	for i := range p.fields {
		if f := &p.fields[i]; f.typ == t && f.ch == ch && f.field == field {
			return f
		}
	}
	return nil
}

func (p *StatisticsParser) HasChannelFieldValue(t ChannelType, ch uint8, field FieldID) bool {
	return p.find(t, ch, field) != nil
}

// ChannelFieldValue returns the decoded value, or 0 if the model lacks the
// field.
func (p *StatisticsParser) ChannelFieldValue(t ChannelType, ch uint8, field FieldID) float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value(t, ch, field)
}

func (p *StatisticsParser) value(t ChannelType, ch uint8, field FieldID) float32 {
	f := p.find(t, ch, field)
	if f == nil {
		return 0
	}
	if f.calc != nil {
		return f.calc(p, f.ch)
	}
	end := int(f.start) + int(f.num)
	if end > len(p.buf.data) {
		return 0
	}
	var raw uint32
	for _, b := range p.buf.data[f.start:end] {
		raw = raw<<8 | uint32(b)
	}
	var v float32
	switch {
	case f.signed && f.num == 2:
		v = float32(int16(raw))
	case f.signed && f.num == 4:
		v = float32(int32(raw))
	default:
		v = float32(raw)
	}
	if f.div > 1 {
		v /= float32(f.div)
	}
	return v
}

// ChannelsByType lists the channel numbers present for t.
func (p *StatisticsParser) ChannelsByType(t ChannelType) []uint8 {
	var chs []uint8
	seen := map[uint8]bool{}
	for _, f := range p.fields {
		if f.typ == t && !seen[f.ch] {
			seen[f.ch] = true
			chs = append(chs, f.ch)
		}
	}
	return chs
}

// Fields lists the (type, channel, field) triples known for the model.
func (p *StatisticsParser) Fields() []FieldRef {
	refs := make([]FieldRef, 0, len(p.fields))
	for _, f := range p.fields {
		refs = append(refs, FieldRef{Type: f.typ, Channel: f.ch, Field: f.field})
	}
	return refs
}

// FieldRef names one statistics value.
type FieldRef struct {
	Type    ChannelType
	Channel uint8
	Field   FieldID
}

func (p *StatisticsParser) SetChannelMaxPower(ch uint8, watts uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(ch) < len(p.channelMaxPower) {
		p.channelMaxPower[ch] = watts
	}
}

func (p *StatisticsParser) ChannelMaxPower(ch uint8) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(ch) < len(p.channelMaxPower) {
		return p.channelMaxPower[ch]
	}
	return 0
}

// MaxPower sums the configured panel power of all inputs.
func (p *StatisticsParser) MaxPower() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var sum uint32
	for _, w := range p.channelMaxPower {
		sum += uint32(w)
	}
	return sum
}

func (p *StatisticsParser) RxFailureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rxFailureCount
}

func (p *StatisticsParser) IncrementRxFailureCount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rxFailureCount++
}

func (p *StatisticsParser) ResetRxFailureCount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rxFailureCount = 0
}

// ============================================================
// Calculated fields
// ============================================================

func sumDC(field FieldID) calcFunc {
	return func(p *StatisticsParser, _ uint8) float32 {
		var sum float32
		for _, f := range p.fields {
			if f.typ == TypeDC && f.field == field {
				sum += p.value(TypeDC, f.ch, field)
			}
		}
		return sum
	}
}

func calcEfficiency(p *StatisticsParser, _ uint8) float32 {
	pdc := sumDC(FieldPDC)(p, 0)
	if pdc <= 0 {
		return 0
	}
	return p.value(TypeAC, 0, FieldPAC) / pdc * 100
}

func calcIrradiation(p *StatisticsParser, ch uint8) float32 {
	if int(ch) >= len(p.channelMaxPower) || p.channelMaxPower[ch] == 0 {
		return 0
	}
	return p.value(TypeDC, ch, FieldPDC) / float32(p.channelMaxPower[ch]) * 100
}
