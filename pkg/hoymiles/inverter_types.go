// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import "fmt"

// InverterType names a model family.
type InverterType string

const (
	TypeHM1CH    InverterType = "HM_1CH"
	TypeHM2CH    InverterType = "HM_2CH"
	TypeHM4CH    InverterType = "HM_4CH"
	TypeHMS1CH   InverterType = "HMS_1CH"
	TypeHMS1CHv2 InverterType = "HMS_1CHv2"
	TypeHMS2CH   InverterType = "HMS_2CH"
	TypeHMT4CH   InverterType = "HMT_4CH"
	TypeHERF1CH  InverterType = "HERF_1CH"
	TypeHERF2CH  InverterType = "HERF_2CH"
)

// InverterModel describes how to talk to a model family and how to read its
// RealTimeRunData answer.
type InverterModel struct {
	Type        InverterType
	Description string
	Radio       RadioKind
	match       func(Serial) bool
	fields      []byteAssign
}

func (m *InverterModel) DCChannelCount() int {
	n := 0
	for _, f := range m.fields {
		if f.typ == TypeDC && f.field == FieldUDC {
			n++
		}
	}
	return n
}

// DetectInverterModel picks the model family from the serial prefix.
func DetectInverterModel(serial Serial) (*InverterModel, error) {
	for _, m := range inverterModels {
		if m.match(serial) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownInverterType, serial)
}

func prefixIs(p uint16) func(Serial) bool {
	return func(s Serial) bool { return s.prefix() == p }
}

// matchHM accepts the 0x1XYZ series where the middle byte equals id, plus
// the older 0x10.. / 0x11.. prefixes listed in alt.
func matchHM(id uint8, nibbles [2]uint8, alt [2]uint16) func(Serial) bool {
	return func(s Serial) bool {
		p := s.prefix()
		if uint8(p>>4) == id {
			return true
		}
		n := uint8(p) & 0xF0
		return (n == nibbles[0] || n == nibbles[1]) && (p == alt[0] || p == alt[1])
	}
}

func dc(ch uint8, f FieldID, start, num uint8, div uint16) byteAssign {
	return byteAssign{typ: TypeDC, ch: ch, field: f, start: start, num: num, div: div}
}

func ac(f FieldID, start uint8, div uint16) byteAssign {
	return byteAssign{typ: TypeAC, ch: 0, field: f, start: start, num: 2, div: div}
}

func acSigned(f FieldID, start uint8, div uint16) byteAssign {
	a := ac(f, start, div)
	a.signed = true
	return a
}

func temperature(start uint8) byteAssign {
	return byteAssign{typ: TypeInverter, field: FieldT, start: start, num: 2, div: 10, signed: true}
}

func eventLog(start uint8) byteAssign {
	return byteAssign{typ: TypeInverter, field: FieldEventLog, start: start, num: 2, div: 1}
}

// dcInput is the usual five-field block of one DC input.
func dcInput(ch, udc, idc, pdc, yd, yt uint8) []byteAssign {
	return []byteAssign{
		dc(ch, FieldUDC, udc, 2, 10),
		dc(ch, FieldIDC, idc, 2, 100),
		dc(ch, FieldPDC, pdc, 2, 10),
		dc(ch, FieldYD, yd, 2, 1),
		dc(ch, FieldYT, yt, 4, 1000),
		{typ: TypeDC, ch: ch, field: FieldIRR, calc: calcIrradiation},
	}
}

func withTotals(parts ...[]byteAssign) []byteAssign {
	var out []byteAssign
	for _, p := range parts {
		out = append(out, p...)
	}
	return append(out,
		byteAssign{typ: TypeInverter, field: FieldYD, calc: sumDC(FieldYD)},
		byteAssign{typ: TypeInverter, field: FieldYT, calc: sumDC(FieldYT)},
		byteAssign{typ: TypeInverter, field: FieldPDC, calc: sumDC(FieldPDC)},
		byteAssign{typ: TypeInverter, field: FieldEFF, calc: calcEfficiency},
	)
}

// Order matters: the HMS prefixes would also satisfy the HM_1CH rule.
var inverterModels = []*InverterModel{
	{
		Type:        TypeHMT4CH,
		Description: "HMT-1600/1800/2000-4T",
		Radio:       RadioCMT2300,
		match:       prefixIs(0x1361),
		fields: withTotals(
			dcInput(0, 2, 4, 8, 20, 12),
			dcInput(1, 2, 6, 10, 22, 16),
			dcInput(2, 24, 26, 30, 42, 34),
			dcInput(3, 24, 28, 32, 44, 38),
			[]byteAssign{
				ac(FieldUAC, 74, 10),
				ac(FieldF, 80, 100),
				ac(FieldPAC, 82, 10),
				acSigned(FieldQ, 84, 10),
				ac(FieldIAC, 86, 100),
				ac(FieldPF, 92, 1000),
				temperature(94),
				eventLog(96),
			},
		),
	},
	{
		Type:        TypeHMS2CH,
		Description: "HMS-600, HMS-700, HMS-800, HMS-900, HMS-1000",
		Radio:       RadioCMT2300,
		match:       prefixIs(0x1144),
		fields: withTotals(
			dcInput(0, 2, 6, 10, 22, 14),
			dcInput(1, 4, 8, 12, 24, 18),
			[]byteAssign{
				ac(FieldUAC, 26, 10),
				ac(FieldIAC, 34, 100),
				ac(FieldPAC, 30, 10),
				acSigned(FieldQ, 32, 10),
				ac(FieldF, 28, 100),
				ac(FieldPF, 36, 1000),
				temperature(38),
				eventLog(40),
			},
		),
	},
	{
		Type:        TypeHMS1CH,
		Description: "HMS-300, HMS-350, HMS-400, HMS-450, HMS-500",
		Radio:       RadioCMT2300,
		match:       prefixIs(0x1124),
		fields:      hms1chFields(),
	},
	{
		Type:        TypeHMS1CHv2,
		Description: "HMS-500 v2",
		Radio:       RadioCMT2300,
		match:       prefixIs(0x1125),
		fields:      hms1chFields(),
	},
	{
		Type:        TypeHERF1CH,
		Description: "HERF-300, HERF-400, HERF-500",
		Radio:       RadioNRF24,
		match:       prefixIs(0x2841),
		fields: withTotals(
			dcInput(0, 2, 6, 10, 22, 14),
			[]byteAssign{
				ac(FieldUAC, 26, 10),
				ac(FieldIAC, 34, 100),
				ac(FieldPAC, 30, 10),
				ac(FieldQ, 40, 10),
				ac(FieldF, 28, 100),
				ac(FieldPF, 36, 1000),
				temperature(38),
				eventLog(40),
			},
		),
	},
	{
		Type:        TypeHERF2CH,
		Description: "HERF-600, HERF-700, HERF-800",
		Radio:       RadioNRF24,
		match:       prefixIs(0x2821),
		fields: withTotals(
			dcInput(0, 2, 6, 10, 22, 14),
			dcInput(1, 4, 8, 12, 24, 18),
			[]byteAssign{
				ac(FieldUAC, 26, 10),
				ac(FieldIAC, 34, 100),
				ac(FieldPAC, 30, 10),
				acSigned(FieldQ, 32, 10),
				ac(FieldF, 28, 100),
				ac(FieldPF, 36, 1000),
				temperature(38),
				eventLog(40),
			},
		),
	},
	{
		Type:        TypeHM4CH,
		Description: "HM-1000, HM-1200, HM-1500",
		Radio:       RadioNRF24,
		match:       matchHM(0x16, [2]uint8{0x50, 0x60}, [2]uint16{0x1062, 0x1161}),
		fields: withTotals(
			dcInput(0, 2, 4, 8, 20, 12),
			dcInput(1, 2, 6, 10, 22, 16),
			dcInput(2, 24, 26, 30, 42, 34),
			dcInput(3, 24, 28, 32, 44, 38),
			[]byteAssign{
				ac(FieldUAC, 46, 10),
				ac(FieldF, 48, 100),
				ac(FieldPAC, 50, 10),
				acSigned(FieldQ, 52, 10),
				ac(FieldIAC, 54, 100),
				ac(FieldPF, 56, 1000),
				temperature(58),
				eventLog(60),
			},
		),
	},
	{
		Type:        TypeHM2CH,
		Description: "HM-600, HM-700, HM-800",
		Radio:       RadioNRF24,
		match:       matchHM(0x14, [2]uint8{0x30, 0x40}, [2]uint16{0x1042, 0x1141}),
		fields: withTotals(
			dcInput(0, 2, 4, 6, 22, 14),
			dcInput(1, 8, 10, 12, 24, 18),
			[]byteAssign{
				ac(FieldUAC, 26, 10),
				ac(FieldIAC, 34, 100),
				ac(FieldPAC, 30, 10),
				acSigned(FieldQ, 32, 10),
				ac(FieldF, 28, 100),
				ac(FieldPF, 36, 1000),
				temperature(38),
				eventLog(40),
			},
		),
	},
	{
		Type:        TypeHM1CH,
		Description: "HM-300, HM-350, HM-400",
		Radio:       RadioNRF24,
		match:       matchHM(0x12, [2]uint8{0x10, 0x20}, [2]uint16{0x1022, 0x1121}),
		fields: withTotals(
			dcInput(0, 2, 4, 6, 12, 8),
			[]byteAssign{
				ac(FieldUAC, 14, 10),
				ac(FieldIAC, 22, 100),
				ac(FieldPAC, 18, 10),
				acSigned(FieldQ, 20, 10),
				ac(FieldF, 16, 100),
				ac(FieldPF, 24, 1000),
				temperature(26),
				eventLog(28),
			},
		),
	},
}

func hms1chFields() []byteAssign {
	return withTotals(
		dcInput(0, 2, 6, 10, 22, 14),
		[]byteAssign{
			ac(FieldUAC, 26, 10),
			ac(FieldIAC, 34, 100),
			ac(FieldPAC, 30, 10),
			ac(FieldQ, 20, 10),
			ac(FieldF, 28, 100),
			ac(FieldPF, 36, 1000),
			temperature(38),
			eventLog(18),
		},
	)
}
