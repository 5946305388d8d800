// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"fmt"
	"strconv"
	"strings"
)

// Serial is a 48 bit inverter or DTU serial number.
type Serial uint64

const serialMask = 0xFFFFFFFFFFFF

// ParseSerial reads a hexadecimal serial, with or without 0x prefix.
func ParseSerial(s string) (Serial, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > 12 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSerial, s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSerial, err)
	}
	return Serial(v), nil
}

func (s Serial) String() string {
	return fmt.Sprintf("%012X", uint64(s)&serialMask)
}

// Byte returns byte i of the serial, byte 0 being the least significant.
func (s Serial) Byte(i int) byte {
	return byte(uint64(s) >> (8 * uint(i)))
}

// AddressBytes returns the four low bytes in frame order b3, b2, b1, b0.
func (s Serial) AddressBytes() [4]byte {
	return [4]byte{s.Byte(3), s.Byte(2), s.Byte(1), s.Byte(0)}
}

// RadioID is the 5 byte Enhanced ShockBurst pipe address for the serial.
func (s Serial) RadioID() uint64 {
	return uint64(s.Byte(0))<<32 |
		uint64(s.Byte(1))<<24 |
		uint64(s.Byte(2))<<16 |
		uint64(s.Byte(3))<<8 |
		0x01
}

// prefix returns the two most significant bytes, which encode the model.
func (s Serial) prefix() uint16 {
	return uint16(uint64(s)>>32) & 0xFFFF
}
