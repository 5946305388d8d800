// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import "github.com/sigurn/crc16"

const (
	crc8Polynomial   = 0x01
	crc16NRF24Poly   = 0x1021
	crc16NRF24Seed   = 0xFFFF
	crc16NRF24TopBit = 0x8000
)

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC8 computes the frame checksum appended to every radio frame
func CRC8(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ crc8Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC16 computes the Modbus CRC-16 used inside multi-fragment payloads
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// CRC16Accumulator runs a Modbus CRC-16 across several buffers.
type CRC16Accumulator struct {
	crc uint16
}

func NewCRC16Accumulator() *CRC16Accumulator {
	return &CRC16Accumulator{crc: crc16.Init(modbusTable)}
}

// Write implements io.Writer and never fails.
func (a *CRC16Accumulator) Write(p []byte) (int, error) {
	a.crc = crc16.Update(a.crc, p, modbusTable)
	return len(p), nil
}

// Sum16 returns the checksum of everything written so far.
func (a *CRC16Accumulator) Sum16() uint16 {
	return crc16.Complete(a.crc, modbusTable)
}

// CRC16NRF24 computes the bit-granular CCITT checksum of an Enhanced
// ShockBurst packet. lenBits counts from the start of buf; bits before
// startBit are skipped.
func CRC16NRF24(buf []byte, lenBits, startBit uint16, crcIn uint16) uint16 {
	crc := crcIn
	if lenBits <= startBit || int(startBit>>3) >= len(buf) {
		return crc
	}
	val := buf[startBit>>3]
	for bit := startBit; bit < lenBits; bit++ {
		idx := bit & 7
		if idx == 0 {
			if int(bit>>3) >= len(buf) {
				break
			}
			val = buf[bit>>3]
		}
		crc ^= crc16NRF24TopBit & (uint16(val) << (8 + idx))
		if crc&crc16NRF24TopBit != 0 {
			crc = (crc << 1) ^ crc16NRF24Poly
		} else {
			crc <<= 1
		}
	}
	return crc
}
