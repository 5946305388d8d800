// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"encoding/binary"
	"fmt"
)

// Encode returns the wire form of p.
func Encode(p *Packet) ([]byte, error) {
	return EncodeFrame(p.Address(), p.Type(), p.PayloadMap())
}

// EncodeFrame builds a complete framed and byte-stuffed message.
//
// The data section is [length][address, 8 bytes LE][CBOR [type, map]]
// followed by a big-endian CRC over the data section.
func EncodeFrame(address uint64, msgType uint8, payload map[int]interface{}) ([]byte, error) {
	body, err := encodeCBORPayload(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", MessageName(msgType), err)
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("%s payload %d bytes (max %d): %w",
			MessageName(msgType), len(body), MaxPayloadSize, ErrFrameTooLarge)
	}

	data := make([]byte, 1+AddressSize+len(body), 1+AddressSize+len(body)+2)
	data[0] = uint8(len(body))
	binary.LittleEndian.PutUint64(data[1:9], address)
	copy(data[9:], body)

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc))

	stuffed := stuffBytes(data)
	frame := make([]byte, 0, len(stuffed)+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffed...)
	frame = append(frame, EndByte)
	return frame, nil
}

// stuffBytes replaces START, END and ESC with ESC + (byte XOR EscXor).
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}

// UnstuffBytes is the inverse of the encoder's byte stuffing.
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false
	for _, b := range data {
		switch {
		case escapeNext:
			result = append(result, b^EscXor)
			escapeNext = false
		case b == EscByte:
			escapeNext = true
		default:
			result = append(result, b)
		}
	}
	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}
	return result, nil
}
