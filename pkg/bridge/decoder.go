// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"time"
)

const (
	stateIdle = iota
	stateLength
	stateAddress
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)

// Decoder is a byte-at-a-time bridge frame decoder.
type Decoder struct {
	state        int
	buffer       []byte // unstuffed data section, CRC excluded
	escapeNext   bool
	addressBytes int
	length       int
	packet       *Packet
}

// NewDecoder creates a new decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:  stateIdle,
		buffer: make([]byte, 0, MaxPacketSize),
	}
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.escapeNext = false
	d.addressBytes = 0
	d.length = 0
	d.packet = nil
}

// DecodeByte feeds one byte. It returns a packet when a frame completes
// with a valid CRC, and an error when the frame in progress is discarded.
// Bytes outside a frame are ignored.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	// framing bytes are never escaped
	switch b {
	case StartByte:
		d.Reset()
		d.state = stateLength
		return nil, nil
	case EndByte:
		return d.finish()
	case EscByte:
		if d.state != stateIdle {
			d.escapeNext = true
		}
		return nil, nil
	}

	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	switch d.state {
	case stateIdle:
		return nil, nil

	case stateLength:
		if b > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("invalid length: %d (max %d)", b, MaxPayloadSize)
		}
		d.length = int(b)
		d.packet = &Packet{}
		d.buffer = append(d.buffer, b)
		d.state = stateAddress

	case stateAddress:
		d.packet.address |= uint64(b) << (d.addressBytes * 8)
		d.buffer = append(d.buffer, b)
		d.addressBytes++
		if d.addressBytes == AddressSize {
			if d.length == 0 {
				d.state = stateCRC1
			} else {
				d.state = statePayload
			}
		}

	case statePayload:
		d.buffer = append(d.buffer, b)
		if len(d.buffer) == 1+AddressSize+d.length {
			d.state = stateCRC1
		}

	case stateCRC1:
		d.packet.crc = uint16(b) << 8
		d.state = stateCRC2

	case stateCRC2:
		d.packet.crc |= uint16(b)
		d.state = stateEnd

	case stateEnd:
		d.Reset()
		return nil, fmt.Errorf("expected END byte, got 0x%02X", b)
	}
	return nil, nil
}

func (d *Decoder) finish() (*Packet, error) {
	state := d.state
	if state == stateIdle {
		return nil, nil
	}
	if state != stateEnd {
		d.Reset()
		return nil, fmt.Errorf("unexpected END byte in state %d", state)
	}

	p := d.packet
	if want := CalculateCRC(d.buffer); p.crc != want {
		d.Reset()
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, want, p.crc)
	}

	p.cborPayload = append([]byte(nil), d.buffer[1+AddressSize:]...)
	p.timestamp = time.Now()
	d.Reset()
	return p, nil
}
