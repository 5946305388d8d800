// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"sync"
	"time"
)

// Packet is a decoded bridge message.
type Packet struct {
	address     uint64
	cborPayload []byte // [msg_type, payload_map]
	crc         uint16
	timestamp   time.Time

	// the CBOR body is decoded on first access
	once       sync.Once
	msgType    uint8
	payloadMap map[int]interface{}
	parseErr   error
}

// NewPacket creates a packet from a message type and payload map.
func NewPacket(address uint64, msgType uint8, payload map[int]interface{}) *Packet {
	return &Packet{
		address:    address,
		msgType:    msgType,
		payloadMap: payload,
		timestamp:  time.Now(),
	}
}

// ensureParsed is safe for concurrent use. Packets built by NewPacket have
// no CBOR body and keep their fields.
func (p *Packet) ensureParsed() {
	p.once.Do(func() {
		if len(p.cborPayload) == 0 {
			return
		}
		p.msgType, p.payloadMap, p.parseErr = ParseCBORMessage(p.cborPayload)
	})
}

// Address returns the chip address the packet is for.
func (p *Packet) Address() uint64 { return p.address }

// Type returns the message type.
func (p *Packet) Type() uint8 {
	p.ensureParsed()
	return p.msgType
}

// Payload returns the raw CBOR bytes.
func (p *Packet) Payload() []byte { return p.cborPayload }

// PayloadMap returns the decoded payload map, nil for empty payloads.
func (p *Packet) PayloadMap() map[int]interface{} {
	p.ensureParsed()
	return p.payloadMap
}

// ParseError returns any error from decoding the CBOR payload.
func (p *Packet) ParseError() error {
	p.ensureParsed()
	return p.parseErr
}

func (p *Packet) CRC() uint16 { return p.crc }

func (p *Packet) Timestamp() time.Time { return p.timestamp }
