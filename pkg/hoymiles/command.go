// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Command is a request frame queued on a radio together with the logic to
// interpret the inverter's answer.
//
// The set of commands is closed; every implementation embeds commandBase.
type Command interface {
	Name() string
	TraceID() string

	TargetAddress() Serial
	RouterAddress() Serial
	SetRouterAddress(Serial)

	// DataPayload returns the frame including its trailing CRC8.
	DataPayload() []byte
	DataSize() int

	Timeout() time.Duration
	SendCount() int
	IncrementSendCount()
	MaxResendCount() int
	MaxRetransmitCount() int

	QueueInsertType() QueueInsertType
	SameParameter(other Command) bool

	// RequestFrame builds the re-request for fragment frameNo of this
	// command's answer.
	RequestFrame(frameNo uint8) Command
	HandleResponse(inv *Inverter, fragments []Fragment) bool
	GotTimeout(inv *Inverter)

	base() *commandBase
}

type commandBase struct {
	name      string
	payload   [MaxRFPayloadSize]byte
	size      int
	sendCount int
	timeout   time.Duration
	target    Serial
	router    Serial
	traceID   string
}

func newCommandBase(name string, id uint8, target, router Serial) commandBase {
	c := commandBase{name: name}
	c.payload[0] = id
	c.setTargetAddress(target)
	c.SetRouterAddress(router)
	c.size = fragmentHeaderSize
	return c
}

func (c *commandBase) base() *commandBase { return c }

func (c *commandBase) Name() string { return c.name }
func (c *commandBase) TraceID() string { return c.traceID }

func (c *commandBase) setTargetAddress(s Serial) {
	c.target = s
	a := s.AddressBytes()
	copy(c.payload[1:5], a[:])
}

func (c *commandBase) TargetAddress() Serial { return c.target }

func (c *commandBase) SetRouterAddress(s Serial) {
	c.router = s
	a := s.AddressBytes()
	copy(c.payload[5:9], a[:])
}

func (c *commandBase) RouterAddress() Serial { return c.router }

func (c *commandBase) DataPayload() []byte {
	c.payload[c.size] = CRC8(c.payload[:c.size])
	return c.payload[:c.size+1]
}

func (c *commandBase) DataSize() int { return c.size + 1 }

func (c *commandBase) Timeout() time.Duration { return c.timeout }

func (c *commandBase) SendCount() int { return c.sendCount }
func (c *commandBase) IncrementSendCount() { c.sendCount++ }

func (c *commandBase) MaxResendCount() int { return DefaultMaxResendCount }
func (c *commandBase) MaxRetransmitCount() int { return DefaultMaxRetransmitCount }

func (c *commandBase) QueueInsertType() QueueInsertType { return InsertDefault }

// SameParameter treats commands of the same kind for the same inverter as
// interchangeable.
func (c *commandBase) SameParameter(other Command) bool {
	return other != nil && c.name == other.Name() && c.target == other.TargetAddress()
}

// RequestFrame re-requests fragment frameNo of the answer to any command.
func (c *commandBase) RequestFrame(frameNo uint8) Command {
	return NewRequestFrameCommand(c.target, c.router, frameNo)
}

func (c *commandBase) HandleResponse(*Inverter, []Fragment) bool { return true }

func (c *commandBase) GotTimeout(*Inverter) {}

// putCRC16 writes the Modbus CRC of payload[from:from+n] big-endian right
// after the covered range.
func (c *commandBase) putCRC16(from, n int) {
	crc := CRC16(c.payload[from : from+n])
	binary.BigEndian.PutUint16(c.payload[from+n:], crc)
}

func (c *commandBase) String() string {
	return fmt.Sprintf("%s(%s)", c.name, c.target)
}

// totalFragmentSize sums the payload bytes of the given fragments.
func totalFragmentSize(fragments []Fragment) int {
	n := 0
	for i := range fragments {
		n += int(fragments[i].Len)
	}
	return n
}
