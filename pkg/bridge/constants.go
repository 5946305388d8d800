// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge drives a radio co-processor attached over USB serial or
// WebSocket.
//
// The co-processor owns the nRF24L01+ and CMT2300A chips. The host sends it
// framed CBOR messages that mirror the transceiver operations, and it answers
// with status reports and received radio frames. NRF and CMT views of a Link
// implement the hoymiles device interfaces.
package bridge

import "fmt"

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Packet size limits
const (
	MaxPacketSize  = 128 // 14 overhead + 114 payload
	MaxPayloadSize = 114
	AddressSize    = 8
)

// Addresses select the chip a message is for.
const (
	AddressBridge = 0x00
	AddressNRF    = 0x01
	AddressCMT    = 0x02
)

// Message types - Radio Commands (Host → Bridge) 0x10-0x1F
const (
	MsgBegin      = 0x10
	MsgSetChannel = 0x11
	MsgSetAddress = 0x12
	MsgConfigure  = 0x13
	MsgTransmit   = 0x14
	MsgListen     = 0x15
)

// Message types - Link Control (Host → Bridge) 0x20-0x2F
const (
	MsgPingRequest = 0x2F
)

// Message types - Radio Data (Bridge → Host) 0x30-0x3F
const (
	MsgStatus       = 0x30
	MsgFrame        = 0x31
	MsgPingResponse = 0x3F
)

// Payload map keys
const (
	KeyChannel       = 1
	KeyPipe          = 2
	KeyAddress       = 3
	KeyRetryDelay    = 4
	KeyRetryCount    = 5
	KeyPALevel       = 6
	KeyBaseFrequency = 7
	KeyData          = 8
	KeyListen        = 9
	KeyFlush         = 10
	KeyConnected     = 11
	KeyCarrier       = 12
	KeyRSSI          = 13
	KeyUptime        = 14
)

// Pipe selectors for MsgSetAddress
const (
	PipeReading = 0
	PipeWriting = 1
)

// MessageName returns a readable name for a message type.
func MessageName(msgType uint8) string {
	switch msgType {
	case MsgBegin:
		return "BEGIN"
	case MsgSetChannel:
		return "SET_CHANNEL"
	case MsgSetAddress:
		return "SET_ADDRESS"
	case MsgConfigure:
		return "CONFIGURE"
	case MsgTransmit:
		return "TRANSMIT"
	case MsgListen:
		return "LISTEN"
	case MsgPingRequest:
		return "PING_REQUEST"
	case MsgStatus:
		return "STATUS"
	case MsgFrame:
		return "FRAME"
	case MsgPingResponse:
		return "PING_RESPONSE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", msgType)
	}
}
