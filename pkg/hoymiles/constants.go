// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hoymiles implements the radio protocol spoken between a DTU and
// Hoymiles HM/HMS/HMT/HERF microinverters: command framing, per-radio command
// queues, fragment reassembly with resend/retransmit recovery and the sub-GHz
// frequency tracking used by CMT2300A based inverters.
package hoymiles

import (
	"fmt"
	"time"
)

// Frame geometry
const (
	MaxRFPayloadSize   = 32
	MaxRFFragmentCount = 13
	FragmentBufferSize = 30

	// cmd(1) + target(4) + router(4) + frame number(1)
	fragmentHeaderSize = 10
	// header + trailing CRC8
	fragmentOverhead = fragmentHeaderSize + 1

	lastFragmentFlag = 0x80
	fragmentIDMask   = 0x7F
)

// Retry budget defaults
const (
	DefaultMaxResendCount     = 4
	DefaultMaxRetransmitCount = 5

	// An inverter counts as unreachable after this many stats timeouts in a row.
	MaxOnlineFailureCount = 3
)

// Command ids
const (
	cmdMultiData     = 0x15
	cmdDevControl    = 0x51
	cmdChannelChange = 0x56
)

// Multi-data request types
const (
	dataTypeDevInfoSimple    = 0x00
	dataTypeDevInfoAll       = 0x01
	dataTypeGridOnProFile    = 0x02
	dataTypeSystemConfigPara = 0x05
	dataTypeRealTimeRunData  = 0x0B
	dataTypeAlarmData        = 0x11
)

// Command timeouts
const (
	timeoutDevInfo          = 200 * time.Millisecond
	timeoutGridOnProFile    = 500 * time.Millisecond
	timeoutSystemConfigPara = 200 * time.Millisecond
	timeoutRealTimeRunData  = 500 * time.Millisecond
	timeoutAlarmData        = 600 * time.Millisecond
	timeoutRequestFrame     = 100 * time.Millisecond
	timeoutDevControl       = 2000 * time.Millisecond
	timeoutChannelChange    = 10 * time.Millisecond
)

// VerifyResult is the outcome of checking an inverter's reassembly buffer.
// Values 1..MaxRFFragmentCount name the fragment to re-request.
type VerifyResult uint8

const (
	FragmentOK                VerifyResult = 0
	FragmentHandleError       VerifyResult = 252
	FragmentRetransmitTimeout VerifyResult = 253
	FragmentAllMissingTimeout VerifyResult = 254
	FragmentAllMissingResend  VerifyResult = 255
)

// IsRetransmit reports whether r asks for a single fragment to be re-requested.
func (r VerifyResult) IsRetransmit() bool {
	return r > 0 && r < FragmentHandleError
}

func (r VerifyResult) String() string {
	switch r {
	case FragmentOK:
		return "OK"
	case FragmentHandleError:
		return "HANDLE_ERROR"
	case FragmentRetransmitTimeout:
		return "RETRANSMIT_TIMEOUT"
	case FragmentAllMissingTimeout:
		return "ALL_MISSING_TIMEOUT"
	case FragmentAllMissingResend:
		return "ALL_MISSING_RESEND"
	default:
		return fmt.Sprintf("RETRANSMIT_%d", uint8(r))
	}
}

// CommandState is the tri-state outcome of the last request of a kind.
type CommandState int

const (
	CommandOK CommandState = iota
	CommandNOK
	CommandPending
)

func (s CommandState) String() string {
	switch s {
	case CommandOK:
		return "OK"
	case CommandNOK:
		return "NOK"
	case CommandPending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// QueueInsertType selects how a command is merged into a radio queue.
type QueueInsertType int

const (
	InsertDefault QueueInsertType = iota
	InsertRemoveOldest
	InsertReplaceExistent
)

// PowerLimitControlType is the limit kind carried by ActivePowerControlCommand.
type PowerLimitControlType uint16

const (
	AbsolutNonPersistent PowerLimitControlType = 0x0000
	RelativNonPersistent PowerLimitControlType = 0x0001
	AbsolutPersistent    PowerLimitControlType = 0x0100
	RelativPersistent    PowerLimitControlType = 0x0101
)

// IsRelative reports whether the limit is a percentage.
func (t PowerLimitControlType) IsRelative() bool { return t&0x0001 != 0 }

// IsPersistent reports whether the inverter stores the limit across restarts.
func (t PowerLimitControlType) IsPersistent() bool { return t&0x0100 != 0 }

func (t PowerLimitControlType) String() string {
	switch t {
	case AbsolutNonPersistent:
		return "AbsolutNonPersistent"
	case RelativNonPersistent:
		return "RelativNonPersistent"
	case AbsolutPersistent:
		return "AbsolutPersistent"
	case RelativPersistent:
		return "RelativPersistent"
	default:
		return fmt.Sprintf("Unknown(0x%04X)", uint16(t))
	}
}

// ParsePowerLimitControlType accepts the names printed by String.
func ParsePowerLimitControlType(s string) (PowerLimitControlType, error) {
	for _, t := range []PowerLimitControlType{AbsolutNonPersistent, RelativNonPersistent, AbsolutPersistent, RelativPersistent} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown limit type %q", s)
}

// PowerState is the argument of a PowerControlCommand.
type PowerState uint8

const (
	PowerOn      PowerState = 0x00
	PowerOff     PowerState = 0x01
	PowerRestart PowerState = 0x02
)

func (p PowerState) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	case PowerRestart:
		return "restart"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// RadioKind identifies which transceiver serves an inverter.
type RadioKind int

const (
	RadioNRF24 RadioKind = iota
	RadioCMT2300
)

func (k RadioKind) String() string {
	if k == RadioCMT2300 {
		return "CMT"
	}
	return "NRF"
}
