// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"bytes"
	"testing"
	"time"
)

// ============================================================
// Frame Layout Tests
// ============================================================

func TestCommandFrames(t *testing.T) {
	target, dtu := testInverterSerial, testDTUSerial
	ts := testEpoch

	tests := []struct {
		name     string
		cmd      Command
		expected []byte
	}{
		{
			name: "RealTimeRunData",
			cmd:  NewRealTimeRunDataCommand(target, dtu, ts),
			expected: []byte{
				0x15, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x80, 0x0B, 0x00, 0x65, 0x53, 0xF1, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05, 0x77, 0x05,
			},
		},
		{
			name: "SystemConfigPara",
			cmd:  NewSystemConfigParaCommand(target, dtu, ts),
			expected: []byte{
				0x15, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x80, 0x05, 0x00, 0x65, 0x53, 0xF1, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xCB, 0x78, 0xCA,
			},
		},
		{
			name: "AlarmData",
			cmd:  NewAlarmDataCommand(target, dtu, ts),
			expected: []byte{
				0x15, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x80, 0x11, 0x00, 0x65, 0x53, 0xF1, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xDF, 0x6C, 0xDE,
			},
		},
		{
			name: "DevInfoAll",
			cmd:  NewDevInfoAllCommand(target, dtu, ts),
			expected: []byte{
				0x15, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x80, 0x01, 0x00, 0x65, 0x53, 0xF1, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x0F, 0x7D, 0x0F,
			},
		},
		{
			name: "DevInfoSimple",
			cmd:  NewDevInfoSimpleCommand(target, dtu, ts),
			expected: []byte{
				0x15, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x80, 0x00, 0x00, 0x65, 0x53, 0xF1, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xCE, 0x7D, 0xCF,
			},
		},
		{
			name: "GridOnProFilePara",
			cmd:  NewGridOnProFileParaCommand(target, dtu, ts),
			expected: []byte{
				0x15, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x80, 0x02, 0x00, 0x65, 0x53, 0xF1, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x0C, 0x7E, 0x0C,
			},
		},
		{
			name:     "RequestFrame 3",
			cmd:      NewRequestFrameCommand(target, dtu, 3),
			expected: []byte{0x15, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x83, 0xB8},
		},
		{
			name: "ChannelChange EU",
			cmd:  NewChannelChangeCommand(target, dtu, 20),
			expected: []byte{
				0x56, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x02, 0x15, 0x21, 0x14, 0x14, 0x4E,
			},
		},
		{
			name: "ChannelChange US",
			cmd: func() Command {
				c := NewChannelChangeCommand(target, dtu, 20)
				c.SetCountryMode(CountryUS)
				return c
			}(),
			expected: []byte{
				0x56, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x03, 0x17, 0x3C, 0x14, 0x14, 0x50,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cmd.DataPayload()
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("frame mismatch:\nexpected % X\ngot      % X", tt.expected, got)
			}
			if tt.cmd.DataSize() != len(tt.expected) {
				t.Errorf("DataSize: expected %d, got %d", len(tt.expected), tt.cmd.DataSize())
			}
		})
	}
}

func TestPowerControlFrames(t *testing.T) {
	tests := []struct {
		name     string
		set      func(c *PowerControlCommand)
		state    PowerState
		expected []byte
	}{
		{
			name:     "on",
			set:      func(c *PowerControlCommand) { c.SetPowerOn(true) },
			state:    PowerOn,
			expected: []byte{0x51, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x81, 0x00, 0x00, 0xB0, 0x01, 0x4F},
		},
		{
			name:     "off",
			set:      func(c *PowerControlCommand) { c.SetPowerOn(false) },
			state:    PowerOff,
			expected: []byte{0x51, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x81, 0x01, 0x00, 0x20, 0x00, 0xDF},
		},
		{
			name:     "restart",
			set:      func(c *PowerControlCommand) { c.SetRestart() },
			state:    PowerRestart,
			expected: []byte{0x51, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x81, 0x02, 0x00, 0xD0, 0x00, 0x2C},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewPowerControlCommand(testInverterSerial, testDTUSerial)
			tt.set(c)
			if got := c.DataPayload(); !bytes.Equal(got, tt.expected) {
				t.Errorf("frame mismatch:\nexpected % X\ngot      % X", tt.expected, got)
			}
			if c.State() != tt.state {
				t.Errorf("State: expected %s, got %s", tt.state, c.State())
			}
		})
	}
}

func TestActivePowerControlFrames(t *testing.T) {
	tests := []struct {
		name     string
		limit    float32
		typ      PowerLimitControlType
		expected []byte
	}{
		{
			name:  "50 percent",
			limit: 50,
			typ:   RelativNonPersistent,
			expected: []byte{
				0x51, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x81,
				0x0B, 0x00, 0x01, 0xF4, 0x00, 0x01, 0xAE, 0x80, 0x2F,
			},
		},
		{
			name:  "40 percent",
			limit: 40,
			typ:   RelativNonPersistent,
			expected: []byte{
				0x51, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x81,
				0x0B, 0x00, 0x01, 0x90, 0x00, 0x01, 0x71, 0xC1, 0xD5,
			},
		},
		{
			name:  "800 W",
			limit: 800,
			typ:   AbsolutNonPersistent,
			expected: []byte{
				0x51, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x81,
				0x0B, 0x00, 0x1F, 0x40, 0x00, 0x00, 0x60, 0x07, 0xCD,
			},
		},
		{
			name:  "100 percent persistent",
			limit: 100,
			typ:   RelativPersistent,
			expected: []byte{
				0x51, 0x00, 0x00, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x81,
				0x0B, 0x00, 0x03, 0xE8, 0x01, 0x01, 0x40, 0x41, 0x1F,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewActivePowerControlCommand(testInverterSerial, testDTUSerial)
			c.SetActivePowerLimit(tt.limit, tt.typ)
			if got := c.DataPayload(); !bytes.Equal(got, tt.expected) {
				t.Errorf("frame mismatch:\nexpected % X\ngot      % X", tt.expected, got)
			}
			if c.Limit() != tt.limit {
				t.Errorf("Limit: expected %v, got %v", tt.limit, c.Limit())
			}
			if c.Type() != tt.typ {
				t.Errorf("Type: expected %s, got %s", tt.typ, c.Type())
			}
		})
	}
}

// ============================================================
// Command Behaviour Tests
// ============================================================

func TestCommand_RouterAddressRewritesFrame(t *testing.T) {
	c := NewRealTimeRunDataCommand(testInverterSerial, 0, testEpoch)
	c.SetRouterAddress(testDTUSerial)

	p := c.DataPayload()
	if !bytes.Equal(p[5:9], []byte{0x12, 0x34, 0x56, 0x78}) {
		t.Errorf("router bytes: got % X", p[5:9])
	}
	if p[len(p)-1] != CRC8(p[:len(p)-1]) {
		t.Error("CRC8 not refreshed after router change")
	}
}

func TestMultiDataCommand_Time(t *testing.T) {
	c := NewAlarmDataCommand(testInverterSerial, testDTUSerial, testEpoch)
	if !c.Time().Equal(testEpoch) {
		t.Errorf("Time: expected %v, got %v", testEpoch, c.Time())
	}
	later := testEpoch.Add(time.Hour)
	c.SetTime(later)
	if !c.Time().Equal(later) {
		t.Errorf("Time after SetTime: expected %v, got %v", later, c.Time())
	}
}

func TestRequestFrame_Clamp(t *testing.T) {
	tests := []struct {
		in       uint8
		expected uint8
	}{
		{1, 1},
		{12, 12},
		{127, 127},
		{128, 0},
		{255, 0},
	}
	for _, tt := range tests {
		c := NewRequestFrameCommand(testInverterSerial, testDTUSerial, tt.in)
		if c.FrameNo() != tt.expected {
			t.Errorf("frame %d: expected %d, got %d", tt.in, tt.expected, c.FrameNo())
		}
		if c.DataPayload()[9]&lastFragmentFlag == 0 {
			t.Errorf("frame %d: last fragment flag not set", tt.in)
		}
	}
}

func TestCommand_RetryBudgets(t *testing.T) {
	tests := []struct {
		name       string
		cmd        Command
		resend     int
		retransmit int
		insert     QueueInsertType
		timeout    time.Duration
	}{
		{"RealTimeRunData", NewRealTimeRunDataCommand(testInverterSerial, testDTUSerial, testEpoch), 4, 5, InsertReplaceExistent, 500 * time.Millisecond},
		{"AlarmData", NewAlarmDataCommand(testInverterSerial, testDTUSerial, testEpoch), 4, 5, InsertReplaceExistent, 600 * time.Millisecond},
		{"ChannelChange", NewChannelChangeCommand(testInverterSerial, testDTUSerial, 20), 0, 5, InsertReplaceExistent, 10 * time.Millisecond},
		{"PowerControl", NewPowerControlCommand(testInverterSerial, testDTUSerial), 4, 5, InsertRemoveOldest, 2 * time.Second},
		{"ActivePowerControl", NewActivePowerControlCommand(testInverterSerial, testDTUSerial), 4, 5, InsertRemoveOldest, 2 * time.Second},
		{"RequestFrame", NewRequestFrameCommand(testInverterSerial, testDTUSerial, 1), 4, 5, InsertDefault, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cmd.MaxResendCount() != tt.resend {
				t.Errorf("MaxResendCount: expected %d, got %d", tt.resend, tt.cmd.MaxResendCount())
			}
			if tt.cmd.MaxRetransmitCount() != tt.retransmit {
				t.Errorf("MaxRetransmitCount: expected %d, got %d", tt.retransmit, tt.cmd.MaxRetransmitCount())
			}
			if tt.cmd.QueueInsertType() != tt.insert {
				t.Errorf("QueueInsertType: expected %d, got %d", tt.insert, tt.cmd.QueueInsertType())
			}
			if tt.cmd.Timeout() != tt.timeout {
				t.Errorf("Timeout: expected %v, got %v", tt.timeout, tt.cmd.Timeout())
			}
		})
	}
}

func TestRequestFrame_AnyCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"multi-data", NewRealTimeRunDataCommand(testInverterSerial, testDTUSerial, testEpoch)},
		{"power control", NewPowerControlCommand(testInverterSerial, testDTUSerial)},
		{"active power control", NewActivePowerControlCommand(testInverterSerial, testDTUSerial)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.cmd.RequestFrame(2)
			rf, ok := req.(*RequestFrameCommand)
			if !ok {
				t.Fatalf("expected RequestFrameCommand, got %T", req)
			}
			if rf.FrameNo() != 2 {
				t.Errorf("expected fragment 2, got %d", rf.FrameNo())
			}
			if rf.TargetAddress() != testInverterSerial || rf.RouterAddress() != testDTUSerial {
				t.Errorf("addresses not carried over: %s/%s", rf.TargetAddress(), rf.RouterAddress())
			}
		})
	}
}
