// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"strings"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.Timestamp().Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X) %s len=%d\n",
		timestamp, MessageName(p.Type()), p.Type(), formatAddress(p.Address()), len(p.Payload()))

	if err := p.ParseError(); err != nil {
		return result + fmt.Sprintf("  Payload error: %v\n", err)
	}
	if m := p.PayloadMap(); m != nil {
		result += FormatPayloadMap(p.Type(), m)
	}
	return result
}

func formatAddress(address uint64) string {
	switch address {
	case AddressBridge:
		return "bridge"
	case AddressNRF:
		return "nrf24"
	case AddressCMT:
		return "cmt2300a"
	default:
		return fmt.Sprintf("addr=%016X", address)
	}
}

// FormatPayloadMap formats the CBOR payload map based on message type
func FormatPayloadMap(msgType uint8, m map[int]interface{}) string {
	switch msgType {
	case MsgPingResponse:
		uptime, _ := GetMapUint(m, KeyUptime)
		return fmt.Sprintf("  Uptime: %s\n", FormatUptime(uptime))

	case MsgSetChannel:
		ch, _ := GetMapUint(m, KeyChannel)
		return fmt.Sprintf("  Channel: %d\n", ch)

	case MsgSetAddress:
		pipe, _ := GetMapUint(m, KeyPipe)
		addr, _ := GetMapUint(m, KeyAddress)
		pipeStr := "reading"
		if pipe == PipeWriting {
			pipeStr = "writing"
		}
		return fmt.Sprintf("  Pipe: %s, Address: %010X\n", pipeStr, addr)

	case MsgListen:
		on, _ := GetMapBool(m, KeyListen)
		return fmt.Sprintf("  Listen: %s\n", onOff(on))

	case MsgStatus:
		connected, _ := GetMapBool(m, KeyConnected)
		carrier, _ := GetMapBool(m, KeyCarrier)
		chip := "missing"
		if connected {
			chip = "present"
		}
		return fmt.Sprintf("  Chip: %s, Carrier: %s\n", chip, onOff(carrier))

	case MsgTransmit, MsgFrame:
		data, _ := GetMapBytes(m, KeyData)
		result := formatHex("  Data: ", data)
		if rssi, ok := GetMapInt(m, KeyRSSI); ok {
			result += fmt.Sprintf("  RSSI: %d dBm\n", rssi)
		}
		return result
	}

	// Configure and anything unknown: list the keys
	keys := make([]string, 0, len(m))
	for k := 0; k <= KeyUptime; k++ {
		if v, ok := m[k]; ok {
			keys = append(keys, fmt.Sprintf("%s=%v", keyName(k), v))
		}
	}
	if len(keys) == 0 {
		return ""
	}
	return "  " + strings.Join(keys, ", ") + "\n"
}

func keyName(k int) string {
	switch k {
	case KeyChannel:
		return "channel"
	case KeyPipe:
		return "pipe"
	case KeyAddress:
		return "address"
	case KeyRetryDelay:
		return "retry_delay"
	case KeyRetryCount:
		return "retry_count"
	case KeyPALevel:
		return "pa_dbm"
	case KeyBaseFrequency:
		return "base_hz"
	case KeyData:
		return "data"
	case KeyListen:
		return "listen"
	case KeyFlush:
		return "flush"
	case KeyConnected:
		return "connected"
	case KeyCarrier:
		return "carrier"
	case KeyRSSI:
		return "rssi"
	case KeyUptime:
		return "uptime"
	default:
		return fmt.Sprintf("key%d", k)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func formatHex(prefix string, data []byte) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n" + strings.Repeat(" ", len(prefix)))
		}
		fmt.Fprintf(&sb, "%02X ", b)
	}
	sb.WriteString("\n")
	return sb.String()
}

// FormatUptime renders milliseconds as "1 day, 2 hours, 5 seconds".
func FormatUptime(ms uint64) string {
	seconds := ms / 1000
	if seconds == 0 {
		return fmt.Sprintf("%d ms", ms)
	}

	const (
		secondsPerMinute = 60
		secondsPerHour   = 60 * secondsPerMinute
		secondsPerDay    = 24 * secondsPerHour
	)

	units := []struct {
		name string
		size uint64
	}{
		{"day", secondsPerDay},
		{"hour", secondsPerHour},
		{"minute", secondsPerMinute},
		{"second", 1},
	}

	parts := []string{}
	for _, u := range units {
		n := seconds / u.size
		seconds %= u.size
		switch {
		case n == 1:
			parts = append(parts, "1 "+u.name)
		case n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}
	return strings.Join(parts, ", ")
}
