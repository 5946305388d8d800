// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Encoder/Decoder Tests
// ============================================================

func TestEncodeFrame_Layout(t *testing.T) {
	frame, err := EncodeFrame(AddressNRF, MsgSetChannel, map[int]interface{}{KeyChannel: 23})
	require.NoError(t, err)

	assert.Equal(t, byte(StartByte), frame[0])
	assert.Equal(t, byte(EndByte), frame[len(frame)-1])

	data, err := UnstuffBytes(frame[1 : len(frame)-1])
	require.NoError(t, err)

	length := int(data[0])
	require.Len(t, data, 1+AddressSize+length+2)
	assert.Equal(t, []byte{AddressNRF, 0, 0, 0, 0, 0, 0, 0}, data[1:9])

	crc := CalculateCRC(data[:len(data)-2])
	assert.Equal(t, byte(crc>>8), data[len(data)-2], "CRC is big-endian")
	assert.Equal(t, byte(crc), data[len(data)-1])

	msgType, payload, err := ParseCBORMessage(data[9 : 9+length])
	require.NoError(t, err)
	assert.Equal(t, uint8(MsgSetChannel), msgType)
	assert.Equal(t, uint64(23), payload[KeyChannel])
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		address uint64
		msgType uint8
		payload map[int]interface{}
	}{
		{"empty payload", AddressBridge, MsgPingRequest, nil},
		{"channel", AddressCMT, MsgSetChannel, map[int]interface{}{KeyChannel: 32}},
		{"framing bytes in data", AddressNRF, MsgTransmit, map[int]interface{}{
			KeyData: []byte{StartByte, EndByte, EscByte, 0x15, 0x80},
		}},
		{"pipe address", AddressNRF, MsgSetAddress, map[int]interface{}{
			KeyPipe:    PipeReading,
			KeyAddress: uint64(0x0112345601),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeFrame(tt.address, tt.msgType, tt.payload)
			require.NoError(t, err)

			packets, errs := decodeAll(frame)
			require.Empty(t, errs)
			require.Len(t, packets, 1)

			p := packets[0]
			assert.Equal(t, tt.address, p.Address())
			assert.Equal(t, tt.msgType, p.Type())
			require.NoError(t, p.ParseError())
			assert.Len(t, p.PayloadMap(), len(tt.payload))

			for k, v := range tt.payload {
				switch want := v.(type) {
				case []byte:
					got, ok := GetMapBytes(p.PayloadMap(), k)
					require.True(t, ok)
					assert.Equal(t, want, got)
				default:
					got, ok := GetMapUint(p.PayloadMap(), k)
					require.True(t, ok)
					assert.EqualValues(t, want, got)
				}
			}
		})
	}
}

func TestEncode_Packet(t *testing.T) {
	p := NewPacket(AddressCMT, MsgListen, map[int]interface{}{KeyListen: true})
	frame, err := Encode(p)
	require.NoError(t, err)

	packets, errs := decodeAll(frame)
	require.Empty(t, errs)
	require.Len(t, packets, 1)
	listen, ok := GetMapBool(packets[0].PayloadMap(), KeyListen)
	assert.True(t, ok)
	assert.True(t, listen)
}

func TestEncodeFrame_TooLarge(t *testing.T) {
	_, err := EncodeFrame(AddressNRF, MsgTransmit, map[int]interface{}{KeyData: make([]byte, MaxPayloadSize)})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestPacket_ConcurrentAccess(t *testing.T) {
	frame, err := EncodeFrame(AddressCMT, MsgStatus, map[int]interface{}{KeyConnected: true, KeyCarrier: false})
	require.NoError(t, err)
	packets, _ := decodeAll(frame)
	require.Len(t, packets, 1)
	p := packets[0]

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, uint8(MsgStatus), p.Type())
			connected, ok := GetMapBool(p.PayloadMap(), KeyConnected)
			assert.True(t, ok)
			assert.True(t, connected)
		}()
	}
	wg.Wait()
	assert.NoError(t, p.ParseError())
}

func TestDecoder_CRCMismatch(t *testing.T) {
	frame, err := EncodeFrame(AddressNRF, MsgSetChannel, map[int]interface{}{KeyChannel: 3})
	require.NoError(t, err)

	packets, errs := decodeAll(corruptCRC(t, frame))
	assert.Empty(t, packets)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrCRCMismatch)
}

func TestDecoder_Framing(t *testing.T) {
	good, err := EncodeFrame(AddressCMT, MsgStatus, map[int]interface{}{KeyConnected: true})
	require.NoError(t, err)

	t.Run("noise before frame", func(t *testing.T) {
		packets, errs := decodeAll(append([]byte{0x00, 0x42, EscByte, 0x99}, good...))
		assert.Empty(t, errs)
		assert.Len(t, packets, 1)
	})

	t.Run("truncated frame", func(t *testing.T) {
		data := append([]byte{}, good[:6]...)
		data = append(data, EndByte)
		packets, errs := decodeAll(data)
		assert.Empty(t, packets)
		assert.Len(t, errs, 1)
	})

	t.Run("restart mid frame", func(t *testing.T) {
		data := append([]byte{}, good[:8]...)
		data = append(data, good...)
		packets, errs := decodeAll(data)
		assert.Empty(t, errs)
		assert.Len(t, packets, 1)
	})

	t.Run("data after CRC", func(t *testing.T) {
		data := append([]byte{}, good[:len(good)-1]...)
		data = append(data, 0x01, EndByte)
		packets, errs := decodeAll(data)
		assert.Empty(t, packets)
		assert.NotEmpty(t, errs)
	})

	t.Run("invalid length", func(t *testing.T) {
		_, errs := decodeAll([]byte{StartByte, MaxPayloadSize + 1})
		assert.Len(t, errs, 1)
	})

	t.Run("back to back", func(t *testing.T) {
		packets, errs := decodeAll(append(append([]byte{}, good...), good...))
		assert.Empty(t, errs)
		assert.Len(t, packets, 2)
	})
}

func TestUnstuffBytes(t *testing.T) {
	data := []byte{0x01, StartByte, EndByte, EscByte, 0x02}
	stuffed := stuffBytes(data)
	assert.Equal(t, []byte{0x01, EscByte, 0x5E, EscByte, 0x5F, EscByte, 0x5D, 0x02}, stuffed)

	got, err := UnstuffBytes(stuffed)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = UnstuffBytes([]byte{0x01, EscByte})
	assert.Error(t, err)
}

// ============================================================
// CBOR Tests
// ============================================================

func TestParseCBORMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not cbor", []byte{0xFF}},
		{"not an array", []byte{0x01}},
		{"one element", []byte{0x81, 0x01}},
		{"type out of range", []byte{0x82, 0x19, 0x01, 0x00, 0xF6}},
		{"negative type", []byte{0x82, 0x20, 0xF6}},
		{"payload not a map", []byte{0x82, 0x01, 0x02}},
		{"string key", []byte{0x82, 0x01, 0xA1, 0x61, 0x61, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseCBORMessage(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestGetMapHelpers(t *testing.T) {
	m := map[int]interface{}{
		1: uint64(7),
		2: int64(-3),
		3: true,
		4: []byte{1, 2},
	}

	u, ok := GetMapUint(m, 1)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), u)

	_, ok = GetMapUint(m, 2)
	assert.False(t, ok, "negative value is not a uint")

	i, ok := GetMapInt(m, 2)
	assert.True(t, ok)
	assert.Equal(t, int64(-3), i)

	b, ok := GetMapBool(m, 3)
	assert.True(t, ok)
	assert.True(t, b)

	raw, ok := GetMapBytes(m, 4)
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2}, raw)

	_, ok = GetMapBool(nil, 3)
	assert.False(t, ok)
	_, ok = GetMapBytes(m, 1)
	assert.False(t, ok)
}

func TestMessageName(t *testing.T) {
	assert.Equal(t, "TRANSMIT", MessageName(MsgTransmit))
	assert.Equal(t, "FRAME", MessageName(MsgFrame))
	assert.Equal(t, "UNKNOWN(0xEE)", MessageName(0xEE))
}

// ============================================================
// Statistics Tests
// ============================================================

func TestLinkStatistics(t *testing.T) {
	s := NewLinkStatistics()
	s.Update(nil)
	s.Update(nil)
	_, errs := decodeAll([]byte{StartByte, MaxPayloadSize + 1})
	s.Update(errs[0])

	frame, err := EncodeFrame(AddressNRF, MsgSetChannel, map[int]interface{}{KeyChannel: 3})
	require.NoError(t, err)
	_, errs = decodeAll(corruptCRC(t, frame))
	require.Len(t, errs, 1)
	s.Update(errs[0])

	c := s.Snapshot()
	assert.Equal(t, uint64(4), c.TotalPackets)
	assert.Equal(t, uint64(2), c.ValidPackets)
	assert.Equal(t, uint64(1), c.DecodeErrors)
	assert.Equal(t, uint64(1), c.CRCErrors)
	assert.Contains(t, s.String(), "CRC Errors:")

	s.Reset()
	assert.Zero(t, s.Snapshot().TotalPackets)
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatPacket(t *testing.T) {
	tests := []struct {
		name     string
		address  uint64
		msgType  uint8
		payload  map[int]interface{}
		contains []string
	}{
		{"ping response", AddressBridge, MsgPingResponse, map[int]interface{}{KeyUptime: uint64(90061000)},
			[]string{"PING_RESPONSE (0x3F) bridge", "Uptime: 1 day, 1 hour, 1 minute, 1 second"}},
		{"frame", AddressNRF, MsgFrame, map[int]interface{}{KeyData: []byte{0x95, 0x11}, KeyRSSI: -60},
			[]string{"FRAME (0x31) nrf24", "Data: 95 11", "RSSI: -60 dBm"}},
		{"status", AddressCMT, MsgStatus, map[int]interface{}{KeyConnected: true},
			[]string{"cmt2300a", "Chip: present, Carrier: off"}},
		{"writing pipe", AddressNRF, MsgSetAddress, map[int]interface{}{KeyPipe: PipeWriting, KeyAddress: uint64(0x7856341201)},
			[]string{"Pipe: writing, Address: 7856341201"}},
		{"configure", AddressNRF, MsgConfigure, map[int]interface{}{KeyRetryDelay: 3, KeyRetryCount: 15},
			[]string{"retry_delay=3, retry_count=15"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeFrame(tt.address, tt.msgType, tt.payload)
			require.NoError(t, err)
			packets, errs := decodeAll(frame)
			require.Empty(t, errs)
			require.Len(t, packets, 1)

			out := FormatPacket(packets[0])
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
		})
	}
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "250 ms", FormatUptime(250))
	assert.Equal(t, "2 minutes, 5 seconds", FormatUptime(125000))
	assert.Equal(t, "3 days", FormatUptime(3*24*3600*1000))
}
