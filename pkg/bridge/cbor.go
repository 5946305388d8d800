// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// message is the CBOR body of every frame, a two element array.
type message struct {
	_       struct{} `cbor:",toarray"`
	Type    uint8
	Payload map[int]interface{}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// sorted map keys
	if encMode, err = (cbor.EncOptions{Sort: cbor.SortCanonical}).EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{MaxMapPairs: MaxPayloadSize, DupMapKey: cbor.DupMapKeyEnforcedAPF}).DecMode(); err != nil {
		panic(err)
	}
}

func encodeCBORPayload(msgType uint8, payload map[int]interface{}) ([]byte, error) {
	m := message{Type: msgType}
	if len(payload) > 0 {
		m.Payload = payload
	}
	return encMode.Marshal(m)
}

// ParseCBORMessage decodes a frame body into its message type and payload
// map. Empty payloads decode to a nil map.
func ParseCBORMessage(data []byte) (uint8, map[int]interface{}, error) {
	if len(data) == 0 {
		return 0, nil, errors.New("empty CBOR payload")
	}
	var m message
	if err := decMode.Unmarshal(data, &m); err != nil {
		return 0, nil, fmt.Errorf("decode [type, payload]: %w", err)
	}
	return m.Type, m.Payload, nil
}

// GetMapUint returns a non-negative integer value.
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	switch val := m[key].(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
	}
	return 0, false
}

func GetMapInt(m map[int]interface{}, key int) (int64, bool) {
	switch val := m[key].(type) {
	case int64:
		return val, true
	case uint64:
		return int64(val), true
	}
	return 0, false
}

func GetMapBool(m map[int]interface{}, key int) (bool, bool) {
	val, ok := m[key].(bool)
	return val, ok
}

func GetMapBytes(m map[int]interface{}, key int) ([]byte, bool) {
	val, ok := m[key].([]byte)
	return val, ok
}
