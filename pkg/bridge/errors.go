// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import "errors"

var (
	// ErrConnectionClosed is returned when reading from a closed connection.
	ErrConnectionClosed = errors.New("bridge connection closed")
	// ErrFrameTooLarge is returned when a message does not fit a packet.
	ErrFrameTooLarge = errors.New("frame too large")
	ErrCRCMismatch   = errors.New("CRC mismatch")
	ErrQueueFull     = errors.New("send queue full")
	ErrNoFrame       = errors.New("no frame available")
)
