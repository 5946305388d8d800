// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import "errors"

var (
	ErrUnknownInverterType = errors.New("unknown inverter type")
	ErrInverterExists      = errors.New("inverter already registered")
	ErrInverterNotFound    = errors.New("inverter not found")
	ErrRadioUnavailable    = errors.New("radio not available")
	ErrInvalidFrequency    = errors.New("frequency not on channel grid")
	ErrInvalidSerial       = errors.New("invalid serial number")
	ErrCommandsDisabled    = errors.New("commands disabled for inverter")
)
