// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// hoydtu - Hoymiles microinverter radio gateway
//
// Polls HM, HMS, HMT and HERF inverters over nRF24L01+ and CMT2300A radios,
// either on the host SPI bus or behind a radio bridge co-processor.

package main

import (
	"os"

	"github.com/Thermoquad/hoydtu/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
