// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nrf24

// Registers
const (
	regConfig    = 0x00
	regEnAA      = 0x01
	regEnRxAddr  = 0x02
	regSetupAW   = 0x03
	regSetupRetr = 0x04
	regRFCh      = 0x05
	regRFSetup   = 0x06
	regStatus    = 0x07
	regRPD       = 0x09
	regRxAddrP0  = 0x0A
	regRxAddrP1  = 0x0B
	regTxAddr    = 0x10
	regDynPD     = 0x1C
	regFeature   = 0x1D
)

// Commands
const (
	cmdWRegister    = 0x20
	cmdRRxPlWid     = 0x60
	cmdRRxPayload   = 0x61
	cmdWTxPayload   = 0xA0
	cmdFlushTx      = 0xE1
	cmdFlushRx      = 0xE2
	cmdNOP          = 0xFF
	registerMask    = 0x1F
	maxPayloadBytes = 32
)

// CONFIG bits
const (
	configPrimRx    = 1 << 0
	configPwrUp     = 1 << 1
	configCRCO      = 1 << 2
	configEnCRC     = 1 << 3
	configMaskMaxRT = 1 << 4
	configMaskTxDS  = 1 << 5
)

// STATUS bits
const (
	statusMaxRT = 1 << 4
	statusTxDS  = 1 << 5
	statusRxDR  = 1 << 6
	statusRxPNo = 0x07 << 1
)

const (
	rfSetupDRLow = 1 << 5
	rfSetupPAMax = 3 << 1

	featureEnDPL = 1 << 2
	pipesAll     = 0x3F
	pipes01      = 0x03
	addrWidth5   = 0x03
	addressBytes = 5
)
