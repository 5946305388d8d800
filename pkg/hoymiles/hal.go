// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

// NRFDevice is an nRF24L01+ transceiver configured for 250 kbit/s Enhanced
// ShockBurst with dynamic payloads and 16 bit CRC. Addresses are the 5 byte
// values returned by Serial.RadioID.
//
// The interrupt handler must only flag that data is pending; it may be
// called from any goroutine.
type NRFDevice interface {
	Begin() error
	IsConnected() bool
	SetInterruptHandler(fn func())

	SetChannel(channel uint8) error
	OpenReadingPipe(address uint64) error
	OpenWritingPipe(address uint64) error
	SetRetries(delay, count uint8) error
	StartListening() error
	StopListening() error

	Write(data []byte) error
	Available() bool
	Read() ([]byte, error)
	FlushRx() error

	// CarrierDetected reports the received power detector (RPD) bit.
	CarrierDetected() bool
}

// CMTDevice is a CMT2300A sub-GHz transceiver. Frequencies are in Hz;
// channels count ChannelWidth steps from the base frequency given to
// SetBaseFrequency.
type CMTDevice interface {
	Begin() error
	IsConnected() bool
	SetInterruptHandler(fn func())

	SetBaseFrequency(hz uint32) error
	SetChannel(channel uint8) error
	SetPALevel(dBm int8) error

	Transmit(data []byte) error
	StartReceive() error
	Available() bool
	Read() (data []byte, rssi int8, err error)
}
