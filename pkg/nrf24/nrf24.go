// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package nrf24 drives an nRF24L01+ wired to the host SPI bus through
// periph.io. The chip is set up the way Hoymiles inverters expect it:
// 250 kbit/s, 16 bit CRC, 5 byte addresses and dynamic payloads.
package nrf24

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/Thermoquad/hoydtu/pkg/hoymiles"
)

var (
	ErrTimeout        = errors.New("nrf24: timeout waiting for transmit")
	ErrInvalidPayload = errors.New("nrf24: invalid payload width")
	ErrNoPayload      = errors.New("nrf24: receive FIFO empty")
	ErrClosed         = errors.New("nrf24: device closed")
)

// pollInterval is used in place of the IRQ line when none is wired.
const pollInterval = 2 * time.Millisecond

// Options selects the SPI port and pins.
type Options struct {
	SPIPort    string
	SPISpeedHz int64
	CEPin      string
	// IRQPin may be empty, the receive FIFO is then polled.
	IRQPin string
	Logger logrus.FieldLogger
}

type outPin interface {
	Out(l gpio.Level) error
}

type irqPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
}

// Device is an nRF24L01+ transceiver. It implements hoymiles.NRFDevice.
type Device struct {
	log  logrus.FieldLogger
	conn spi.Conn
	port spi.PortCloser
	ce   outPin
	irq  irqPin

	mu      sync.Mutex
	retries [2]uint8
	handler func()

	done    chan struct{}
	watcher sync.WaitGroup
	closed  bool
}

var _ hoymiles.NRFDevice = (*Device)(nil)

// Open initializes the periph.io host and connects to the chip.
func Open(opts Options) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	port, err := spireg.Open(opts.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("open SPI port %q: %w", opts.SPIPort, err)
	}
	speed := opts.SPISpeedHz
	if speed <= 0 {
		speed = 10_000_000
	}
	conn, err := port.Connect(physic.Frequency(speed)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect SPI: %w", err)
	}

	ce := gpioreg.ByName(opts.CEPin)
	if ce == nil {
		port.Close()
		return nil, fmt.Errorf("unknown CE pin %q", opts.CEPin)
	}
	var irq irqPin
	if opts.IRQPin != "" {
		p := gpioreg.ByName(opts.IRQPin)
		if p == nil {
			port.Close()
			return nil, fmt.Errorf("unknown IRQ pin %q", opts.IRQPin)
		}
		irq = p
	}

	d := newDevice(conn, ce, irq, opts.Logger)
	d.port = port
	return d, nil
}

func newDevice(conn spi.Conn, ce outPin, irq irqPin, log logrus.FieldLogger) *Device {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Device{
		log:  log.WithField("component", "nrf24"),
		conn: conn,
		ce:   ce,
		irq:  irq,
		done: make(chan struct{}),
	}
}

// ============================================================
// SPI primitives, callers hold d.mu
// ============================================================

func (d *Device) transfer(w []byte) (status byte, data []byte) {
	r := make([]byte, len(w))
	if err := d.conn.Tx(w, r); err != nil {
		d.log.WithError(err).Warn("SPI transfer failed")
		return 0, nil
	}
	return r[0], r[1:]
}

func (d *Device) readRegister(reg byte) byte {
	_, data := d.transfer([]byte{reg & registerMask, cmdNOP})
	if len(data) == 0 {
		return 0
	}
	return data[0]
}

func (d *Device) writeRegister(reg byte, val ...byte) {
	d.transfer(append([]byte{cmdWRegister | reg&registerMask}, val...))
}

func (d *Device) status() byte {
	s, _ := d.transfer([]byte{cmdNOP})
	return s
}

func (d *Device) clearStatus() {
	d.writeRegister(regStatus, statusRxDR|statusTxDS|statusMaxRT)
}

func (d *Device) setCE(level gpio.Level) {
	if err := d.ce.Out(level); err != nil {
		d.log.WithError(err).Warn("CE pin write failed")
	}
}

// encodeAddress encodes a pipe address least significant byte first.
func encodeAddress(address uint64) []byte {
	b := make([]byte, addressBytes)
	for i := range b {
		b[i] = byte(address >> (8 * i))
	}
	return b
}

// ============================================================
// hoymiles.NRFDevice
// ============================================================

// Begin resets the chip into standby with the Hoymiles air settings.
func (d *Device) Begin() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	d.setCE(gpio.Low)
	d.writeRegister(regConfig, 0)
	time.Sleep(5 * time.Millisecond)

	d.writeRegister(regSetupAW, addrWidth5)
	d.writeRegister(regSetupRetr, 0)
	d.retries = [2]uint8{}
	d.writeRegister(regRFSetup, rfSetupDRLow|rfSetupPAMax)
	d.writeRegister(regEnAA, pipesAll)
	d.writeRegister(regEnRxAddr, pipes01)
	d.writeRegister(regFeature, featureEnDPL)
	d.writeRegister(regDynPD, pipesAll)
	d.writeRegister(regRFCh, 76)
	d.clearStatus()
	d.transfer([]byte{cmdFlushRx})
	d.transfer([]byte{cmdFlushTx})

	// only RX_DR drives the IRQ line
	d.writeRegister(regConfig, configEnCRC|configCRCO|configPwrUp|configMaskTxDS|configMaskMaxRT)
	time.Sleep(5 * time.Millisecond)

	d.log.Debug("chip configured")
	return nil
}

// IsConnected reads back the address width, which is never 0 on a live
// chip and reads 0x00 or 0xFF with nothing on the bus.
func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	aw := d.readRegister(regSetupAW)
	return aw >= 1 && aw <= 3
}

// SetInterruptHandler starts watching the IRQ line, or polling the FIFO
// when no line is wired. fn runs on the watcher goroutine.
func (d *Device) SetInterruptHandler(fn func()) {
	d.mu.Lock()
	start := d.handler == nil && !d.closed
	d.handler = fn
	d.mu.Unlock()
	if !start {
		return
	}

	if d.irq != nil {
		if err := d.irq.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			d.log.WithError(err).Warn("IRQ pin setup failed, polling instead")
			d.irq = nil
		}
	}
	d.watcher.Add(1)
	go d.watch()
}

func (d *Device) watch() {
	defer d.watcher.Done()
	for {
		select {
		case <-d.done:
			return
		default:
		}

		fire := false
		if d.irq != nil {
			fire = d.irq.WaitForEdge(100 * time.Millisecond)
		} else {
			time.Sleep(pollInterval)
			fire = d.Available()
		}
		if !fire {
			continue
		}
		d.mu.Lock()
		fn := d.handler
		d.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

func (d *Device) SetChannel(channel uint8) error {
	if channel > 125 {
		return fmt.Errorf("nrf24: channel %d out of range", channel)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeRegister(regRFCh, channel)
	return nil
}

// OpenReadingPipe listens on pipe 1.
func (d *Device) OpenReadingPipe(address uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeRegister(regRxAddrP1, encodeAddress(address)...)
	return nil
}

// OpenWritingPipe sets the transmit address. Pipe 0 gets the same
// address so auto acknowledgements are received.
func (d *Device) OpenWritingPipe(address uint64) error {
	a := encodeAddress(address)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeRegister(regTxAddr, a...)
	d.writeRegister(regRxAddrP0, a...)
	return nil
}

// SetRetries sets the auto retransmit delay in 250 us steps and count.
func (d *Device) SetRetries(delay, count uint8) error {
	if delay > 15 || count > 15 {
		return fmt.Errorf("nrf24: retries %d/%d out of range", delay, count)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeRegister(regSetupRetr, delay<<4|count)
	d.retries = [2]uint8{delay, count}
	return nil
}

func (d *Device) StartListening() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeRegister(regConfig, d.readRegister(regConfig)|configPrimRx)
	d.clearStatus()
	d.setCE(gpio.High)
	return nil
}

func (d *Device) StopListening() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setCE(gpio.Low)
	d.writeRegister(regConfig, d.readRegister(regConfig)&^configPrimRx)
	return nil
}

// Write transmits one payload and waits for the acknowledgement or the
// end of the retransmits. A missing acknowledgement is not an error:
// inverters answer on another channel.
func (d *Device) Write(data []byte) error {
	if len(data) == 0 || len(data) > maxPayloadBytes {
		return fmt.Errorf("%w: %d", ErrInvalidPayload, len(data))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.transfer(append([]byte{cmdWTxPayload}, data...))
	d.setCE(gpio.High)
	time.Sleep(15 * time.Microsecond)
	d.setCE(gpio.Low)

	step := time.Duration(d.retries[0]+1) * 250 * time.Microsecond
	deadline := time.Now().Add(step*time.Duration(d.retries[1]+1) + 50*time.Millisecond)
	for {
		s := d.status()
		if s&(statusTxDS|statusMaxRT) != 0 {
			d.clearStatus()
			if s&statusMaxRT != 0 {
				d.transfer([]byte{cmdFlushTx})
				d.log.Debug("no acknowledgement")
			}
			return nil
		}
		if time.Now().After(deadline) {
			d.clearStatus()
			d.transfer([]byte{cmdFlushTx})
			return ErrTimeout
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func (d *Device) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status()&statusRxPNo != statusRxPNo
}

// Read pops the next payload from the receive FIFO.
func (d *Device) Read() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status()&statusRxPNo == statusRxPNo {
		return nil, ErrNoPayload
	}
	_, w := d.transfer([]byte{cmdRRxPlWid, cmdNOP})
	if len(w) == 0 || w[0] == 0 || w[0] > maxPayloadBytes {
		d.transfer([]byte{cmdFlushRx})
		d.clearStatus()
		return nil, ErrInvalidPayload
	}

	cmd := make([]byte, int(w[0])+1)
	cmd[0] = cmdRRxPayload
	for i := 1; i < len(cmd); i++ {
		cmd[i] = cmdNOP
	}
	_, data := d.transfer(cmd)
	d.writeRegister(regStatus, statusRxDR)
	return data, nil
}

func (d *Device) FlushRx() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transfer([]byte{cmdFlushRx})
	return nil
}

// CarrierDetected returns the received power detector bit, set for
// signals above -64 dBm.
func (d *Device) CarrierDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRegister(regRPD)&0x01 != 0
}

// Close stops the watcher, powers the chip down and releases the port.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.done)
	d.setCE(gpio.Low)
	d.writeRegister(regConfig, d.readRegister(regConfig)&^configPwrUp)
	d.mu.Unlock()

	d.watcher.Wait()
	if d.port != nil {
		return d.port.Close()
	}
	return nil
}
