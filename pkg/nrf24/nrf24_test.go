// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nrf24

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"github.com/Thermoquad/hoydtu/pkg/hoymiles"
)

// ============================================================
// Fake Chip
// ============================================================

// fakeChip models the nRF24L01+ register file and FIFOs behind spi.Conn.
type fakeChip struct {
	spi.Conn

	mu     sync.Mutex
	absent bool
	noAck  bool
	regs   [0x20][]byte
	rx     [][]byte
	tx     [][]byte
}

func newFakeChip() *fakeChip {
	c := &fakeChip{}
	for i := range c.regs {
		c.regs[i] = []byte{0}
	}
	return c
}

func (c *fakeChip) statusLocked() byte {
	s := c.regs[regStatus][0] & (statusRxDR | statusTxDS | statusMaxRT)
	if len(c.rx) == 0 {
		s |= statusRxPNo
	} else {
		s |= 1 << 1 // pipe 1
	}
	return s
}

func (c *fakeChip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.absent {
		return nil
	}

	r[0] = c.statusLocked()
	cmd := w[0]
	switch {
	case cmd == cmdNOP:
	case cmd < cmdWRegister:
		copy(r[1:], c.regs[cmd])
	case cmd&0xE0 == cmdWRegister:
		reg := cmd & registerMask
		if reg == regStatus {
			c.regs[regStatus][0] &^= w[1] & (statusRxDR | statusTxDS | statusMaxRT)
		} else {
			c.regs[reg] = append([]byte(nil), w[1:]...)
		}
	case cmd == cmdRRxPlWid:
		if len(c.rx) > 0 {
			r[1] = byte(len(c.rx[0]))
		}
	case cmd == cmdRRxPayload:
		if len(c.rx) > 0 {
			copy(r[1:], c.rx[0])
			c.rx = c.rx[1:]
		}
	case cmd == cmdWTxPayload:
		c.tx = append(c.tx, append([]byte(nil), w[1:]...))
		if c.noAck {
			c.regs[regStatus][0] |= statusMaxRT
		} else {
			c.regs[regStatus][0] |= statusTxDS
		}
	case cmd == cmdFlushRx:
		c.rx = nil
	case cmd == cmdFlushTx:
	}
	return nil
}

// receive queues a payload as if it had arrived over the air.
func (c *fakeChip) receive(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rx = append(c.rx, data)
	c.regs[regStatus][0] |= statusRxDR
}

func (c *fakeChip) reg(r byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.regs[r]...)
}

func (c *fakeChip) setReg(r byte, v ...byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[r] = v
}

func (c *fakeChip) transmitted() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.tx...)
}

type fakePin struct {
	mu    sync.Mutex
	level gpio.Level
	edges chan struct{}
}

func newFakePin() *fakePin { return &fakePin{edges: make(chan struct{}, 8)} }

func (p *fakePin) Out(l gpio.Level) error {
	p.mu.Lock()
	p.level = l
	p.mu.Unlock()
	return nil
}

func (p *fakePin) Level() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *fakePin) In(gpio.Pull, gpio.Edge) error { return nil }

func (p *fakePin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

func silentLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestDevice returns a begun device on a fake chip. irq may be nil.
func newTestDevice(t *testing.T, irq *fakePin) (*Device, *fakeChip, *fakePin) {
	t.Helper()
	chip := newFakeChip()
	ce := newFakePin()
	var line irqPin
	if irq != nil {
		line = irq
	}
	d := newDevice(chip, ce, line, silentLogger())
	t.Cleanup(func() { d.Close() })
	if err := d.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return d, chip, ce
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

// ============================================================
// Configuration Tests
// ============================================================

func TestBegin_Configures(t *testing.T) {
	d, chip, _ := newTestDevice(t, nil)

	tests := []struct {
		name string
		reg  byte
		want byte
	}{
		{"address width", regSetupAW, 0x03},
		{"250kbps max power", regRFSetup, 0x26},
		{"dynamic payload pipes", regDynPD, 0x3F},
		{"dynamic payload feature", regFeature, 0x04},
		{"auto ack", regEnAA, 0x3F},
		{"rx pipes", regEnRxAddr, 0x03},
		{"no retries", regSetupRetr, 0x00},
		{"crc16 powered rx irq only", regConfig, 0x3E},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chip.reg(tt.reg)[0]; got != tt.want {
				t.Errorf("expected 0x%02X, got 0x%02X", tt.want, got)
			}
		})
	}

	if !d.IsConnected() {
		t.Error("configured chip should be connected")
	}
}

func TestIsConnected_NoChip(t *testing.T) {
	chip := newFakeChip()
	chip.absent = true
	d := newDevice(chip, newFakePin(), nil, silentLogger())
	defer d.Close()

	if err := d.Begin(); err != nil {
		t.Fatal(err)
	}
	if d.IsConnected() {
		t.Error("empty bus should not report a chip")
	}
}

func TestBegin_AfterClose(t *testing.T) {
	d := newDevice(newFakeChip(), newFakePin(), nil, silentLogger())
	d.Close()
	if err := d.Begin(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestPipes_AddressByteOrder(t *testing.T) {
	d, chip, _ := newTestDevice(t, nil)
	addr := uint64(0x8012345678)
	want := []byte{0x78, 0x56, 0x34, 0x12, 0x80}

	if err := d.OpenReadingPipe(addr); err != nil {
		t.Fatal(err)
	}
	if err := d.OpenWritingPipe(addr + 1); err != nil {
		t.Fatal(err)
	}

	if got := chip.reg(regRxAddrP1); !bytes.Equal(got, want) {
		t.Errorf("RX_ADDR_P1: expected % X, got % X", want, got)
	}
	want[0]++
	if got := chip.reg(regTxAddr); !bytes.Equal(got, want) {
		t.Errorf("TX_ADDR: expected % X, got % X", want, got)
	}
	if got := chip.reg(regRxAddrP0); !bytes.Equal(got, want) {
		t.Errorf("RX_ADDR_P0 should mirror TX_ADDR, got % X", got)
	}
}

func TestSetRetries(t *testing.T) {
	d, chip, _ := newTestDevice(t, nil)

	if err := d.SetRetries(3, 15); err != nil {
		t.Fatal(err)
	}
	if got := chip.reg(regSetupRetr)[0]; got != 0x3F {
		t.Errorf("expected 0x3F, got 0x%02X", got)
	}
	if err := d.SetRetries(16, 0); err == nil {
		t.Error("delay 16 should be rejected")
	}
	if err := d.SetChannel(126); err == nil {
		t.Error("channel 126 should be rejected")
	}
	if err := d.SetChannel(75); err != nil || chip.reg(regRFCh)[0] != 75 {
		t.Errorf("SetChannel(75): err=%v reg=%d", err, chip.reg(regRFCh)[0])
	}
}

func TestListening(t *testing.T) {
	d, chip, ce := newTestDevice(t, nil)

	if err := d.StartListening(); err != nil {
		t.Fatal(err)
	}
	if chip.reg(regConfig)[0]&configPrimRx == 0 || ce.Level() != gpio.High {
		t.Error("listening should set PRIM_RX and raise CE")
	}
	if err := d.StopListening(); err != nil {
		t.Fatal(err)
	}
	if chip.reg(regConfig)[0]&configPrimRx != 0 || ce.Level() != gpio.Low {
		t.Error("standby should clear PRIM_RX and drop CE")
	}
}

// ============================================================
// Transfer Tests
// ============================================================

func TestWrite(t *testing.T) {
	tests := []struct {
		name    string
		noAck   bool
		payload []byte
		err     error
	}{
		{"acknowledged", false, []byte{0x15, 0x11, 0x22}, nil},
		{"no acknowledgement", true, []byte{0x15, 0x11, 0x22}, nil},
		{"empty", false, nil, ErrInvalidPayload},
		{"too long", false, make([]byte, 33), ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, chip, ce := newTestDevice(t, nil)
			chip.noAck = tt.noAck

			err := d.Write(tt.payload)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if tt.err != nil {
				if len(chip.transmitted()) != 0 {
					t.Error("invalid payload must not reach the chip")
				}
				return
			}
			tx := chip.transmitted()
			if len(tx) != 1 || !bytes.Equal(tx[0], tt.payload) {
				t.Errorf("expected % X on air, got %v", tt.payload, tx)
			}
			if chip.reg(regStatus)[0] != 0 {
				t.Error("status flags should be cleared after the transmit")
			}
			if ce.Level() != gpio.Low {
				t.Error("CE should be low after the pulse")
			}
		})
	}
}

func TestRead(t *testing.T) {
	d, chip, _ := newTestDevice(t, nil)

	if d.Available() {
		t.Fatal("FIFO should start empty")
	}
	if _, err := d.Read(); !errors.Is(err, ErrNoPayload) {
		t.Errorf("expected ErrNoPayload, got %v", err)
	}

	frames := [][]byte{{0x95, 1, 2, 3}, {0x95, 4, 5, 6, 7, 8}}
	for _, f := range frames {
		chip.receive(f)
	}
	for i, want := range frames {
		if !d.Available() {
			t.Fatalf("frame %d should be available", i)
		}
		got, err := d.Read()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: expected % X, got % X", i, want, got)
		}
	}
	if d.Available() {
		t.Error("FIFO should be empty")
	}
	if chip.reg(regStatus)[0]&statusRxDR != 0 {
		t.Error("RX_DR should be cleared")
	}
}

func TestRead_InvalidWidthFlushes(t *testing.T) {
	d, chip, _ := newTestDevice(t, nil)
	chip.receive(make([]byte, 40))
	chip.receive([]byte{1})

	if _, err := d.Read(); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
	if d.Available() {
		t.Error("corrupt FIFO should be flushed")
	}
}

func TestFlushRxAndCarrier(t *testing.T) {
	d, chip, _ := newTestDevice(t, nil)
	chip.receive([]byte{1, 2})

	if err := d.FlushRx(); err != nil {
		t.Fatal(err)
	}
	if d.Available() {
		t.Error("flush should empty the FIFO")
	}

	if d.CarrierDetected() {
		t.Error("no carrier expected")
	}
	chip.setReg(regRPD, 0x01)
	if !d.CarrierDetected() {
		t.Error("RPD set should report a carrier")
	}
}

// ============================================================
// Interrupt Tests
// ============================================================

func TestInterruptHandler_IRQLine(t *testing.T) {
	irq := newFakePin()
	d, chip, _ := newTestDevice(t, irq)

	var fired atomic.Int32
	d.SetInterruptHandler(func() { fired.Add(1) })

	chip.receive([]byte{1})
	irq.edges <- struct{}{}
	eventually(t, func() bool { return fired.Load() == 1 }, "handler not called on falling edge")

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	irq.edges <- struct{}{}
	time.Sleep(20 * time.Millisecond)
	if fired.Load() != 1 {
		t.Error("handler called after Close")
	}
}

func TestInterruptHandler_Polling(t *testing.T) {
	d, chip, _ := newTestDevice(t, nil)

	var fired atomic.Bool
	d.SetInterruptHandler(func() { fired.Store(true) })

	time.Sleep(5 * pollInterval)
	if fired.Load() {
		t.Fatal("handler called with an empty FIFO")
	}
	chip.receive([]byte{1})
	eventually(t, fired.Load, "polling should detect the pending frame")
}

// ============================================================
// Radio Integration
// ============================================================

func TestDrivesHoymilesRadio(t *testing.T) {
	d, chip, ce := newTestDevice(t, nil)
	dtu, err := hoymiles.ParseSerial("199912345678")
	if err != nil {
		t.Fatal(err)
	}

	radio := hoymiles.NewRadioNRF(d, hoymiles.RadioOptions{Logger: silentLogger()})
	if err := radio.SetDTUSerial(dtu); err != nil {
		t.Fatal(err)
	}
	if err := radio.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if got, want := chip.reg(regRxAddrP1), encodeAddress(dtu.RadioID()); !bytes.Equal(got, want) {
		t.Errorf("reading pipe: expected % X, got % X", want, got)
	}
	if ce.Level() != gpio.High {
		t.Error("radio should be listening after Init")
	}
}
