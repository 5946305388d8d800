// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"encoding/binary"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	testInverterSerial Serial = 0x112100001234
	testDTUSerial      Serial = 0x199912345678
)

var testEpoch = time.Unix(1700000000, 0)

// ============================================================
// Fuzz Helpers
// ============================================================

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// ============================================================
// Clock and Logger
// ============================================================

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func silentLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func approxEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 0.001
}

// ============================================================
// Fake Devices
// ============================================================

type fakeNRF struct {
	connected   bool
	irq         func()
	channel     uint8
	listening   bool
	readingPipe uint64
	writingPipe uint64
	retries     [2]uint8
	rpd         bool

	hops     []uint8 // channels set while listening was stopped for a hop
	writes   [][]byte
	writeChs []uint8
	rx       [][]byte
	flushed  int
}

func newFakeNRF() *fakeNRF { return &fakeNRF{connected: true} }

func (d *fakeNRF) Begin() error { return nil }
func (d *fakeNRF) IsConnected() bool { return d.connected }
func (d *fakeNRF) SetInterruptHandler(fn func()) { d.irq = fn }
func (d *fakeNRF) SetChannel(ch uint8) error {
	d.channel = ch
	d.hops = append(d.hops, ch)
	return nil
}
func (d *fakeNRF) OpenReadingPipe(a uint64) error { d.readingPipe = a; return nil }
func (d *fakeNRF) OpenWritingPipe(a uint64) error { d.writingPipe = a; return nil }
func (d *fakeNRF) SetRetries(delay, count uint8) error {
	d.retries = [2]uint8{delay, count}
	return nil
}
func (d *fakeNRF) StartListening() error { d.listening = true; return nil }
func (d *fakeNRF) StopListening() error { d.listening = false; return nil }
func (d *fakeNRF) Write(data []byte) error {
	d.writes = append(d.writes, append([]byte(nil), data...))
	d.writeChs = append(d.writeChs, d.channel)
	return nil
}
func (d *fakeNRF) Available() bool { return len(d.rx) > 0 }
func (d *fakeNRF) Read() ([]byte, error) {
	f := d.rx[0]
	d.rx = d.rx[1:]
	return f, nil
}
func (d *fakeNRF) FlushRx() error { d.rx = nil; d.flushed++; return nil }
func (d *fakeNRF) CarrierDetected() bool { return d.rpd }

// inject queues frames and raises the interrupt.
func (d *fakeNRF) inject(frames ...[]byte) {
	d.rx = append(d.rx, frames...)
	if d.irq != nil {
		d.irq()
	}
}

func (d *fakeNRF) lastWrite() []byte {
	if len(d.writes) == 0 {
		return nil
	}
	return d.writes[len(d.writes)-1]
}

type cmtFrame struct {
	data []byte
	rssi int8
}

type fakeCMT struct {
	connected bool
	irq       func()
	base      uint32
	channel   uint8
	pa        int8
	receiving bool

	transmits  [][]byte
	transmitCh []uint8
	rx         []cmtFrame
}

func newFakeCMT() *fakeCMT { return &fakeCMT{connected: true} }

func (d *fakeCMT) Begin() error { return nil }
func (d *fakeCMT) IsConnected() bool { return d.connected }
func (d *fakeCMT) SetInterruptHandler(fn func()) { d.irq = fn }
func (d *fakeCMT) SetBaseFrequency(hz uint32) error { d.base = hz; return nil }
func (d *fakeCMT) SetChannel(ch uint8) error { d.channel = ch; return nil }
func (d *fakeCMT) SetPALevel(dBm int8) error { d.pa = dBm; return nil }
func (d *fakeCMT) Transmit(data []byte) error {
	d.transmits = append(d.transmits, append([]byte(nil), data...))
	d.transmitCh = append(d.transmitCh, d.channel)
	d.receiving = false
	return nil
}
func (d *fakeCMT) StartReceive() error { d.receiving = true; return nil }
func (d *fakeCMT) Available() bool { return len(d.rx) > 0 }
func (d *fakeCMT) Read() ([]byte, int8, error) {
	f := d.rx[0]
	d.rx = d.rx[1:]
	return f.data, f.rssi, nil
}

func (d *fakeCMT) inject(rssi int8, frames ...[]byte) {
	for _, f := range frames {
		d.rx = append(d.rx, cmtFrame{data: f, rssi: rssi})
	}
	if d.irq != nil {
		d.irq()
	}
}

// ============================================================
// Test Rigs
// ============================================================

type nrfRig struct {
	clock  *fakeClock
	dev    *fakeNRF
	radio  *RadioNRF
	engine *Engine
	inv    *Inverter
}

func newNRFRig(t *testing.T, serial Serial) *nrfRig {
	t.Helper()
	r := &nrfRig{clock: newFakeClock(), dev: newFakeNRF()}
	log := silentLogger()
	r.radio = NewRadioNRF(r.dev, RadioOptions{Logger: log, Clock: r.clock})
	if err := r.radio.SetDTUSerial(testDTUSerial); err != nil {
		t.Fatalf("SetDTUSerial: %v", err)
	}
	if err := r.radio.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	r.engine = NewEngine(EngineOptions{Logger: log, Clock: r.clock, NRF: r.radio})
	inv, err := r.engine.AddInverter("test", serial)
	if err != nil {
		t.Fatalf("AddInverter: %v", err)
	}
	r.inv = inv
	return r
}

// loop runs the radio n times without advancing the clock.
func (r *nrfRig) loop(n int) {
	for i := 0; i < n; i++ {
		r.radio.Loop()
	}
}

type cmtRig struct {
	clock  *fakeClock
	dev    *fakeCMT
	radio  *RadioCMT
	engine *Engine
	inv    *Inverter
}

func newCMTRig(t *testing.T, serial Serial, country CountryMode) *cmtRig {
	t.Helper()
	r := &cmtRig{clock: newFakeClock(), dev: newFakeCMT()}
	log := silentLogger()
	r.radio = NewRadioCMT(r.dev, RadioOptions{Logger: log, Clock: r.clock})
	r.radio.SetDTUSerial(testDTUSerial)
	if err := r.radio.Init(country); err != nil {
		t.Fatalf("Init: %v", err)
	}
	r.engine = NewEngine(EngineOptions{Logger: log, Clock: r.clock, CMT: r.radio})
	inv, err := r.engine.AddInverter("test", serial)
	if err != nil {
		t.Fatalf("AddInverter: %v", err)
	}
	r.inv = inv
	return r
}

func (r *cmtRig) loop(n int) {
	for i := 0; i < n; i++ {
		r.radio.Loop()
	}
}

// ============================================================
// Answer Builders
// ============================================================

// buildAnswer frames payload plus its CRC16 the way an inverter answers
// command id cmd: chunks of per bytes, numbered from 1, the last flagged.
func buildAnswer(cmd uint8, inv, dtu Serial, payload []byte, per int) [][]byte {
	data := append([]byte(nil), payload...)
	data = binary.BigEndian.AppendUint16(data, CRC16(payload))

	var frames [][]byte
	for i := 0; len(data) > 0; i++ {
		n := min(per, len(data))
		chunk := data[:n]
		data = data[n:]

		id := uint8(i + 1)
		if len(data) == 0 {
			id |= lastFragmentFlag
		}
		frames = append(frames, buildFrame(cmd|lastFragmentFlag, inv, dtu, id, chunk))
	}
	return frames
}

// buildFrame assembles one radio frame with its CRC8.
func buildFrame(cmd uint8, src, dst Serial, id uint8, chunk []byte) []byte {
	a, b := src.AddressBytes(), dst.AddressBytes()
	f := []byte{cmd}
	f = append(f, a[:]...)
	f = append(f, b[:]...)
	f = append(f, id)
	f = append(f, chunk...)
	return append(f, CRC8(f))
}

// hm1chStats returns a 30 byte HM_1CH RealTimeRunData payload.
func hm1chStats() []byte {
	p := make([]byte, 30)
	binary.BigEndian.PutUint16(p[2:], 400)     // UDC 40.0 V
	binary.BigEndian.PutUint16(p[4:], 350)     // IDC 3.50 A
	binary.BigEndian.PutUint16(p[6:], 1400)    // PDC 140.0 W
	binary.BigEndian.PutUint32(p[8:], 1234567) // YT 1234.567 kWh
	binary.BigEndian.PutUint16(p[12:], 321)    // YD 321 Wh
	binary.BigEndian.PutUint16(p[14:], 2301)   // UAC 230.1 V
	binary.BigEndian.PutUint16(p[16:], 5001)   // F 50.01 Hz
	binary.BigEndian.PutUint16(p[18:], 1234)   // PAC 123.4 W
	binary.BigEndian.PutUint16(p[22:], 54)     // IAC 0.54 A
	binary.BigEndian.PutUint16(p[24:], 999)    // PF 0.999
	binary.BigEndian.PutUint16(p[26:], 325)    // T 32.5 C
	binary.BigEndian.PutUint16(p[28:], 3)      // event count
	return p
}
