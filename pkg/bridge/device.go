// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/hoydtu/pkg/hoymiles"
)

// maxBufferedFrames bounds the per-chip receive buffer.
const maxBufferedFrames = 32

type rxFrame struct {
	data []byte
	rssi int8
}

// setting is a configuration message replayed after a reconnect.
type setting struct {
	key     string
	msgType uint8
	payload map[int]interface{}
}

// radioView is the host side state of one bridge chip.
type radioView struct {
	link    *Link
	address uint64

	mu        sync.Mutex
	begun     bool
	connected bool
	carrier   bool
	rssi      int8
	frames    []rxFrame
	dropped   uint64
	irq       func()
	settings  []setting

	statusCh chan struct{}
}

func newRadioView(l *Link, address uint64) *radioView {
	return &radioView{
		link:     l,
		address:  address,
		statusCh: make(chan struct{}, 1),
	}
}

// Begin resets the chip and waits for its status report.
func (v *radioView) Begin() error {
	v.mu.Lock()
	v.begun = true
	v.mu.Unlock()

	// discard a stale report
	select {
	case <-v.statusCh:
	default:
	}

	if err := v.link.Send(v.address, MsgBegin, nil); err != nil {
		return err
	}

	select {
	case <-v.statusCh:
	case <-time.After(v.link.opts.BeginTimeout):
		return fmt.Errorf("bridge chip 0x%02X: no status after %s", v.address, v.link.opts.BeginTimeout)
	}
	if !v.IsConnected() {
		return fmt.Errorf("bridge chip 0x%02X: %w", v.address, hoymiles.ErrRadioUnavailable)
	}
	return nil
}

// IsConnected reports the chip presence from the last status report.
func (v *radioView) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected && v.link.IsConnected()
}

func (v *radioView) SetInterruptHandler(fn func()) {
	v.mu.Lock()
	v.irq = fn
	v.mu.Unlock()
}

func (v *radioView) Available() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.frames) > 0
}

func (v *radioView) pop() (rxFrame, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.frames) == 0 {
		return rxFrame{}, ErrNoFrame
	}
	f := v.frames[0]
	v.frames = v.frames[1:]
	return f, nil
}

// Dropped returns the number of frames lost to a full receive buffer.
func (v *radioView) Dropped() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dropped
}

// configure sends a setting and records it for replay. Settings with the
// same key replace each other.
func (v *radioView) configure(key string, msgType uint8, payload map[int]interface{}) error {
	v.mu.Lock()
	replaced := false
	for i := range v.settings {
		if v.settings[i].key == key {
			v.settings[i] = setting{key, msgType, payload}
			replaced = true
			break
		}
	}
	if !replaced {
		v.settings = append(v.settings, setting{key, msgType, payload})
	}
	v.mu.Unlock()
	return v.link.Send(v.address, msgType, payload)
}

func (v *radioView) send(msgType uint8, payload map[int]interface{}) error {
	return v.link.Send(v.address, msgType, payload)
}

// replay restores the chip after a (re)connect.
func (v *radioView) replay() {
	v.mu.Lock()
	begun := v.begun
	settings := append([]setting(nil), v.settings...)
	v.mu.Unlock()
	if !begun {
		return
	}

	if err := v.send(MsgBegin, nil); err != nil {
		v.link.log.WithError(err).Warn("replay begin")
		return
	}
	for _, s := range settings {
		if err := v.send(s.msgType, s.payload); err != nil {
			v.link.log.WithError(err).WithField("setting", s.key).Warn("replay setting")
		}
	}
}

func (v *radioView) lost() {
	v.mu.Lock()
	v.connected = false
	v.frames = nil
	v.mu.Unlock()
}

func (v *radioView) status(m map[int]interface{}) {
	v.mu.Lock()
	if c, ok := GetMapBool(m, KeyConnected); ok {
		v.connected = c
	}
	if c, ok := GetMapBool(m, KeyCarrier); ok {
		v.carrier = c
	}
	v.mu.Unlock()

	select {
	case v.statusCh <- struct{}{}:
	default:
	}
}

func (v *radioView) frame(m map[int]interface{}) {
	data, ok := GetMapBytes(m, KeyData)
	if !ok || len(data) == 0 {
		v.link.stats.countDropped()
		return
	}
	f := rxFrame{data: data}
	if rssi, ok := GetMapInt(m, KeyRSSI); ok {
		f.rssi = int8(rssi)
	}

	v.mu.Lock()
	if c, ok := GetMapBool(m, KeyCarrier); ok {
		v.carrier = c
	}
	v.rssi = f.rssi
	if len(v.frames) >= maxBufferedFrames {
		v.frames = v.frames[1:]
		v.dropped++
	}
	v.frames = append(v.frames, f)
	irq := v.irq
	v.mu.Unlock()

	if irq != nil {
		irq()
	}
}

// ============================================================
// nRF24L01+
// ============================================================

// NRF is the bridge's nRF24L01+ chip. It implements hoymiles.NRFDevice.
type NRF struct {
	*radioView
}

var _ hoymiles.NRFDevice = (*NRF)(nil)

func (n *NRF) SetChannel(channel uint8) error {
	return n.configure("channel", MsgSetChannel, map[int]interface{}{KeyChannel: channel})
}

func (n *NRF) OpenReadingPipe(address uint64) error {
	return n.configure("pipe.reading", MsgSetAddress, map[int]interface{}{
		KeyPipe:    PipeReading,
		KeyAddress: address,
	})
}

func (n *NRF) OpenWritingPipe(address uint64) error {
	return n.configure("pipe.writing", MsgSetAddress, map[int]interface{}{
		KeyPipe:    PipeWriting,
		KeyAddress: address,
	})
}

func (n *NRF) SetRetries(delay, count uint8) error {
	return n.configure("retries", MsgConfigure, map[int]interface{}{
		KeyRetryDelay: delay,
		KeyRetryCount: count,
	})
}

func (n *NRF) StartListening() error {
	return n.configure("listen", MsgListen, map[int]interface{}{KeyListen: true})
}

func (n *NRF) StopListening() error {
	return n.configure("listen", MsgListen, map[int]interface{}{KeyListen: false})
}

func (n *NRF) Write(data []byte) error {
	return n.send(MsgTransmit, map[int]interface{}{KeyData: data})
}

func (n *NRF) Read() ([]byte, error) {
	f, err := n.pop()
	return f.data, err
}

// FlushRx drops buffered frames here and in the chip FIFO.
func (n *NRF) FlushRx() error {
	n.mu.Lock()
	n.frames = nil
	n.mu.Unlock()
	return n.send(MsgConfigure, map[int]interface{}{KeyFlush: true})
}

// CarrierDetected returns the RPD bit from the last report.
func (n *NRF) CarrierDetected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.carrier
}

// ============================================================
// CMT2300A
// ============================================================

// CMT is the bridge's CMT2300A chip. It implements hoymiles.CMTDevice.
type CMT struct {
	*radioView
}

var _ hoymiles.CMTDevice = (*CMT)(nil)

func (c *CMT) SetBaseFrequency(hz uint32) error {
	return c.configure("base", MsgConfigure, map[int]interface{}{KeyBaseFrequency: hz})
}

func (c *CMT) SetChannel(channel uint8) error {
	return c.configure("channel", MsgSetChannel, map[int]interface{}{KeyChannel: channel})
}

func (c *CMT) SetPALevel(dBm int8) error {
	return c.configure("pa", MsgConfigure, map[int]interface{}{KeyPALevel: dBm})
}

func (c *CMT) Transmit(data []byte) error {
	return c.send(MsgTransmit, map[int]interface{}{KeyData: data})
}

func (c *CMT) StartReceive() error {
	return c.configure("listen", MsgListen, map[int]interface{}{KeyListen: true})
}

func (c *CMT) Read() ([]byte, int8, error) {
	f, err := c.pop()
	return f.data, f.rssi, err
}
