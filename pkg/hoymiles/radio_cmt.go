// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// CountryMode selects the sub-GHz band plan.
type CountryMode uint8

const (
	CountryEU CountryMode = iota
	CountryUS
	CountryBR
)

func (m CountryMode) String() string {
	switch m {
	case CountryEU:
		return "EU"
	case CountryUS:
		return "US"
	case CountryBR:
		return "BR"
	default:
		return fmt.Sprintf("CountryMode(%d)", uint8(m))
	}
}

// ParseCountryMode accepts EU, US or BR in any case.
func ParseCountryMode(s string) (CountryMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EU":
		return CountryEU, nil
	case "US":
		return CountryUS, nil
	case "BR":
		return CountryBR, nil
	}
	return 0, fmt.Errorf("unknown country mode %q", s)
}

// CountryDefinition is the band plan of one country. All values are in Hz.
type CountryDefinition struct {
	Base              uint32
	MinFrequency      uint32
	MaxFrequency      uint32
	LegalMinFrequency uint32
	LegalMaxFrequency uint32
	DefaultFrequency  uint32
	BootFrequency     uint32
	ChannelWidth      uint32
}

const cmtChannelWidth = 250_000

var countryDefinitions = map[CountryMode]CountryDefinition{
	CountryEU: {
		Base:              860_000_000,
		MinFrequency:      863_000_000,
		MaxFrequency:      870_000_000,
		LegalMinFrequency: 863_000_000,
		LegalMaxFrequency: 870_000_000,
		DefaultFrequency:  865_000_000,
		BootFrequency:     868_000_000,
		ChannelWidth:      cmtChannelWidth,
	},
	CountryUS: {
		Base:              900_000_000,
		MinFrequency:      905_000_000,
		MaxFrequency:      925_000_000,
		LegalMinFrequency: 902_000_000,
		LegalMaxFrequency: 928_000_000,
		DefaultFrequency:  918_000_000,
		BootFrequency:     915_000_000,
		ChannelWidth:      cmtChannelWidth,
	},
	CountryBR: {
		Base:              900_000_000,
		MinFrequency:      915_000_000,
		MaxFrequency:      928_000_000,
		LegalMinFrequency: 915_000_000,
		LegalMaxFrequency: 928_000_000,
		DefaultFrequency:  918_000_000,
		BootFrequency:     915_000_000,
		ChannelWidth:      cmtChannelWidth,
	},
}

// Country returns the band plan for m, falling back to EU.
func Country(m CountryMode) CountryDefinition {
	if def, ok := countryDefinitions[m]; ok {
		return def
	}
	return countryDefinitions[CountryEU]
}

// InvalidChannel is returned by ChannelFromFrequency for frequencies off
// the channel grid or outside the band.
const InvalidChannel uint8 = 0xFF

func (c CountryDefinition) FrequencyFromChannel(channel uint8) uint32 {
	return c.Base + uint32(channel)*c.ChannelWidth
}

func (c CountryDefinition) ChannelFromFrequency(freq uint32) uint8 {
	if freq%c.ChannelWidth != 0 {
		return InvalidChannel
	}
	if freq < c.MinFrequency || freq > c.MaxFrequency {
		return InvalidChannel
	}
	return uint8((freq - c.Base) / c.ChannelWidth)
}

// Channels lists every valid channel of the band.
func (c CountryDefinition) Channels() []uint8 {
	var out []uint8
	for f := c.MinFrequency; f <= c.MaxFrequency; f += c.ChannelWidth {
		if ch := c.ChannelFromFrequency(f); ch != InvalidChannel {
			out = append(out, ch)
		}
	}
	return out
}

// RadioCMT drives HMS and HMT inverters on the sub-GHz band.
type RadioCMT struct {
	radioBase
	dev CMTDevice

	mu              sync.Mutex
	country         CountryMode
	targetFrequency uint32
	paLevel         int8

	channel atomic.Uint32
}

func NewRadioCMT(dev CMTDevice, opts RadioOptions) *RadioCMT {
	r := &RadioCMT{
		radioBase:       newRadioBase(RadioCMT2300, opts),
		dev:             dev,
		country:         CountryEU,
		targetFrequency: Country(CountryEU).DefaultFrequency,
	}
	r.channel.Store(uint32(InvalidChannel))
	r.txFrame = r.sendEsbPacket
	return r
}

// Init starts the device on the target frequency of the given country.
func (r *RadioCMT) Init(country CountryMode) error {
	if err := r.dev.Begin(); err != nil {
		return fmt.Errorf("cmt2300a begin: %w", err)
	}
	if !r.dev.IsConnected() {
		return fmt.Errorf("cmt2300a: %w", ErrRadioUnavailable)
	}
	r.log.Info("connection successful")

	if err := r.applyCountry(country); err != nil {
		return err
	}
	r.dev.SetInterruptHandler(r.handleInterrupt)

	if err := r.switchFrequency(r.InverterTargetFrequency()); err != nil {
		return err
	}
	if err := r.dev.StartReceive(); err != nil {
		return fmt.Errorf("cmt2300a start receive: %w", err)
	}
	r.initialized.Store(true)
	return nil
}

func (r *RadioCMT) IsConnected() bool {
	return r.dev.IsConnected()
}

func (r *RadioCMT) SetDTUSerial(s Serial) {
	r.dtuSerial.Store(uint64(s))
}

// SetCountryMode switches the band plan and resets the target frequency to
// the country default.
func (r *RadioCMT) SetCountryMode(m CountryMode) error {
	if err := r.applyCountry(m); err != nil {
		return err
	}
	if !r.IsInitialized() {
		return nil
	}
	return r.switchFrequency(r.InverterTargetFrequency())
}

func (r *RadioCMT) applyCountry(m CountryMode) error {
	def, ok := countryDefinitions[m]
	if !ok {
		return fmt.Errorf("country mode %d: %w", m, ErrInvalidFrequency)
	}
	r.mu.Lock()
	r.country = m
	r.targetFrequency = def.DefaultFrequency
	r.mu.Unlock()

	if err := r.dev.SetBaseFrequency(def.Base); err != nil {
		return fmt.Errorf("cmt2300a base frequency: %w", err)
	}
	return nil
}

func (r *RadioCMT) CountryMode() CountryMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.country
}

func (r *RadioCMT) Country() CountryDefinition {
	return Country(r.CountryMode())
}

func (r *RadioCMT) BootFrequency() uint32 {
	return r.Country().BootFrequency
}

func (r *RadioCMT) InverterTargetFrequency() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targetFrequency
}

// SetInverterTargetFrequency sets the frequency inverters are moved to.
// It must lie on the channel grid of the current country.
func (r *RadioCMT) SetInverterTargetFrequency(freq uint32) error {
	if r.Country().ChannelFromFrequency(freq) == InvalidChannel {
		return fmt.Errorf("%.3f MHz in %s: %w", float64(freq)/1e6, r.CountryMode(), ErrInvalidFrequency)
	}
	r.mu.Lock()
	r.targetFrequency = freq
	r.mu.Unlock()

	if !r.IsInitialized() {
		return nil
	}
	return r.switchFrequency(freq)
}

func (r *RadioCMT) SetPALevel(dBm int8) error {
	if err := r.dev.SetPALevel(dBm); err != nil {
		return fmt.Errorf("cmt2300a pa level: %w", err)
	}
	r.mu.Lock()
	r.paLevel = dBm
	r.mu.Unlock()
	return nil
}

func (r *RadioCMT) PALevel() int8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paLevel
}

// CurrentFrequency is the frequency the device is tuned to, or 0 before
// the first switch.
func (r *RadioCMT) CurrentFrequency() uint32 {
	ch := uint8(r.channel.Load())
	if ch == InvalidChannel {
		return 0
	}
	return r.Country().FrequencyFromChannel(ch)
}

func (r *RadioCMT) switchFrequency(freq uint32) error {
	ch := r.Country().ChannelFromFrequency(freq)
	if ch == InvalidChannel {
		return fmt.Errorf("%.3f MHz: %w", float64(freq)/1e6, ErrInvalidFrequency)
	}
	if err := r.dev.SetChannel(ch); err != nil {
		return fmt.Errorf("cmt2300a channel %d: %w", ch, err)
	}
	r.channel.Store(uint32(ch))
	return nil
}

// Loop drains or dispatches received frames and advances the send/receive
// state machine.
func (r *RadioCMT) Loop() {
	if !r.IsInitialized() {
		return
	}

	if r.packetReceived.Swap(false) {
		r.drain()
	} else if f, ok := r.rx.Pop(); ok {
		// the chip does not filter on address
		if f.RouterMatches(r.DTUSerial()) {
			r.dispatchFragment(&f)
		} else {
			r.log.WithField("len", f.Len).Debug("frame for another DTU, dropped")
		}
	}

	r.handleReceivedPackage()
}

func (r *RadioCMT) drain() {
	channel := uint8(r.channel.Load())
	for r.dev.Available() {
		if r.rx.Full() {
			r.log.Warn("receive buffer full")
			return
		}
		data, rssi, err := r.dev.Read()
		if err != nil {
			r.log.WithError(err).Warn("read failed")
			return
		}
		r.rx.Push(NewFragment(data, channel, rssi))
	}
}

func (r *RadioCMT) sendEsbPacket(cmd Command) {
	log := r.log.WithFields(logrus.Fields{"command": cmd.Name(), "trace": cmd.TraceID()})

	tx, rx := r.InverterTargetFrequency(), r.InverterTargetFrequency()
	if inv := r.lookup.InverterBySerial(cmd.TargetAddress()); inv != nil {
		tx = inv.freq.TXFrequency(cmd)
		rx = inv.freq.RXFrequency(cmd)
	}

	if err := r.switchFrequency(tx); err != nil {
		log.WithError(err).Error("cannot tune for transmit")
	} else {
		payload := cmd.DataPayload()
		r.dumpFrame("TX", payload, logrus.Fields{"command": cmd.Name(), "mhz": float64(tx) / 1e6})
		if err := r.dev.Transmit(payload); err != nil {
			log.WithError(err).Warn("transmit failed")
		}
	}

	if err := r.switchFrequency(rx); err != nil {
		log.WithError(err).Error("cannot tune for receive")
	}
	if err := r.dev.StartReceive(); err != nil {
		log.WithError(err).Warn("start receive failed")
	}
}

func (r *RadioCMT) newFrequencyManager(inv *Inverter) FrequencyManager {
	return newCMTFrequencyManager(r, inv)
}

func (r *RadioCMT) channelChangeCommand(inv *Inverter) Command {
	def := r.Country()
	cmd := NewChannelChangeCommand(inv.Serial(), r.DTUSerial(), def.ChannelFromFrequency(r.InverterTargetFrequency()))
	cmd.SetCountryMode(r.CountryMode())
	return cmd
}
