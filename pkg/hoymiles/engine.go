// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = 5 * time.Second

	// config requests are refreshed this often
	systemConfigParaRefresh = 10 * time.Minute
	// but not this soon after a limit was sent
	systemConfigParaHoldoff = 4 * time.Minute
)

// EngineOptions configures NewEngine. Either radio may be nil.
type EngineOptions struct {
	Logger       logrus.FieldLogger
	Clock        Clock
	PollInterval time.Duration
	NRF          Radio
	CMT          Radio
}

// Engine owns the radios and inverters and schedules polling.
// Loop must be called from a single goroutine; everything else is safe for
// concurrent use.
type Engine struct {
	log          logrus.FieldLogger
	clock        Clock
	pollInterval time.Duration

	nrf Radio
	cmt Radio

	mu        sync.RWMutex
	inverters []*Inverter

	pollPos  int
	lastPoll time.Time
}

func NewEngine(opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	e := &Engine{
		log:          opts.Logger,
		clock:        opts.Clock,
		pollInterval: opts.PollInterval,
		nrf:          opts.NRF,
		cmt:          opts.CMT,
	}
	for _, r := range e.radios() {
		r.attach(e)
	}
	return e
}

func (e *Engine) radios() []Radio {
	var out []Radio
	if e.nrf != nil {
		out = append(out, e.nrf)
	}
	if e.cmt != nil {
		out = append(out, e.cmt)
	}
	return out
}

func (e *Engine) NRF() Radio { return e.nrf }
func (e *Engine) CMT() Radio { return e.cmt }

func (e *Engine) PollInterval() time.Duration { return e.pollInterval }

// ============================================================
// Inverter table
// ============================================================

// AddInverter registers an inverter; its type and radio follow from the
// serial number.
func (e *Engine) AddInverter(name string, serial Serial) (*Inverter, error) {
	model, err := DetectInverterModel(serial)
	if err != nil {
		return nil, err
	}

	var radio Radio
	switch model.Radio {
	case RadioNRF24:
		radio = e.nrf
	case RadioCMT2300:
		radio = e.cmt
	}
	if radio == nil {
		return nil, fmt.Errorf("%s needs the %s radio: %w", model.Type, model.Radio, ErrRadioUnavailable)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, inv := range e.inverters {
		if inv.serial == serial {
			return nil, fmt.Errorf("%s: %w", serial, ErrInverterExists)
		}
	}
	inv := newInverter(name, serial, model, radio, e.clock, e.log)
	e.inverters = append(e.inverters, inv)

	e.log.WithFields(logrus.Fields{
		"serial": serial.String(),
		"type":   string(model.Type),
		"radio":  model.Radio.String(),
	}).Info("inverter added")
	return inv, nil
}

// RemoveInverter drops the inverter and every command queued for it.
func (e *Engine) RemoveInverter(serial Serial) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, inv := range e.inverters {
		if inv.serial != serial {
			continue
		}
		inv.radio.RemoveAllEntriesForInverter(serial)
		e.inverters = append(e.inverters[:i], e.inverters[i+1:]...)
		e.log.WithField("serial", serial.String()).Info("inverter removed")
		return nil
	}
	return fmt.Errorf("%s: %w", serial, ErrInverterNotFound)
}

func (e *Engine) InverterBySerial(serial Serial) *Inverter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, inv := range e.inverters {
		if inv.serial == serial {
			return inv
		}
	}
	return nil
}

// InverterByFragment finds the sender of a received frame.
func (e *Engine) InverterByFragment(f *Fragment) *Inverter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, inv := range e.inverters {
		if f.TargetMatches(inv.serial) {
			return inv
		}
	}
	return nil
}

func (e *Engine) InverterByPos(pos int) *Inverter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if pos < 0 || pos >= len(e.inverters) {
		return nil
	}
	return e.inverters[pos]
}

func (e *Engine) InverterCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.inverters)
}

// Inverters returns a copy of the inverter table.
func (e *Engine) Inverters() []*Inverter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Inverter(nil), e.inverters...)
}

// ============================================================
// Scheduling
// ============================================================

// IsAllRadioIdle reports whether no radio waits for an answer.
func (e *Engine) IsAllRadioIdle() bool {
	for _, r := range e.radios() {
		if !r.IsIdle() {
			return false
		}
	}
	return true
}

// Loop runs the radios and, once per poll interval, walks the inverter
// table issuing the periodic requests.
func (e *Engine) Loop() {
	for _, r := range e.radios() {
		r.Loop()
	}

	count := e.InverterCount()
	if count == 0 {
		return
	}
	if e.clock.Now().Sub(e.lastPoll) < e.pollInterval {
		return
	}
	if e.pollPos >= count {
		e.pollPos = 0
	}

	inv := e.InverterByPos(e.pollPos)
	if inv == nil || !inv.radio.IsInitialized() {
		e.pollPos++
		return
	}
	if !inv.radio.IsQueueEmpty() {
		return
	}

	if inv.EnablePolling() || inv.EnableCommands() {
		e.dispatch(inv)
	}

	e.pollPos++
	if e.pollPos >= count {
		e.pollPos = 0
		e.lastPoll = e.clock.Now()
	}
}

// dispatch queues the periodic requests for one inverter.
func (e *Engine) dispatch(inv *Inverter) {
	now := e.clock.Now()
	inv.log.Debug("fetch")

	inv.freq.StartNextFetch()
	if inv.freq.ShouldSendChangeChannelCommand() {
		inv.SendChangeChannelRequest()
	}

	inv.SendStatsRequest()

	inv.SendAlarmLogRequest(inv.EventLog.LastAlarmRequestSuccess() == CommandNOK)

	cfg := inv.SystemConfigPara
	if cfg.LastLimitRequestSuccess() == CommandNOK ||
		(now.Sub(cfg.LastUpdateRequest()) > systemConfigParaRefresh &&
			now.Sub(cfg.LastUpdateCommand()) > systemConfigParaHoldoff) {
		inv.SendSystemConfigParaRequest()
	}

	if cfg.LastLimitCommandSuccess() == CommandNOK {
		inv.log.Info("resending power limit")
		if err := inv.ResendActivePowerControlRequest(); err != nil {
			inv.log.WithError(err).Debug("limit not resent")
		}
	}
	if inv.PowerCommand.LastPowerCommandSuccess() == CommandNOK {
		inv.log.Info("resending power command")
		if err := inv.ResendPowerControlRequest(); err != nil {
			inv.log.WithError(err).Debug("power command not resent")
		}
	}

	hasStats := !inv.Statistics.LastUpdate().IsZero()
	if hasStats && !inv.DevInfo.ContainsValidData() {
		inv.SendDevInfoRequest()
	}
	if hasStats && inv.GridProfile.LastUpdate().IsZero() {
		inv.SendGridOnProFileParaRequest()
	}
}

// Run calls Loop every tick until ctx is done.
func (e *Engine) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Loop()
		}
	}
}

// ============================================================
// Control
// ============================================================

func (e *Engine) lookup(serial Serial) (*Inverter, error) {
	inv := e.InverterBySerial(serial)
	if inv == nil {
		return nil, fmt.Errorf("%s: %w", serial, ErrInverterNotFound)
	}
	return inv, nil
}

func (e *Engine) SendActivePowerControlRequest(serial Serial, limit float32, t PowerLimitControlType) error {
	inv, err := e.lookup(serial)
	if err != nil {
		return err
	}
	return inv.SendActivePowerControlRequest(limit, t)
}

func (e *Engine) SendPowerControlRequest(serial Serial, on bool) error {
	inv, err := e.lookup(serial)
	if err != nil {
		return err
	}
	return inv.SendPowerControlRequest(on)
}

func (e *Engine) SendRestartControlRequest(serial Serial) error {
	inv, err := e.lookup(serial)
	if err != nil {
		return err
	}
	return inv.SendRestartControlRequest()
}
