// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/hoydtu/pkg/bridge"
	"github.com/Thermoquad/hoydtu/pkg/config"
	"github.com/Thermoquad/hoydtu/pkg/hoymiles"
	"github.com/Thermoquad/hoydtu/pkg/logger"
	"github.com/Thermoquad/hoydtu/pkg/nrf24"
)

// bridgeConnectTimeout bounds the wait for the first bridge connection
// before the radios are initialized.
const bridgeConnectTimeout = 15 * time.Second

// gateway is the assembled engine with its radios and devices.
type gateway struct {
	cfg  *config.Config
	log  *logrus.Logger
	info string

	link   *bridge.Link
	spi    *nrf24.Device
	nrf    *hoymiles.RadioNRF
	cmt    *hoymiles.RadioCMT
	engine *hoymiles.Engine

	wg sync.WaitGroup
}

// startGateway opens the configured devices, initializes the radios and
// registers the inverters. The bridge link, if any, runs until ctx is done.
func startGateway(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*gateway, error) {
	g := &gateway{cfg: cfg, log: log}
	dtu, err := cfg.DTU.SerialNumber()
	if err != nil {
		return nil, err
	}
	radioOpts := hoymiles.RadioOptions{Logger: log, DumpFrames: logger.HexDumpEnabled()}

	if cfg.UsesBridge() {
		if err := g.startBridge(ctx); err != nil {
			return nil, err
		}
	}

	engineOpts := hoymiles.EngineOptions{Logger: log, PollInterval: cfg.DTU.PollInterval}

	if cfg.NRF.Enabled {
		var dev hoymiles.NRFDevice
		if cfg.NRF.Driver == config.DriverSPI {
			g.spi, err = nrf24.Open(nrf24.Options{
				SPIPort:    cfg.NRF.SPIPort,
				SPISpeedHz: cfg.NRF.SPISpeedHz,
				CEPin:      cfg.NRF.CEPin,
				IRQPin:     cfg.NRF.IRQPin,
				Logger:     log,
			})
			if err != nil {
				g.close()
				return nil, err
			}
			dev = g.spi
		} else {
			dev = g.link.NRF()
		}

		g.nrf = hoymiles.NewRadioNRF(dev, radioOpts)
		if err := g.nrf.SetDTUSerial(dtu); err != nil {
			g.close()
			return nil, err
		}
		if err := g.nrf.Init(); err != nil {
			g.close()
			return nil, err
		}
		engineOpts.NRF = g.nrf
	}

	if cfg.CMT.Enabled {
		country, err := cfg.CMT.CountryMode()
		if err != nil {
			g.close()
			return nil, err
		}
		g.cmt = hoymiles.NewRadioCMT(g.link.CMT(), radioOpts)
		g.cmt.SetDTUSerial(dtu)
		if err := g.cmt.Init(country); err != nil {
			g.close()
			return nil, err
		}
		if cfg.CMT.Frequency != 0 {
			if err := g.cmt.SetInverterTargetFrequency(cfg.CMT.Frequency); err != nil {
				g.close()
				return nil, err
			}
		}
		if err := g.cmt.SetPALevel(cfg.CMT.PALevel); err != nil {
			log.WithError(err).Warn("CMT PA level not applied")
		}
		engineOpts.CMT = g.cmt
	}

	g.engine = hoymiles.NewEngine(engineOpts)
	if err := g.addInverters(); err != nil {
		g.close()
		return nil, err
	}
	return g, nil
}

func (g *gateway) startBridge(ctx context.Context) error {
	dial, info, err := bridgeDialer(g.cfg.Bridge)
	if err != nil {
		return err
	}
	g.info = info
	g.link = bridge.NewLink(dial, bridge.LinkOptions{
		Logger:         g.log,
		ReconnectDelay: g.cfg.Bridge.ReconnectDelay,
		PingInterval:   g.cfg.Bridge.PingInterval,
		BeginTimeout:   g.cfg.Bridge.BeginTimeout,
		DumpFrames:     logger.HexDumpEnabled(),
	})

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.link.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			g.log.WithError(err).Error("bridge link stopped")
		}
	}()

	g.log.WithField("connection", info).Info("waiting for bridge")
	deadline := time.NewTimer(bridgeConnectTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for !g.link.IsConnected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("bridge not reachable within %s (%s)", bridgeConnectTimeout, info)
		case <-tick.C:
		}
	}
	return nil
}

func (g *gateway) addInverters() error {
	for _, ic := range g.cfg.Inverters {
		serial, err := ic.SerialNumber()
		if err != nil {
			return err
		}
		inv, err := g.engine.AddInverter(ic.Name, serial)
		if err != nil {
			return fmt.Errorf("inverter %s (%s): %w", ic.Name, ic.Serial, err)
		}
		inv.SetEnablePolling(!ic.Disabled)
		inv.SetEnableCommands(!ic.ReadOnly)
		g.log.WithFields(logrus.Fields{
			"inverter": ic.Name,
			"serial":   serial.String(),
			"type":     inv.Type(),
			"radio":    inv.RadioKind().String(),
		}).Info("inverter added")
	}
	return nil
}

// linkStatistics returns the bridge counters, nil without a bridge.
func (g *gateway) linkStatistics() *bridge.LinkStatistics {
	if g.link == nil {
		return nil
	}
	return g.link.Statistics()
}

// close releases the SPI device. The bridge link stops with its context.
func (g *gateway) close() {
	if g.spi != nil {
		if err := g.spi.Close(); err != nil {
			g.log.WithError(err).Warn("closing nrf24")
		}
	}
}

// wait blocks until the bridge link goroutine has returned.
func (g *gateway) wait() {
	g.wg.Wait()
}
