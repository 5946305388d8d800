// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/hoydtu/pkg/logger"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching and limiting inverters",
	Long: `Poll the configured inverters and show them in an interactive terminal UI.

Features:
  - Inverter list with reachability and AC power
  - Yield, temperature and current limit of the selected inverter
  - Radio and bridge link statistics
  - Inverter event log and gateway events
  - Relative, non-persistent power limit for the selected inverter

Tab switches between the inverter list and the limit input. Enter sends the
limit. Console logging is suppressed while the TUI runs; a configured log file
still receives everything.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// eventHook forwards log entries into the TUI event log.
type eventHook struct {
	p *tea.Program
}

func (h eventHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}

func (h eventHook) Fire(e *logrus.Entry) error {
	msg := e.Message
	if name, ok := e.Data["inverter"]; ok {
		msg = fmt.Sprintf("%v: %s", name, msg)
	}
	if err, ok := e.Data[logrus.ErrorKey]; ok {
		msg = fmt.Sprintf("%s (%v)", msg, err)
	}
	h.p.Send(logEventMsg{
		timestamp: e.Time,
		message:   msg,
		isError:   e.Level <= logrus.WarnLevel,
	})
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := logger.InitDetached(cfg.Log); err != nil {
		return err
	}
	log := logger.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("Opening radios...\n")
	gw, err := startGateway(ctx, cfg, log)
	if err != nil {
		return err
	}

	m := initialMonitorModel(gw)
	p := tea.NewProgram(m, tea.WithAltScreen())
	log.AddHook(eventHook{p: p})

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- gw.engine.Run(ctx, cfg.DTU.LoopInterval)
	}()

	_, runErr := p.Run()

	cancel()
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("engine stopped")
	}
	gw.close()
	waitTimeout(gw, 2*time.Second)

	if runErr != nil {
		return fmt.Errorf("TUI error: %v", runErr)
	}
	return nil
}

// waitTimeout gives the bridge link a moment to close its connection.
func waitTimeout(gw *gateway, d time.Duration) {
	done := make(chan struct{})
	go func() {
		gw.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
}
