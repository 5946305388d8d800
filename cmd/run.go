// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/hoydtu/pkg/hoymiles"
	"github.com/Thermoquad/hoydtu/pkg/logger"
	"github.com/Thermoquad/hoydtu/pkg/metrics"
)

var runStatsInterval time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the configured inverters",
	Long: `Open the radios, register the configured inverters and poll them until
interrupted.

Inverter values and radio statistics are exported on the Prometheus endpoint
when metrics are enabled, and a radio statistics summary is logged at the
statistics interval.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVar(&runStatsInterval, "stats-interval", 0, "Radio statistics log interval (overrides dtu.statsInterval, 0 keeps it)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	log := logger.Get()
	if runStatsInterval > 0 {
		cfg.DTU.StatsInterval = runStatsInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := startGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		stop()
		gw.close()
		gw.wait()
	}()

	if len(gw.engine.Inverters()) == 0 {
		log.Warn("no inverters configured")
	}

	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry(metrics.NewCollector(gw.engine, gw.linkStatistics()))
		go func() {
			err := metrics.Serve(ctx, cfg.Metrics.Listen, cfg.Metrics.Path, reg, log)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("metrics endpoint stopped")
			}
		}()
	}

	if cfg.DTU.StatsInterval > 0 {
		go logStatistics(ctx, gw, cfg.DTU.StatsInterval, log)
	}

	log.WithField("poll", cfg.DTU.PollInterval).Info("polling started")
	err = gw.engine.Run(ctx, cfg.DTU.LoopInterval)
	if errors.Is(err, context.Canceled) {
		log.Info("shutting down")
		return nil
	}
	return err
}

// logStatistics logs one line per inverter, and the bridge counters, every
// interval.
func logStatistics(ctx context.Context, gw *gateway, interval time.Duration, log logrus.FieldLogger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		for _, inv := range gw.engine.Inverters() {
			logInverter(log, inv)
		}
		if ls := gw.linkStatistics(); ls != nil {
			s := ls.Snapshot()
			log.WithFields(logrus.Fields{
				"valid":      s.ValidPackets,
				"crc_errors": s.CRCErrors,
				"decode":     s.DecodeErrors,
				"dropped":    s.Dropped,
				"sent":       s.SentPackets,
				"reconnects": s.Reconnects,
			}).Info("bridge statistics")
		}
	}
}

func logInverter(log logrus.FieldLogger, inv *hoymiles.Inverter) {
	s := inv.RadioStats.Snapshot()
	fields := logrus.Fields{
		"inverter":   inv.Name(),
		"serial":     inv.Serial().String(),
		"requests":   s.TxRequestData,
		"answered":   s.RxSuccess,
		"rerequests": s.TxReRequestFragment,
		"no_answer":  s.RxFailNoAnswer,
		"partial":    s.RxFailPartialAnswer,
		"corrupt":    s.RxFailCorruptData,
		"rssi":       s.LastRSSI,
		"reachable":  inv.IsReachable(),
		"producing":  inv.IsProducing(),
	}
	if s.LastFrequency != 0 {
		fields["frequency"] = s.LastFrequency
	}
	if inv.Statistics.HasChannelFieldValue(hoymiles.TypeAC, 0, hoymiles.FieldPAC) {
		fields["ac_power"] = inv.Statistics.ChannelFieldValue(hoymiles.TypeAC, 0, hoymiles.FieldPAC)
	}
	log.WithFields(fields).Info("radio statistics")
}
