// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logger sets up the process wide logrus logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Thermoquad/hoydtu/pkg/config"
)

const timestampFormat = "2006-01-02 15:04:05"

var (
	log     = logrus.New()
	hexDump bool
)

// Init configures the shared logger from cfg. Output goes to stderr, and
// additionally to a rotated file when cfg.FilePath is set.
func Init(cfg config.LogConfig) error {
	return initWith(cfg, os.Stderr)
}

// InitDetached configures the shared logger like Init, without the console
// output. Hooks and the log file still receive every entry.
func InitDetached(cfg config.LogConfig) error {
	return initWith(cfg, io.Discard)
}

func initWith(cfg config.LogConfig, console io.Writer) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %s, %w", cfg.Level, err)
	}
	log.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		})
	}

	out := console
	if cfg.FilePath != "" {
		out = io.MultiWriter(console, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		})
	}
	log.SetOutput(out)
	hexDump = cfg.HexDump
	return nil
}

// Get returns the shared logger.
func Get() *logrus.Logger {
	return log
}

// SetOutput redirects the shared logger, e.g. away from a TUI.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// HexDumpEnabled reports whether frame dumps were requested.
func HexDumpEnabled() bool {
	return hexDump
}

// HexDump logs a frame at debug level as space separated hex bytes.
func HexDump(l logrus.FieldLogger, direction string, data []byte) {
	l.WithFields(logrus.Fields{
		"dir": direction,
		"len": len(data),
	}).Debugf("% X", data)
}
