// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/hoydtu/pkg/hoymiles"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hoydtu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// ============================================================
// Defaults and Overrides
// ============================================================

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, hoymiles.DefaultPollInterval, cfg.DTU.PollInterval)
	assert.Equal(t, 2*time.Millisecond, cfg.DTU.LoopInterval)
	assert.True(t, cfg.NRF.Enabled)
	assert.Equal(t, DriverBridge, cfg.NRF.Driver)
	assert.False(t, cfg.CMT.Enabled)
	assert.Equal(t, "EU", cfg.CMT.Country)
	assert.Equal(t, 115200, cfg.Bridge.Baud)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Empty(t, cfg.Inverters)

	s, err := cfg.DTU.SerialNumber()
	require.NoError(t, err)
	assert.Equal(t, hoymiles.Serial(0x199912345678), s)
	assert.True(t, cfg.UsesBridge())
}

func TestDefault(t *testing.T) {
	assert.Equal(t, "text", Default().Log.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HOYDTU_LOG_LEVEL", "debug")
	t.Setenv("HOYDTU_DTU_POLLINTERVAL", "10s")
	t.Setenv("HOYDTU_CMT_ENABLED", "true")
	t.Setenv("HOYDTU_CMT_FREQUENCY", "866000000")
	t.Setenv("HOYDTU_NRF_DRIVER", "spi")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10*time.Second, cfg.DTU.PollInterval)
	assert.True(t, cfg.CMT.Enabled)
	assert.Equal(t, uint32(866_000_000), cfg.CMT.Frequency)
	assert.Equal(t, DriverSPI, cfg.NRF.Driver)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
dtu:
  serial: "199900000042"
  pollInterval: 15s
cmt:
  enabled: true
  country: us
  paLevel: 10
bridge:
  url: ws://bridge.local/ws
  username: admin
inverters:
  - name: roof
    serial: "112100001234"
  - name: garage
    serial: "114400001234"
    readOnly: true
log:
  format: json
  hexDump: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.DTU.PollInterval)
	m, err := cfg.CMT.CountryMode()
	require.NoError(t, err)
	assert.Equal(t, hoymiles.CountryUS, m)
	assert.Equal(t, int8(10), cfg.CMT.PALevel)
	assert.Equal(t, "ws://bridge.local/ws", cfg.Bridge.URL)
	assert.True(t, cfg.Log.HexDump)

	require.Len(t, cfg.Inverters, 2)
	assert.Equal(t, "roof", cfg.Inverters[0].Name)
	s, err := cfg.Inverters[1].SerialNumber()
	require.NoError(t, err)
	assert.Equal(t, hoymiles.Serial(0x114400001234), s)
	assert.True(t, cfg.Inverters[1].ReadOnly)
	assert.False(t, cfg.Inverters[0].Disabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// ============================================================
// Validation
// ============================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		err    error
	}{
		{"bad dtu serial", func(c *Config) { c.DTU.Serial = "xyz" }, hoymiles.ErrInvalidSerial},
		{"zero poll interval", func(c *Config) { c.DTU.PollInterval = 0 }, nil},
		{"unknown driver", func(c *Config) { c.NRF.Driver = "usb" }, nil},
		{"unknown country", func(c *Config) {
			c.CMT.Enabled = true
			c.CMT.Country = "AU"
		}, nil},
		{"off-grid frequency", func(c *Config) {
			c.CMT.Enabled = true
			c.CMT.Frequency = 865_100_000
		}, hoymiles.ErrInvalidFrequency},
		{"port and url", func(c *Config) {
			c.Bridge.Port = "/dev/ttyACM0"
			c.Bridge.URL = "ws://x"
		}, nil},
		{"duplicate inverter", func(c *Config) {
			c.Inverters = []InverterConfig{{Serial: "112100001234"}, {Serial: "0x112100001234"}}
		}, hoymiles.ErrInverterExists},
		{"bad inverter serial", func(c *Config) {
			c.Inverters = []InverterConfig{{Serial: ""}}
		}, hoymiles.ErrInvalidSerial},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestUsesBridge(t *testing.T) {
	cfg := Default()
	cfg.NRF.Driver = DriverSPI
	assert.False(t, cfg.UsesBridge())
	cfg.CMT.Enabled = true
	assert.True(t, cfg.UsesBridge())
}
