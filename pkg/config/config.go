// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the gateway configuration from a YAML file, HOYDTU_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/Thermoquad/hoydtu/pkg/hoymiles"
)

// EnvPrefix is prepended to every environment override, e.g.
// HOYDTU_DTU_SERIAL or HOYDTU_LOG_LEVEL.
const EnvPrefix = "HOYDTU"

// Radio drivers
const (
	DriverBridge = "bridge"
	DriverSPI    = "spi"
)

// Config is the complete gateway configuration.
type Config struct {
	DTU       DTUConfig        `mapstructure:"dtu"`
	NRF       NRFConfig        `mapstructure:"nrf"`
	CMT       CMTConfig        `mapstructure:"cmt"`
	Bridge    BridgeConfig     `mapstructure:"bridge"`
	Inverters []InverterConfig `mapstructure:"inverters"`
	Log       LogConfig        `mapstructure:"log"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
}

// DTUConfig identifies the gateway on air and sets the scheduler pace.
type DTUConfig struct {
	Serial        string        `mapstructure:"serial"`
	PollInterval  time.Duration `mapstructure:"pollInterval"`
	LoopInterval  time.Duration `mapstructure:"loopInterval"`
	StatsInterval time.Duration `mapstructure:"statsInterval"` // radio summary log, 0 disables
}

// NRFConfig selects the 2.4 GHz chip. The spi driver talks to a chip on the
// host's SPI bus; the bridge driver uses the co-processor.
type NRFConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Driver     string `mapstructure:"driver"`
	SPIPort    string `mapstructure:"spiPort"`
	SPISpeedHz int64  `mapstructure:"spiSpeedHz"`
	CEPin      string `mapstructure:"cePin"`
	IRQPin     string `mapstructure:"irqPin"`
}

// CMTConfig selects the sub-GHz chip, always attached through the bridge.
type CMTConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Country   string `mapstructure:"country"`
	Frequency uint32 `mapstructure:"frequency"` // Hz, 0 for the country default
	PALevel   int8   `mapstructure:"paLevel"`   // dBm
}

// BridgeConfig is the connection to the radio co-processor. Port and URL
// are mutually exclusive.
type BridgeConfig struct {
	Port           string        `mapstructure:"port"`
	Baud           int           `mapstructure:"baud"`
	URL            string        `mapstructure:"url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	NoSSLVerify    bool          `mapstructure:"noSSLVerify"`
	PingInterval   time.Duration `mapstructure:"pingInterval"`
	ReconnectDelay time.Duration `mapstructure:"reconnectDelay"`
	BeginTimeout   time.Duration `mapstructure:"beginTimeout"`
}

// InverterConfig is one polled inverter.
type InverterConfig struct {
	Name     string `mapstructure:"name"`
	Serial   string `mapstructure:"serial"`
	Disabled bool   `mapstructure:"disabled"` // no polling
	ReadOnly bool   `mapstructure:"readOnly"` // no control commands
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"filePath"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
	Compress   bool   `mapstructure:"compress"`
	HexDump    bool   `mapstructure:"hexDump"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dtu.serial", "199912345678")
	v.SetDefault("dtu.pollInterval", hoymiles.DefaultPollInterval)
	v.SetDefault("dtu.loopInterval", 2*time.Millisecond)
	v.SetDefault("dtu.statsInterval", time.Minute)

	v.SetDefault("nrf.enabled", true)
	v.SetDefault("nrf.driver", DriverBridge)
	v.SetDefault("nrf.spiPort", "/dev/spidev0.0")
	v.SetDefault("nrf.spiSpeedHz", 10_000_000)
	v.SetDefault("nrf.cePin", "GPIO22")
	v.SetDefault("nrf.irqPin", "GPIO25")

	v.SetDefault("cmt.enabled", false)
	v.SetDefault("cmt.country", "EU")
	v.SetDefault("cmt.frequency", 0)
	v.SetDefault("cmt.paLevel", 0)

	v.SetDefault("bridge.port", "")
	v.SetDefault("bridge.baud", 115200)
	v.SetDefault("bridge.url", "")
	v.SetDefault("bridge.username", "")
	v.SetDefault("bridge.password", "")
	v.SetDefault("bridge.noSSLVerify", false)
	v.SetDefault("bridge.pingInterval", 10*time.Second)
	v.SetDefault("bridge.reconnectDelay", 2*time.Second)
	v.SetDefault("bridge.beginTimeout", 2*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.filePath", "")
	v.SetDefault("log.maxSizeMB", 10)
	v.SetDefault("log.maxBackups", 3)
	v.SetDefault("log.maxAgeDays", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.hexDump", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9464")
	v.SetDefault("metrics.path", "/metrics")
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := load(viper.New(), "")
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads the YAML file at path (if not empty), applies environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that the engine would otherwise reject later.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.DTU.SerialNumber(); err != nil {
		errs = append(errs, fmt.Errorf("dtu.serial: %w", err))
	}
	if c.DTU.PollInterval <= 0 {
		errs = append(errs, errors.New("dtu.pollInterval must be positive"))
	}

	switch c.NRF.Driver {
	case DriverBridge, DriverSPI:
	default:
		errs = append(errs, fmt.Errorf("nrf.driver: unknown driver %q", c.NRF.Driver))
	}

	if c.CMT.Enabled {
		if _, err := c.CMT.CountryMode(); err != nil {
			errs = append(errs, fmt.Errorf("cmt.country: %w", err))
		} else if c.CMT.Frequency != 0 {
			def, _ := c.CMT.Definition()
			if def.ChannelFromFrequency(c.CMT.Frequency) == hoymiles.InvalidChannel {
				errs = append(errs, fmt.Errorf("cmt.frequency %d: %w", c.CMT.Frequency, hoymiles.ErrInvalidFrequency))
			}
		}
	}

	if c.Bridge.Port != "" && c.Bridge.URL != "" {
		errs = append(errs, errors.New("bridge.port and bridge.url are mutually exclusive"))
	}

	seen := make(map[hoymiles.Serial]bool)
	for i, inv := range c.Inverters {
		s, err := inv.SerialNumber()
		if err != nil {
			errs = append(errs, fmt.Errorf("inverters[%d].serial: %w", i, err))
			continue
		}
		if seen[s] {
			errs = append(errs, fmt.Errorf("inverters[%d].serial %s: %w", i, s, hoymiles.ErrInverterExists))
		}
		seen[s] = true
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// UsesBridge reports whether any enabled chip needs the co-processor.
func (c *Config) UsesBridge() bool {
	return (c.NRF.Enabled && c.NRF.Driver == DriverBridge) || c.CMT.Enabled
}

func (d DTUConfig) SerialNumber() (hoymiles.Serial, error) {
	return hoymiles.ParseSerial(d.Serial)
}

func (i InverterConfig) SerialNumber() (hoymiles.Serial, error) {
	return hoymiles.ParseSerial(i.Serial)
}

func (c CMTConfig) CountryMode() (hoymiles.CountryMode, error) {
	return hoymiles.ParseCountryMode(c.Country)
}

// Definition returns the band plan of the configured country.
func (c CMTConfig) Definition() (hoymiles.CountryDefinition, error) {
	m, err := c.CountryMode()
	if err != nil {
		return hoymiles.CountryDefinition{}, err
	}
	return hoymiles.Country(m), nil
}
