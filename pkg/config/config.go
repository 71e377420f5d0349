// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads ampere configuration from an optional YAML file and
// AMPERE_ environment variables over coded defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Thermoquad/ampere/pkg/balancing"
	"github.com/Thermoquad/ampere/pkg/contactor"
	"github.com/Thermoquad/ampere/pkg/core"
	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/Thermoquad/ampere/pkg/limits"
	"github.com/Thermoquad/ampere/pkg/logging"
	"github.com/Thermoquad/ampere/pkg/model"
	"github.com/Thermoquad/ampere/pkg/packsim"
	"github.com/Thermoquad/ampere/pkg/soc"
	"github.com/Thermoquad/ampere/pkg/supervisor"
	"github.com/Thermoquad/ampere/pkg/telemetry"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "AMPERE"

// Config represents the root configuration structure
type Config struct {
	Pack        PackConfig        `mapstructure:"pack" yaml:"pack"`
	Bus         telemetry.Options `mapstructure:"bus" yaml:"bus"`
	Checks      core.Checks       `mapstructure:"checks" yaml:"checks"`
	Events      EventsConfig      `mapstructure:"events" yaml:"events"`
	Contactor   contactor.Config  `mapstructure:"contactor" yaml:"contactor"`
	Balancing   balancing.Config  `mapstructure:"balancing" yaml:"balancing"`
	Supervisor  supervisor.Config `mapstructure:"supervisor" yaml:"supervisor"`
	Limits      limits.Config     `mapstructure:"limits" yaml:"limits"`
	SoC         core.SoC          `mapstructure:"soc" yaml:"soc"`
	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration"`
	HostLink    HostLinkConfig    `mapstructure:"hostlink" yaml:"hostlink"`
	Log         logging.Config    `mapstructure:"log" yaml:"log"`
	Sim         packsim.Config    `mapstructure:"sim" yaml:"sim"`
}

// PackConfig describes the pack topology and tick timing
type PackConfig struct {
	// Modules holds the slot enable bits of each module, chain order
	Modules          []uint16 `mapstructure:"modules" yaml:"modules"`
	Serial           uint64   `mapstructure:"serial" yaml:"serial"`
	TickMs           int64    `mapstructure:"tick_ms" yaml:"tick_ms"`
	BusCycleMs       int64    `mapstructure:"bus_cycle_ms" yaml:"bus_cycle_ms"`
	BalancingEnabled bool     `mapstructure:"balancing_enabled" yaml:"balancing_enabled"`
}

// EventsConfig overrides escalation leeways by event name
type EventsConfig struct {
	CountLeeway map[string]uint16 `mapstructure:"count_leeway" yaml:"count_leeway"`
	TimeLeeway  map[string]uint32 `mapstructure:"time_leeway" yaml:"time_leeway"`
}

// CalibrationConfig locates the persisted calibration blob. An empty path
// keeps calibration in memory only.
type CalibrationConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// HostLinkConfig configures the host-link servers started by `ampere run`
type HostLinkConfig struct {
	ListenPort string `mapstructure:"listen_port" yaml:"listen_port"`
	Baud       int    `mapstructure:"baud" yaml:"baud"`
	WSListen   string `mapstructure:"ws_listen" yaml:"ws_listen"`
	WSPath     string `mapstructure:"ws_path" yaml:"ws_path"`
}

// Default returns the built-in configuration: a four module pack of
// fifteen cells per module.
func Default() Config {
	return Config{
		Pack: PackConfig{
			Modules:          []uint16{0x7FFF, 0x7FFF, 0x7FFF, 0x7FFF},
			Serial:           0x414D50,
			TickMs:           50,
			BusCycleMs:       200,
			BalancingEnabled: true,
		},
		Bus: telemetry.Options{
			ShortWake:       time.Millisecond,
			LongWake:        10 * time.Millisecond,
			BalanceTimeoutS: 5,
		},
		Checks: core.Checks{
			CellHighSoftMV:  4150,
			CellHighHardMV:  4200,
			CellLowSoftMV:   3100,
			CellLowHardMV:   3000,
			TempHighSoftDC:  450,
			TempHighHardDC:  550,
			TempLowSoftDC:   0,
			TempLowHardDC:   -100,
			ChargeSoftMA:    30000,
			ChargeHardMA:    50000,
			DischargeSoftMA: 60000,
			DischargeHardMA: 100000,
			CellMaxAgeMs:    3000,
			TempMaxAgeMs:    3000,
			CurrentMaxAgeMs: 200,
			SenseMaxAgeMs:   200,
			StartupGraceMs:  3000,
		},
		Events: EventsConfig{
			CountLeeway: map[string]uint16{},
			TimeLeeway:  map[string]uint32{},
		},
		Contactor: contactor.Config{
			SettleMs:             100,
			TestTimeoutMs:        1000,
			CooldownMs:           2000,
			SenseMaxAgeMs:        500,
			OpenBelowPct:         10,
			ClosedAbovePct:       90,
			PrechargeMinMs:       200,
			PrechargeStableMs:    100,
			PrechargeTimeoutMs:   3000,
			PrechargeToleranceMV: 2000,
			CurrentMaxAgeMs:      500,
			InstantOpenMA:        1000,
			DelayedOpenMA:        5000,
			DelayedOpenMs:        2000,
		},
		Balancing: balancing.Config{
			IntervalMs:   1000,
			MinOffsetMV:  5,
			PeriodsPerMV: 1,
			FloorMV:      3000,
			PauseEvery:   10,
		},
		Supervisor: supervisor.Config{
			StartupGraceMs: 3000,
			AutoCalibrate:  true,
			Calibration: supervisor.CalibrationConfig{
				CloseTimeoutMs:  5000,
				SampleTimeoutMs: 3000,
				OpenTimeoutMs:   2000,
				Samples:         10,
			},
		},
		Limits: limits.Config{
			MaxChargeMA:      50000,
			MaxDischargeMA:   100000,
			ChargeTaperMV:    4100,
			CellHighMV:       4200,
			DischargeTaperMV: 3300,
			CellLowMV:        3000,
			TempHighTaperDC:  400,
			TempHighDC:       550,
			TempLowTaperDC:   50,
			TempLowDC:        -100,
			MaxAgeMs:         3000,
		},
		SoC: core.SoC{
			CapacityMAh: 50000,
			MaxAgeMs:    3000,
			Curve: []soc.OCVPoint{
				{MV: 3000, Permille: 0},
				{MV: 3300, Permille: 50},
				{MV: 3500, Permille: 200},
				{MV: 3650, Permille: 400},
				{MV: 3800, Permille: 600},
				{MV: 3950, Permille: 800},
				{MV: 4200, Permille: 1000},
			},
		},
		HostLink: HostLinkConfig{
			Baud:   115200,
			WSPath: "/hostlink",
		},
		Log: logging.DefaultConfig(),
		Sim: packsim.DefaultConfig(),
	}
}

// applyDefaults registers every field of Default with v, so environment
// overrides reach keys no file mentions
func applyDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("error encoding defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("error decoding defaults: %w", err)
	}
	for key, value := range tree {
		v.SetDefault(key, value)
	}
	return nil
}

// Load reads configuration. An explicit path must exist; otherwise
// ampere.yaml is looked up in the working directory and
// $HOME/.config/ampere, and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ampere")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ampere")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := applyDefaults(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Dump writes cfg as YAML
func Dump(cfg *Config, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	return enc.Close()
}

// Layout builds the pack layout from the module list
func (c *Config) Layout() (*model.Layout, error) {
	var modules [model.MaxModules]uint16
	if len(c.Pack.Modules) == 0 || len(c.Pack.Modules) > model.MaxModules {
		return nil, fmt.Errorf("pack.modules must list 1 to %d modules, got %d", model.MaxModules, len(c.Pack.Modules))
	}
	copy(modules[:], c.Pack.Modules)
	return model.NewLayout(modules)
}

// Core converts the configuration into what core.New takes
func (c *Config) Core() (core.Config, error) {
	var modules [model.MaxModules]uint16
	copy(modules[:], c.Pack.Modules)

	defs := events.DefaultDefinitions()
	if err := events.ApplyLeeways(&defs, c.Events.CountLeeway, c.Events.TimeLeeway); err != nil {
		return core.Config{}, err
	}

	return core.Config{
		Modules:          modules,
		TickMs:           c.Pack.TickMs,
		BusCycleMs:       c.Pack.BusCycleMs,
		Serial:           c.Pack.Serial,
		Events:           defs,
		Bus:              c.Bus,
		Checks:           c.Checks,
		Contactor:        c.Contactor,
		Balancing:        c.Balancing,
		Supervisor:       c.Supervisor,
		Limits:           c.Limits,
		SoC:              c.SoC,
		BalancingEnabled: c.Pack.BalancingEnabled,
	}, nil
}
