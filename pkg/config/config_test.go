// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ampere.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(&cfg))

	layout, err := cfg.Layout()
	require.NoError(t, err)
	assert.Equal(t, 60, layout.CellCount())
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Pack, cfg.Pack)
	assert.Equal(t, want.Checks, cfg.Checks)
	assert.Equal(t, want.Bus, cfg.Bus)
	assert.Equal(t, want.SoC, cfg.SoC)
	assert.Equal(t, want.Sim, cfg.Sim)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeFile(t, `
pack:
  modules: [0x7FFF, 0x3FFF]
  tick_ms: 20
checks:
  cell_high_soft_mv: 4100
bus:
  long_wake: 25ms
events:
  count_leeway:
    precharge_timeout: 9
  time_leeway:
    cell_voltage_high_hard: 15
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []uint16{0x7FFF, 0x3FFF}, cfg.Pack.Modules)
	assert.Equal(t, int64(20), cfg.Pack.TickMs)
	assert.Equal(t, int64(200), cfg.Pack.BusCycleMs, "unset keys keep defaults")
	assert.Equal(t, int16(4100), cfg.Checks.CellHighSoftMV)
	assert.Equal(t, int16(4200), cfg.Checks.CellHighHardMV)
	assert.Equal(t, 25*time.Millisecond, cfg.Bus.LongWake)

	cc, err := cfg.Core()
	require.NoError(t, err)
	assert.Equal(t, uint16(9), cc.Events[events.PrechargeTimeout].CountLeeway)
	assert.Equal(t, uint32(15), cc.Events[events.CellVoltageHighHard].TimeLeeway)
	assert.Equal(t, [8]uint16{0x7FFF, 0x3FFF}, cc.Modules)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "pack:\n  tick_ms: 20\n")
	t.Setenv("AMPERE_PACK_TICK_MS", "25")
	t.Setenv("AMPERE_CONTACTOR_SETTLE_MS", "150")
	t.Setenv("AMPERE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(25), cfg.Pack.TickMs)
	assert.Equal(t, int64(150), cfg.Contactor.SettleMs)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := writeFile(t, "checks:\n  cell_high_soft_mv: 4300\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "cell_high_soft_mv")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no modules", func(c *Config) { c.Pack.Modules = nil }, "pack.modules"},
		{"too many modules", func(c *Config) { c.Pack.Modules = make([]uint16, 9) }, "pack.modules"},
		{"empty presence", func(c *Config) { c.Pack.Modules = []uint16{0, 0} }, "no populated cells"},
		{"padding slot", func(c *Config) { c.Pack.Modules = []uint16{0xFFFF} }, "padding"},
		{"zero tick", func(c *Config) { c.Pack.TickMs = 0 }, "tick_ms"},
		{"bus faster than tick", func(c *Config) { c.Pack.BusCycleMs = 10 }, "bus_cycle_ms"},
		{"cell soft above hard", func(c *Config) { c.Checks.CellHighSoftMV = 4250 }, "cell_high_soft_mv"},
		{"cell low soft below hard", func(c *Config) { c.Checks.CellLowSoftMV = 2900 }, "cell_low_soft_mv"},
		{"temp soft above hard", func(c *Config) { c.Checks.TempHighSoftDC = 600 }, "temp_high_soft_dc"},
		{"temp low soft below hard", func(c *Config) { c.Checks.TempLowSoftDC = -200 }, "temp_low_soft_dc"},
		{"charge soft above hard", func(c *Config) { c.Checks.ChargeSoftMA = 60000 }, "charge_soft_ma"},
		{"discharge soft above hard", func(c *Config) { c.Checks.DischargeSoftMA = 200000 }, "discharge_soft_ma"},
		{"zero max age", func(c *Config) { c.Checks.TempMaxAgeMs = 0 }, "max ages"},
		{"cell age shorter than balancing", func(c *Config) { c.Checks.CellMaxAgeMs = 2200 }, "cell_max_age_ms"},
		{"zero pause", func(c *Config) { c.Balancing.PauseEvery = 0 }, "pause_every"},
		{"contactor thresholds", func(c *Config) { c.Contactor.OpenBelowPct = 95 }, "open_below_pct"},
		{"precharge min", func(c *Config) { c.Contactor.PrechargeMinMs = 5000 }, "precharge_min_ms"},
		{"zero samples", func(c *Config) { c.Supervisor.Calibration.Samples = 0 }, "samples"},
		{"taper outside window", func(c *Config) { c.Limits.ChargeTaperMV = 4300 }, "tapers"},
		{"zero capacity", func(c *Config) { c.SoC.CapacityMAh = 0 }, "capacity_mah"},
		{"unsorted curve", func(c *Config) { c.SoC.Curve[1].MV = 2900 }, "soc.curve"},
		{"unknown event", func(c *Config) { c.Events.CountLeeway["bogus"] = 1 }, "bogus"},
		{"time leeway on warning", func(c *Config) { c.Events.TimeLeeway["precharge_timeout"] = 1 }, "precharge_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, Validate(&cfg), tt.want)
		})
	}
}

func TestValidate_BalancingDisabledSkipsPauseWindow(t *testing.T) {
	cfg := Default()
	cfg.Pack.BalancingEnabled = false
	cfg.Checks.CellMaxAgeMs = 1000
	assert.NoError(t, Validate(&cfg))
}

func TestDump_RoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Pack.TickMs = 40
	cfg.Bus.LongWake = 30 * time.Millisecond
	cfg.Events.CountLeeway["calibration_failed"] = 4

	var buf bytes.Buffer
	require.NoError(t, Dump(&cfg, &buf))
	assert.Contains(t, buf.String(), "tick_ms: 40")
	assert.Contains(t, buf.String(), "long_wake: 30ms")

	path := writeFile(t, buf.String())
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Pack, loaded.Pack)
	assert.Equal(t, cfg.Bus, loaded.Bus)
	assert.Equal(t, cfg.Checks, loaded.Checks)
	assert.Equal(t, cfg.Limits, loaded.Limits)
	assert.Equal(t, uint16(4), loaded.Events.CountLeeway["calibration_failed"])
}

func TestCore_BuildsRunnableCore(t *testing.T) {
	cfg := Default()
	cc, err := cfg.Core()
	require.NoError(t, err)
	assert.Equal(t, events.DefaultDefinitions(), cc.Events)
	assert.True(t, cc.BalancingEnabled)
	assert.Equal(t, int64(50), cc.TickMs)
	assert.Equal(t, [8]uint16{0x7FFF, 0x7FFF, 0x7FFF, 0x7FFF}, cc.Modules)
}
