// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package limits derives the charge and discharge current the pack can
// accept from cell voltage and temperature headroom.
package limits

import "github.com/Thermoquad/ampere/pkg/model"

// Config holds derating windows. Voltages in mV, temperatures in
// deci-degrees Celsius, currents in mA.
type Config struct {
	MaxChargeMA    int32 `mapstructure:"max_charge_ma" yaml:"max_charge_ma"`
	MaxDischargeMA int32 `mapstructure:"max_discharge_ma" yaml:"max_discharge_ma"`

	// Charge derates from full at ChargeTaperMV to zero at CellHighMV
	ChargeTaperMV int16 `mapstructure:"charge_taper_mv" yaml:"charge_taper_mv"`
	CellHighMV    int16 `mapstructure:"cell_high_mv" yaml:"cell_high_mv"`
	// Discharge derates from full at DischargeTaperMV to zero at CellLowMV
	DischargeTaperMV int16 `mapstructure:"discharge_taper_mv" yaml:"discharge_taper_mv"`
	CellLowMV        int16 `mapstructure:"cell_low_mv" yaml:"cell_low_mv"`

	// Both directions derate to zero across the temperature windows
	TempHighTaperDC int16 `mapstructure:"temp_high_taper_dc" yaml:"temp_high_taper_dc"`
	TempHighDC      int16 `mapstructure:"temp_high_dc" yaml:"temp_high_dc"`
	TempLowTaperDC  int16 `mapstructure:"temp_low_taper_dc" yaml:"temp_low_taper_dc"`
	TempLowDC       int16 `mapstructure:"temp_low_dc" yaml:"temp_low_dc"`

	MaxAgeMs int64 `mapstructure:"max_age_ms" yaml:"max_age_ms"`
}

// scale returns the fraction of headroom left as parts per 1000: 1000 at
// or inside full, 0 at or beyond limit, linear between
func scale(v, full, limit int32) int32 {
	if full == limit {
		if v < limit {
			return 1000
		}
		return 0
	}
	// normalise so that headroom shrinks as v grows
	if limit < full {
		v, full, limit = -v, -full, -limit
	}
	switch {
	case v <= full:
		return 1000
	case v >= limit:
		return 0
	}
	return (limit - v) * 1000 / (limit - full)
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

// Derive writes m.ChargeLimitMA and m.DischargeLimitMA. Both are zero
// unless current is enabled and cell and temperature data are fresh.
func Derive(cfg *Config, m *model.Model, now int64) {
	m.ChargeLimitMA, m.DischargeLimitMA = 0, 0
	if !m.EnableCurrent {
		return
	}
	if !model.Fresh(m.CellStatsTs, now, cfg.MaxAgeMs) || !model.Fresh(m.TempsTs, now, cfg.MaxAgeMs) {
		return
	}
	temp := min32(
		scale(int32(m.TempMaxDC), int32(cfg.TempHighTaperDC), int32(cfg.TempHighDC)),
		scale(int32(m.TempMinDC), int32(cfg.TempLowTaperDC), int32(cfg.TempLowDC)),
	)
	charge := min32(scale(int32(m.CellMaxMV), int32(cfg.ChargeTaperMV), int32(cfg.CellHighMV)), temp)
	discharge := min32(scale(int32(m.CellMinMV), int32(cfg.DischargeTaperMV), int32(cfg.CellLowMV)), temp)

	m.ChargeLimitMA = int32(int64(cfg.MaxChargeMA) * int64(charge) / 1000)
	m.DischargeLimitMA = int32(int64(cfg.MaxDischargeMA) * int64(discharge) / 1000)
}
