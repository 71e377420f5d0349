// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"

	"github.com/Thermoquad/ampere/pkg/events"
)

// Validate checks the configuration for consistency
func Validate(cfg *Config) error {
	if _, err := cfg.Layout(); err != nil {
		return err
	}

	p := cfg.Pack
	if p.TickMs <= 0 {
		return fmt.Errorf("pack.tick_ms must be positive")
	}
	if p.BusCycleMs < p.TickMs {
		return fmt.Errorf("pack.bus_cycle_ms (%d) must be at least pack.tick_ms (%d)", p.BusCycleMs, p.TickMs)
	}

	if err := validateChecks(cfg); err != nil {
		return err
	}

	// A balancing pause skips reads for a whole cycle; the stale window
	// must outlast one pause plus the cycle that follows it
	if p.BalancingEnabled {
		b := cfg.Balancing
		if b.PauseEvery <= 0 {
			return fmt.Errorf("balancing.pause_every must be positive")
		}
		if b.IntervalMs <= 0 {
			return fmt.Errorf("balancing.interval_ms must be positive")
		}
		if window := int64(b.PauseEvery+1) * p.BusCycleMs; cfg.Checks.CellMaxAgeMs <= window {
			return fmt.Errorf("checks.cell_max_age_ms (%d) must exceed %d ms of balancing between reads", cfg.Checks.CellMaxAgeMs, window)
		}
	}

	c := cfg.Contactor
	if c.OpenBelowPct < 0 || c.ClosedAbovePct > 100 || c.OpenBelowPct >= c.ClosedAbovePct {
		return fmt.Errorf("contactor.open_below_pct (%d) must be below contactor.closed_above_pct (%d) within 0..100", c.OpenBelowPct, c.ClosedAbovePct)
	}
	if c.SettleMs <= 0 || c.TestTimeoutMs <= 0 || c.PrechargeTimeoutMs <= 0 || c.SenseMaxAgeMs <= 0 || c.CurrentMaxAgeMs <= 0 {
		return fmt.Errorf("contactor timings must be positive")
	}
	if c.PrechargeMinMs >= c.PrechargeTimeoutMs {
		return fmt.Errorf("contactor.precharge_min_ms (%d) must be below contactor.precharge_timeout_ms (%d)", c.PrechargeMinMs, c.PrechargeTimeoutMs)
	}
	if c.InstantOpenMA > c.DelayedOpenMA {
		return fmt.Errorf("contactor.instant_open_ma (%d) must not exceed contactor.delayed_open_ma (%d)", c.InstantOpenMA, c.DelayedOpenMA)
	}

	if cfg.Supervisor.Calibration.Samples <= 0 {
		return fmt.Errorf("supervisor.calibration.samples must be positive")
	}

	l := cfg.Limits
	if l.ChargeTaperMV >= l.CellHighMV || l.DischargeTaperMV <= l.CellLowMV {
		return fmt.Errorf("limits voltage tapers must lie inside the cell window")
	}
	if l.TempHighTaperDC >= l.TempHighDC || l.TempLowTaperDC <= l.TempLowDC {
		return fmt.Errorf("limits temperature tapers must lie inside the temperature window")
	}

	if cfg.SoC.CapacityMAh <= 0 {
		return fmt.Errorf("soc.capacity_mah must be positive")
	}
	for i := 1; i < len(cfg.SoC.Curve); i++ {
		if cfg.SoC.Curve[i].MV <= cfg.SoC.Curve[i-1].MV {
			return fmt.Errorf("soc.curve must be sorted by ascending mv")
		}
	}

	if cfg.Bus.BalanceTimeoutS == 0 {
		return fmt.Errorf("bus.balance_timeout_s must be positive")
	}

	defs := events.DefaultDefinitions()
	return events.ApplyLeeways(&defs, cfg.Events.CountLeeway, cfg.Events.TimeLeeway)
}

func validateChecks(cfg *Config) error {
	k := cfg.Checks
	switch {
	case k.CellHighSoftMV >= k.CellHighHardMV:
		return fmt.Errorf("checks.cell_high_soft_mv (%d) must be below checks.cell_high_hard_mv (%d)", k.CellHighSoftMV, k.CellHighHardMV)
	case k.CellLowSoftMV <= k.CellLowHardMV:
		return fmt.Errorf("checks.cell_low_soft_mv (%d) must be above checks.cell_low_hard_mv (%d)", k.CellLowSoftMV, k.CellLowHardMV)
	case k.CellLowSoftMV >= k.CellHighSoftMV:
		return fmt.Errorf("checks cell window is empty")
	case k.TempHighSoftDC >= k.TempHighHardDC:
		return fmt.Errorf("checks.temp_high_soft_dc (%d) must be below checks.temp_high_hard_dc (%d)", k.TempHighSoftDC, k.TempHighHardDC)
	case k.TempLowSoftDC <= k.TempLowHardDC:
		return fmt.Errorf("checks.temp_low_soft_dc (%d) must be above checks.temp_low_hard_dc (%d)", k.TempLowSoftDC, k.TempLowHardDC)
	case k.TempLowSoftDC >= k.TempHighSoftDC:
		return fmt.Errorf("checks temperature window is empty")
	case k.ChargeSoftMA <= 0 || k.ChargeSoftMA >= k.ChargeHardMA:
		return fmt.Errorf("checks.charge_soft_ma (%d) must be positive and below checks.charge_hard_ma (%d)", k.ChargeSoftMA, k.ChargeHardMA)
	case k.DischargeSoftMA <= 0 || k.DischargeSoftMA >= k.DischargeHardMA:
		return fmt.Errorf("checks.discharge_soft_ma (%d) must be positive and below checks.discharge_hard_ma (%d)", k.DischargeSoftMA, k.DischargeHardMA)
	case k.CellMaxAgeMs <= 0 || k.TempMaxAgeMs <= 0 || k.CurrentMaxAgeMs <= 0 || k.SenseMaxAgeMs <= 0:
		return fmt.Errorf("checks max ages must be positive")
	case k.CurrentMaxAgeMs < cfg.Pack.TickMs || k.SenseMaxAgeMs < cfg.Pack.TickMs:
		return fmt.Errorf("checks current and sense max ages must cover one tick")
	case k.CellMaxAgeMs < cfg.Pack.BusCycleMs || k.TempMaxAgeMs < cfg.Pack.BusCycleMs:
		return fmt.Errorf("checks cell and temperature max ages must cover one bus cycle")
	}
	return nil
}
