// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package core

import (
	"github.com/Thermoquad/ampere/pkg/balancing"
	"github.com/Thermoquad/ampere/pkg/contactor"
	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/Thermoquad/ampere/pkg/limits"
	"github.com/Thermoquad/ampere/pkg/model"
	"github.com/Thermoquad/ampere/pkg/soc"
	"github.com/Thermoquad/ampere/pkg/supervisor"
	"github.com/Thermoquad/ampere/pkg/telemetry"
)

// Checks are the measurement windows evaluated every tick. Voltages in
// mV, temperatures in deci-degrees Celsius, currents in mA with charge
// positive.
type Checks struct {
	CellHighSoftMV int16 `mapstructure:"cell_high_soft_mv" yaml:"cell_high_soft_mv"`
	CellHighHardMV int16 `mapstructure:"cell_high_hard_mv" yaml:"cell_high_hard_mv"`
	CellLowSoftMV  int16 `mapstructure:"cell_low_soft_mv" yaml:"cell_low_soft_mv"`
	CellLowHardMV  int16 `mapstructure:"cell_low_hard_mv" yaml:"cell_low_hard_mv"`

	TempHighSoftDC int16 `mapstructure:"temp_high_soft_dc" yaml:"temp_high_soft_dc"`
	TempHighHardDC int16 `mapstructure:"temp_high_hard_dc" yaml:"temp_high_hard_dc"`
	TempLowSoftDC  int16 `mapstructure:"temp_low_soft_dc" yaml:"temp_low_soft_dc"`
	TempLowHardDC  int16 `mapstructure:"temp_low_hard_dc" yaml:"temp_low_hard_dc"`

	ChargeSoftMA    int32 `mapstructure:"charge_soft_ma" yaml:"charge_soft_ma"`
	ChargeHardMA    int32 `mapstructure:"charge_hard_ma" yaml:"charge_hard_ma"`
	DischargeSoftMA int32 `mapstructure:"discharge_soft_ma" yaml:"discharge_soft_ma"`
	DischargeHardMA int32 `mapstructure:"discharge_hard_ma" yaml:"discharge_hard_ma"`

	CellMaxAgeMs    int64 `mapstructure:"cell_max_age_ms" yaml:"cell_max_age_ms"`
	TempMaxAgeMs    int64 `mapstructure:"temp_max_age_ms" yaml:"temp_max_age_ms"`
	CurrentMaxAgeMs int64 `mapstructure:"current_max_age_ms" yaml:"current_max_age_ms"`
	SenseMaxAgeMs   int64 `mapstructure:"sense_max_age_ms" yaml:"sense_max_age_ms"`

	// Staleness of a never-populated source is only reported once the
	// startup grace has passed
	StartupGraceMs int64 `mapstructure:"startup_grace_ms" yaml:"startup_grace_ms"`
}

// SoC configures the state of charge estimator
type SoC struct {
	CapacityMAh int32          `mapstructure:"capacity_mah" yaml:"capacity_mah"`
	Curve       []soc.OCVPoint `mapstructure:"curve" yaml:"curve"`
	MaxAgeMs    int64          `mapstructure:"max_age_ms" yaml:"max_age_ms"`
}

// Config is everything the core needs to run one pack
type Config struct {
	Modules [model.MaxModules]uint16

	TickMs     int64
	BusCycleMs int64

	Serial uint64

	Events     [events.KindCount]events.Definition
	Bus        telemetry.Options
	Checks     Checks
	Contactor  contactor.Config
	Balancing  balancing.Config
	Supervisor supervisor.Config
	Limits     limits.Config
	SoC        SoC

	BalancingEnabled bool
}
