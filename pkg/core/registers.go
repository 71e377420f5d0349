// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package core

import (
	"fmt"
	"maps"

	"github.com/Thermoquad/ampere/pkg/hostlink"
)

// Register ids
const (
	RegCellCount   = 0x0001
	RegModuleCount = 0x0002
	RegSerial      = 0x0003
	RegTicks       = 0x0004

	RegTickAverageUs = 0x0005
	RegTickOverruns  = 0x0006

	RegSystemState    = 0x0010
	RegContactorState = 0x0011
	RegBalancingState = 0x0012
	RegHighestLevel   = 0x0013

	RegCellMinMV        = 0x0020
	RegCellMaxMV        = 0x0021
	RegCellTotalMV      = 0x0022
	RegPackCurrentMA    = 0x0023
	RegTempMinDC        = 0x0024
	RegTempMaxDC        = 0x0025
	RegSocPermille      = 0x0026
	RegChargeLimitMA    = 0x0027
	RegDischargeLimitMA = 0x0028
	RegBatteryMV        = 0x0029
	RegOutputMV         = 0x002A
	RegEnableCurrent    = 0x002B
	RegBalanceCells     = 0x002C

	RegBalancingEnabled     = 0x0100
	RegPowerRequested       = 0x0101
	RegCalibrationRequested = 0x0102

	RegCalibrated         = 0x0110
	RegCurrentOffsetMA    = 0x0111
	RegBatteryVoltageGain = 0x0112

	RegBusCycles    = 0x0200
	RegBusFailures  = 0x0201
	RegBusCRCErrors = 0x0202
	RegBusResyncs   = 0x0203
)

// registerNames names every register for host tools
var registerNames = map[uint16]string{
	RegCellCount:            "cell_count",
	RegModuleCount:          "module_count",
	RegSerial:               "serial",
	RegTicks:                "ticks",
	RegTickAverageUs:        "tick_average_us",
	RegTickOverruns:         "tick_overruns",
	RegSystemState:          "system_state",
	RegContactorState:       "contactor_state",
	RegBalancingState:       "balancing_state",
	RegHighestLevel:         "highest_level",
	RegCellMinMV:            "cell_min_mv",
	RegCellMaxMV:            "cell_max_mv",
	RegCellTotalMV:          "cell_total_mv",
	RegPackCurrentMA:        "pack_current_ma",
	RegTempMinDC:            "temp_min_dc",
	RegTempMaxDC:            "temp_max_dc",
	RegSocPermille:          "soc_permille",
	RegChargeLimitMA:        "charge_limit_ma",
	RegDischargeLimitMA:     "discharge_limit_ma",
	RegBatteryMV:            "battery_mv",
	RegOutputMV:             "output_mv",
	RegEnableCurrent:        "enable_current",
	RegBalanceCells:         "balance_cells",
	RegBalancingEnabled:     "balancing_enabled",
	RegPowerRequested:       "power_requested",
	RegCalibrationRequested: "calibration_requested",
	RegCalibrated:           "calibrated",
	RegCurrentOffsetMA:      "current_offset_ma",
	RegBatteryVoltageGain:   "battery_voltage_gain",
	RegBusCycles:            "bus_cycles",
	RegBusFailures:          "bus_failures",
	RegBusCRCErrors:         "bus_crc_errors",
	RegBusResyncs:           "bus_resyncs",
}

// RegisterName returns the name of a register id
func RegisterName(id uint16) (string, bool) {
	name, ok := registerNames[id]
	return name, ok
}

// RegisterNames returns every register id with its name
func RegisterNames() map[uint16]string {
	return maps.Clone(registerNames)
}

// RegisterID resolves a register name
func RegisterID(name string) (uint16, bool) {
	for id, n := range registerNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

func setBool(dst *bool) func(hostlink.Value) error {
	return func(v hostlink.Value) error {
		switch v.Uint() {
		case 0:
			*dst = false
		case 1:
			*dst = true
		default:
			return fmt.Errorf("boolean register takes 0 or 1, got %d", v.Uint())
		}
		return nil
	}
}

func (c *Core) bindRegisters() error {
	m := c.model
	regs := []hostlink.Register{
		{ID: RegCellCount, Type: hostlink.TypeU8,
			Get: func() hostlink.Value { return hostlink.U8(uint8(m.CellCount())) }},
		{ID: RegModuleCount, Type: hostlink.TypeU8,
			Get: func() hostlink.Value { return hostlink.U8(uint8(c.bus.Modules())) }},
		{ID: RegSerial, Type: hostlink.TypeU64,
			Get: func() hostlink.Value { return hostlink.U64(c.cfg.Serial) }},
		{ID: RegTicks, Type: hostlink.TypeU64,
			Get: func() hostlink.Value { return hostlink.U64(c.ticks.Tick()) }},
		{ID: RegTickAverageUs, Type: hostlink.TypeU32,
			Get: func() hostlink.Value { return hostlink.U32(c.tickAvgUs) }},
		{ID: RegTickOverruns, Type: hostlink.TypeU64,
			Get: func() hostlink.Value { return hostlink.U64(c.tickOverruns) }},

		{ID: RegSystemState, Type: hostlink.TypeU8,
			Get: func() hostlink.Value { return hostlink.U8(uint8(c.supervisor.State())) }},
		{ID: RegContactorState, Type: hostlink.TypeU8,
			Get: func() hostlink.Value { return hostlink.U8(uint8(c.contactor.State())) }},
		{ID: RegBalancingState, Type: hostlink.TypeU8,
			Get: func() hostlink.Value { return hostlink.U8(uint8(c.balancer.State())) }},
		{ID: RegHighestLevel, Type: hostlink.TypeU8,
			Get: func() hostlink.Value { return hostlink.U8(uint8(c.events.HighestLevel())) }},

		{ID: RegCellMinMV, Type: hostlink.TypeI16,
			Get: func() hostlink.Value { return hostlink.I16(m.CellMinMV) }},
		{ID: RegCellMaxMV, Type: hostlink.TypeI16,
			Get: func() hostlink.Value { return hostlink.I16(m.CellMaxMV) }},
		{ID: RegCellTotalMV, Type: hostlink.TypeI32,
			Get: func() hostlink.Value { return hostlink.I32(m.CellTotalMV) }},
		{ID: RegPackCurrentMA, Type: hostlink.TypeI32,
			Get: func() hostlink.Value { return hostlink.I32(m.PackCurrentMA) }},
		{ID: RegTempMinDC, Type: hostlink.TypeI16,
			Get: func() hostlink.Value { return hostlink.I16(m.TempMinDC) }},
		{ID: RegTempMaxDC, Type: hostlink.TypeI16,
			Get: func() hostlink.Value { return hostlink.I16(m.TempMaxDC) }},
		{ID: RegSocPermille, Type: hostlink.TypeI32,
			Get: func() hostlink.Value { return hostlink.I32(m.SocPermille) }},
		{ID: RegChargeLimitMA, Type: hostlink.TypeI32,
			Get: func() hostlink.Value { return hostlink.I32(m.ChargeLimitMA) }},
		{ID: RegDischargeLimitMA, Type: hostlink.TypeI32,
			Get: func() hostlink.Value { return hostlink.I32(m.DischargeLimitMA) }},
		{ID: RegBatteryMV, Type: hostlink.TypeI32,
			Get: func() hostlink.Value { return hostlink.I32(m.Contactor.BatteryMV) }},
		{ID: RegOutputMV, Type: hostlink.TypeI32,
			Get: func() hostlink.Value { return hostlink.I32(m.Contactor.OutputMV) }},
		{ID: RegEnableCurrent, Type: hostlink.TypeU8,
			Get: func() hostlink.Value { return hostlink.Bool(m.EnableCurrent) }},
		{ID: RegBalanceCells, Type: hostlink.TypeU8,
			Get: func() hostlink.Value { return hostlink.U8(uint8(m.BalanceMask.Count())) }},

		{ID: RegBalancingEnabled, Type: hostlink.TypeU8,
			Get: func() hostlink.Value { return hostlink.Bool(m.BalancingEnabled) },
			Set: setBool(&m.BalancingEnabled)},
		{ID: RegPowerRequested, Type: hostlink.TypeU8,
			Get: func() hostlink.Value { return hostlink.Bool(m.PowerRequested) },
			Set: setBool(&m.PowerRequested)},
		{ID: RegCalibrationRequested, Type: hostlink.TypeU8,
			Get: func() hostlink.Value { return hostlink.Bool(m.CalibrationRequested) },
			Set: setBool(&m.CalibrationRequested)},

		{ID: RegCalibrated, Type: hostlink.TypeU8,
			Get: func() hostlink.Value { return hostlink.Bool(c.calibrated) }},
		{ID: RegCurrentOffsetMA, Type: hostlink.TypeI32,
			Get: func() hostlink.Value { return hostlink.I32(c.cal.CurrentOffsetMA) }},
		{ID: RegBatteryVoltageGain, Type: hostlink.TypeF32,
			Get: func() hostlink.Value { return hostlink.F32(c.cal.BatteryVoltageGain) }},

		{ID: RegBusCycles, Type: hostlink.TypeU64,
			Get: func() hostlink.Value { return hostlink.U64(c.bus.Statistics().Cycles) }},
		{ID: RegBusFailures, Type: hostlink.TypeU64,
			Get: func() hostlink.Value { return hostlink.U64(c.bus.Statistics().Failed) }},
		{ID: RegBusCRCErrors, Type: hostlink.TypeU64,
			Get: func() hostlink.Value { return hostlink.U64(c.bus.Statistics().CRCErrors) }},
		{ID: RegBusResyncs, Type: hostlink.TypeU64,
			Get: func() hostlink.Value { return hostlink.U64(c.bus.Statistics().Resyncs) }},
	}
	for _, r := range regs {
		r.Name = registerNames[r.ID]
		if err := c.registry.Add(r); err != nil {
			return err
		}
	}
	return nil
}
