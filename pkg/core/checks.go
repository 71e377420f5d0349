// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package core

import (
	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/Thermoquad/ampere/pkg/model"
)

// checkData packs a location and a reading into event diagnostic data
func checkData(index int, value int32) uint64 {
	return uint64(uint32(index))<<32 | uint64(uint32(value))
}

// evaluate confirms or raises every measurement check, then runs
// escalation. A check only runs on fresh data; staleness of a source
// that never reported waits for the startup grace.
func (c *Core) evaluate(now int64) {
	m := c.model
	k := &c.cfg.Checks
	ev := c.events
	grace := now-c.started >= k.StartupGraceMs

	stale := func(ts, maxAge int64, kind events.Kind) bool {
		fresh := model.Fresh(ts, now, maxAge)
		ev.CheckOrConfirm(fresh, model.Populated(ts) || grace, kind, uint64(now-ts))
		return fresh
	}

	if stale(m.CellStatsTs, k.CellMaxAgeMs, events.CellVoltageStale) {
		hi := checkData(m.CellMaxIndex, int32(m.CellMaxMV))
		lo := checkData(m.CellMinIndex, int32(m.CellMinMV))
		ev.Confirm(m.CellMaxMV < k.CellHighSoftMV, events.CellVoltageHighSoft, hi)
		ev.Confirm(m.CellMaxMV < k.CellHighHardMV, events.CellVoltageHighHard, hi)
		ev.Confirm(m.CellMinMV > k.CellLowSoftMV, events.CellVoltageLowSoft, lo)
		ev.Confirm(m.CellMinMV > k.CellLowHardMV, events.CellVoltageLowHard, lo)
	}

	if stale(m.TempsTs, k.TempMaxAgeMs, events.TemperatureStale) {
		hiMod, loMod := tempExtremes(m)
		hi := checkData(hiMod, int32(m.TempMaxDC))
		lo := checkData(loMod, int32(m.TempMinDC))
		ev.Confirm(m.TempMaxDC < k.TempHighSoftDC, events.TemperatureHighSoft, hi)
		ev.Confirm(m.TempMaxDC < k.TempHighHardDC, events.TemperatureHighHard, hi)
		ev.Confirm(m.TempMinDC > k.TempLowSoftDC, events.TemperatureLowSoft, lo)
		ev.Confirm(m.TempMinDC > k.TempLowHardDC, events.TemperatureLowHard, lo)
	}

	if stale(m.PackCurrentTs, k.CurrentMaxAgeMs, events.CurrentStale) {
		i := m.PackCurrentMA
		data := checkData(0, i)
		ev.Confirm(i < k.ChargeSoftMA, events.ChargeCurrentSoft, data)
		ev.Confirm(i < k.ChargeHardMA, events.ChargeCurrentHard, data)
		ev.Confirm(-i < k.DischargeSoftMA, events.DischargeCurrentSoft, data)
		ev.Confirm(-i < k.DischargeHardMA, events.DischargeCurrentHard, data)
	}

	stale(m.Contactor.Timestamp, k.SenseMaxAgeMs, events.ContactorSenseStale)

	ev.Confirm(c.calibrated, events.Uncalibrated, 0)
	ev.Tick(now)
}

// tempExtremes returns the modules holding the hottest and coldest reading
func tempExtremes(m *model.Model) (hi, lo int) {
	for i := 0; i < model.MaxModules; i++ {
		if !m.ModuleTempsOK[i] {
			continue
		}
		if m.ModuleTemps[i] == m.TempMaxDC {
			hi = i
		}
		if m.ModuleTemps[i] == m.TempMinDC {
			lo = i
		}
	}
	return hi, lo
}
