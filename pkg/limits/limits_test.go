// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package limits

import (
	"testing"

	"github.com/Thermoquad/ampere/pkg/model"
	"github.com/stretchr/testify/assert"
)

func testConfig() *Config {
	return &Config{
		MaxChargeMA:      100000,
		MaxDischargeMA:   200000,
		ChargeTaperMV:    4000,
		CellHighMV:       4200,
		DischargeTaperMV: 3200,
		CellLowMV:        3000,
		TempHighTaperDC:  450,
		TempHighDC:       550,
		TempLowTaperDC:   50,
		TempLowDC:        0,
		MaxAgeMs:         1000,
	}
}

func freshModel(minMV, maxMV, tMin, tMax int16) *model.Model {
	m := &model.Model{
		EnableCurrent: true,
		CellMinMV:     minMV,
		CellMaxMV:     maxMV,
		CellStatsTs:   900,
		TempMinDC:     tMin,
		TempMaxDC:     tMax,
		TempsTs:       900,
	}
	return m
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name              string
		minMV, maxMV      int16
		tMin, tMax        int16
		charge, discharge int32
	}{
		{"nominal", 3600, 3700, 200, 250, 100000, 200000},
		{"charge taper midpoint", 3600, 4100, 200, 250, 50000, 200000},
		{"charge at limit", 3600, 4200, 200, 250, 0, 200000},
		{"discharge taper", 3100, 3700, 200, 250, 100000, 100000},
		{"discharge below limit", 2900, 3700, 200, 250, 100000, 0},
		{"hot", 3600, 3700, 200, 500, 50000, 100000},
		{"cold", 3600, 3700, 25, 250, 50000, 100000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := freshModel(tt.minMV, tt.maxMV, tt.tMin, tt.tMax)
			Derive(testConfig(), m, 1000)
			assert.Equal(t, tt.charge, m.ChargeLimitMA)
			assert.Equal(t, tt.discharge, m.DischargeLimitMA)
		})
	}
}

func TestDerive_GatedOff(t *testing.T) {
	m := freshModel(3600, 3700, 200, 250)
	m.EnableCurrent = false
	Derive(testConfig(), m, 1000)
	assert.Zero(t, m.ChargeLimitMA)
	assert.Zero(t, m.DischargeLimitMA)

	m = freshModel(3600, 3700, 200, 250)
	Derive(testConfig(), m, 5000)
	assert.Zero(t, m.ChargeLimitMA, "stale data")
}
