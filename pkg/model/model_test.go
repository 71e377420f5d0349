// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullModules(n int) [MaxModules]uint16 {
	var mods [MaxModules]uint16
	for i := 0; i < n; i++ {
		mods[i] = 0x7FFF
	}
	return mods
}

func TestLayout_RejectsPaddingAndEmpty(t *testing.T) {
	var mods [MaxModules]uint16
	_, err := NewLayout(mods)
	require.Error(t, err)

	mods[0] = 0x8001
	_, err = NewLayout(mods)
	require.Error(t, err)
}

func TestLayout_DenseOrderFollowsRawPosition(t *testing.T) {
	var mods [MaxModules]uint16
	mods[7] = 0x0003 // raw positions 0,1
	mods[0] = 0x0001 // raw position 112
	l, err := NewLayout(mods)
	require.NoError(t, err)

	assert.Equal(t, 3, l.CellCount())
	assert.Equal(t, 0, l.CellAt(7, 0))
	assert.Equal(t, 1, l.CellAt(7, 1))
	assert.Equal(t, 2, l.CellAt(0, 0))
	assert.Equal(t, -1, l.CellAt(0, 1))

	m, s, ok := l.SlotOf(2)
	require.True(t, ok)
	assert.Equal(t, 0, m)
	assert.Equal(t, 0, s)
	assert.Equal(t, uint16(0x0003), l.ModuleEnableBits(7))
	assert.False(t, l.ModulePopulated(3))
}

func TestStoreCellVoltage_Sentinels(t *testing.T) {
	l, err := NewLayout(fullModules(1))
	require.NoError(t, err)
	m := New(l)

	m.StoreCellVoltage(0, 0)
	assert.Equal(t, CellMeasuredZero, m.CellVoltages[0])
	mv, ok := m.CellReading(0)
	assert.True(t, ok)
	assert.Equal(t, int16(0), mv)

	m.MarkCellNotMeasured(1)
	_, ok = m.CellReading(1)
	assert.False(t, ok)

	_, ok = m.CellReading(2)
	assert.False(t, ok, "no data yet must not count as a reading")

	// Beyond the populated cells nothing is stored
	m.StoreCellVoltage(20, 3300)
	assert.Equal(t, int16(0), m.CellVoltages[20])
}

func TestAggregate_SkipsAbsentAndUnmeasured(t *testing.T) {
	l, err := NewLayout(fullModules(1))
	require.NoError(t, err)
	m := New(l)

	m.StoreCellVoltage(0, 3300)
	m.StoreCellVoltage(1, 3400)
	m.MarkCellNotMeasured(2)
	m.StoreCellVoltage(3, 3250)

	n := m.Aggregate(1000)
	assert.Equal(t, 3, n)
	assert.Equal(t, int16(3250), m.CellMinMV)
	assert.Equal(t, int16(3400), m.CellMaxMV)
	assert.Equal(t, int32(9950), m.CellTotalMV)
	assert.Equal(t, 3, m.CellMinIndex)
	assert.Equal(t, int64(1000), m.CellStatsTs)
}

func TestAggregate_NoReadingsLeavesTimestamp(t *testing.T) {
	l, err := NewLayout(fullModules(1))
	require.NoError(t, err)
	m := New(l)
	assert.Equal(t, 0, m.Aggregate(500))
	assert.Equal(t, int64(0), m.CellStatsTs)
}

func TestFresh(t *testing.T) {
	assert.False(t, Fresh(0, 100, 1000), "zero timestamp is never fresh")
	assert.True(t, Fresh(50, 1050, 1000))
	assert.False(t, Fresh(50, 1051, 1000))
}

func TestMask(t *testing.T) {
	var m Mask
	assert.True(t, m.IsZero())
	m.Set(0)
	m.Set(33)
	m.Set(119)
	m.Set(500)
	assert.Equal(t, 3, m.Count())
	assert.True(t, m.Has(33))
	m.Unset(33)
	assert.False(t, m.Has(33))
	assert.Equal(t, uint32(1), m[0])
	assert.Equal(t, uint32(1<<23), m[3])
}
