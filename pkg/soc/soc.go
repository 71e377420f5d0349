// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package soc estimates pack state of charge.
package soc

import (
	"math"
	"sort"

	"github.com/Thermoquad/ampere/pkg/model"
)

// Estimator updates m.SocPermille and m.SocTs
type Estimator interface {
	Update(m *model.Model, now int64)
}

// OCVPoint maps an open-circuit cell voltage to a state of charge
type OCVPoint struct {
	MV       int16 `mapstructure:"mv" yaml:"mv"`
	Permille int32 `mapstructure:"permille" yaml:"permille"`
}

// DefaultOCV is a generic NMC open-circuit curve
var DefaultOCV = []OCVPoint{
	{3000, 0}, {3400, 50}, {3550, 150}, {3650, 300},
	{3750, 500}, {3850, 650}, {3950, 800}, {4100, 950}, {4200, 1000},
}

// FromOCV interpolates a state of charge from a cell voltage
func FromOCV(curve []OCVPoint, mv int16) int32 {
	if len(curve) == 0 {
		return 0
	}
	i := sort.Search(len(curve), func(i int) bool { return curve[i].MV >= mv })
	switch {
	case i == 0:
		return curve[0].Permille
	case i == len(curve):
		return curve[len(curve)-1].Permille
	}
	lo, hi := curve[i-1], curve[i]
	return lo.Permille + (int32(mv)-int32(lo.MV))*(hi.Permille-lo.Permille)/(int32(hi.MV)-int32(lo.MV))
}

// CoulombCounter seeds from the open-circuit curve on the first fresh
// voltage reading, then integrates pack current
type CoulombCounter struct {
	CapacityMAh int32
	Curve       []OCVPoint
	MaxAgeMs    int64

	seeded bool
	last   int64
	// charge in milliamp-milliseconds
	charge float64
}

// NewCoulombCounter creates an unseeded counter
func NewCoulombCounter(capacityMAh int32, curve []OCVPoint, maxAgeMs int64) *CoulombCounter {
	if len(curve) == 0 {
		curve = DefaultOCV
	}
	return &CoulombCounter{CapacityMAh: capacityMAh, Curve: curve, MaxAgeMs: maxAgeMs}
}

func (c *CoulombCounter) full() float64 {
	return float64(c.CapacityMAh) * 3600 * 1000
}

// Update implements Estimator
func (c *CoulombCounter) Update(m *model.Model, now int64) {
	if !c.seeded {
		n := m.CellCount()
		if n == 0 || !model.Fresh(m.CellStatsTs, now, c.MaxAgeMs) {
			return
		}
		avg := int16(m.CellTotalMV / int32(n))
		c.charge = float64(FromOCV(c.Curve, avg)) / 1000 * c.full()
		c.seeded = true
		c.last = now
		c.publish(m, now)
		return
	}
	if model.Fresh(m.PackCurrentTs, now, c.MaxAgeMs) {
		c.charge += float64(m.PackCurrentMA) * float64(now-c.last)
		if c.charge < 0 {
			c.charge = 0
		} else if c.charge > c.full() {
			c.charge = c.full()
		}
	}
	c.last = now
	c.publish(m, now)
}

func (c *CoulombCounter) publish(m *model.Model, now int64) {
	m.SocPermille = int32(math.Round(c.charge / c.full() * 1000))
	m.SocTs = now
}
