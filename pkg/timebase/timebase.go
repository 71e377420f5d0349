// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package timebase provides the monotonic millisecond clock and the
// timestep counter consumed by every ampere component.
//
// A timestamp of 0 always means "never populated", so clocks never report 0
// once they have started.
package timebase

import (
	"sync/atomic"
	"time"
)

// Clock reports monotonic milliseconds.
type Clock interface {
	NowMs() int64
}

// SystemClock measures milliseconds since it was created, offset by one so
// that the very first reading is not mistaken for "never".
type SystemClock struct {
	start time.Time
}

// NewSystemClock creates a clock anchored at the current instant
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// NowMs returns elapsed milliseconds since creation plus one
func (c *SystemClock) NowMs() int64 {
	return time.Since(c.start).Milliseconds() + 1
}

// ManualClock is a clock that only moves when told to. Safe for concurrent use.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock creates a manual clock starting at startMs
func NewManualClock(startMs int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(startMs)
	return c
}

// NowMs returns the current manual time
func (c *ManualClock) NowMs() int64 {
	return c.now.Load()
}

// Set moves the clock to an absolute time
func (c *ManualClock) Set(ms int64) {
	c.now.Store(ms)
}

// Advance moves the clock forward and returns the new time
func (c *ManualClock) Advance(ms int64) int64 {
	return c.now.Add(ms)
}

// Ticker counts discrete timesteps.
type Ticker struct {
	n uint64
}

// Step advances the counter and returns the new tick number
func (t *Ticker) Step() uint64 {
	t.n++
	return t.n
}

// Tick returns the current tick number
func (t *Ticker) Tick() uint64 {
	return t.n
}
