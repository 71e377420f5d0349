// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package core

import (
	"context"
	"time"

	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/VividCortex/ewma"
	"go.uber.org/zap"
)

// Runner drives a core on a fixed period
type Runner struct {
	core     *Core
	period   time.Duration
	avg      ewma.MovingAverage
	log      *zap.Logger
	overruns uint64
	// Step hook for the simulated pack
	before func(now int64)
}

// NewRunner creates a runner at the core's configured tick period
func NewRunner(c *Core, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		core:   c,
		period: time.Duration(c.cfg.TickMs) * time.Millisecond,
		avg:    ewma.NewMovingAverage(),
		log:    log,
	}
}

// Before registers f to run ahead of every tick with the tick time
func (r *Runner) Before(f func(now int64)) {
	r.before = f
}

// Overruns returns the number of ticks that took longer than the period
func (r *Runner) Overruns() uint64 {
	return r.overruns
}

// AverageTick returns the moving average tick duration
func (r *Runner) AverageTick() time.Duration {
	return time.Duration(r.avg.Value()) * time.Microsecond
}

// Run initialises the core, starts the maintenance worker and ticks until
// ctx is done
func (r *Runner) Run(ctx context.Context) error {
	r.core.Init(r.core.clock.NowMs())
	go r.core.maint.Run(ctx)

	t := time.NewTicker(r.period)
	defer t.Stop()
	r.log.Info("control loop started", zap.Duration("period", r.period))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("control loop stopped", zap.Uint64("ticks", r.core.Ticks()), zap.Uint64("overruns", r.overruns))
			return ctx.Err()
		case <-t.C:
			r.Step()
		}
	}
}

// Step runs one tick now and accounts for its duration
func (r *Runner) Step() {
	start := time.Now()
	now := r.core.clock.NowMs()
	if r.before != nil {
		r.before(now)
	}
	r.core.Tick(now)
	r.account(time.Since(start))
}

func (r *Runner) account(took time.Duration) {
	r.avg.Add(float64(took.Microseconds()))
	r.core.tickAvgUs = uint32(r.avg.Value())
	if r.core.takeDeadlineWaiver() || took <= r.period {
		return
	}
	r.overruns++
	r.core.tickOverruns = r.overruns
	r.core.events.Count(events.TickOverrun, uint64(took.Milliseconds()))
	r.log.Warn("tick overran its period",
		zap.Duration("took", took),
		zap.Duration("period", r.period),
		zap.Duration("average", r.AverageTick()))
}
