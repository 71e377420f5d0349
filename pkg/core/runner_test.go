// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/ampere/pkg/calibration"
	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/Thermoquad/ampere/pkg/hostlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRunner_CountsOverruns(t *testing.T) {
	r := newRig(t, testConfig(), quietPack(), nil)
	run := NewRunner(r.core, zaptest.NewLogger(t))
	period := time.Duration(tickMs) * time.Millisecond

	run.account(period / 2)
	assert.Zero(t, run.Overruns())

	run.account(2 * period)
	assert.Equal(t, uint64(1), run.Overruns())
	slot, _ := r.core.Events().Slot(events.TickOverrun)
	assert.Equal(t, uint16(1), slot.Count)

	r.core.IgnoreMissedDeadline()
	run.account(2 * period)
	assert.Equal(t, uint64(1), run.Overruns(), "waived tick")

	// the waiver only covers one tick
	run.account(2 * period)
	assert.Equal(t, uint64(2), run.Overruns())
	assert.NotZero(t, run.AverageTick())

	v, st := r.core.Registry().Read(RegTickOverruns)
	require.Equal(t, hostlink.StatusOK, st)
	assert.Equal(t, uint64(2), v.Uint())
	v, st = r.core.Registry().Read(RegTickAverageUs)
	require.Equal(t, hostlink.StatusOK, st)
	assert.Equal(t, uint64(run.AverageTick()/time.Microsecond), v.Uint())
}

func TestRunner_StepsCore(t *testing.T) {
	r := newRig(t, testConfig(), quietPack(), nil)
	run := NewRunner(r.core, zaptest.NewLogger(t))
	var seen []int64
	run.Before(func(now int64) {
		seen = append(seen, now)
		r.pack.Step(now)
	})

	r.clock.Advance(tickMs)
	run.Step()
	r.clock.Advance(tickMs)
	run.Step()
	assert.Equal(t, []int64{1050, 1100}, seen)
	assert.Equal(t, uint64(2), r.core.Ticks())
	assert.NotZero(t, r.core.Model().CellVoltagesTs)
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	r := newRig(t, testConfig(), quietPack(), nil)
	run := NewRunner(r.core, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := run.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotZero(t, r.core.Ticks())
}

type failingStore struct{ calibration.MemStore }

func (s *failingStore) Save(*calibration.Blob) error { return errors.New("flash write failed") }

func TestMaintenance_KeepsNewest(t *testing.T) {
	store := &calibration.MemStore{}
	w := NewMaintenance(store, zaptest.NewLogger(t))

	first := calibration.Default()
	first.CurrentOffsetMA = 10
	second := calibration.Default()
	second.CurrentOffsetMA = 20
	w.SaveCalibration(first)
	w.SaveCalibration(second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		saved, _ := w.Saved()
		return saved == 1
	}, time.Second, 5*time.Millisecond)
	_, dropped := w.Saved()
	assert.Equal(t, uint64(1), dropped)
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, int32(20), got.CurrentOffsetMA)
	assert.NoError(t, w.Err())
}

func TestMaintenance_ReportsSaveError(t *testing.T) {
	w := NewMaintenance(&failingStore{}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.SaveCalibration(calibration.Default())
	require.Eventually(t, func() bool { return w.Err() != nil }, time.Second, 5*time.Millisecond)
	saved, _ := w.Saved()
	assert.Zero(t, saved)
}
