// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package balancing schedules which cells bleed charge.
//
// The scheduler runs once per completed module bus cycle. A session
// assigns every present cell a budget of balancing periods from its
// voltage above the pack minimum, then alternates even and odd cells,
// spending one period of budget per cell per included tick.
package balancing

import (
	"fmt"

	"github.com/Thermoquad/ampere/pkg/model"
	"github.com/Thermoquad/ampere/pkg/statemachine"
	"go.uber.org/zap"
)

// State of the scheduler
type State uint8

// States
const (
	Idle State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Active:
		return "ACTIVE"
	}
	return fmt.Sprintf("STATE_%d", uint8(s))
}

// Config tunes the scheduler
type Config struct {
	// IntervalMs is the minimum time spent idle between sessions
	IntervalMs int64 `mapstructure:"interval_ms" yaml:"interval_ms"`
	// MinOffsetMV is subtracted from every cell's spread above the minimum
	MinOffsetMV int32 `mapstructure:"min_offset_mv" yaml:"min_offset_mv"`
	// PeriodsPerMV converts remaining spread to balancing periods
	PeriodsPerMV int32 `mapstructure:"periods_per_mv" yaml:"periods_per_mv"`
	// FloorMV excludes cells at or below it from the minimum reference
	FloorMV int16 `mapstructure:"floor_mv" yaml:"floor_mv"`
	// PauseEvery inserts one empty-mask period after this many periods.
	// 0 never pauses.
	PauseEvery int `mapstructure:"pause_every" yaml:"pause_every"`
	// ShortCycle counts the pause period inside the PauseEvery window
	ShortCycle bool `mapstructure:"short_cycle" yaml:"short_cycle"`
}

// Scheduler owns the balance request mask
type Scheduler struct {
	sm        statemachine.Machine[State]
	cfg       Config
	log       *zap.Logger
	cells     int
	remaining [model.MaxCells]int32
	mask      model.Mask
	even      bool
	pause     int
}

// New creates an idle scheduler
func New(cfg Config, now int64, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{sm: statemachine.New(Idle, now), cfg: cfg, log: log, even: true}
}

// State returns the scheduler state
func (s *Scheduler) State() State {
	return s.sm.State()
}

// Mask returns the mask produced by the last tick
func (s *Scheduler) Mask() model.Mask {
	return s.mask
}

// Remaining returns the periods of balancing left for a cell
func (s *Scheduler) Remaining(cell int) int32 {
	if cell < 0 || cell >= model.MaxCells {
		return 0
	}
	return s.remaining[cell]
}

// EvenCells reports which parity the next tick starts from
func (s *Scheduler) EvenCells() bool {
	return s.even
}

// Tick advances one balancing period and returns the mask to transmit.
// suitable is false while balancing must not run; an active session is
// then abandoned with an empty mask.
//
// The mask and the balancing-active indicator are written to m.
func (s *Scheduler) Tick(m *model.Model, suitable bool, now int64) model.Mask {
	switch s.sm.State() {
	case Idle:
		if suitable && s.sm.TimedOut(now, s.cfg.IntervalMs) {
			if s.start(m) {
				s.transition(Active, now)
				s.step()
			} else {
				s.sm.Restart(now)
			}
		}

	case Active:
		switch {
		case !suitable:
			s.stop()
			s.transition(Idle, now)
		case s.finished():
			s.transition(Idle, now)
		case s.pauseDue():
			s.mask.Reset()
		default:
			s.step()
		}
	}
	m.BalanceMask = s.mask
	m.BalancingActive = !s.mask.IsZero()
	return s.mask
}

func (s *Scheduler) transition(to State, now int64) {
	from := s.sm.State()
	if s.sm.Transition(to, now) {
		s.log.Info("balancing state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Int("cells", s.budgeted()))
	}
}

// start computes per-cell budgets. Returns false when no cell needs work.
func (s *Scheduler) start(m *model.Model) bool {
	s.cells = m.CellCount()
	ref, ok := s.reference(m)
	if !ok {
		return false
	}
	work := false
	for i := 0; i < model.MaxCells; i++ {
		s.remaining[i] = 0
		if i >= s.cells {
			continue
		}
		mv, ok := m.CellReading(i)
		if !ok {
			continue
		}
		spread := int32(mv) - int32(ref) - s.cfg.MinOffsetMV
		if spread <= 0 {
			continue
		}
		s.remaining[i] = spread * s.cfg.PeriodsPerMV
		work = work || s.remaining[i] > 0
	}
	s.mask.Reset()
	s.even = true
	// the first period of a session counts toward the pause window
	s.pause = 1
	return work
}

// reference is the lowest present cell reading above the floor
func (s *Scheduler) reference(m *model.Model) (int16, bool) {
	var ref int16
	found := false
	for i := 0; i < s.cells; i++ {
		mv, ok := m.CellReading(i)
		if !ok || mv <= s.cfg.FloorMV {
			continue
		}
		if !found || mv < ref {
			ref = mv
			found = true
		}
	}
	return ref, found
}

func (s *Scheduler) stop() {
	for i := range s.remaining {
		s.remaining[i] = 0
	}
	s.mask.Reset()
}

func (s *Scheduler) finished() bool {
	return s.mask.IsZero() && s.budgeted() == 0
}

func (s *Scheduler) budgeted() int {
	n := 0
	for i := 0; i < s.cells; i++ {
		if s.remaining[i] > 0 {
			n++
		}
	}
	return n
}

// pauseDue advances the pause window and reports whether this period is
// the pause
func (s *Scheduler) pauseDue() bool {
	if s.cfg.PauseEvery <= 0 {
		return false
	}
	window := s.cfg.PauseEvery + 1
	if s.cfg.ShortCycle {
		window = s.cfg.PauseEvery
	}
	if window < 2 {
		return false
	}
	s.pause++
	if s.pause >= window {
		s.pause = 0
		return true
	}
	return false
}

// step rebuilds the mask from scratch for the active parity, flipping
// parity once when it has nothing left
func (s *Scheduler) step() {
	if s.fill(s.even) == 0 {
		s.even = !s.even
		s.fill(s.even)
	}
	s.even = !s.even
}

func (s *Scheduler) fill(even bool) int {
	s.mask.Reset()
	n := 0
	for i := 0; i < s.cells; i++ {
		if (i%2 == 0) != even || s.remaining[i] <= 0 {
			continue
		}
		s.mask.Set(i)
		s.remaining[i]--
		n++
	}
	return n
}
