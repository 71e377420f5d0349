// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package events is the fault registry: one slot per event kind, leveled,
// counted and escalated by time or occurrence.
//
// Unknown kinds are accepted on every entry point and ignored, so callers
// never need to branch on a kind before reporting it. FATAL is sticky for
// the lifetime of the table.
package events

import (
	"fmt"
	"math"

	"github.com/Thermoquad/ampere/pkg/timebase"
	"go.uber.org/zap"
)

// decisecondMs is the resolution of CRITICAL escalation accounting
const decisecondMs = 100

// Slot is the state of one event kind
type Slot struct {
	Level     Level
	Count     uint16 // saturating
	Timestamp int64  // last raised, ms
	Data      uint64 // diagnostic payload of the last raise
	// Accumulator holds deciseconds spent CRITICAL, only used by kinds with
	// a time leeway
	Accumulator uint32
}

// Table owns every event slot.
type Table struct {
	defs     [KindCount]Definition
	slots    [KindCount]Slot
	highest  Level
	clock    timebase.Clock
	log      *zap.Logger
	lastTick int64
}

// New creates a zeroed table
func New(defs [KindCount]Definition, clock timebase.Clock, log *zap.Logger) *Table {
	if log == nil {
		log = zap.NewNop()
	}
	return &Table{defs: defs, clock: clock, log: log}
}

// ApplyLeeways overrides count and time leeways by event name
func ApplyLeeways(defs *[KindCount]Definition, counts map[string]uint16, times map[string]uint32) error {
	for name, v := range counts {
		k, ok := KindByName(defs, name)
		if !ok {
			return fmt.Errorf("unknown event %q in count leeways", name)
		}
		if defs[k].Level != LevelWarning {
			return fmt.Errorf("event %q is %s, count leeway only applies to WARNING", name, defs[k].Level)
		}
		defs[k].CountLeeway = v
	}
	for name, v := range times {
		k, ok := KindByName(defs, name)
		if !ok {
			return fmt.Errorf("unknown event %q in time leeways", name)
		}
		if defs[k].Level != LevelCritical {
			return fmt.Errorf("event %q is %s, time leeway only applies to CRITICAL", name, defs[k].Level)
		}
		defs[k].TimeLeeway = v
	}
	return nil
}

func valid(k Kind) bool {
	return k < KindCount
}

// Confirm clears the event when condition holds and raises it otherwise.
// Returns condition unchanged.
func (t *Table) Confirm(condition bool, k Kind, data uint64) bool {
	if !valid(k) {
		return condition
	}
	if condition {
		t.Clear(k)
	} else {
		t.Raise(k, data)
	}
	return condition
}

// CheckOrConfirm behaves like Confirm when gate is true and does nothing
// when it is false
func (t *Table) CheckOrConfirm(condition, gate bool, k Kind, data uint64) bool {
	if !gate {
		return condition
	}
	return t.Confirm(condition, k, data)
}

// Raise activates an event. An already-active non-repeating event keeps
// its count but has its timestamp and data refreshed.
func (t *Table) Raise(k Kind, data uint64) {
	if !valid(k) {
		return
	}
	s := &t.slots[k]
	def := &t.defs[k]
	active := s.Level != LevelNone
	s.Timestamp = t.clock.NowMs()
	s.Data = data
	if !active || def.Repeating {
		s.bump()
	}
	if !active {
		t.log.Warn("event raised",
			zap.String("event", def.Name),
			zap.Stringer("level", def.Level),
			zap.Uint64("data", data))
		t.setLevel(k, def.Level)
	}
	t.checkCount(k)
}

// Count records one occurrence, always incrementing the count
func (t *Table) Count(k Kind, data uint64) {
	if !valid(k) {
		return
	}
	s := &t.slots[k]
	def := &t.defs[k]
	s.Timestamp = t.clock.NowMs()
	s.Data = data
	s.bump()
	if s.Level < def.Level {
		t.setLevel(k, def.Level)
	}
	t.checkCount(k)
}

// Clear deactivates an event. FATAL events cannot be cleared.
func (t *Table) Clear(k Kind) {
	if !valid(k) {
		return
	}
	s := &t.slots[k]
	if s.Level == LevelNone || s.Level == LevelFatal {
		return
	}
	t.log.Info("event cleared", zap.String("event", t.defs[k].Name))
	t.setLevel(k, LevelNone)
}

// Tick runs time-based CRITICAL to FATAL escalation. Elapsed time is
// truncated to whole deciseconds; the remainder carries into the next call.
func (t *Table) Tick(now int64) {
	if t.lastTick == 0 || now < t.lastTick {
		t.lastTick = now
		return
	}
	ds := (now - t.lastTick) / decisecondMs
	if ds == 0 {
		return
	}
	t.lastTick += ds * decisecondMs
	step := uint32(ds)
	if ds > math.MaxUint32 {
		step = math.MaxUint32
	}

	for k := Kind(0); k < KindCount; k++ {
		def := &t.defs[k]
		if def.Level != LevelCritical || def.TimeLeeway == 0 {
			continue
		}
		s := &t.slots[k]
		switch s.Level {
		case LevelCritical:
			if def.TimeLeeway-s.Accumulator <= step {
				s.Accumulator = def.TimeLeeway
				t.escalate(k, "time leeway exhausted")
			} else {
				s.Accumulator += step
			}
		case LevelFatal:
		default:
			if s.Accumulator > step {
				s.Accumulator -= step
			} else {
				s.Accumulator = 0
			}
		}
	}
}

// HighestLevel returns the maximum level across the table
func (t *Table) HighestLevel() Level {
	return t.highest
}

// Level returns the current level of a kind, LevelNone for unknown kinds
func (t *Table) Level(k Kind) Level {
	if !valid(k) {
		return LevelNone
	}
	return t.slots[k].Level
}

// Active reports whether a kind is currently raised
func (t *Table) Active(k Kind) bool {
	return t.Level(k) != LevelNone
}

// Slot returns a copy of a slot
func (t *Table) Slot(k Kind) (Slot, bool) {
	if !valid(k) {
		return Slot{}, false
	}
	return t.slots[k], true
}

// Definition returns the definition of a kind
func (t *Table) Definition(k Kind) (Definition, bool) {
	if !valid(k) {
		return Definition{}, false
	}
	return t.defs[k], true
}

func (t *Table) checkCount(k Kind) {
	def := &t.defs[k]
	if def.Level != LevelWarning || def.CountLeeway == 0 {
		return
	}
	if t.slots[k].Count > def.CountLeeway {
		t.escalate(k, "count leeway exhausted")
	}
}

func (t *Table) escalate(k Kind, reason string) {
	if t.slots[k].Level == LevelFatal {
		return
	}
	t.log.Error("event escalated to FATAL",
		zap.String("event", t.defs[k].Name),
		zap.String("reason", reason),
		zap.Uint16("count", t.slots[k].Count))
	t.setLevel(k, LevelFatal)
}

func (t *Table) setLevel(k Kind, l Level) {
	if t.slots[k].Level == l {
		return
	}
	t.slots[k].Level = l
	t.recomputeHighest()
}

// recomputeHighest scans the whole table; escalation, clearing and
// re-raising all change the answer
func (t *Table) recomputeHighest() {
	h := LevelNone
	for i := range t.slots {
		if t.slots[i].Level > h {
			h = t.slots[i].Level
		}
	}
	t.highest = h
}

func (s *Slot) bump() {
	if s.Count < math.MaxUint16 {
		s.Count++
	}
}
