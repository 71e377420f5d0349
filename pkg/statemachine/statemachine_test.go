// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package statemachine

import "testing"

type testState uint8

const (
	stateA testState = iota
	stateB
)

func TestTransition_StampsTime(t *testing.T) {
	m := New(stateA, 100)
	if !m.Transition(stateB, 250) {
		t.Fatal("expected transition to report a change")
	}
	if m.State() != stateB || m.Since() != 250 {
		t.Errorf("got state=%d since=%d", m.State(), m.Since())
	}
}

func TestTransition_SameStateKeepsTimestamp(t *testing.T) {
	m := New(stateA, 100)
	if m.Transition(stateA, 500) {
		t.Error("self transition should report no change")
	}
	if m.Since() != 100 {
		t.Errorf("timestamp changed to %d", m.Since())
	}
}

func TestTimedOut(t *testing.T) {
	m := New(stateA, 1000)
	if m.TimedOut(1499, 500) {
		t.Error("timed out early")
	}
	if !m.TimedOut(1500, 500) {
		t.Error("expected timeout at exactly 500ms")
	}
	if m.Elapsed(1700) != 700 {
		t.Errorf("elapsed = %d", m.Elapsed(1700))
	}
}
