// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package statemachine holds the value shared by every ampere state machine:
// the current state tag and the time of the last transition.
package statemachine

// Machine is embedded by value in each state machine's own struct.
// The zero value is in state 0 with no recorded transition.
type Machine[S ~uint8] struct {
	state S
	since int64
}

// New returns a machine in the initial state, stamped at now
func New[S ~uint8](initial S, now int64) Machine[S] {
	return Machine[S]{state: initial, since: now}
}

// State returns the current state
func (m *Machine[S]) State() S {
	return m.state
}

// Since returns the time of the last transition
func (m *Machine[S]) Since() int64 {
	return m.since
}

// Transition moves to s and stamps now. Returns false when already in s,
// in which case the timestamp is left alone.
func (m *Machine[S]) Transition(s S, now int64) bool {
	if m.state == s {
		return false
	}
	m.state = s
	m.since = now
	return true
}

// Restart stamps now without changing state, restarting its timers
func (m *Machine[S]) Restart(now int64) {
	m.since = now
}

// Elapsed returns milliseconds spent in the current state
func (m *Machine[S]) Elapsed(now int64) int64 {
	return now - m.since
}

// TimedOut reports whether at least timeoutMs have passed in the current state
func (m *Machine[S]) TimedOut(now int64, timeoutMs int64) bool {
	return now-m.since >= timeoutMs
}
