// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package contactor

import "fmt"

// State of the contactor sequencer
type State uint8

// States
const (
	Open State = iota
	TestNegOpen
	TestNegClosed
	TestPosOpen
	TestPosClosed
	TestingFailed
	Precharging
	PrechargeFailed
	Closed
	CalibratingClosed
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case TestNegOpen:
		return "TEST_NEG_OPEN"
	case TestNegClosed:
		return "TEST_NEG_CLOSED"
	case TestPosOpen:
		return "TEST_POS_OPEN"
	case TestPosClosed:
		return "TEST_POS_CLOSED"
	case TestingFailed:
		return "TESTING_FAILED"
	case Precharging:
		return "PRECHARGING"
	case PrechargeFailed:
		return "PRECHARGE_FAILED"
	case Closed:
		return "CLOSED"
	case CalibratingClosed:
		return "CALIBRATING_CLOSED"
	}
	return fmt.Sprintf("STATE_%d", uint8(s))
}

// Testing reports whether s is one of the self-test states
func (s State) Testing() bool {
	return s >= TestNegOpen && s <= TestPosClosed
}

// Sequencing reports whether s is a self-test or precharge state
func (s State) Sequencing() bool {
	return s.Testing() || s == Precharging
}

// Failed reports whether s is a forced-off cooldown state
func (s State) Failed() bool {
	return s == TestingFailed || s == PrechargeFailed
}

// drive is the (pos, pre, neg) output pattern of a state
type drive struct {
	pos, pre, neg bool
}

func (s State) drive() drive {
	switch s {
	case TestNegClosed:
		return drive{neg: true}
	case TestPosClosed:
		return drive{pos: true}
	case Precharging:
		return drive{pre: true, neg: true}
	case Closed, CalibratingClosed:
		return drive{pos: true, neg: true}
	}
	return drive{}
}
