// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package supervisor is the top-level mode machine. It moves the pack
// between calibration and operation, and latches it into a safe fault
// state once any event reaches FATAL.
package supervisor

import (
	"fmt"

	"github.com/Thermoquad/ampere/pkg/calibration"
	"github.com/Thermoquad/ampere/pkg/contactor"
	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/Thermoquad/ampere/pkg/model"
	"github.com/Thermoquad/ampere/pkg/statemachine"
	"go.uber.org/zap"
)

// State of the supervisor
type State uint8

// States
const (
	Init State = iota
	Calibrating
	Standby
	Operating
	Fault
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Calibrating:
		return "CALIBRATING"
	case Standby:
		return "STANDBY"
	case Operating:
		return "OPERATING"
	case Fault:
		return "FAULT"
	}
	return fmt.Sprintf("STATE_%d", uint8(s))
}

// Reporter receives supervisor faults
type Reporter interface {
	Count(k events.Kind, data uint64)
}

// Saver accepts a new calibration. It must not block.
type Saver interface {
	SaveCalibration(b calibration.Blob)
}

// Config tunes the supervisor
type Config struct {
	StartupGraceMs int64             `mapstructure:"startup_grace_ms" yaml:"startup_grace_ms"`
	AutoCalibrate  bool              `mapstructure:"auto_calibrate" yaml:"auto_calibrate"`
	Calibration    CalibrationConfig `mapstructure:"calibration" yaml:"calibration"`
}

// Inputs are the signals the supervisor decides on
type Inputs struct {
	HighestLevel events.Level
	SensorsFresh bool
	Calibrated   bool
	Contactor    contactor.State
}

// Supervisor is the system mode machine
type Supervisor struct {
	sm    statemachine.Machine[State]
	cfg   Config
	cal   *Calibrator
	saver Saver
	log   *zap.Logger
}

// New creates a supervisor in Init
func New(cfg Config, ev Reporter, saver Saver, now int64, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		sm:    statemachine.New(Init, now),
		cfg:   cfg,
		cal:   NewCalibrator(cfg.Calibration, ev, now, log),
		saver: saver,
		log:   log,
	}
}

// State returns the supervisor state
func (s *Supervisor) State() State {
	return s.sm.State()
}

// Calibrator returns the calibration sequence
func (s *Supervisor) Calibrator() *Calibrator {
	return s.cal
}

func (s *Supervisor) transition(to State, now int64, reason string) {
	from := s.sm.State()
	if s.sm.Transition(to, now) {
		log := s.log.Info
		if to == Fault {
			log = s.log.Error
		}
		log("system state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.String("reason", reason))
	}
}

// request sets the contactor request unless the contactor already
// satisfies it
func request(m *model.Model, cs contactor.State, r model.ContactorRequest) {
	switch r {
	case model.RequestOpen:
		if cs == contactor.Open || cs.Failed() {
			if m.ContactorRequest == model.RequestOpen {
				m.ContactorRequest = model.RequestNull
			}
			return
		}
	case model.RequestClose:
		if cs != contactor.Open {
			return
		}
	}
	m.ContactorRequest = r
}

// Tick steps the supervisor once
func (s *Supervisor) Tick(m *model.Model, in Inputs, now int64) {
	if in.HighestLevel >= events.LevelFatal && s.sm.State() != Fault {
		s.cal.Abort(now)
		s.transition(Fault, now, "fatal event")
	}

	switch s.sm.State() {
	case Init:
		if !in.SensorsFresh && !s.sm.TimedOut(now, s.cfg.StartupGraceMs) {
			return
		}
		if !in.Calibrated && (s.cfg.AutoCalibrate || m.CalibrationRequested) {
			s.startCalibration(m, now, "uncalibrated")
			return
		}
		s.transition(Standby, now, "sensors ready")

	case Calibrating:
		s.cal.Tick(m, in.Contactor, now)
		switch s.cal.State() {
		case CalDone:
			b, _ := s.cal.Result()
			s.saver.SaveCalibration(b)
			s.transition(Standby, now, "calibration complete")
		case CalFailed:
			s.transition(Standby, now, "calibration failed")
		}

	case Standby:
		request(m, in.Contactor, model.RequestOpen)
		// a calibration request stays latched until the contactors are open
		switch {
		case m.CalibrationRequested:
			if in.Contactor == contactor.Open {
				s.startCalibration(m, now, "requested")
			}
		case m.PowerRequested && in.SensorsFresh:
			s.transition(Operating, now, "power requested")
		}

	case Operating:
		if !m.PowerRequested {
			request(m, in.Contactor, model.RequestOpen)
			s.transition(Standby, now, "power released")
			return
		}
		request(m, in.Contactor, model.RequestClose)

	case Fault:
		if in.Contactor != contactor.Open {
			m.ContactorRequest = model.RequestForceOpen
		} else {
			m.ContactorRequest = model.RequestNull
		}
	}
}

func (s *Supervisor) startCalibration(m *model.Model, now int64, reason string) {
	m.CalibrationRequested = false
	s.cal.Start(m, now)
	s.transition(Calibrating, now, reason)
}
