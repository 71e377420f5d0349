// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

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

// CalState of the calibration sequence
type CalState uint8

// Calibration states
const (
	CalIdle CalState = iota
	CalClosing
	CalSampling
	CalOpening
	CalDone
	CalFailed
)

func (s CalState) String() string {
	switch s {
	case CalIdle:
		return "IDLE"
	case CalClosing:
		return "CLOSING"
	case CalSampling:
		return "SAMPLING"
	case CalOpening:
		return "OPENING"
	case CalDone:
		return "DONE"
	case CalFailed:
		return "FAILED"
	}
	return fmt.Sprintf("STATE_%d", uint8(s))
}

// CalibrationConfig tunes the calibration sequence
type CalibrationConfig struct {
	CloseTimeoutMs  int64 `mapstructure:"close_timeout_ms" yaml:"close_timeout_ms"`
	SampleTimeoutMs int64 `mapstructure:"sample_timeout_ms" yaml:"sample_timeout_ms"`
	OpenTimeoutMs   int64 `mapstructure:"open_timeout_ms" yaml:"open_timeout_ms"`
	Samples         int   `mapstructure:"samples" yaml:"samples"`
}

// Calibrator closes the contactors without enabling current, samples the
// zero-current offset and the battery voltage gain, then opens again
type Calibrator struct {
	sm  statemachine.Machine[CalState]
	cfg CalibrationConfig
	ev  Reporter
	log *zap.Logger

	lastSample int64
	samples    int
	currentSum int64
	battSum    int64
	cellSum    int64
	result     calibration.Blob
}

// NewCalibrator creates an idle calibrator
func NewCalibrator(cfg CalibrationConfig, ev Reporter, now int64, log *zap.Logger) *Calibrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Calibrator{sm: statemachine.New(CalIdle, now), cfg: cfg, ev: ev, log: log}
}

// State returns the calibrator state
func (c *Calibrator) State() CalState {
	return c.sm.State()
}

// Result returns the blob of the last successful run
func (c *Calibrator) Result() (calibration.Blob, bool) {
	return c.result, c.sm.State() == CalDone
}

// Start begins a run, requesting the calibrating close
func (c *Calibrator) Start(m *model.Model, now int64) {
	c.samples, c.currentSum, c.battSum, c.cellSum = 0, 0, 0, 0
	c.lastSample = 0
	m.ContactorRequest = model.RequestCalibrate
	c.transition(CalClosing, now)
}

// Busy reports whether a run is in progress
func (c *Calibrator) Busy() bool {
	st := c.sm.State()
	return st == CalClosing || st == CalSampling || st == CalOpening
}

// Abort abandons a run in progress
func (c *Calibrator) Abort(now int64) {
	if c.Busy() {
		c.fail(now, "aborted")
	}
}

func (c *Calibrator) transition(to CalState, now int64) {
	from := c.sm.State()
	if c.sm.Transition(to, now) {
		c.log.Info("calibration state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	}
}

func (c *Calibrator) fail(now int64, reason string) {
	c.ev.Count(events.CalibrationFailed, uint64(c.sm.State()))
	c.log.Warn("calibration failed", zap.String("reason", reason), zap.Stringer("state", c.sm.State()))
	c.transition(CalFailed, now)
}

// Tick advances a run
func (c *Calibrator) Tick(m *model.Model, cs contactor.State, now int64) {
	switch c.sm.State() {
	case CalClosing:
		switch {
		case cs == contactor.CalibratingClosed:
			c.transition(CalSampling, now)
		case c.sm.TimedOut(now, c.cfg.CloseTimeoutMs):
			m.ContactorRequest = model.RequestOpen
			c.fail(now, "contactors did not close")
		}

	case CalSampling:
		if cs != contactor.CalibratingClosed {
			c.fail(now, "contactors opened while sampling")
			return
		}
		c.sample(m)
		if c.samples >= c.cfg.Samples {
			if err := c.finish(); err != nil {
				m.ContactorRequest = model.RequestOpen
				c.fail(now, err.Error())
				return
			}
			m.ContactorRequest = model.RequestOpen
			c.transition(CalOpening, now)
			return
		}
		if c.sm.TimedOut(now, c.cfg.SampleTimeoutMs) {
			m.ContactorRequest = model.RequestOpen
			c.fail(now, "not enough fresh samples")
		}

	case CalOpening:
		switch {
		case cs == contactor.Open:
			c.log.Info("calibration complete",
				zap.Int32("current_offset_ma", c.result.CurrentOffsetMA),
				zap.Float32("battery_voltage_gain", c.result.BatteryVoltageGain))
			c.transition(CalDone, now)
		case c.sm.TimedOut(now, c.cfg.OpenTimeoutMs):
			c.fail(now, "contactors did not open")
		}
	}
}

// sample takes one reading per new sensor timestamp
func (c *Calibrator) sample(m *model.Model) {
	ts := m.PackCurrentTs
	if ts == 0 || ts == c.lastSample || m.Contactor.Timestamp == 0 || m.CellTotalMV <= 0 {
		return
	}
	c.lastSample = ts
	c.samples++
	c.currentSum += int64(m.RawCurrentMA)
	c.battSum += int64(m.RawBatteryMV)
	c.cellSum += int64(m.CellTotalMV)
}

func (c *Calibrator) finish() error {
	n := int64(c.samples)
	if c.battSum <= 0 {
		return fmt.Errorf("battery voltage reads %d mV", c.battSum/n)
	}
	b := calibration.Default()
	b.CurrentOffsetMA = int32(c.currentSum / n)
	b.BatteryVoltageGain = float32(float64(c.cellSum) / float64(c.battSum))
	if err := b.Validate(); err != nil {
		return err
	}
	c.result = b
	return nil
}
