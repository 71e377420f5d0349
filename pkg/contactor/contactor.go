// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package contactor sequences the pack power path: self-test of both
// main contactors, precharge of the output, and graceful or forced opening.
package contactor

import (
	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/Thermoquad/ampere/pkg/model"
	"github.com/Thermoquad/ampere/pkg/statemachine"
	"go.uber.org/zap"
)

// Driver is the contactor output stage
type Driver interface {
	SetPosPreNeg(pos, pre, neg bool)
	TestPre(on bool)
}

// Reporter receives sequencing faults
type Reporter interface {
	Confirm(condition bool, k events.Kind, data uint64) bool
	Count(k events.Kind, data uint64)
}

// Config holds sequencing thresholds and timings
type Config struct {
	SettleMs      int64 `mapstructure:"settle_ms" yaml:"settle_ms"`
	TestTimeoutMs int64 `mapstructure:"test_timeout_ms" yaml:"test_timeout_ms"`
	CooldownMs    int64 `mapstructure:"cooldown_ms" yaml:"cooldown_ms"`
	SenseMaxAgeMs int64 `mapstructure:"sense_max_age_ms" yaml:"sense_max_age_ms"`
	// Sense voltage as a percentage of battery voltage
	OpenBelowPct   int32 `mapstructure:"open_below_pct" yaml:"open_below_pct"`
	ClosedAbovePct int32 `mapstructure:"closed_above_pct" yaml:"closed_above_pct"`

	PrechargeMinMs       int64 `mapstructure:"precharge_min_ms" yaml:"precharge_min_ms"`
	PrechargeStableMs    int64 `mapstructure:"precharge_stable_ms" yaml:"precharge_stable_ms"`
	PrechargeTimeoutMs   int64 `mapstructure:"precharge_timeout_ms" yaml:"precharge_timeout_ms"`
	PrechargeToleranceMV int32 `mapstructure:"precharge_tolerance_mv" yaml:"precharge_tolerance_mv"`

	CurrentMaxAgeMs int64 `mapstructure:"current_max_age_ms" yaml:"current_max_age_ms"`
	InstantOpenMA   int32 `mapstructure:"instant_open_ma" yaml:"instant_open_ma"`
	DelayedOpenMA   int32 `mapstructure:"delayed_open_ma" yaml:"delayed_open_ma"`
	DelayedOpenMs   int64 `mapstructure:"delayed_open_ms" yaml:"delayed_open_ms"`
}

// Machine is the contactor state machine
type Machine struct {
	sm  statemachine.Machine[State]
	cfg Config
	drv Driver
	ev  Reporter
	log *zap.Logger

	calibrating    bool
	convergedSince int64
	openSince      int64
}

// New creates a machine in Open with outputs off
func New(cfg Config, drv Driver, ev Reporter, now int64, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Machine{sm: statemachine.New(Open, now), cfg: cfg, drv: drv, ev: ev, log: log}
	c.output()
	return c
}

// State returns the current state
func (c *Machine) State() State {
	return c.sm.State()
}

// Since returns the time of the last transition
func (c *Machine) Since() int64 {
	return c.sm.Since()
}

// Tick steps the machine once. The pending request in m is cleared when
// acted on; m.EnableCurrent is true only in Closed with no open pending.
func (c *Machine) Tick(m *model.Model, now int64) {
	if !c.request(m, now) {
		c.step(m, now)
	}
	m.EnableCurrent = c.sm.State() == Closed && m.ContactorRequest != model.RequestOpen
	c.output()
}

func (c *Machine) transition(to State, now int64) {
	from := c.sm.State()
	if !c.sm.Transition(to, now) {
		return
	}
	c.convergedSince = 0
	c.openSince = 0
	c.log.Info("contactor state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Bool("calibrating", c.calibrating))
}

func (c *Machine) output() {
	d := c.sm.State().drive()
	c.drv.TestPre(c.sm.State().Testing())
	c.drv.SetPosPreNeg(d.pos, d.pre, d.neg)
}

// request handles the pending request. Returns true if it transitioned.
func (c *Machine) request(m *model.Model, now int64) bool {
	req := m.ContactorRequest
	if req == model.RequestNull {
		return false
	}
	st := c.sm.State()
	consume := func() { m.ContactorRequest = model.RequestNull }

	switch {
	case req == model.RequestForceOpen || (req == model.RequestOpen && st != Closed && st != CalibratingClosed):
		// graceful opening of a closed path is decided in step
		consume()
		if st != Open && !st.Failed() {
			c.transition(Open, now)
			return true
		}

	case st == Open && (req == model.RequestClose || req == model.RequestCalibrate):
		consume()
		c.calibrating = req == model.RequestCalibrate
		c.transition(TestNegOpen, now)
		return true

	case st.Sequencing():
		if (req == model.RequestCalibrate) == c.calibrating {
			consume()
		}

	case st == Closed && req == model.RequestClose:
		consume()

	case st == CalibratingClosed && req == model.RequestCalibrate:
		consume()
	}
	return false
}

func (c *Machine) step(m *model.Model, now int64) {
	switch st := c.sm.State(); st {
	case TestNegOpen:
		c.selfTest(m, now, m.Contactor.NegSenseMV, false, events.NegContactorStuckClosed, TestNegClosed)
	case TestNegClosed:
		c.selfTest(m, now, m.Contactor.NegSenseMV, true, events.NegContactorStuckOpen, TestPosOpen)
	case TestPosOpen:
		c.selfTest(m, now, m.Contactor.PosSenseMV, false, events.PosContactorStuckClosed, TestPosClosed)
	case TestPosClosed:
		c.selfTest(m, now, m.Contactor.PosSenseMV, true, events.PosContactorStuckOpen, Precharging)

	case TestingFailed, PrechargeFailed:
		if c.sm.TimedOut(now, c.cfg.CooldownMs) {
			c.transition(Open, now)
		}

	case Precharging:
		c.precharge(m, now)

	case Closed, CalibratingClosed:
		if m.ContactorRequest != model.RequestOpen {
			c.openSince = 0
		} else if c.mayOpen(m, now) {
			m.ContactorRequest = model.RequestNull
			c.transition(Open, now)
		}
	}
}

// selfTest evaluates the sense predicate of a test state once the settle
// delay has passed
func (c *Machine) selfTest(m *model.Model, now int64, senseMV int32, wantClosed bool, stuck events.Kind, next State) {
	if c.sm.Elapsed(now) < c.cfg.SettleMs {
		return
	}
	batt := m.Contactor.BatteryMV
	if !model.Fresh(m.Contactor.Timestamp, now, c.cfg.SenseMaxAgeMs) || batt <= 0 {
		if c.sm.TimedOut(now, c.cfg.TestTimeoutMs) {
			c.ev.Count(events.SelfTestTimeout, uint64(c.sm.State()))
			c.transition(TestingFailed, now)
		}
		return
	}

	var ok bool
	if wantClosed {
		ok = int64(senseMV)*100 > int64(batt)*int64(c.cfg.ClosedAbovePct)
	} else {
		ok = int64(senseMV)*100 < int64(batt)*int64(c.cfg.OpenBelowPct)
	}
	data := uint64(uint32(senseMV))<<32 | uint64(uint32(batt))
	if !c.ev.Confirm(ok, stuck, data) {
		c.log.Warn("contactor self-test failed",
			zap.Stringer("state", c.sm.State()),
			zap.Int32("sense_mv", senseMV),
			zap.Int32("battery_mv", batt))
		c.transition(TestingFailed, now)
		return
	}
	c.transition(next, now)
}

func (c *Machine) precharge(m *model.Model, now int64) {
	s := m.Contactor
	diff := s.BatteryMV - s.OutputMV
	if diff < 0 {
		diff = -diff
	}
	converged := model.Fresh(s.Timestamp, now, c.cfg.SenseMaxAgeMs) && s.BatteryMV > 0 && diff <= c.cfg.PrechargeToleranceMV
	if !converged {
		c.convergedSince = 0
	} else if c.convergedSince == 0 {
		c.convergedSince = now
	}

	if converged && c.sm.Elapsed(now) >= c.cfg.PrechargeMinMs && now-c.convergedSince >= c.cfg.PrechargeStableMs {
		if c.calibrating {
			c.transition(CalibratingClosed, now)
		} else {
			c.transition(Closed, now)
		}
		return
	}
	if c.sm.TimedOut(now, c.cfg.PrechargeTimeoutMs) {
		c.ev.Count(events.PrechargeTimeout, uint64(uint32(diff)))
		c.log.Warn("precharge timed out", zap.Int32("difference_mv", diff))
		c.transition(PrechargeFailed, now)
	}
}

// mayOpen applies the graceful-open current thresholds. The delayed
// threshold's dwell runs from the first tick the open request was seen.
func (c *Machine) mayOpen(m *model.Model, now int64) bool {
	if c.openSince == 0 {
		c.openSince = now
	}
	if !model.Fresh(m.PackCurrentTs, now, c.cfg.CurrentMaxAgeMs) {
		return false
	}
	i := m.PackCurrentMA
	if i < 0 {
		i = -i
	}
	if i < c.cfg.InstantOpenMA {
		return true
	}
	return i < c.cfg.DelayedOpenMA && now-c.openSince >= c.cfg.DelayedOpenMs
}
