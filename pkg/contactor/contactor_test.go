// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package contactor

import (
	"testing"

	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/Thermoquad/ampere/pkg/model"
	"github.com/Thermoquad/ampere/pkg/timebase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const batteryMV = 50000

func testConfig() Config {
	return Config{
		SettleMs:             100,
		TestTimeoutMs:        1000,
		CooldownMs:           2000,
		SenseMaxAgeMs:        500,
		OpenBelowPct:         10,
		ClosedAbovePct:       90,
		PrechargeMinMs:       200,
		PrechargeStableMs:    100,
		PrechargeTimeoutMs:   3000,
		PrechargeToleranceMV: 1000,
		CurrentMaxAgeMs:      500,
		InstantOpenMA:        1000,
		DelayedOpenMA:        5000,
		DelayedOpenMs:        2000,
	}
}

// plant models the contactors and their sense lines
type plant struct {
	pos, pre, neg bool
	testPre       bool

	negStuckClosed, negStuckOpen bool
	posStuckClosed, posStuckOpen bool
	noConverge                   bool
	frozen                       bool
}

func (p *plant) SetPosPreNeg(pos, pre, neg bool) { p.pos, p.pre, p.neg = pos, pre, neg }
func (p *plant) TestPre(on bool)                 { p.testPre = on }

func (p *plant) sense(m *model.Model, now int64) {
	if p.frozen {
		return
	}
	neg := (p.neg || p.negStuckClosed) && !p.negStuckOpen
	pos := (p.pos || p.posStuckClosed) && !p.posStuckOpen
	s := model.ContactorSense{BatteryMV: batteryMV, Timestamp: now}
	if neg {
		s.NegSenseMV = batteryMV
	}
	if pos {
		s.PosSenseMV = batteryMV
	}
	if (pos || p.pre) && neg && !p.noConverge {
		s.OutputMV = batteryMV - 200
	}
	m.Contactor = s
}

type harness struct {
	t     *testing.T
	m     *model.Model
	p     *plant
	c     *Machine
	table *events.Table
	now   int64
	seen  []State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l, err := model.NewLayout([model.MaxModules]uint16{0x0001})
	require.NoError(t, err)
	h := &harness{t: t, m: model.New(l), p: &plant{}, now: 1000}
	h.table = events.New(events.DefaultDefinitions(), timebase.NewManualClock(h.now), zaptest.NewLogger(t))
	h.c = New(testConfig(), h.p, h.table, h.now, zaptest.NewLogger(t))
	h.seen = []State{Open}
	return h
}

// run advances in 50 ms ticks for d milliseconds
func (h *harness) run(d int64) {
	for end := h.now + d; h.now < end; {
		h.now += 50
		h.p.sense(h.m, h.now)
		h.c.Tick(h.m, h.now)
		if st := h.c.State(); st != h.seen[len(h.seen)-1] {
			h.seen = append(h.seen, st)
		}
	}
}

func (h *harness) close() {
	h.m.ContactorRequest = model.RequestClose
	h.run(2000)
	require.Equal(h.t, Closed, h.c.State(), "visited %v", h.seen)
}

func TestClose_RunsFullSelfTest(t *testing.T) {
	h := newHarness(t)
	h.close()

	assert.Equal(t, []State{Open, TestNegOpen, TestNegClosed, TestPosOpen, TestPosClosed, Precharging, Closed}, h.seen)
	assert.True(t, h.m.EnableCurrent)
	assert.Equal(t, model.RequestNull, h.m.ContactorRequest)
	assert.True(t, h.p.pos && h.p.neg && !h.p.pre)
	assert.False(t, h.p.testPre)
	assert.Equal(t, events.LevelNone, h.table.HighestLevel())
}

func TestDrivePatterns(t *testing.T) {
	tests := []struct {
		state         State
		pos, pre, neg bool
	}{
		{Open, false, false, false},
		{TestNegOpen, false, false, false},
		{TestNegClosed, false, false, true},
		{TestPosOpen, false, false, false},
		{TestPosClosed, true, false, false},
		{TestingFailed, false, false, false},
		{Precharging, false, true, true},
		{PrechargeFailed, false, false, false},
		{Closed, true, false, true},
		{CalibratingClosed, true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			d := tt.state.drive()
			assert.Equal(t, drive{tt.pos, tt.pre, tt.neg}, d)
		})
	}
}

func TestSelfTestFailure_NeverCloses(t *testing.T) {
	tests := []struct {
		name     string
		fault    func(p *plant)
		failedIn State
		kind     events.Kind
	}{
		{"neg stuck closed", func(p *plant) { p.negStuckClosed = true }, TestNegOpen, events.NegContactorStuckClosed},
		{"neg stuck open", func(p *plant) { p.negStuckOpen = true }, TestNegClosed, events.NegContactorStuckOpen},
		{"pos stuck closed", func(p *plant) { p.posStuckClosed = true }, TestPosOpen, events.PosContactorStuckClosed},
		{"pos stuck open", func(p *plant) { p.posStuckOpen = true }, TestPosClosed, events.PosContactorStuckOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.fault(h.p)
			h.m.ContactorRequest = model.RequestClose
			h.run(1000)

			require.Equal(t, TestingFailed, h.c.State(), "visited %v", h.seen)
			assert.Equal(t, tt.failedIn, h.seen[len(h.seen)-2])
			assert.Equal(t, events.LevelCritical, h.table.Level(tt.kind))
			assert.False(t, h.m.EnableCurrent)
			assert.False(t, h.p.pos || h.p.pre || h.p.neg)

			h.run(2000)
			assert.Equal(t, Open, h.c.State())
			assert.NotContains(t, h.seen, Closed)
			assert.NotContains(t, h.seen, Precharging)
		})
	}
}

func TestSelfTest_StaleSenseTimesOut(t *testing.T) {
	h := newHarness(t)
	h.p.frozen = true
	h.m.ContactorRequest = model.RequestClose

	h.run(950)
	assert.Equal(t, TestNegOpen, h.c.State())
	h.run(100)
	assert.Equal(t, TestingFailed, h.c.State())
	slot, _ := h.table.Slot(events.SelfTestTimeout)
	assert.Equal(t, uint16(1), slot.Count)
}

func TestSelfTest_SettleDelay(t *testing.T) {
	h := newHarness(t)
	h.m.ContactorRequest = model.RequestClose
	h.run(50)
	require.Equal(t, TestNegOpen, h.c.State())
	h.run(50)
	assert.Equal(t, TestNegOpen, h.c.State(), "predicate evaluated before settle")
	h.run(50)
	assert.Equal(t, TestNegClosed, h.c.State())
}

func TestPrecharge_Timeout(t *testing.T) {
	h := newHarness(t)
	h.p.noConverge = true
	h.m.ContactorRequest = model.RequestClose
	h.run(4000)

	assert.Contains(t, h.seen, PrechargeFailed)
	assert.NotContains(t, h.seen, Closed)
	slot, _ := h.table.Slot(events.PrechargeTimeout)
	assert.Equal(t, uint16(1), slot.Count)
	assert.Equal(t, events.LevelWarning, slot.Level)

	h.run(2000)
	assert.Equal(t, Open, h.c.State())
}

func TestPrecharge_OpenRequestCancels(t *testing.T) {
	h := newHarness(t)
	h.p.noConverge = true
	h.m.ContactorRequest = model.RequestClose
	h.run(600)
	require.Equal(t, Precharging, h.c.State())

	h.m.ContactorRequest = model.RequestOpen
	h.run(50)
	assert.Equal(t, Open, h.c.State())
	assert.Equal(t, model.RequestNull, h.m.ContactorRequest)
}

func TestGracefulOpen(t *testing.T) {
	tests := []struct {
		name      string
		currentMA int32
		stale     bool
		opensBy   int64
	}{
		{"instant below threshold", -500, false, 50},
		{"delayed after dwell", 3000, false, 2050},
		{"too much current", 8000, false, 0},
		{"stale current", 0, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.close()

			h.m.PackCurrentMA = tt.currentMA
			h.m.PackCurrentTs = h.now
			if tt.stale {
				h.m.PackCurrentTs = 0
			}
			h.m.ContactorRequest = model.RequestOpen
			opened := int64(0)
			start := h.now
			for h.now-start < 3000 && opened == 0 {
				if !tt.stale {
					h.m.PackCurrentTs = h.now
				}
				h.run(50)
				if h.c.State() == Open {
					opened = h.now - start
				}
			}
			if tt.opensBy == 0 {
				assert.Zero(t, opened)
				assert.Equal(t, Closed, h.c.State())
				assert.Equal(t, model.RequestOpen, h.m.ContactorRequest)
				assert.False(t, h.m.EnableCurrent, "current stays disabled while the open is pending")
				return
			}
			assert.Equal(t, tt.opensBy, opened)
			assert.False(t, h.m.EnableCurrent)
		})
	}
}

func TestForceOpen(t *testing.T) {
	h := newHarness(t)
	h.close()
	h.m.PackCurrentMA = 100000
	h.m.PackCurrentTs = h.now
	h.m.ContactorRequest = model.RequestForceOpen
	h.run(50)
	assert.Equal(t, Open, h.c.State())
	assert.False(t, h.p.pos || h.p.neg)
}

func TestCalibrate_ClosesWithoutEnablingCurrent(t *testing.T) {
	h := newHarness(t)
	h.m.ContactorRequest = model.RequestCalibrate
	h.run(2000)

	require.Equal(t, CalibratingClosed, h.c.State(), "visited %v", h.seen)
	assert.Contains(t, h.seen, TestPosClosed)
	assert.Contains(t, h.seen, Precharging)
	assert.False(t, h.m.EnableCurrent)
	assert.True(t, h.p.pos && h.p.neg)

	h.m.PackCurrentTs = h.now
	h.m.ContactorRequest = model.RequestOpen
	h.run(50)
	assert.Equal(t, Open, h.c.State())
}

func TestFailedState_KeepsCloseRequestPending(t *testing.T) {
	h := newHarness(t)
	h.p.negStuckClosed = true
	h.m.ContactorRequest = model.RequestClose
	h.run(500)
	require.Equal(t, TestingFailed, h.c.State())

	h.m.ContactorRequest = model.RequestClose
	h.run(500)
	assert.Equal(t, TestingFailed, h.c.State())
	assert.Equal(t, model.RequestClose, h.m.ContactorRequest)

	// a retry starts as soon as the cooldown ends
	h.p.negStuckClosed = false
	h.run(1600)
	last := 0
	for i, st := range h.seen {
		if st == TestingFailed {
			last = i
		}
	}
	require.Greater(t, len(h.seen), last+2)
	assert.Equal(t, []State{Open, TestNegOpen}, h.seen[last+1:last+3])
	assert.Equal(t, model.RequestNull, h.m.ContactorRequest)
}
