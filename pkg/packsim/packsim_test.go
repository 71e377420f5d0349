// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packsim

import (
	"testing"
	"time"

	"github.com/Thermoquad/ampere/pkg/calibration"
	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/Thermoquad/ampere/pkg/model"
	"github.com/Thermoquad/ampere/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type counter map[events.Kind]int

func (c counter) Count(k events.Kind, _ uint64) { c[k]++ }

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.SpreadMV = 0
	cfg.NoiseMV = 0
	return cfg
}

func newPack(t *testing.T, cfg Config) (*Pack, *model.Layout) {
	t.Helper()
	l, err := model.NewLayout([model.MaxModules]uint16{0x7FFF, 0x00FF})
	require.NoError(t, err)
	p, err := New(cfg, l)
	require.NoError(t, err)
	p.Step(1)
	return p, l
}

func newBus(t *testing.T, p *Pack, l *model.Layout) (*telemetry.Bus, *model.Model, counter) {
	t.Helper()
	rep := counter{}
	bus, err := telemetry.NewBus(p, l, telemetry.Options{
		ShortWake:       time.Millisecond,
		LongWake:        10 * time.Millisecond,
		BalanceTimeoutS: 20,
	}, rep, zaptest.NewLogger(t))
	require.NoError(t, err)
	return bus, model.New(l), rep
}

func TestBusReadsPack(t *testing.T) {
	p, l := newPack(t, quietConfig())
	bus, m, rep := newBus(t, p, l)
	assert.Equal(t, 2, p.Modules())

	require.NoError(t, bus.Cycle(m, 1))
	for i := 0; i < l.CellCount(); i++ {
		assert.Equal(t, int16(3700), m.CellVoltages[i], "cell %d", i)
	}
	assert.Equal(t, int64(1), m.CellVoltagesTs)
	assert.Equal(t, int64(1), m.TempsTs)
	assert.Equal(t, int16(255), m.ModuleTemps[0])
	assert.Empty(t, rep)
	assert.Equal(t, uint64(1), p.Statistics().Resets)
}

func TestIdleChainNeedsResync(t *testing.T) {
	p, l := newPack(t, quietConfig())
	bus, m, rep := newBus(t, p, l)
	require.NoError(t, bus.Cycle(m, 1))

	p.Step(5000)
	assert.Error(t, bus.Cycle(m, 5000))
	assert.Equal(t, 1, rep[events.ModuleReadFailure])

	require.NoError(t, bus.Cycle(m, 5100))
	assert.Equal(t, uint64(2), p.Statistics().Resets)
}

func TestCorruptModule(t *testing.T) {
	p, l := newPack(t, quietConfig())
	p.SetFaults(Faults{CorruptModules: 1 << 1, CorruptXOR: 0x0001})
	bus, m, rep := newBus(t, p, l)

	require.NoError(t, bus.Cycle(m, 1))
	assert.Equal(t, telemetry.Banks+1, rep[events.ModuleCRCFailure])
	for i := 0; i < l.CellCount(); i++ {
		mod, _, _ := l.SlotOf(i)
		if mod == 1 {
			assert.Equal(t, model.CellNotMeasured, m.CellVoltages[i], "cell %d", i)
		} else {
			assert.Equal(t, int16(3700), m.CellVoltages[i], "cell %d", i)
		}
	}
	assert.False(t, m.ModuleTempsOK[1])
	assert.True(t, m.ModuleTempsOK[0])
}

func TestBusDown(t *testing.T) {
	p, l := newPack(t, quietConfig())
	p.SetFaults(Faults{BusDown: true})
	bus, m, _ := newBus(t, p, l)

	err := bus.Cycle(m, 1)
	assert.ErrorIs(t, err, ErrBusDown)
	assert.NotZero(t, p.Statistics().Errors)
}

func TestBalanceBleedsCell(t *testing.T) {
	cfg := quietConfig()
	cfg.CapacityMAh = 100
	cfg.IdleTimeoutMs = 0
	p, l := newPack(t, cfg)
	bus, m, _ := newBus(t, p, l)
	require.NoError(t, bus.Cycle(m, 1))

	var mask model.Mask
	mask.Set(0)
	require.NoError(t, bus.WriteBalance(mask))
	assert.True(t, p.Balancing(0))
	assert.False(t, p.Balancing(1))

	p.Step(10001)
	assert.Less(t, p.CellMV(0), 3697.0)
	assert.Equal(t, 3700.0, p.CellMV(1))

	p.Step(30001)
	assert.False(t, p.Balancing(0), "balance timeout")
}

func TestBalancedCellReadsLow(t *testing.T) {
	cfg := quietConfig()
	cfg.IdleTimeoutMs = 0
	p, l := newPack(t, cfg)
	bus, m, _ := newBus(t, p, l)
	require.NoError(t, bus.Cycle(m, 1))

	var mask model.Mask
	mask.Set(2)
	require.NoError(t, bus.WriteBalance(mask))
	// a cycle with BalancingActive clear stores the depressed reading
	require.NoError(t, bus.Cycle(m, 2))
	assert.Equal(t, int16(3700-15), m.CellVoltages[2])
	assert.Equal(t, int16(3700), m.CellVoltages[3])
}

func TestPrecharge(t *testing.T) {
	p, _ := newPack(t, quietConfig())
	p.SetPosPreNeg(false, true, true)
	for now := int64(11); now <= 1001; now += 10 {
		p.Step(now)
	}
	s, err := p.Sample()
	require.NoError(t, err)
	assert.InDelta(t, s.BatteryMV, s.OutputMV, float64(s.BatteryMV)/100)
	assert.Equal(t, s.BatteryMV, s.NegSenseMV)
	assert.Zero(t, s.PosSenseMV)

	p.SetPosPreNeg(false, false, false)
	for now := int64(1011); now <= 5001; now += 10 {
		p.Step(now)
	}
	s, _ = p.Sample()
	assert.Less(t, s.OutputMV, s.BatteryMV/100)
	assert.Zero(t, s.NegSenseMV)
}

func TestNoPrecharge(t *testing.T) {
	p, _ := newPack(t, quietConfig())
	p.SetFaults(Faults{NoPrecharge: true})
	p.SetPosPreNeg(false, true, true)
	p.Step(1001)
	s, _ := p.Sample()
	assert.Zero(t, s.OutputMV)
}

func TestStuckContactors(t *testing.T) {
	tests := []struct {
		name     string
		faults   Faults
		pos, neg bool
		wantPos  bool
		wantNeg  bool
	}{
		{"neg stuck closed", Faults{NegStuckClosed: true}, false, false, false, true},
		{"neg stuck open", Faults{NegStuckOpen: true}, true, true, true, false},
		{"pos stuck closed", Faults{PosStuckClosed: true}, false, false, true, false},
		{"pos stuck open", Faults{PosStuckOpen: true}, true, true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPack(t, quietConfig())
			p.SetFaults(tt.faults)
			p.SetPosPreNeg(tt.pos, false, tt.neg)
			s, err := p.Sample()
			require.NoError(t, err)
			assert.Equal(t, tt.wantPos, s.PosSenseMV > 0)
			assert.Equal(t, tt.wantNeg, s.NegSenseMV > 0)
		})
	}
}

func TestFrontEndErrorIsCalibratable(t *testing.T) {
	cfg := quietConfig()
	p, l := newPack(t, cfg)
	p.SetPosPreNeg(true, false, true)
	p.SetEnableCurrent(true)
	p.Step(101)
	assert.Equal(t, cfg.LoadMA, p.CurrentMA())

	s, err := p.Sample()
	require.NoError(t, err)
	assert.Equal(t, int32(cfg.LoadMA)+cfg.CurrentOffsetMA, s.CurrentMA)

	var sum float64
	for i := 0; i < l.CellCount(); i++ {
		sum += p.CellMV(i)
	}
	b := calibration.Default()
	b.CurrentOffsetMA = cfg.CurrentOffsetMA
	b.BatteryVoltageGain = float32(1 / cfg.VoltageGain)
	assert.Equal(t, int32(cfg.LoadMA), b.CurrentMA(s.CurrentMA))
	assert.InDelta(t, sum, float64(b.BatteryMV(s.BatteryMV)), 2)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	l, err := model.NewLayout([model.MaxModules]uint16{0x0001})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Modules = 9
	_, err = New(cfg, l)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.CapacityMAh = 0
	_, err = New(cfg, l)
	assert.Error(t, err)
}
