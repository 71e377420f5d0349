// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package packsim simulates a battery pack for running the control core
// without hardware: the cell monitor daisy chain, the contactors with
// their sense lines, and the analog front end.
package packsim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Thermoquad/ampere/pkg/model"
	"github.com/Thermoquad/ampere/pkg/telemetry"
)

// ErrBusDown is returned by every transfer while the chain is unplugged
var ErrBusDown = errors.New("packsim: module chain not responding")

// Config describes the simulated pack
type Config struct {
	// Modules on the chain; 0 means up to the highest populated module
	Modules int `mapstructure:"modules" yaml:"modules"`

	InitialCellMV float64 `mapstructure:"initial_cell_mv" yaml:"initial_cell_mv"`
	SpreadMV      float64 `mapstructure:"spread_mv" yaml:"spread_mv"`
	EmptyCellMV   float64 `mapstructure:"empty_cell_mv" yaml:"empty_cell_mv"`
	FullCellMV    float64 `mapstructure:"full_cell_mv" yaml:"full_cell_mv"`
	CapacityMAh   float64 `mapstructure:"capacity_mah" yaml:"capacity_mah"`
	NoiseMV       float64 `mapstructure:"noise_mv" yaml:"noise_mv"`

	// LoadMA flows while the path is closed and current is enabled,
	// positive when charging
	LoadMA float64 `mapstructure:"load_ma" yaml:"load_ma"`
	// BalanceMA bleeds from each balanced cell
	BalanceMA float64 `mapstructure:"balance_ma" yaml:"balance_ma"`
	// BalanceDropMV is subtracted from the reading of a balanced cell
	BalanceDropMV float64 `mapstructure:"balance_drop_mv" yaml:"balance_drop_mv"`

	AmbientDC int16 `mapstructure:"ambient_dc" yaml:"ambient_dc"`
	// HeatDCPerAmp raises module temperatures with pack current
	HeatDCPerAmp float64 `mapstructure:"heat_dc_per_amp" yaml:"heat_dc_per_amp"`

	// Analog front end errors corrected by calibration
	CurrentOffsetMA int32   `mapstructure:"current_offset_ma" yaml:"current_offset_ma"`
	VoltageGain     float64 `mapstructure:"voltage_gain" yaml:"voltage_gain"`

	PrechargeTauMs float64 `mapstructure:"precharge_tau_ms" yaml:"precharge_tau_ms"`
	// IdleTimeoutMs puts the chain to sleep, losing its configuration
	IdleTimeoutMs int64 `mapstructure:"idle_timeout_ms" yaml:"idle_timeout_ms"`

	Seed int64 `mapstructure:"seed" yaml:"seed"`
}

// DefaultConfig returns a healthy pack
func DefaultConfig() Config {
	return Config{
		InitialCellMV:   3700,
		SpreadMV:        20,
		EmptyCellMV:     3000,
		FullCellMV:      4200,
		CapacityMAh:     50000,
		NoiseMV:         1,
		LoadMA:          -20000,
		BalanceMA:       100,
		BalanceDropMV:   15,
		AmbientDC:       250,
		HeatDCPerAmp:    0.5,
		CurrentOffsetMA: 150,
		VoltageGain:     0.98,
		PrechargeTauMs:  100,
		IdleTimeoutMs:   2000,
		Seed:            1,
	}
}

// Faults are injected failures
type Faults struct {
	NegStuckClosed bool
	NegStuckOpen   bool
	PosStuckClosed bool
	PosStuckOpen   bool
	NoPrecharge    bool
	BusDown        bool
	// CorruptModules has bit m set for every module whose responses get
	// CorruptXOR applied to their CRC
	CorruptModules uint8
	CorruptXOR     uint16
}

// Statistics counts chain traffic
type Statistics struct {
	Transfers   uint64
	Wakes       uint64
	Resets      uint64
	BalanceCmds uint64
	Errors      uint64
}

type module struct {
	cells        [model.SlotsPerModule]float64
	enabled      uint16
	configured   bool
	balance      uint16
	balanceUntil int64
}

// Pack is the simulated pack. It is safe for concurrent use.
type Pack struct {
	mu      sync.Mutex
	cfg     Config
	layout  *model.Layout
	modules int
	rng     *rand.Rand

	now       int64
	lastComms int64
	mods      [model.MaxModules]module

	pos, pre, neg bool
	testPre       bool
	load          bool
	outputMV      float64
	currentMA     float64

	faults Faults
	stats  Statistics
}

// New builds a pack over a layout
func New(cfg Config, layout *model.Layout) (*Pack, error) {
	if cfg.Modules == 0 {
		for m := model.MaxModules - 1; m >= 0; m-- {
			if layout.ModulePopulated(m) {
				cfg.Modules = m + 1
				break
			}
		}
	}
	if cfg.Modules <= 0 || cfg.Modules > model.MaxModules {
		return nil, fmt.Errorf("packsim: module count %d out of range 1..%d", cfg.Modules, model.MaxModules)
	}
	if cfg.CapacityMAh <= 0 {
		return nil, fmt.Errorf("packsim: capacity must be positive, got %v", cfg.CapacityMAh)
	}
	if cfg.VoltageGain == 0 {
		cfg.VoltageGain = 1
	}
	p := &Pack{
		cfg:     cfg,
		layout:  layout,
		modules: cfg.Modules,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
	for m := 0; m < p.modules; m++ {
		for s := range p.mods[m].cells {
			p.mods[m].cells[s] = cfg.InitialCellMV + (p.rng.Float64()*2-1)*cfg.SpreadMV
		}
	}
	return p, nil
}

// Modules returns the chain length
func (p *Pack) Modules() int {
	return p.modules
}

// SetFaults replaces the injected faults
func (p *Pack) SetFaults(f Faults) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults = f
}

// Statistics returns a copy of the traffic counters
func (p *Pack) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// CellMV returns the true voltage of dense cell i
func (p *Pack) CellMV(i int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, s, ok := p.layout.SlotOf(i)
	if !ok {
		return 0
	}
	return p.mods[m].cells[s]
}

// SetCellMV overrides the true voltage of dense cell i
func (p *Pack) SetCellMV(i int, mv float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, s, ok := p.layout.SlotOf(i); ok {
		p.mods[m].cells[s] = mv
	}
}

// Balancing reports whether dense cell i is being bled
func (p *Pack) Balancing(i int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, s, ok := p.layout.SlotOf(i)
	return ok && p.balancing(m, s)
}

func (p *Pack) balancing(m, s int) bool {
	mod := &p.mods[m]
	return mod.balance&(1<<uint(s)) != 0 && p.now < mod.balanceUntil
}

// Contactors returns the commanded outputs
func (p *Pack) Contactors() (pos, pre, neg bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos, p.pre, p.neg
}

// CurrentMA returns the true pack current
func (p *Pack) CurrentMA() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentMA
}

// SetPosPreNeg drives the contactor coils
func (p *Pack) SetPosPreNeg(pos, pre, neg bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos, p.pre, p.neg = pos, pre, neg
}

// TestPre drives the self-test precharge path
func (p *Pack) TestPre(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.testPre = on
}

// SetEnableCurrent gates the load
func (p *Pack) SetEnableCurrent(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.load = on
}

func (p *Pack) negClosed() bool {
	return (p.neg || p.faults.NegStuckClosed) && !p.faults.NegStuckOpen
}

func (p *Pack) posClosed() bool {
	return (p.pos || p.faults.PosStuckClosed) && !p.faults.PosStuckOpen
}

func (p *Pack) batteryMV() float64 {
	var sum float64
	for i := 0; i < p.layout.CellCount(); i++ {
		m, s, _ := p.layout.SlotOf(i)
		sum += p.mods[m].cells[s]
	}
	return sum
}

// Step advances the pack physics to now
func (p *Pack) Step(now int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.now == 0 || now <= p.now {
		if p.now == 0 {
			p.now, p.lastComms = now, now
		}
		return
	}
	dt := float64(now - p.now)
	p.now = now

	batt := p.batteryMV()
	neg, pos := p.negClosed(), p.posClosed()
	switch {
	case neg && pos:
		p.outputMV = batt
	case neg && p.pre && !p.faults.NoPrecharge:
		p.outputMV += (batt - p.outputMV) * (1 - math.Exp(-dt/p.cfg.PrechargeTauMs))
	default:
		p.outputMV -= p.outputMV * (1 - math.Exp(-dt/(4*p.cfg.PrechargeTauMs)))
	}

	p.currentMA = 0
	if neg && pos && p.load {
		p.currentMA = p.cfg.LoadMA
	}

	perMAh := (p.cfg.FullCellMV - p.cfg.EmptyCellMV) / p.cfg.CapacityMAh
	hours := dt / float64(time.Hour/time.Millisecond)
	for i := 0; i < p.layout.CellCount(); i++ {
		m, s, _ := p.layout.SlotOf(i)
		c := &p.mods[m].cells[s]
		*c += p.currentMA * hours * perMAh
		if p.balancing(m, s) {
			*c -= p.cfg.BalanceMA * hours * perMAh
		}
	}

	if p.cfg.IdleTimeoutMs > 0 && now-p.lastComms > p.cfg.IdleTimeoutMs {
		for m := range p.mods {
			p.mods[m].configured = false
		}
	}
}

// Sample reads the analog front end
func (p *Pack) Sample() (model.AnalogSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := p.cfg.VoltageGain
	batt := p.batteryMV()
	s := model.AnalogSample{
		CurrentMA: int32(math.Round(p.currentMA)) + p.cfg.CurrentOffsetMA,
		BatteryMV: int32(math.Round(batt * g)),
		OutputMV:  int32(math.Round(p.outputMV * g)),
	}
	if p.negClosed() {
		s.NegSenseMV = s.BatteryMV
	}
	if p.posClosed() {
		s.PosSenseMV = s.BatteryMV
	}
	return s, nil
}

// Wake asserts the chain wake line
func (p *Pack) Wake(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Wakes++
	if p.faults.BusDown {
		p.stats.Errors++
		return ErrBusDown
	}
	p.lastComms = p.now
	return nil
}

// Transfer executes command frames on the chain
func (p *Pack) Transfer(tx, rx []byte, skip int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Transfers++
	err := p.transfer(tx, rx, skip)
	if err != nil {
		p.stats.Errors++
	}
	return err
}

func (p *Pack) transfer(tx, rx []byte, skip int) error {
	if p.faults.BusDown {
		return ErrBusDown
	}
	cmds, err := telemetry.SplitFrames(tx)
	if err != nil {
		return err
	}
	p.lastComms = p.now
	for _, c := range cmds {
		p.command(c)
	}
	if len(rx) == 0 {
		return nil
	}
	if len(cmds) != 1 || skip != len(tx) {
		return fmt.Errorf("packsim: read of %d frames skipping %d bytes", len(cmds), skip)
	}
	if len(rx) != p.modules*telemetry.ResponseSize {
		return fmt.Errorf("packsim: read buffer of %d bytes for %d modules", len(rx), p.modules)
	}
	for m := 0; m < p.modules; m++ {
		if !p.mods[m].configured {
			return fmt.Errorf("packsim: module %d not configured", m)
		}
	}

	out := rx[:0]
	for m := p.modules - 1; m >= 0; m-- {
		out = telemetry.AppendResponse(out, p.read(m, cmds[0]))
		if p.faults.CorruptModules&(1<<uint(m)) != 0 {
			x := p.faults.CorruptXOR
			if x == 0 {
				x = 1
			}
			out[len(out)-2] ^= byte(x >> 8)
			out[len(out)-1] ^= byte(x)
		}
	}
	return nil
}

func (p *Pack) command(c telemetry.Command) {
	switch c.Code {
	case telemetry.CmdResetComms:
		p.stats.Resets++
		for m := range p.mods {
			p.mods[m].configured = false
			p.mods[m].balance = 0
		}
	case telemetry.CmdWriteConfig:
		if int(c.Address) < p.modules {
			mod := &p.mods[c.Address]
			mod.enabled = uint16(c.Args[0]) | uint16(c.Args[1])<<8
			mod.configured = true
		}
	case telemetry.CmdWriteBalance:
		if int(c.Address) < p.modules {
			p.stats.BalanceCmds++
			mod := &p.mods[c.Address]
			mod.balance = (uint16(c.Args[0]) | uint16(c.Args[2])<<8) & mod.enabled
			mod.balanceUntil = p.now + int64(c.Args[1])*1000
		}
	}
}

func (p *Pack) read(m int, c telemetry.Command) [3]uint16 {
	var v [3]uint16
	mod := &p.mods[m]
	switch c.Code {
	case telemetry.CmdReadBank:
		for k := range v {
			s := int(c.Args[0])*telemetry.CellsPerBank + k
			if s >= model.SlotsPerModule-1 || mod.enabled&(1<<uint(s)) == 0 {
				v[k] = telemetry.RawNotMeasured
				continue
			}
			mv := mod.cells[s] + (p.rng.Float64()*2-1)*p.cfg.NoiseMV
			if p.balancing(m, s) {
				mv -= p.cfg.BalanceDropMV
			}
			v[k] = uint16(math.Max(0, math.Round(mv)))
		}
	case telemetry.CmdReadTemps:
		t := p.cfg.AmbientDC + int16(math.Abs(p.currentMA)/1000*p.cfg.HeatDCPerAmp)
		v = [3]uint16{uint16(t), uint16(t + 5), telemetry.RawNoTemp}
	default:
		for k := range v {
			v[k] = telemetry.RawNotMeasured
		}
	}
	return v
}
