// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package core owns one pack's control loop. A Core holds every component
// and the shared model, and advances them in a fixed order each tick:
// sensors, fault evaluation, decisions, then host-link service.
package core

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Thermoquad/ampere/pkg/balancing"
	"github.com/Thermoquad/ampere/pkg/calibration"
	"github.com/Thermoquad/ampere/pkg/contactor"
	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/Thermoquad/ampere/pkg/hostlink"
	"github.com/Thermoquad/ampere/pkg/limits"
	"github.com/Thermoquad/ampere/pkg/model"
	"github.com/Thermoquad/ampere/pkg/soc"
	"github.com/Thermoquad/ampere/pkg/supervisor"
	"github.com/Thermoquad/ampere/pkg/telemetry"
	"github.com/Thermoquad/ampere/pkg/timebase"
	"go.uber.org/zap"
)

// Analog is the analog front end: pack current and contactor sense lines
type Analog interface {
	Sample() (model.AnalogSample, error)
}

// CurrentEnable is the output telling chargers and loads current may flow
type CurrentEnable interface {
	SetEnableCurrent(on bool)
}

// Deps are the hardware collaborators of a Core
type Deps struct {
	Clock  timebase.Clock
	Bus    telemetry.Transport
	Driver contactor.Driver
	Analog Analog
	// Optional
	Enable CurrentEnable
	Store  calibration.Store
	Log    *zap.Logger
}

type link struct {
	srv       *hostlink.Server
	crcErrors uint64
}

// Core is the control context of one pack
type Core struct {
	cfg    Config
	clock  timebase.Clock
	log    *zap.Logger
	layout *model.Layout
	model  *model.Model

	events     *events.Table
	bus        *telemetry.Bus
	contactor  *contactor.Machine
	balancer   *balancing.Scheduler
	supervisor *supervisor.Supervisor
	soc        soc.Estimator
	analog     Analog
	enable     CurrentEnable

	registry *hostlink.Registry
	linksMu  sync.Mutex
	links    []*link

	maint      *Maintenance
	cal        calibration.Blob
	calibrated bool

	started    int64
	lastBus    int64
	lastMask   model.Mask
	ticks      timebase.Ticker
	missedOK   bool

	// published by the runner after every tick
	tickAvgUs    uint32
	tickOverruns uint64
}

// New wires a core. Nothing runs until Init.
func New(cfg Config, deps Deps) (*Core, error) {
	if deps.Clock == nil || deps.Bus == nil || deps.Driver == nil || deps.Analog == nil {
		return nil, errors.New("core: clock, bus, driver and analog front end are required")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TickMs <= 0 || cfg.BusCycleMs < cfg.TickMs {
		return nil, fmt.Errorf("core: tick %d ms and bus cycle %d ms are inconsistent", cfg.TickMs, cfg.BusCycleMs)
	}
	layout, err := model.NewLayout(cfg.Modules)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	c := &Core{
		cfg:    cfg,
		clock:  deps.Clock,
		log:    log,
		layout: layout,
		model:  model.New(layout),
		analog: deps.Analog,
		enable: deps.Enable,
		cal:    calibration.Default(),
	}
	if cfg.Events[0].Name == "" {
		cfg.Events = events.DefaultDefinitions()
		c.cfg.Events = cfg.Events
	}
	now := c.clock.NowMs()
	c.events = events.New(cfg.Events, c.clock, log.Named("events"))
	c.bus, err = telemetry.NewBus(deps.Bus, layout, cfg.Bus, c.events, log.Named("telemetry"))
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	c.contactor = contactor.New(cfg.Contactor, deps.Driver, c.events, now, log.Named("contactor"))
	c.balancer = balancing.New(cfg.Balancing, now, log.Named("balancing"))
	c.supervisor = supervisor.New(cfg.Supervisor, c.events, c, now, log.Named("supervisor"))
	c.soc = soc.NewCoulombCounter(cfg.SoC.CapacityMAh, cfg.SoC.Curve, cfg.SoC.MaxAgeMs)
	c.maint = NewMaintenance(deps.Store, log.Named("maintenance"))
	c.model.BalancingEnabled = cfg.BalancingEnabled

	c.registry = hostlink.NewRegistry()
	if err := c.bindRegisters(); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	return c, nil
}

// Init loads the stored calibration and stamps the start of the startup
// grace period
func (c *Core) Init(now int64) {
	c.started = now
	b, ok, err := calibration.Loaded(c.maint.store)
	switch {
	case ok:
		c.log.Info("calibration loaded",
			zap.Int32("current_offset_ma", b.CurrentOffsetMA),
			zap.Float32("battery_voltage_gain", b.BatteryVoltageGain))
	case errors.Is(err, calibration.ErrNotFound):
		c.log.Info("no stored calibration")
	default:
		c.log.Warn("stored calibration rejected", zap.Error(err))
	}
	c.cal, c.calibrated = b, ok
}

// Model returns the shared model. Only read it from the tick goroutine.
func (c *Core) Model() *model.Model { return c.model }

// Events returns the event table
func (c *Core) Events() *events.Table { return c.events }

// Registry returns the host-link register registry
func (c *Core) Registry() *hostlink.Registry { return c.registry }

// Layout returns the cell layout
func (c *Core) Layout() *model.Layout { return c.layout }

// Maintenance returns the persistence worker
func (c *Core) Maintenance() *Maintenance { return c.maint }

// Calibration returns the calibration in use
func (c *Core) Calibration() (calibration.Blob, bool) { return c.cal, c.calibrated }

// SystemState returns the supervisor state
func (c *Core) SystemState() supervisor.State { return c.supervisor.State() }

// ContactorState returns the contactor state
func (c *Core) ContactorState() contactor.State { return c.contactor.State() }

// BalancingState returns the balancing scheduler state
func (c *Core) BalancingState() balancing.State { return c.balancer.State() }

// BusStatistics returns the module bus counters
func (c *Core) BusStatistics() telemetry.Statistics { return c.bus.Statistics() }

// Ticks returns the number of completed ticks
func (c *Core) Ticks() uint64 { return c.ticks.Tick() }

// SaveCalibration applies a new calibration and queues it for storage
func (c *Core) SaveCalibration(b calibration.Blob) {
	c.cal, c.calibrated = b, true
	c.maint.SaveCalibration(b)
}

// IgnoreMissedDeadline excuses the current tick from overrun accounting
func (c *Core) IgnoreMissedDeadline() {
	c.missedOK = true
}

// takeDeadlineWaiver reports and clears the waiver of the last tick
func (c *Core) takeDeadlineWaiver() bool {
	ok := c.missedOK
	c.missedOK = false
	return ok
}

// AttachLink creates a host-link server answering on out. Feed it from
// the transport with Feed or Pump. Safe to call while the core runs.
func (c *Core) AttachLink(out io.Writer) *hostlink.Server {
	srv := hostlink.NewServer(c.cfg.Serial, c.registry, cellSource{c.model}, c.events, out, c.log.Named("hostlink"))
	c.linksMu.Lock()
	c.links = append(c.links, &link{srv: srv})
	c.linksMu.Unlock()
	return srv
}

// DetachLink stops serving a link
func (c *Core) DetachLink(srv *hostlink.Server) {
	c.linksMu.Lock()
	defer c.linksMu.Unlock()
	for i, l := range c.links {
		if l.srv == srv {
			c.links = append(c.links[:i], c.links[i+1:]...)
			return
		}
	}
}

// Tick runs one control step
func (c *Core) Tick(now int64) {
	busDue := c.sense(now)
	c.evaluate(now)
	c.decide(now, busDue)
	c.serve()
	c.ticks.Step()
}

// sense writes sensor readings into the model. Returns whether a module
// bus cycle ran.
func (c *Core) sense(now int64) bool {
	m := c.model
	if s, err := c.analog.Sample(); err != nil {
		c.log.Debug("analog sample failed", zap.Error(err))
	} else {
		m.RawCurrentMA = s.CurrentMA
		m.RawBatteryMV = s.BatteryMV
		m.PackCurrentMA = c.cal.CurrentMA(s.CurrentMA)
		m.PackCurrentTs = now
		m.Contactor = model.ContactorSense{
			BatteryMV:  c.cal.BatteryMV(s.BatteryMV),
			OutputMV:   c.cal.BatteryMV(s.OutputMV),
			PosSenseMV: c.cal.BatteryMV(s.PosSenseMV),
			NegSenseMV: c.cal.BatteryMV(s.NegSenseMV),
			Timestamp:  now,
		}
	}

	if c.lastBus != 0 && now-c.lastBus < c.cfg.BusCycleMs {
		return false
	}
	c.lastBus = now
	if c.bus.Resyncing() {
		c.IgnoreMissedDeadline()
	}
	if err := c.bus.Cycle(m, now); err != nil {
		c.log.Debug("module bus cycle failed", zap.Error(err))
	}
	// stats only follow a read stored without balancing load
	if m.CellVoltagesTs == now {
		m.Aggregate(now)
	}
	m.AggregateTemps()
	return true
}

func (c *Core) decide(now int64, busDue bool) {
	m := c.model
	level := c.events.HighestLevel()
	k := &c.cfg.Checks
	fresh := model.Fresh(m.CellStatsTs, now, k.CellMaxAgeMs) &&
		model.Fresh(m.TempsTs, now, k.TempMaxAgeMs) &&
		model.Fresh(m.PackCurrentTs, now, k.CurrentMaxAgeMs) &&
		model.Fresh(m.Contactor.Timestamp, now, k.SenseMaxAgeMs)

	c.supervisor.Tick(m, supervisor.Inputs{
		HighestLevel: level,
		SensorsFresh: fresh,
		Calibrated:   c.calibrated,
		Contactor:    c.contactor.State(),
	}, now)
	c.contactor.Tick(m, now)
	if c.enable != nil {
		c.enable.SetEnableCurrent(m.EnableCurrent)
	}
	limits.Derive(&c.cfg.Limits, m, now)
	c.soc.Update(m, now)

	if !busDue {
		return
	}
	suitable := m.BalancingEnabled &&
		level < events.LevelFatal &&
		model.Fresh(m.CellVoltagesTs, now, k.CellMaxAgeMs) &&
		!c.contactor.State().Sequencing()
	mask := c.balancer.Tick(m, suitable, now)
	if mask.IsZero() && c.lastMask.IsZero() {
		return
	}
	if err := c.bus.WriteBalance(mask); err != nil {
		c.log.Debug("balance write failed", zap.Error(err))
		return
	}
	c.lastMask = mask
}

func (c *Core) serve() {
	c.linksMu.Lock()
	links := append([]*link(nil), c.links...)
	c.linksMu.Unlock()
	for _, l := range links {
		l.srv.Poll()
		crc := l.srv.Statistics().CRCErrors
		for ; l.crcErrors < crc; l.crcErrors++ {
			c.events.Count(events.HostLinkCRCFailure, l.crcErrors+1)
		}
	}
}

type cellSource struct {
	m *model.Model
}

func (s cellSource) CellCount() int { return s.m.CellCount() }

func (s cellSource) CellVoltage(i int) int16 { return s.m.CellVoltages[i] }
