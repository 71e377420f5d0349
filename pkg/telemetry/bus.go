// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/Thermoquad/ampere/pkg/model"
	"go.uber.org/zap"
)

// Transport moves bytes on the module chain. Transfer sends tx, discards
// the first skip received bytes and fills rx with the rest; rx may be
// empty for write-only commands. Wake asserts the wake line for d.
type Transport interface {
	Transfer(tx, rx []byte, skip int) error
	Wake(d time.Duration) error
}

// Reporter receives counted bus failures
type Reporter interface {
	Count(k events.Kind, data uint64)
}

// Options configures a Bus
type Options struct {
	// Modules on the chain; 0 means up to the highest populated module
	Modules         int           `mapstructure:"modules" yaml:"modules"`
	ShortWake       time.Duration `mapstructure:"short_wake" yaml:"short_wake"`
	LongWake        time.Duration `mapstructure:"long_wake" yaml:"long_wake"`
	BalanceTimeoutS uint8         `mapstructure:"balance_timeout_s" yaml:"balance_timeout_s"`
}

// Bus runs read and write cycles over the module chain.
//
// A failed cycle leaves the bus resyncing: the next cycle sends the long
// wake, resets bus communications and rewrites the module configuration
// before reading anything.
type Bus struct {
	transport Transport
	layout    *model.Layout
	opts      Options
	reporter  Reporter
	log       *zap.Logger

	lastReadFailed bool
	rx             []byte
	stats          Statistics
}

// Statistics counts bus cycle outcomes
type Statistics struct {
	Cycles     uint64
	Failed     uint64
	CRCErrors  uint64
	Tolerated  uint64
	Resyncs    uint64
	BalanceTxs uint64
}

// NewBus creates a bus. The first cycle always resyncs.
func NewBus(t Transport, layout *model.Layout, opts Options, reporter Reporter, log *zap.Logger) (*Bus, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Modules == 0 {
		for m := model.MaxModules - 1; m >= 0; m-- {
			if layout.ModulePopulated(m) {
				opts.Modules = m + 1
				break
			}
		}
	}
	if opts.Modules <= 0 || opts.Modules > model.MaxModules {
		return nil, fmt.Errorf("telemetry: module count %d out of range 1..%d", opts.Modules, model.MaxModules)
	}
	for m := opts.Modules; m < model.MaxModules; m++ {
		if layout.ModulePopulated(m) {
			return nil, fmt.Errorf("telemetry: module %d populated but chain has %d modules", m, opts.Modules)
		}
	}
	return &Bus{
		transport:      t,
		layout:         layout,
		opts:           opts,
		reporter:       reporter,
		log:            log,
		lastReadFailed: true,
		rx:             make([]byte, opts.Modules*ResponseSize),
	}, nil
}

// Modules returns the chain length
func (b *Bus) Modules() int {
	return b.opts.Modules
}

// Resyncing reports whether the next cycle starts with a resync
func (b *Bus) Resyncing() bool {
	return b.lastReadFailed
}

// Statistics returns a copy of the bus counters
func (b *Bus) Statistics() Statistics {
	return b.stats
}

// Cycle wakes the chain, resyncing if the last cycle failed, then reads
// every voltage bank and the temperatures into m.
//
// Frames failing CRC are counted and their cells marked not measured;
// the remaining modules are still processed. A transport failure aborts
// the cycle and is returned.
func (b *Bus) Cycle(m *model.Model, now int64) error {
	b.stats.Cycles++
	err := b.cycle(m, now)
	if err != nil {
		b.stats.Failed++
		b.reporter.Count(events.ModuleReadFailure, 0)
		if !b.lastReadFailed {
			b.log.Warn("module bus cycle failed, resyncing next cycle", zap.Error(err))
		}
	}
	b.lastReadFailed = err != nil
	return err
}

func (b *Bus) cycle(m *model.Model, now int64) error {
	if b.lastReadFailed {
		b.stats.Resyncs++
		if err := b.resync(); err != nil {
			return fmt.Errorf("resync: %w", err)
		}
	} else if err := b.transport.Wake(b.opts.ShortWake); err != nil {
		return fmt.Errorf("wake: %w", err)
	}

	stable := !m.BalancingActive
	valid := 0
	for bank := 0; bank < Banks; bank++ {
		n, err := b.readBank(m, bank, stable)
		if err != nil {
			return fmt.Errorf("bank %d: %w", bank, err)
		}
		valid += n
	}
	if valid > 0 && stable {
		m.CellVoltagesTs = now
	}

	if err := b.readTemps(m, now); err != nil {
		return fmt.Errorf("temperatures: %w", err)
	}
	return nil
}

func (b *Bus) resync() error {
	if err := b.transport.Wake(b.opts.LongWake); err != nil {
		return err
	}
	if err := b.transport.Transfer(ResetCommsCommand().Encode(), nil, 0); err != nil {
		return err
	}
	return b.transport.Transfer(WriteConfigFrames(b.layout, b.opts.Modules), nil, 0)
}

// transfer sends a broadcast read and returns the frame of each module
func (b *Bus) transfer(c Command) ([]byte, error) {
	tx := c.Encode()
	if err := b.transport.Transfer(tx, b.rx, len(tx)); err != nil {
		return nil, err
	}
	return b.rx, nil
}

// frame checks module mod's response frame, counting CRC failures
func (b *Bus) frame(rx []byte, mod int, code byte, arg int) ([3]uint16, bool) {
	off := ResponseOffset(mod, b.opts.Modules)
	f := rx[off : off+ResponseSize]
	v, err := ParseResponse(f)
	if errors.Is(err, ErrCRC) {
		b.stats.CRCErrors++
		b.reporter.Count(events.ModuleCRCFailure, uint64(mod)<<16|uint64(code)<<8|uint64(arg))
		return v, false
	}
	received := uint16(f[ResponseData])<<8 | uint16(f[ResponseData+1])
	if received != CRC14(f[:ResponseData]) {
		b.stats.Tolerated++
	}
	return v, err == nil
}

// readBank reads one voltage bank, returning how many module frames were valid
func (b *Bus) readBank(m *model.Model, bank int, stable bool) (int, error) {
	rx, err := b.transfer(ReadBankCommand(bank))
	if err != nil {
		return 0, err
	}
	valid := 0
	for mod := 0; mod < b.opts.Modules; mod++ {
		v, ok := b.frame(rx, mod, CmdReadBank, bank)
		if ok {
			valid++
		}
		for k := 0; k < CellsPerBank; k++ {
			cell := b.layout.CellAt(mod, bank*CellsPerBank+k)
			if cell < 0 {
				continue
			}
			switch {
			case !ok || v[k] == RawNotMeasured:
				m.MarkCellNotMeasured(cell)
			case stable:
				m.StoreCellVoltage(cell, clampMV(v[k]))
			}
		}
	}
	return valid, nil
}

func clampMV(raw uint16) int16 {
	if raw > 0x7FFF {
		return 0x7FFF
	}
	return int16(raw)
}

func (b *Bus) readTemps(m *model.Model, now int64) error {
	rx, err := b.transfer(ReadTempsCommand())
	if err != nil {
		return err
	}
	found := false
	for mod := 0; mod < b.opts.Modules; mod++ {
		m.ModuleTempsOK[mod] = false
		v, ok := b.frame(rx, mod, CmdReadTemps, 0)
		if !ok || !b.layout.ModulePopulated(mod) {
			continue
		}
		for _, raw := range v {
			if raw == RawNoTemp {
				continue
			}
			t := int16(raw)
			if !m.ModuleTempsOK[mod] || t > m.ModuleTemps[mod] {
				m.ModuleTemps[mod] = t
			}
			m.ModuleTempsOK[mod] = true
		}
		found = found || m.ModuleTempsOK[mod]
	}
	if found {
		m.TempsTs = now
	}
	return nil
}

// WriteBalance transmits a dense balance mask to every module
func (b *Bus) WriteBalance(mask model.Mask) error {
	bodies := PackBalance(b.layout, mask, b.opts.BalanceTimeoutS)
	if err := b.transport.Transfer(WriteBalanceFrames(bodies, b.opts.Modules), nil, 0); err != nil {
		b.lastReadFailed = true
		b.reporter.Count(events.ModuleReadFailure, 1)
		return fmt.Errorf("balance write: %w", err)
	}
	b.stats.BalanceTxs++
	return nil
}
