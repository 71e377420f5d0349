// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package model

import "fmt"

// Pack geometry. The raw layout reserves 16 slots per module, the last of
// which is always padding, and enumerates modules from last to first.
const (
	MaxModules     = 8
	SlotsPerModule = 16
	CellsPerModule = 15
	MaxCells       = MaxModules * CellsPerModule
	RawBits        = MaxModules * SlotsPerModule
	paddingSlot    = SlotsPerModule - 1
)

// RawPosition returns the raw layout bit for a module slot
func RawPosition(module, slot int) int {
	return (MaxModules-1-module)*SlotsPerModule + slot
}

// RawModule returns the module and slot of a raw layout bit
func RawModule(r int) (module, slot int) {
	return MaxModules - 1 - r/SlotsPerModule, r % SlotsPerModule
}

// IsPadding reports whether raw bit r is a padding position
func IsPadding(r int) bool {
	return r%SlotsPerModule == paddingSlot
}

// Layout maps between raw module slots and dense cell indices.
// Dense indices ascend with raw position over present slots only.
type Layout struct {
	Presence  Mask // raw layout, padding bits always clear
	cellCount int
	rawToCell [RawBits]int16
	cellToRaw [MaxCells]uint8
}

// NewLayout builds a layout from per-module slot enable bits.
// Bit k of modules[m] marks slot k of module m as populated.
func NewLayout(modules [MaxModules]uint16) (*Layout, error) {
	l := &Layout{}
	for m, bitsPresent := range modules {
		if bitsPresent&(1<<paddingSlot) != 0 {
			return nil, fmt.Errorf("module %d: slot %d is padding and cannot be populated", m, paddingSlot)
		}
		for k := 0; k < paddingSlot; k++ {
			if bitsPresent&(1<<uint(k)) != 0 {
				l.Presence.Set(RawPosition(m, k))
			}
		}
	}
	for r := 0; r < RawBits; r++ {
		l.rawToCell[r] = -1
		if IsPadding(r) || !l.Presence.Has(r) {
			continue
		}
		l.rawToCell[r] = int16(l.cellCount)
		l.cellToRaw[l.cellCount] = uint8(r)
		l.cellCount++
	}
	if l.cellCount == 0 {
		return nil, fmt.Errorf("presence mask has no populated cells")
	}
	return l, nil
}

// CellCount returns the number of populated cells
func (l *Layout) CellCount() int {
	return l.cellCount
}

// CellAt returns the dense cell index of a module slot, or -1
func (l *Layout) CellAt(module, slot int) int {
	if module < 0 || module >= MaxModules || slot < 0 || slot >= SlotsPerModule {
		return -1
	}
	return int(l.rawToCell[RawPosition(module, slot)])
}

// SlotOf returns the module and slot a dense cell index lives in
func (l *Layout) SlotOf(cell int) (module, slot int, ok bool) {
	if cell < 0 || cell >= l.cellCount {
		return 0, 0, false
	}
	module, slot = RawModule(int(l.cellToRaw[cell]))
	return module, slot, true
}

// ModulePopulated reports whether any slot of the module is present
func (l *Layout) ModulePopulated(module int) bool {
	for k := 0; k < paddingSlot; k++ {
		if l.CellAt(module, k) >= 0 {
			return true
		}
	}
	return false
}

// ModuleEnableBits returns the slot enable bits of a module
func (l *Layout) ModuleEnableBits(module int) uint16 {
	var b uint16
	for k := 0; k < paddingSlot; k++ {
		if l.CellAt(module, k) >= 0 {
			b |= 1 << uint(k)
		}
	}
	return b
}
