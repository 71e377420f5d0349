// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import "github.com/Thermoquad/ampere/pkg/model"

// BalanceBodies holds the per-module balance command bodies
// [cmd|addr, bits0-7, timeout_s, bits8-14]
type BalanceBodies [model.MaxModules][CommandBodySize]byte

// balanceByte returns the body byte and bit carrying a module slot
func balanceByte(slot int) (offset int, bit uint) {
	offset = 1
	if slot >= 8 {
		offset += 2
	}
	return offset, uint(slot % 8)
}

// PackBalance spreads a dense cell mask onto the module balance layout.
//
// Raw positions are walked in ascending order. Padding positions and
// positions without a populated cell are skipped without advancing the
// dense index.
func PackBalance(layout *model.Layout, dense model.Mask, timeoutS uint8) *BalanceBodies {
	var out BalanceBodies
	for m := range out {
		out[m][0] = CmdWriteBalance<<4 | byte(m)
		out[m][2] = timeoutS
	}
	cell := 0
	for r := 0; r < model.RawBits; r++ {
		if model.IsPadding(r) {
			continue
		}
		if !layout.Presence.Has(r) {
			continue
		}
		if dense.Has(cell) {
			module, slot := model.RawModule(r)
			off, bit := balanceByte(slot)
			out[module][off] |= 1 << bit
		}
		cell++
	}
	return &out
}

// UnpackBalance is the inverse of PackBalance. Bits on padding or absent
// positions are ignored.
func UnpackBalance(layout *model.Layout, bodies *BalanceBodies) model.Mask {
	var dense model.Mask
	cell := 0
	for r := 0; r < model.RawBits; r++ {
		if model.IsPadding(r) {
			continue
		}
		if !layout.Presence.Has(r) {
			continue
		}
		module, slot := model.RawModule(r)
		off, bit := balanceByte(slot)
		if bodies[module][off]&(1<<bit) != 0 {
			dense.Set(cell)
		}
		cell++
	}
	return dense
}
