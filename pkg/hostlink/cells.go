// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import "fmt"

// Cell voltage delta coding. Each cell is either one byte holding a signed
// 7-bit delta from the previous cell (high bit clear), or two bytes holding
// a signed 15-bit absolute value with the high bit of the first byte set.
// The reference before the first cell is 0.
const (
	deltaMin    = -64
	deltaMax    = 63
	absoluteMin = -1 << 14
	absoluteMax = 1<<14 - 1
	absoluteBit = 0x80
)

// AppendCellVoltages delta-codes cell voltages onto dst. Values beyond the
// 15-bit absolute range are clamped.
func AppendCellVoltages(dst []byte, mv []int16) []byte {
	prev := 0
	for _, raw := range mv {
		v := int(raw)
		if v < absoluteMin {
			v = absoluteMin
		} else if v > absoluteMax {
			v = absoluteMax
		}
		if d := v - prev; d >= deltaMin && d <= deltaMax {
			dst = append(dst, byte(d)&0x7F)
		} else {
			u := uint16(v) & 0x7FFF
			dst = append(dst, absoluteBit|byte(u>>8), byte(u))
		}
		prev = v
	}
	return dst
}

// DecodeCellVoltages reads count delta-coded cells, returning the values
// and bytes consumed
func DecodeCellVoltages(data []byte, count int) ([]int16, int, error) {
	out := make([]int16, count)
	prev := int16(0)
	p := 0
	for i := 0; i < count; i++ {
		if p >= len(data) {
			return nil, p, fmt.Errorf("cell %d: data truncated", i)
		}
		b := data[p]
		if b&absoluteBit == 0 {
			// sign-extend 7 bits
			prev += int16(int8(b<<1) >> 1)
			p++
		} else {
			if p+1 >= len(data) {
				return nil, p, fmt.Errorf("cell %d: absolute value truncated", i)
			}
			u := uint16(b&0x7F)<<8 | uint16(data[p+1])
			prev = int16(u<<1) >> 1
			p += 2
		}
		out[i] = prev
	}
	return out, p, nil
}
