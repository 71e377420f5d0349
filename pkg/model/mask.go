// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package model

import (
	"fmt"
	"math/bits"
)

// MaskWords is the number of 32-bit words in a Mask
const MaskWords = 4

// Mask is a 128-bit set stored as four little-endian 32-bit words.
// Bit i lives in word i/32 at position i%32.
type Mask [MaskWords]uint32

// Set sets bit i. Out-of-range indices are ignored.
func (m *Mask) Set(i int) {
	if i < 0 || i >= MaskWords*32 {
		return
	}
	m[i/32] |= 1 << uint(i%32)
}

// Unset clears bit i
func (m *Mask) Unset(i int) {
	if i < 0 || i >= MaskWords*32 {
		return
	}
	m[i/32] &^= 1 << uint(i%32)
}

// Has reports whether bit i is set
func (m Mask) Has(i int) bool {
	if i < 0 || i >= MaskWords*32 {
		return false
	}
	return m[i/32]&(1<<uint(i%32)) != 0
}

// IsZero reports whether no bit is set
func (m Mask) IsZero() bool {
	return m[0]|m[1]|m[2]|m[3] == 0
}

// Count returns the number of set bits
func (m Mask) Count() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount32(w)
	}
	return n
}

// Reset clears every bit
func (m *Mask) Reset() {
	*m = Mask{}
}

// String formats the mask most-significant word first
func (m Mask) String() string {
	return fmt.Sprintf("%08x%08x%08x%08x", m[3], m[2], m[1], m[0])
}
