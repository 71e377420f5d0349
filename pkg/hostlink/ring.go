// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import "sync/atomic"

// Ring is a single-producer, single-consumer byte ring.
//
// Both indices are monotonic and wrap naturally at 2^32. The producer may
// run on another goroutine; the consumer snapshots the write index once per
// decode attempt and never assumes two loads agree.
type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index
	wr   atomic.Uint32 // producer index
}

// NewRing creates a ring. size must be a power of two of at least two
// maximum-size packets.
func NewRing(size int) *Ring {
	if size < 2*MaxPacketSize || size&(size-1) != 0 {
		panic("hostlink: ring size must be a power of two >= 2*MaxPacketSize")
	}
	return &Ring{buf: make([]byte, size), mask: uint32(size - 1)}
}

func (r *Ring) size() uint32 { return uint32(len(r.buf)) }

// Cap returns the ring capacity
func (r *Ring) Cap() int { return len(r.buf) }

// Available returns the number of unread bytes
func (r *Ring) Available() int {
	return int(r.wr.Load() - r.rd.Load())
}

// Space returns how many bytes the producer may write
func (r *Ring) Space() int {
	return int(r.size() - (r.wr.Load() - r.rd.Load()))
}

// Write copies as much of src as fits and returns the count. Producer side.
func (r *Ring) Write(src []byte) int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	space := int(r.size() - (wr - rd))
	n := len(src)
	if n > space {
		n = space
	}
	if n <= 0 {
		return 0
	}
	idx := wr & r.mask
	first := int(r.size() - idx)
	if first > n {
		first = n
	}
	copy(r.buf[idx:idx+uint32(first)], src[:first])
	if second := n - first; second > 0 {
		copy(r.buf[:second], src[first:n])
	}
	r.wr.Store(wr + uint32(n))
	return n
}

// at returns the byte at absolute index i
func (r *Ring) at(i uint32) byte {
	return r.buf[i&r.mask]
}

// segments returns the two contiguous pieces covering n bytes at absolute
// index i; the second is empty unless the span wraps
func (r *Ring) segments(i uint32, n int) ([]byte, []byte) {
	idx := i & r.mask
	first := int(r.size() - idx)
	if first >= n {
		return r.buf[idx : idx+uint32(n)], nil
	}
	return r.buf[idx:], r.buf[:n-first]
}

// discard advances the consumer index. Consumer side.
func (r *Ring) discard(n int) {
	r.rd.Store(r.rd.Load() + uint32(n))
}
