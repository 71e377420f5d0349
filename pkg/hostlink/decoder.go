// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

// Decoder extracts packets from a Ring. It is the ring's only consumer.
type Decoder struct {
	ring  *Ring
	stats *Statistics
}

// NewDecoder creates a decoder over a ring
func NewDecoder(ring *Ring) *Decoder {
	return &Decoder{ring: ring, stats: NewStatistics()}
}

// Statistics returns the decoder's link counters
func (d *Decoder) Statistics() *Statistics {
	return d.stats
}

// Next copies the next valid payload into dst and returns its length.
// Returns false when no complete packet is buffered yet.
//
// Bytes ahead of a sync byte are dropped one at a time. A packet too large
// for dst, or one failing its CRC, is dropped whole and decoding continues
// with whatever follows it.
func (d *Decoder) Next(dst []byte) (int, bool) {
	r := d.ring
	for {
		rd := r.rd.Load()
		avail := int(r.wr.Load() - rd)
		if avail < 1 {
			return 0, false
		}
		if r.at(rd) != SyncByte {
			r.discard(1)
			d.stats.SkippedBytes++
			continue
		}
		if avail < HeaderSize {
			return 0, false
		}
		lenByte := r.at(rd + 1)
		length := int(lenByte) + 1
		total := length + Overhead
		if avail < total {
			return 0, false
		}
		if length > len(dst) {
			r.discard(total)
			d.stats.Oversized++
			continue
		}

		header := [HeaderSize]byte{SyncByte, lenByte}
		crc := UpdateCRC(crcInitial, header[:])
		first, second := r.segments(rd+HeaderSize, length)
		crc = UpdateCRC(crc, first)
		crc = UpdateCRC(crc, second)

		crcAt := rd + uint32(HeaderSize+length)
		received := uint16(r.at(crcAt)) | uint16(r.at(crcAt+1))<<8
		if received != crc {
			r.discard(total)
			d.stats.CRCErrors++
			continue
		}

		n := copy(dst, first)
		copy(dst[n:], second)
		r.discard(total)
		d.stats.Packets++
		return length, true
	}
}
