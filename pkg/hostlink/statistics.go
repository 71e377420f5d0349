// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"fmt"
	"time"
)

// Statistics tracks per-link packet counters
type Statistics struct {
	StartTime time.Time

	Packets      uint64
	CRCErrors    uint64
	Oversized    uint64
	SkippedBytes uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// Errors returns the number of packets rejected for any reason
func (s *Statistics) Errors() uint64 {
	return s.CRCErrors + s.Oversized
}

// SuccessRate returns the valid packet percentage
func (s *Statistics) SuccessRate() float64 {
	total := s.Packets + s.Errors()
	if total == 0 {
		return 0
	}
	return float64(s.Packets) * 100 / float64(total)
}

// String formats the statistics for display
func (s *Statistics) String() string {
	elapsed := time.Since(s.StartTime).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(s.Packets) / elapsed
	}
	return fmt.Sprintf("packets=%d crc_errors=%d oversized=%d skipped_bytes=%d success=%.1f%% rate=%.1f/s",
		s.Packets, s.CRCErrors, s.Oversized, s.SkippedBytes, s.SuccessRate(), rate)
}
