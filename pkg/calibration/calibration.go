// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package calibration holds the persisted sensor calibration and the
// stores it is loaded from.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Version of the blob layout. Blobs of any other version are ignored.
const Version uint16 = 2

var (
	// ErrNotFound is returned when no calibration has been saved
	ErrNotFound = errors.New("calibration: not found")
	// ErrVersionMismatch is returned for blobs of another layout version
	ErrVersionMismatch = errors.New("calibration: version mismatch")
)

// Blob is the persisted calibration
type Blob struct {
	Version            uint16  `cbor:"0,keyasint"`
	CurrentOffsetMA    int32   `cbor:"1,keyasint"`
	CurrentGain        float32 `cbor:"2,keyasint"`
	BatteryVoltageGain float32 `cbor:"3,keyasint"`
}

// Default returns the identity calibration
func Default() Blob {
	return Blob{Version: Version, CurrentGain: 1, BatteryVoltageGain: 1}
}

// Validate rejects blobs whose scalars cannot be applied
func (b *Blob) Validate() error {
	if b.Version != Version {
		return fmt.Errorf("%w: have %d, want %d", ErrVersionMismatch, b.Version, Version)
	}
	for name, g := range map[string]float32{"current gain": b.CurrentGain, "battery voltage gain": b.BatteryVoltageGain} {
		if math.IsNaN(float64(g)) || g < 0.5 || g > 2 {
			return fmt.Errorf("calibration: %s %g out of range", name, g)
		}
	}
	return nil
}

// CurrentMA applies the current calibration to a raw reading
func (b *Blob) CurrentMA(raw int32) int32 {
	return int32(math.Round(float64(raw-b.CurrentOffsetMA) * float64(b.CurrentGain)))
}

// BatteryMV applies the battery voltage calibration to a raw reading
func (b *Blob) BatteryMV(raw int32) int32 {
	return int32(math.Round(float64(raw) * float64(b.BatteryVoltageGain)))
}

// Store persists calibration blobs
type Store interface {
	Load() (*Blob, error)
	Save(b *Blob) error
}

// Marshal encodes a blob as integer-keyed CBOR
func Marshal(b *Blob) ([]byte, error) {
	return cbor.Marshal(b)
}

// Unmarshal decodes and validates a blob
func Unmarshal(data []byte) (*Blob, error) {
	var b Blob
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("calibration: decode: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// FileStore keeps the blob in a single file
type FileStore struct {
	Path string
}

// Load reads the blob
func (s *FileStore) Load() (*Blob, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	return Unmarshal(data)
}

// Save writes the blob, replacing the file atomically
func (s *FileStore) Save(b *Blob) error {
	data, err := Marshal(b)
	if err != nil {
		return fmt.Errorf("calibration: encode: %w", err)
	}
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".calibration-*")
	if err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("calibration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	return nil
}

// MemStore keeps the encoded blob in memory
type MemStore struct {
	mu   sync.Mutex
	data []byte
}

// Load decodes the stored blob
func (s *MemStore) Load() (*Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrNotFound
	}
	return Unmarshal(s.data)
}

// Save encodes and stores the blob
func (s *MemStore) Save(b *Blob) error {
	data, err := Marshal(b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// Loaded loads from s, falling back to the default calibration. ok is false
// when the default was used.
func Loaded(s Store) (b Blob, ok bool, err error) {
	if s == nil {
		return Default(), false, ErrNotFound
	}
	got, err := s.Load()
	if err != nil {
		return Default(), false, err
	}
	return *got, true, nil
}
