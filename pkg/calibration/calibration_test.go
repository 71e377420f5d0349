// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package calibration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	s := &FileStore{Path: filepath.Join(t.TempDir(), "calibration.cbor")}

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	b := Blob{Version: Version, CurrentOffsetMA: -120, CurrentGain: 1.02, BatteryVoltageGain: 0.995}
	require.NoError(t, s.Save(&b))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, b, *got)
}

func TestUnmarshal_VersionMismatch(t *testing.T) {
	data, err := Marshal(&Blob{Version: Version + 1, CurrentGain: 1, BatteryVoltageGain: 1})
	require.NoError(t, err)

	_, err = Unmarshal(data)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestUnmarshal_Garbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xFF, 0x00, 0x13})
	assert.Error(t, err)
}

func TestMarshal_IntegerKeys(t *testing.T) {
	data, err := Marshal(&Blob{Version: Version, CurrentOffsetMA: 7, CurrentGain: 1, BatteryVoltageGain: 1})
	require.NoError(t, err)

	var raw map[int]interface{}
	require.NoError(t, cbor.Unmarshal(data, &raw))
	assert.Len(t, raw, 4)
	assert.EqualValues(t, Version, raw[0])
	assert.EqualValues(t, 7, raw[1])
}

func TestValidate_GainRange(t *testing.T) {
	b := Default()
	require.NoError(t, b.Validate())
	b.CurrentGain = 3
	assert.Error(t, b.Validate())
}

func TestApply(t *testing.T) {
	b := Blob{Version: Version, CurrentOffsetMA: 100, CurrentGain: 1.5, BatteryVoltageGain: 1.01}
	assert.Equal(t, int32(150), b.CurrentMA(200))
	assert.Equal(t, int32(50500), b.BatteryMV(50000))
}

func TestLoaded_FallsBackToDefault(t *testing.T) {
	b, ok, err := Loaded(&MemStore{})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, Default(), b)

	dir := t.TempDir()
	path := filepath.Join(dir, "cal")
	require.NoError(t, os.WriteFile(path, []byte("not cbor"), 0o600))
	_, ok, err = Loaded(&FileStore{Path: path})
	assert.False(t, ok)
	assert.Error(t, err)
}
