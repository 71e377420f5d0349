// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/Thermoquad/ampere/pkg/core"
	"github.com/Thermoquad/ampere/pkg/hostlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		typ  hostlink.ValueType
		in   string
		want hostlink.Value
	}{
		{hostlink.TypeU8, "on", hostlink.Bool(true)},
		{hostlink.TypeU8, "FALSE", hostlink.Bool(false)},
		{hostlink.TypeU8, "0x10", hostlink.U8(16)},
		{hostlink.TypeU16, "65535", hostlink.U16(65535)},
		{hostlink.TypeI16, "-120", hostlink.I16(-120)},
		{hostlink.TypeI32, "-0x10", hostlink.I32(-16)},
		{hostlink.TypeU64, "0x414D50", hostlink.U64(0x414D50)},
		{hostlink.TypeF32, "1.25", hostlink.F32(1.25)},
		{hostlink.TypeF64, "-2.5", hostlink.F64(-2.5)},
	}
	for _, tt := range tests {
		got, err := parseValue(tt.typ, tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseValue_Rejects(t *testing.T) {
	tests := []struct {
		typ hostlink.ValueType
		in  string
	}{
		{hostlink.TypeU8, "256"},
		{hostlink.TypeU8, "-1"},
		{hostlink.TypeI8, "128"},
		{hostlink.TypeU16, "on"},
		{hostlink.TypeF32, "warm"},
		{hostlink.ValueType(42), "1"},
	}
	for _, tt := range tests {
		_, err := parseValue(tt.typ, tt.in)
		assert.Error(t, err, "%s %q", tt.typ, tt.in)
	}
}

func TestResolveRegister(t *testing.T) {
	id, err := resolveRegister("pack_current_ma")
	require.NoError(t, err)
	assert.Equal(t, uint16(core.RegPackCurrentMA), id)

	id, err = resolveRegister("0x0101")
	require.NoError(t, err)
	assert.Equal(t, uint16(core.RegPowerRequested), id)

	id, err = resolveRegister("16")
	require.NoError(t, err)
	assert.Equal(t, uint16(core.RegSystemState), id)

	_, err = resolveRegister("coolant_temp")
	assert.Error(t, err)
	_, err = resolveRegister("0x10000")
	assert.Error(t, err)
}

func TestRegisterLabel(t *testing.T) {
	assert.Equal(t, "0x0023 pack_current_ma", registerLabel(core.RegPackCurrentMA))
	assert.Equal(t, "0x7777", registerLabel(0x7777))
}

func TestParseFault(t *testing.T) {
	f, err := parseFault("neg-stuck-open")
	require.NoError(t, err)
	assert.True(t, f.NegStuckOpen)

	f, err = parseFault("")
	require.NoError(t, err)
	assert.False(t, f.BusDown)

	_, err = parseFault("meltdown")
	assert.Error(t, err)
}
