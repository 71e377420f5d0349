// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Value is a typed register value. Bits holds the little-endian wire bits,
// sign- or zero-extended to 64 bits for integer types.
type Value struct {
	Type ValueType
	Bits uint64
}

// Typed constructors
func U8(v uint8) Value   { return Value{TypeU8, uint64(v)} }
func I8(v int8) Value    { return Value{TypeI8, uint64(int64(v))} }
func U16(v uint16) Value { return Value{TypeU16, uint64(v)} }
func I16(v int16) Value  { return Value{TypeI16, uint64(int64(v))} }
func U32(v uint32) Value { return Value{TypeU32, uint64(v)} }
func I32(v int32) Value  { return Value{TypeI32, uint64(int64(v))} }
func U64(v uint64) Value { return Value{TypeU64, v} }
func I64(v int64) Value  { return Value{TypeI64, uint64(v)} }
func F32(v float32) Value {
	return Value{TypeF32, uint64(math.Float32bits(v))}
}
func F64(v float64) Value { return Value{TypeF64, math.Float64bits(v)} }

// Bool encodes a flag as U8 0/1
func Bool(v bool) Value {
	if v {
		return U8(1)
	}
	return U8(0)
}

// Size returns the wire size of a value type, or 0 for unknown types
func (t ValueType) Size() int {
	switch t {
	case TypeU8, TypeI8:
		return 1
	case TypeU16, TypeI16:
		return 2
	case TypeU32, TypeI32, TypeF32:
		return 4
	case TypeU64, TypeI64, TypeF64:
		return 8
	}
	return 0
}

// Signed reports whether the type is a signed integer
func (t ValueType) Signed() bool {
	return t == TypeI8 || t == TypeI16 || t == TypeI32 || t == TypeI64
}

func (t ValueType) String() string {
	switch t {
	case TypeU8:
		return "u8"
	case TypeI8:
		return "i8"
	case TypeU16:
		return "u16"
	case TypeI16:
		return "i16"
	case TypeU32:
		return "u32"
	case TypeI32:
		return "i32"
	case TypeU64:
		return "u64"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Int returns the value as a signed integer
func (v Value) Int() int64 {
	switch v.Type {
	case TypeF32, TypeF64:
		return int64(v.Float())
	}
	return int64(v.Bits)
}

// Uint returns the value as an unsigned integer
func (v Value) Uint() uint64 {
	switch v.Type {
	case TypeF32, TypeF64:
		return uint64(v.Float())
	}
	return v.Bits
}

// Float returns the value as a float
func (v Value) Float() float64 {
	switch v.Type {
	case TypeF32:
		return float64(math.Float32frombits(uint32(v.Bits)))
	case TypeF64:
		return math.Float64frombits(v.Bits)
	}
	if v.Type.Signed() {
		return float64(int64(v.Bits))
	}
	return float64(v.Bits)
}

// String formats the value according to its type
func (v Value) String() string {
	switch {
	case v.Type == TypeF32 || v.Type == TypeF64:
		return fmt.Sprintf("%g", v.Float())
	case v.Type.Signed():
		return fmt.Sprintf("%d", v.Int())
	}
	return fmt.Sprintf("%d", v.Uint())
}

// AppendValue writes type byte and value bytes
func AppendValue(dst []byte, v Value) []byte {
	dst = append(dst, byte(v.Type))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v.Bits)
	return append(dst, buf[:v.Type.Size()]...)
}

// ParseValue reads a type byte and value, returning the bytes consumed
func ParseValue(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, fmt.Errorf("missing value type")
	}
	t := ValueType(data[0])
	size := t.Size()
	if size == 0 {
		return Value{}, 0, fmt.Errorf("unknown value type %d", data[0])
	}
	if len(data) < 1+size {
		return Value{}, 0, fmt.Errorf("value truncated: have %d bytes, %s needs %d", len(data)-1, t, size)
	}
	var buf [8]byte
	copy(buf[:], data[1:1+size])
	bits := binary.LittleEndian.Uint64(buf[:])
	if t.Signed() {
		shift := uint(64 - 8*size)
		bits = uint64(int64(bits<<shift) >> shift)
	}
	return Value{Type: t, Bits: bits}, 1 + size, nil
}
