// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"errors"
	"fmt"
)

// ErrPayloadSize is returned for payloads outside 1..MaxPayloadSize bytes
var ErrPayloadSize = errors.New("hostlink: payload size out of range")

// EncodePacket frames a payload for transmission
func EncodePacket(payload []byte) ([]byte, error) {
	return AppendPacket(make([]byte, 0, len(payload)+Overhead), payload)
}

// AppendPacket frames a payload onto dst
func AppendPacket(dst, payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > MaxPayloadSize {
		return dst, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadSize, len(payload), MaxPayloadSize)
	}
	start := len(dst)
	dst = append(dst, SyncByte, byte(len(payload)-1))
	dst = append(dst, payload...)
	crc := CalculateCRC(dst[start:])
	return append(dst, byte(crc), byte(crc>>8)), nil
}

// MustEncodePacket is EncodePacket for payloads known to be valid.
// Panics on encoding error.
func MustEncodePacket(payload []byte) []byte {
	data, err := EncodePacket(payload)
	if err != nil {
		panic(fmt.Sprintf("hostlink: encode error: %v", err))
	}
	return data
}
