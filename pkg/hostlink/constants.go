// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hostlink implements the ampere host-link serial protocol.
//
// A packet on the wire is
//
//	0xFF, length-1, payload[length], crc_lo, crc_hi
//
// with a CRC-16 (reflected 0xA001, initial 0xFFFF) over the sync byte,
// length byte and payload. The payload carries a device address, a message
// type and a message body. This package provides packet framing over a
// ring buffer, the register/cell/event message set, a register registry and
// a request server and client.
package hostlink

import "fmt"

// Framing
const (
	SyncByte       = 0xFF
	HeaderSize     = 2
	CRCSize        = 2
	Overhead       = HeaderSize + CRCSize
	MaxPayloadSize = 256
	MaxPacketSize  = MaxPayloadSize + Overhead
)

// CRC-16 configuration (Modbus flavour)
const (
	crcPolynomial = 0xA001
	crcInitial    = 0xFFFF
)

// Device addresses
const (
	AddressUnassigned = 0x00
	AddressBroadcast  = 0xFF
)

// Message types - host to device 0x10-0x1F
const (
	MsgAssignAddress = 0x10
	MsgReadRegister  = 0x11
	MsgWriteRegister = 0x12
	MsgReadCells     = 0x13
	MsgReadEvents    = 0x14
	MsgDiscover      = 0x1F
)

// Message types - device to host 0x30-0x3F
const (
	MsgAnnounce      = 0x30
	MsgRegisterValue = 0x31
	MsgWriteAck      = 0x32
	MsgCellVoltages  = 0x33
	MsgEvents        = 0x34
)

// MsgError is sent by the device when a request cannot be served
const MsgError = 0xE0

// Status codes carried by write acks and errors
type Status uint8

// Status values
const (
	StatusOK Status = iota
	StatusUnknownRegister
	StatusReadOnly
	StatusTypeMismatch
	StatusInvalidValue
	StatusMalformed
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusUnknownRegister:
		return "UNKNOWN_REGISTER"
	case StatusReadOnly:
		return "READ_ONLY"
	case StatusTypeMismatch:
		return "TYPE_MISMATCH"
	case StatusInvalidValue:
		return "INVALID_VALUE"
	case StatusMalformed:
		return "MALFORMED"
	case StatusUnsupported:
		return "UNSUPPORTED"
	default:
		return fmt.Sprintf("STATUS_%d", uint8(s))
	}
}

// ValueType tags a typed register value
type ValueType uint8

// Value types
const (
	TypeU8 ValueType = iota
	TypeI8
	TypeU16
	TypeI16
	TypeU32
	TypeI32
	TypeU64
	TypeI64
	TypeF32
	TypeF64
)

// Event log entries per page. 10 entries of 21 bytes plus headers fit one payload.
const EventsPerPage = 10

// eventEntrySize is kind(2) level(1) count(2) timestamp(8) data(8)
const eventEntrySize = 21
