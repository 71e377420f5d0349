// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry is the module bus codec: CRC14 framed commands and
// responses for the cell monitor daisy chain, the balance mask repacking
// between dense cell indices and the per-module wire layout, and the read
// cycle that fills the model.
package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Thermoquad/ampere/pkg/model"
)

// Command codes, carried in the high nibble of the first body byte
const (
	CmdReadBank     = 0x1
	CmdReadTemps    = 0x2
	CmdWriteConfig  = 0x3
	CmdWriteBalance = 0x4
	CmdResetComms   = 0x5
)

// AddrBroadcast addresses every module on the chain
const AddrBroadcast = 0xF

// Frame geometry
const (
	CommandBodySize = 4
	CommandSize     = CommandBodySize + 2
	ResponseData    = 6
	ResponseSize    = ResponseData + 2
	Banks           = 5
	CellsPerBank    = 3
	TempsPerModule  = 3
)

// Raw values reported for channels without a measurement
const (
	RawNotMeasured = 0xFFFF
	RawNoTemp      = 0x8000
)

// ErrCRC is wrapped by errors for frames failing CRC14
var ErrCRC = errors.New("telemetry: CRC14 mismatch")

// Command is a decoded command frame body
type Command struct {
	Code    byte
	Address byte
	Args    [3]byte
}

// Encode returns the command frame with its CRC14
func (c Command) Encode() []byte {
	return c.append(make([]byte, 0, CommandSize))
}

func (c Command) append(dst []byte) []byte {
	start := len(dst)
	dst = append(dst, c.Code<<4|c.Address&0x0F, c.Args[0], c.Args[1], c.Args[2])
	return appendCRC14(dst, start)
}

// ParseCommand decodes one command frame
func ParseCommand(frame []byte) (Command, error) {
	if len(frame) != CommandSize {
		return Command{}, fmt.Errorf("telemetry: command frame of %d bytes", len(frame))
	}
	if !ValidFrame(frame) {
		return Command{}, ErrCRC
	}
	return Command{
		Code:    frame[0] >> 4,
		Address: frame[0] & 0x0F,
		Args:    [3]byte{frame[1], frame[2], frame[3]},
	}, nil
}

// ReadBankCommand reads bank b of every module
func ReadBankCommand(b int) Command {
	return Command{Code: CmdReadBank, Address: AddrBroadcast, Args: [3]byte{byte(b)}}
}

// ReadTempsCommand reads every module's temperature channels
func ReadTempsCommand() Command {
	return Command{Code: CmdReadTemps, Address: AddrBroadcast}
}

// ResetCommsCommand resets every module's bus interface
func ResetCommsCommand() Command {
	return Command{Code: CmdResetComms, Address: AddrBroadcast}
}

// WriteConfigFrames builds one enable-bits frame per module on the chain
func WriteConfigFrames(layout *model.Layout, modules int) []byte {
	out := make([]byte, 0, modules*CommandSize)
	for m := 0; m < modules; m++ {
		bits := layout.ModuleEnableBits(m)
		c := Command{Code: CmdWriteConfig, Address: byte(m), Args: [3]byte{byte(bits), byte(bits >> 8)}}
		out = c.append(out)
	}
	return out
}

// WriteBalanceFrames builds one balance frame per module on the chain
func WriteBalanceFrames(bodies *BalanceBodies, modules int) []byte {
	out := make([]byte, 0, modules*CommandSize)
	for m := 0; m < modules; m++ {
		out = append(out, bodies[m][:]...)
		out = appendCRC14(out, len(out)-CommandBodySize)
	}
	return out
}

// SplitFrames splits a concatenation of command frames
func SplitFrames(data []byte) ([]Command, error) {
	if len(data)%CommandSize != 0 {
		return nil, fmt.Errorf("telemetry: %d bytes is not a whole number of frames", len(data))
	}
	out := make([]Command, 0, len(data)/CommandSize)
	for i := 0; i < len(data); i += CommandSize {
		c, err := ParseCommand(data[i : i+CommandSize])
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i/CommandSize, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// AppendResponse appends one module response frame holding three values
func AppendResponse(dst []byte, values [3]uint16) []byte {
	start := len(dst)
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint16(dst, v)
	}
	return appendCRC14(dst, start)
}

// ParseResponse decodes one module response frame
func ParseResponse(frame []byte) ([3]uint16, error) {
	var v [3]uint16
	if len(frame) != ResponseSize {
		return v, fmt.Errorf("telemetry: response frame of %d bytes", len(frame))
	}
	if !ValidFrame(frame) {
		return v, ErrCRC
	}
	for i := range v {
		v[i] = binary.LittleEndian.Uint16(frame[2*i:])
	}
	return v, nil
}

// ResponseOffset returns where module m's frame sits in a chain response.
// The module farthest down the chain answers first.
func ResponseOffset(m, modules int) int {
	return (modules - 1 - m) * ResponseSize
}
