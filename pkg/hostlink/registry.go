// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"errors"
	"fmt"
	"sort"
)

// ErrReadOnly is returned when writing a register without a setter
var ErrReadOnly = errors.New("hostlink: register is read-only")

// Register binds a register id to accessors. A nil Set makes it read-only.
type Register struct {
	ID   uint16
	Name string
	Type ValueType
	Get  func() Value
	Set  func(Value) error
}

// Registry maps register ids to registers
type Registry struct {
	regs map[uint16]*Register
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{regs: make(map[uint16]*Register)}
}

// Add registers r, rejecting duplicates and incomplete definitions
func (r *Registry) Add(reg Register) error {
	if reg.Get == nil {
		return fmt.Errorf("register 0x%04X (%s): missing getter", reg.ID, reg.Name)
	}
	if reg.Type.Size() == 0 {
		return fmt.Errorf("register 0x%04X (%s): invalid type %d", reg.ID, reg.Name, reg.Type)
	}
	if _, dup := r.regs[reg.ID]; dup {
		return fmt.Errorf("register 0x%04X (%s): duplicate id", reg.ID, reg.Name)
	}
	r.regs[reg.ID] = &reg
	return nil
}

// Lookup returns a register by id
func (r *Registry) Lookup(id uint16) (*Register, bool) {
	reg, ok := r.regs[id]
	return reg, ok
}

// LookupName returns a register by name
func (r *Registry) LookupName(name string) (*Register, bool) {
	for _, reg := range r.regs {
		if reg.Name == name {
			return reg, true
		}
	}
	return nil, false
}

// Read returns the current value of a register
func (r *Registry) Read(id uint16) (Value, Status) {
	reg, ok := r.regs[id]
	if !ok {
		return Value{}, StatusUnknownRegister
	}
	return reg.Get(), StatusOK
}

// Write stores a value into a register
func (r *Registry) Write(id uint16, v Value) Status {
	reg, ok := r.regs[id]
	if !ok {
		return StatusUnknownRegister
	}
	if reg.Set == nil {
		return StatusReadOnly
	}
	if v.Type != reg.Type {
		return StatusTypeMismatch
	}
	if err := reg.Set(v); err != nil {
		if errors.Is(err, ErrReadOnly) {
			return StatusReadOnly
		}
		return StatusInvalidValue
	}
	return StatusOK
}

// List returns every register ordered by id
func (r *Registry) List() []*Register {
	out := make([]*Register, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
