// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Thermoquad/ampere/pkg/events"
)

// ErrMalformed is wrapped by every message parse error
var ErrMalformed = errors.New("hostlink: malformed message")

// Message is a decoded payload
type Message struct {
	Address byte
	Type    byte
	Body    []byte
}

// ParseMessage splits a payload into address, type and body.
// The body aliases the payload.
func ParseMessage(payload []byte) (Message, error) {
	if len(payload) < 2 {
		return Message{}, fmt.Errorf("%w: payload of %d bytes", ErrMalformed, len(payload))
	}
	return Message{Address: payload[0], Type: payload[1], Body: payload[2:]}, nil
}

// Payload returns the message as packet payload bytes
func (m Message) Payload() []byte {
	out := make([]byte, 0, 2+len(m.Body))
	out = append(out, m.Address, m.Type)
	return append(out, m.Body...)
}

// Encode frames the message into a packet
func (m Message) Encode() ([]byte, error) {
	return EncodePacket(m.Payload())
}

func malformed(m Message, want string) error {
	return fmt.Errorf("%w: %s body of %d bytes, %s", ErrMalformed, FormatMessageType(m.Type), len(m.Body), want)
}

// Identity is the body of announce and address-assignment messages
type Identity struct {
	Serial  uint64
	Address byte
}

// AnnounceMessage builds an announce
func AnnounceMessage(id Identity) Message {
	return Message{Address: id.Address, Type: MsgAnnounce, Body: appendIdentity(nil, id)}
}

// AssignAddressMessage builds an address assignment sent to broadcast
func AssignAddressMessage(id Identity) Message {
	return Message{Address: AddressBroadcast, Type: MsgAssignAddress, Body: appendIdentity(nil, id)}
}

func appendIdentity(dst []byte, id Identity) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, id.Serial)
	return append(dst, id.Address)
}

// ParseIdentity reads an announce or assignment body
func ParseIdentity(m Message) (Identity, error) {
	if len(m.Body) != 9 {
		return Identity{}, malformed(m, "want 9")
	}
	return Identity{Serial: binary.LittleEndian.Uint64(m.Body), Address: m.Body[8]}, nil
}

// ReadRegisterMessage builds a register read request
func ReadRegisterMessage(addr byte, id uint16) Message {
	return Message{Address: addr, Type: MsgReadRegister, Body: binary.LittleEndian.AppendUint16(nil, id)}
}

// ParseRegisterID reads the register id at the start of a body
func ParseRegisterID(m Message) (uint16, error) {
	if len(m.Body) < 2 {
		return 0, malformed(m, "want register id")
	}
	return binary.LittleEndian.Uint16(m.Body), nil
}

// RegisterValueMessage builds a register read response, also used as the
// body layout of write requests
func RegisterValueMessage(addr byte, msgType byte, id uint16, v Value) Message {
	body := binary.LittleEndian.AppendUint16(nil, id)
	return Message{Address: addr, Type: msgType, Body: AppendValue(body, v)}
}

// WriteRegisterMessage builds a register write request
func WriteRegisterMessage(addr byte, id uint16, v Value) Message {
	return RegisterValueMessage(addr, MsgWriteRegister, id, v)
}

// ParseRegisterValue reads an id and typed value
func ParseRegisterValue(m Message) (uint16, Value, error) {
	id, err := ParseRegisterID(m)
	if err != nil {
		return 0, Value{}, err
	}
	v, n, err := ParseValue(m.Body[2:])
	if err != nil {
		return 0, Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if 2+n != len(m.Body) {
		return 0, Value{}, malformed(m, "trailing bytes after value")
	}
	return id, v, nil
}

// WriteAckMessage builds a write acknowledgement
func WriteAckMessage(addr byte, id uint16, status Status) Message {
	body := binary.LittleEndian.AppendUint16(nil, id)
	return Message{Address: addr, Type: MsgWriteAck, Body: append(body, byte(status))}
}

// ParseWriteAck reads a write acknowledgement
func ParseWriteAck(m Message) (uint16, Status, error) {
	if len(m.Body) != 3 {
		return 0, 0, malformed(m, "want 3")
	}
	return binary.LittleEndian.Uint16(m.Body), Status(m.Body[2]), nil
}

// ErrorMessage builds an error response naming the rejected request type
func ErrorMessage(addr byte, requestType byte, status Status) Message {
	return Message{Address: addr, Type: MsgError, Body: []byte{requestType, byte(status)}}
}

// ParseError reads an error response
func ParseError(m Message) (byte, Status, error) {
	if len(m.Body) != 2 {
		return 0, 0, malformed(m, "want 2")
	}
	return m.Body[0], Status(m.Body[1]), nil
}

// ReadCellsMessage builds a bulk cell voltage request
func ReadCellsMessage(addr byte, start, count uint8) Message {
	return Message{Address: addr, Type: MsgReadCells, Body: []byte{start, count}}
}

// ParseCellRange reads a bulk cell voltage request
func ParseCellRange(m Message) (start, count uint8, err error) {
	if len(m.Body) != 2 {
		return 0, 0, malformed(m, "want 2")
	}
	return m.Body[0], m.Body[1], nil
}

// CellVoltagesMessage builds a bulk cell voltage response
func CellVoltagesMessage(addr byte, start uint8, mv []int16) Message {
	body := []byte{start, byte(len(mv))}
	return Message{Address: addr, Type: MsgCellVoltages, Body: AppendCellVoltages(body, mv)}
}

// ParseCellVoltages reads a bulk cell voltage response
func ParseCellVoltages(m Message) (start uint8, mv []int16, err error) {
	if len(m.Body) < 2 {
		return 0, nil, malformed(m, "want start and count")
	}
	mv, n, err := DecodeCellVoltages(m.Body[2:], int(m.Body[1]))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if 2+n != len(m.Body) {
		return 0, nil, malformed(m, "trailing bytes after cells")
	}
	return m.Body[0], mv, nil
}

// ReadEventsMessage builds an event log page request
func ReadEventsMessage(addr byte, page uint8) Message {
	return Message{Address: addr, Type: MsgReadEvents, Body: []byte{page}}
}

// ParseEventPage reads an event log page request
func ParseEventPage(m Message) (uint8, error) {
	if len(m.Body) != 1 {
		return 0, malformed(m, "want 1")
	}
	return m.Body[0], nil
}

// EventsMessage builds an event log page response
func EventsMessage(addr byte, page, pages uint8, entries []events.Entry) Message {
	body := make([]byte, 0, 3+len(entries)*eventEntrySize)
	body = append(body, page, pages, byte(len(entries)))
	for _, e := range entries {
		body = binary.LittleEndian.AppendUint16(body, uint16(e.Kind))
		body = append(body, byte(e.Level))
		body = binary.LittleEndian.AppendUint16(body, e.Count)
		body = binary.LittleEndian.AppendUint64(body, uint64(e.Timestamp))
		body = binary.LittleEndian.AppendUint64(body, e.Data)
	}
	return Message{Address: addr, Type: MsgEvents, Body: body}
}

// ParseEvents reads an event log page response
func ParseEvents(m Message) (page, pages uint8, entries []events.Entry, err error) {
	if len(m.Body) < 3 {
		return 0, 0, nil, malformed(m, "want page header")
	}
	n := int(m.Body[2])
	if len(m.Body) != 3+n*eventEntrySize {
		return 0, 0, nil, malformed(m, fmt.Sprintf("want %d", 3+n*eventEntrySize))
	}
	entries = make([]events.Entry, n)
	b := m.Body[3:]
	for i := range entries {
		entries[i] = events.Entry{
			Kind:      events.Kind(binary.LittleEndian.Uint16(b[0:])),
			Level:     events.Level(b[2]),
			Count:     binary.LittleEndian.Uint16(b[3:]),
			Timestamp: int64(binary.LittleEndian.Uint64(b[5:])),
			Data:      binary.LittleEndian.Uint64(b[13:]),
		}
		b = b[eventEntrySize:]
	}
	return m.Body[0], m.Body[1], entries, nil
}
