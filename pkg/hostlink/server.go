// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"errors"
	"io"

	"github.com/Thermoquad/ampere/pkg/events"
	"go.uber.org/zap"
)

// RingSize is the receive ring capacity used by servers and clients
const RingSize = 1024

// CellSource supplies cell voltages for bulk reads
type CellSource interface {
	CellCount() int
	CellVoltage(i int) int16
}

// EventSource supplies event log pages
type EventSource interface {
	Page(n, size int) ([]events.Entry, int)
}

// Server answers host requests on one link.
//
// Feed may be called from a transport goroutine; Poll runs on the tick
// goroutine and is the only consumer of the receive ring.
type Server struct {
	id       Identity
	registry *Registry
	cells    CellSource
	events   EventSource
	out      io.Writer
	ring     *Ring
	decoder  *Decoder
	log      *zap.Logger
	buf      [MaxPayloadSize]byte
}

// NewServer creates a server replying on out
func NewServer(serial uint64, registry *Registry, cells CellSource, ev EventSource, out io.Writer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	ring := NewRing(RingSize)
	return &Server{
		id:       Identity{Serial: serial, Address: AddressUnassigned},
		registry: registry,
		cells:    cells,
		events:   ev,
		out:      out,
		ring:     ring,
		decoder:  NewDecoder(ring),
		log:      log,
	}
}

// Identity returns the device serial and assigned address
func (s *Server) Identity() Identity {
	return s.id
}

// Statistics returns the receive counters
func (s *Server) Statistics() *Statistics {
	return s.decoder.Statistics()
}

// Feed pushes received bytes into the ring, returning how many fit
func (s *Server) Feed(p []byte) int {
	n := s.ring.Write(p)
	if n < len(p) {
		s.log.Warn("hostlink receive ring full", zap.Int("dropped", len(p)-n))
	}
	return n
}

// Pump reads from r into the ring until r fails. Run it on its own goroutine.
func (s *Server) Pump(r io.Reader) error {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.Feed(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Announce broadcasts the device identity
func (s *Server) Announce() {
	s.send(AnnounceMessage(s.id))
}

// Poll handles every complete request in the ring and returns the count
func (s *Server) Poll() int {
	handled := 0
	for {
		n, ok := s.decoder.Next(s.buf[:])
		if !ok {
			return handled
		}
		msg, err := ParseMessage(s.buf[:n])
		if err != nil {
			s.log.Debug("dropping short payload", zap.Error(err))
			continue
		}
		if msg.Address != s.id.Address && msg.Address != AddressBroadcast {
			continue
		}
		s.handle(msg)
		handled++
	}
}

func (s *Server) handle(msg Message) {
	addr := s.id.Address
	switch msg.Type {
	case MsgDiscover:
		s.Announce()

	case MsgAssignAddress:
		id, err := ParseIdentity(msg)
		if err != nil {
			s.send(ErrorMessage(addr, msg.Type, StatusMalformed))
			return
		}
		if id.Serial != s.id.Serial {
			return
		}
		if id.Address == AddressBroadcast {
			s.send(ErrorMessage(addr, msg.Type, StatusInvalidValue))
			return
		}
		s.log.Info("hostlink address assigned", zap.Uint8("address", id.Address))
		s.id.Address = id.Address
		s.Announce()

	case MsgReadRegister:
		reg, err := ParseRegisterID(msg)
		if err != nil || len(msg.Body) != 2 {
			s.send(ErrorMessage(addr, msg.Type, StatusMalformed))
			return
		}
		v, status := s.registry.Read(reg)
		if status != StatusOK {
			s.send(ErrorMessage(addr, msg.Type, status))
			return
		}
		s.send(RegisterValueMessage(addr, MsgRegisterValue, reg, v))

	case MsgWriteRegister:
		reg, v, err := ParseRegisterValue(msg)
		if err != nil {
			s.send(ErrorMessage(addr, msg.Type, StatusMalformed))
			return
		}
		status := s.registry.Write(reg, v)
		if status == StatusOK {
			s.log.Info("register written", zap.Uint16("register", reg), zap.Stringer("value", v))
		}
		s.send(WriteAckMessage(addr, reg, status))

	case MsgReadCells:
		start, count, err := ParseCellRange(msg)
		if err != nil {
			s.send(ErrorMessage(addr, msg.Type, StatusMalformed))
			return
		}
		total := s.cells.CellCount()
		if int(start) > total {
			s.send(ErrorMessage(addr, msg.Type, StatusInvalidValue))
			return
		}
		end := int(start) + int(count)
		if end > total {
			end = total
		}
		mv := make([]int16, 0, end-int(start))
		for i := int(start); i < end; i++ {
			mv = append(mv, s.cells.CellVoltage(i))
		}
		s.send(CellVoltagesMessage(addr, start, mv))

	case MsgReadEvents:
		page, err := ParseEventPage(msg)
		if err != nil {
			s.send(ErrorMessage(addr, msg.Type, StatusMalformed))
			return
		}
		entries, pages := s.events.Page(int(page), EventsPerPage)
		if pages > 255 {
			pages = 255
		}
		s.send(EventsMessage(addr, page, uint8(pages), entries))

	default:
		s.send(ErrorMessage(addr, msg.Type, StatusUnsupported))
	}
}

func (s *Server) send(msg Message) {
	data, err := msg.Encode()
	if err != nil {
		s.log.Error("hostlink encode failed", zap.Error(err))
		return
	}
	if _, err := s.out.Write(data); err != nil {
		s.log.Warn("hostlink send failed", zap.Error(err))
	}
}
