// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/ampere/pkg/events"
)

// ErrClosed is returned by requests after the client stopped reading
var ErrClosed = errors.New("hostlink: client closed")

// RequestError reports a device-side rejection
type RequestError struct {
	Request byte
	Status  Status
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("hostlink: %s rejected: %s", FormatMessageType(e.Request), e.Status)
}

// Client issues requests to one device over a byte stream
type Client struct {
	conn    io.ReadWriter
	ring    *Ring
	decoder *Decoder
	packets chan []byte
	done    chan struct{}
	notify  chan struct{}

	mu      sync.Mutex
	address byte
	err     error
}

// NewClient starts reading conn. Packets are delivered in order to Packets()
// and consumed by request methods.
func NewClient(conn io.ReadWriter, address byte) *Client {
	ring := NewRing(RingSize)
	c := &Client{
		conn:    conn,
		ring:    ring,
		decoder: NewDecoder(ring),
		packets: make(chan []byte, 32),
		done:    make(chan struct{}),
		notify:  make(chan struct{}, 1),
		address: address,
	}
	go c.readLoop()
	go c.decodeLoop()
	return c
}

// Statistics returns the receive counters
func (c *Client) Statistics() *Statistics {
	return c.decoder.Statistics()
}

// Address returns the device address requests are sent to
func (c *Client) Address() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// SetAddress changes the device address requests are sent to
func (c *Client) SetAddress(addr byte) {
	c.mu.Lock()
	c.address = addr
	c.mu.Unlock()
}

// Packets returns decoded payloads for passive monitoring
func (c *Client) Packets() <-chan []byte {
	return c.packets
}

// Err returns the error that stopped the reader, if any
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := c.conn.Read(buf)
		for p := buf[:n]; len(p) > 0; {
			w := c.ring.Write(p)
			p = p[w:]
			c.wake()
			if len(p) > 0 {
				time.Sleep(time.Millisecond)
			}
		}
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			close(c.done)
			return
		}
	}
}

func (c *Client) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Client) decodeLoop() {
	defer close(c.packets)
	var buf [MaxPayloadSize]byte
	for {
		for {
			n, ok := c.decoder.Next(buf[:])
			if !ok {
				break
			}
			c.packets <- append([]byte(nil), buf[:n]...)
		}
		select {
		case <-c.notify:
		case <-c.done:
			return
		}
	}
}

// Send writes one message
func (c *Client) Send(m Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(data)
	return err
}

// Request sends m and waits for the first response of type want from the
// request's address. An error response for the request type fails the call.
func (c *Client) Request(ctx context.Context, m Message, want byte) (Message, error) {
	if err := c.Send(m); err != nil {
		return Message{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return Message{}, fmt.Errorf("waiting for %s: %w", FormatMessageType(want), ctx.Err())
		case p, ok := <-c.packets:
			if !ok {
				if err := c.Err(); err != nil && !errors.Is(err, io.EOF) {
					return Message{}, fmt.Errorf("%w: %v", ErrClosed, err)
				}
				return Message{}, ErrClosed
			}
			resp, err := ParseMessage(p)
			if err != nil {
				continue
			}
			if m.Address != AddressBroadcast && resp.Address != m.Address {
				continue
			}
			if resp.Type == MsgError {
				req, status, err := ParseError(resp)
				if err == nil && req == m.Type {
					return Message{}, &RequestError{Request: req, Status: status}
				}
				continue
			}
			if resp.Type == want {
				return resp, nil
			}
		}
	}
}

// ReadRegister reads one register
func (c *Client) ReadRegister(ctx context.Context, id uint16) (Value, error) {
	resp, err := c.Request(ctx, ReadRegisterMessage(c.Address(), id), MsgRegisterValue)
	if err != nil {
		return Value{}, err
	}
	got, v, err := ParseRegisterValue(resp)
	if err != nil {
		return Value{}, err
	}
	if got != id {
		return Value{}, fmt.Errorf("%w: asked for register 0x%04X, got 0x%04X", ErrMalformed, id, got)
	}
	return v, nil
}

// WriteRegister writes one register and waits for the acknowledgement
func (c *Client) WriteRegister(ctx context.Context, id uint16, v Value) error {
	resp, err := c.Request(ctx, WriteRegisterMessage(c.Address(), id, v), MsgWriteAck)
	if err != nil {
		return err
	}
	_, status, err := ParseWriteAck(resp)
	if err != nil {
		return err
	}
	if status != StatusOK {
		return &RequestError{Request: MsgWriteRegister, Status: status}
	}
	return nil
}

// ReadCells reads count cell voltages starting at start
func (c *Client) ReadCells(ctx context.Context, start, count uint8) ([]int16, error) {
	resp, err := c.Request(ctx, ReadCellsMessage(c.Address(), start, count), MsgCellVoltages)
	if err != nil {
		return nil, err
	}
	_, mv, err := ParseCellVoltages(resp)
	return mv, err
}

// ReadEvents reads every page of the active event log
func (c *Client) ReadEvents(ctx context.Context) ([]events.Entry, error) {
	var all []events.Entry
	for page := 0; ; page++ {
		resp, err := c.Request(ctx, ReadEventsMessage(c.Address(), uint8(page)), MsgEvents)
		if err != nil {
			return nil, err
		}
		_, pages, entries, err := ParseEvents(resp)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
		if page+1 >= int(pages) || page == 255 {
			return all, nil
		}
	}
}

// Discover broadcasts a discovery request and collects announces until ctx ends
func (c *Client) Discover(ctx context.Context) ([]Identity, error) {
	if err := c.Send(Message{Address: AddressBroadcast, Type: MsgDiscover}); err != nil {
		return nil, err
	}
	seen := make(map[uint64]bool)
	var found []Identity
	for {
		select {
		case <-ctx.Done():
			return found, nil
		case p, ok := <-c.packets:
			if !ok {
				return found, nil
			}
			m, err := ParseMessage(p)
			if err != nil || m.Type != MsgAnnounce {
				continue
			}
			id, err := ParseIdentity(m)
			if err != nil || seen[id.Serial] {
				continue
			}
			seen[id.Serial] = true
			found = append(found, id)
		}
	}
}

// AssignAddress gives the device with serial a new address and waits for it
// to announce itself there
func (c *Client) AssignAddress(ctx context.Context, serial uint64, addr byte) error {
	resp, err := c.Request(ctx, AssignAddressMessage(Identity{Serial: serial, Address: addr}), MsgAnnounce)
	if err != nil {
		return err
	}
	id, err := ParseIdentity(resp)
	if err != nil {
		return err
	}
	if id.Serial != serial || id.Address != addr {
		return fmt.Errorf("%w: announce from %016X at 0x%02X", ErrMalformed, id.Serial, id.Address)
	}
	c.SetAddress(addr)
	return nil
}
