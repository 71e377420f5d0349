// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/Thermoquad/ampere/pkg/timebase"
	"go.uber.org/zap/zaptest"
)

type testCells []int16

func (c testCells) CellCount() int          { return len(c) }
func (c testCells) CellVoltage(i int) int16 { return c[i] }

const testSerial = 0x0123456789ABCDEF

type testDevice struct {
	server  *Server
	out     *bytes.Buffer
	table   *events.Table
	limitMA int32
}

func newTestDevice(t *testing.T) *testDevice {
	t.Helper()
	d := &testDevice{out: &bytes.Buffer{}, limitMA: 50000}
	d.table = events.New(events.DefaultDefinitions(), timebase.NewManualClock(1000), zaptest.NewLogger(t))

	reg := NewRegistry()
	mustAdd := func(r Register) {
		if err := reg.Add(r); err != nil {
			t.Fatal(err)
		}
	}
	mustAdd(Register{ID: 0x0001, Name: "cell_count", Type: TypeU8, Get: func() Value { return U8(4) }})
	mustAdd(Register{
		ID: 0x0100, Name: "charge_limit_ma", Type: TypeI32,
		Get: func() Value { return I32(d.limitMA) },
		Set: func(v Value) error {
			if v.Int() < 0 {
				return errors.New("negative")
			}
			d.limitMA = int32(v.Int())
			return nil
		},
	})

	cells := testCells{3700, 3712, -1, 3698}
	d.server = NewServer(testSerial, reg, cells, d.table, d.out, zaptest.NewLogger(t))
	return d
}

// exchange feeds one request and returns every reply
func (d *testDevice) exchange(t *testing.T, m Message) []Message {
	t.Helper()
	d.out.Reset()
	d.server.Feed(mustEncode(t, m))
	d.server.Poll()

	dec := feed(t, d.out.Bytes())
	var replies []Message
	var buf [MaxPayloadSize]byte
	for {
		n, ok := dec.Next(buf[:])
		if !ok {
			break
		}
		msg, err := ParseMessage(append([]byte(nil), buf[:n]...))
		if err != nil {
			t.Fatal(err)
		}
		replies = append(replies, msg)
	}
	return replies
}

func mustEncode(t *testing.T, m Message) []byte {
	t.Helper()
	data, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func assign(t *testing.T, d *testDevice, addr byte) {
	t.Helper()
	replies := d.exchange(t, AssignAddressMessage(Identity{Serial: testSerial, Address: addr}))
	if len(replies) != 1 || replies[0].Type != MsgAnnounce || replies[0].Address != addr {
		t.Fatalf("assign: replies %+v", replies)
	}
}

func TestServer_DiscoverAndAssign(t *testing.T) {
	d := newTestDevice(t)

	replies := d.exchange(t, Message{Address: AddressBroadcast, Type: MsgDiscover})
	if len(replies) != 1 {
		t.Fatalf("got %d replies", len(replies))
	}
	id, err := ParseIdentity(replies[0])
	if err != nil || id.Serial != testSerial || id.Address != AddressUnassigned {
		t.Fatalf("announce %+v err=%v", id, err)
	}

	// assignment for another serial is ignored
	if r := d.exchange(t, AssignAddressMessage(Identity{Serial: 1, Address: 9})); len(r) != 0 {
		t.Errorf("foreign assignment answered: %+v", r)
	}
	assign(t, d, 0x21)
	if d.server.Identity().Address != 0x21 {
		t.Errorf("address 0x%02X", d.server.Identity().Address)
	}

	// requests to the old address are ignored now
	if r := d.exchange(t, ReadRegisterMessage(AddressUnassigned, 0x0001)); len(r) != 0 {
		t.Errorf("request to old address answered")
	}
}

func TestServer_Registers(t *testing.T) {
	d := newTestDevice(t)
	assign(t, d, 0x05)

	tests := []struct {
		name   string
		req    Message
		status Status
	}{
		{"unknown register", ReadRegisterMessage(0x05, 0x7777), StatusUnknownRegister},
		{"read-only write", WriteRegisterMessage(0x05, 0x0001, U8(9)), StatusReadOnly},
		{"type mismatch", WriteRegisterMessage(0x05, 0x0100, U16(9)), StatusTypeMismatch},
		{"rejected value", WriteRegisterMessage(0x05, 0x0100, I32(-1)), StatusInvalidValue},
		{"accepted", WriteRegisterMessage(0x05, 0x0100, I32(12000)), StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replies := d.exchange(t, tt.req)
			if len(replies) != 1 {
				t.Fatalf("got %d replies", len(replies))
			}
			var status Status
			var err error
			switch replies[0].Type {
			case MsgWriteAck:
				_, status, err = ParseWriteAck(replies[0])
			case MsgError:
				_, status, err = ParseError(replies[0])
			default:
				t.Fatalf("unexpected reply %s", FormatMessage(replies[0]))
			}
			if err != nil || status != tt.status {
				t.Errorf("status %s err=%v, want %s", status, err, tt.status)
			}
		})
	}

	replies := d.exchange(t, ReadRegisterMessage(0x05, 0x0100))
	_, v, err := ParseRegisterValue(replies[0])
	if err != nil || v.Int() != 12000 {
		t.Errorf("read back %s err=%v", v, err)
	}
}

func TestServer_ReadCells(t *testing.T) {
	d := newTestDevice(t)
	assign(t, d, 0x05)

	replies := d.exchange(t, ReadCellsMessage(0x05, 1, 10))
	start, mv, err := ParseCellVoltages(replies[0])
	if err != nil {
		t.Fatal(err)
	}
	want := []int16{3712, -1, 3698}
	if start != 1 || len(mv) != len(want) {
		t.Fatalf("start=%d cells=%v", start, mv)
	}
	for i := range want {
		if mv[i] != want[i] {
			t.Errorf("cell %d: %d want %d", i, mv[i], want[i])
		}
	}

	replies = d.exchange(t, ReadCellsMessage(0x05, 9, 1))
	if replies[0].Type != MsgError {
		t.Errorf("out-of-range start answered with %s", FormatMessageType(replies[0].Type))
	}
}

func TestServer_ReadEvents(t *testing.T) {
	d := newTestDevice(t)
	assign(t, d, 0x05)
	d.table.Count(events.ModuleCRCFailure, 3)
	d.table.Confirm(false, events.CellVoltageHighSoft, 4200)

	replies := d.exchange(t, ReadEventsMessage(0x05, 0))
	page, pages, entries, err := ParseEvents(replies[0])
	if err != nil {
		t.Fatal(err)
	}
	if page != 0 || pages != 1 || len(entries) != 2 {
		t.Fatalf("page=%d pages=%d entries=%d", page, pages, len(entries))
	}
	if entries[0].Kind != events.CellVoltageHighSoft || entries[0].Data != 4200 {
		t.Errorf("entry 0: %+v", entries[0])
	}
	out := FormatEvents(entries, nil)
	if !strings.Contains(out, "WARNING") {
		t.Errorf("formatted events missing level:\n%s", out)
	}
}

func TestServer_Unsupported(t *testing.T) {
	d := newTestDevice(t)
	replies := d.exchange(t, Message{Address: AddressBroadcast, Type: MsgAnnounce, Body: make([]byte, 9)})
	if len(replies) != 1 || replies[0].Type != MsgError {
		t.Fatalf("replies %+v", replies)
	}
	req, status, _ := ParseError(replies[0])
	if req != MsgAnnounce || status != StatusUnsupported {
		t.Errorf("req=%s status=%s", FormatMessageType(req), status)
	}
}

// loopback connects a client directly to a server
type loopback struct {
	server *Server
	rx     *io.PipeReader
	tx     *io.PipeWriter
}

func (l *loopback) Read(p []byte) (int, error) { return l.rx.Read(p) }

func (l *loopback) Write(p []byte) (int, error) {
	l.server.Feed(p)
	l.server.Poll()
	return len(p), nil
}

func TestClient_AgainstServer(t *testing.T) {
	rx, tx := io.Pipe()
	d := newTestDevice(t)
	d.server.out = tx
	conn := &loopback{server: d.server, rx: rx, tx: tx}
	defer tx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := NewClient(conn, AddressUnassigned)
	if err := client.AssignAddress(ctx, testSerial, 0x11); err != nil {
		t.Fatalf("AssignAddress: %v", err)
	}
	if client.Address() != 0x11 {
		t.Errorf("client address 0x%02X", client.Address())
	}

	v, err := client.ReadRegister(ctx, 0x0001)
	if err != nil || v.Uint() != 4 {
		t.Fatalf("ReadRegister: %s err=%v", v, err)
	}
	if err := client.WriteRegister(ctx, 0x0100, I32(25000)); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	if d.limitMA != 25000 {
		t.Errorf("limit %d", d.limitMA)
	}

	var reqErr *RequestError
	if err := client.WriteRegister(ctx, 0x0001, U8(1)); !errors.As(err, &reqErr) || reqErr.Status != StatusReadOnly {
		t.Errorf("read-only write: %v", err)
	}
	if _, err := client.ReadRegister(ctx, 0x4242); !errors.As(err, &reqErr) || reqErr.Status != StatusUnknownRegister {
		t.Errorf("unknown register: %v", err)
	}

	mv, err := client.ReadCells(ctx, 0, 4)
	if err != nil || len(mv) != 4 || mv[2] != -1 {
		t.Errorf("ReadCells: %v err=%v", mv, err)
	}
	entries, err := client.ReadEvents(ctx)
	if err != nil || len(entries) != 0 {
		t.Errorf("ReadEvents: %v err=%v", entries, err)
	}
}
