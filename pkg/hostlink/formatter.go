// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostlink

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/ampere/pkg/events"
)

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	// Host requests (0x10-0x1F)
	case MsgAssignAddress:
		return "ASSIGN_ADDRESS"
	case MsgReadRegister:
		return "READ_REGISTER"
	case MsgWriteRegister:
		return "WRITE_REGISTER"
	case MsgReadCells:
		return "READ_CELLS"
	case MsgReadEvents:
		return "READ_EVENTS"
	case MsgDiscover:
		return "DISCOVER"

	// Device responses (0x30-0x3F)
	case MsgAnnounce:
		return "ANNOUNCE"
	case MsgRegisterValue:
		return "REGISTER_VALUE"
	case MsgWriteAck:
		return "WRITE_ACK"
	case MsgCellVoltages:
		return "CELL_VOLTAGES"
	case MsgEvents:
		return "EVENTS"

	case MsgError:
		return "ERROR"

	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", msgType)
	}
}

// FormatMessage formats a message into a human-readable string
func FormatMessage(m Message) string {
	head := fmt.Sprintf("%s (0x%02X) addr=0x%02X len=%d", FormatMessageType(m.Type), m.Type, m.Address, len(m.Body))
	body, err := formatBody(m)
	if err != nil {
		return fmt.Sprintf("%s\n  ! %v\n  raw: % X\n", head, err, m.Body)
	}
	if body == "" {
		return head + "\n"
	}
	return head + "\n" + body
}

// FormatPacket formats a timestamped payload
func FormatPacket(ts time.Time, payload []byte) string {
	stamp := ts.Format("15:04:05.000")
	m, err := ParseMessage(payload)
	if err != nil {
		return fmt.Sprintf("[%s] %v\n", stamp, err)
	}
	return fmt.Sprintf("[%s] %s", stamp, FormatMessage(m))
}

func formatBody(m Message) (string, error) {
	var sb strings.Builder
	switch m.Type {
	case MsgAnnounce, MsgAssignAddress:
		id, err := ParseIdentity(m)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "  serial=%016X address=0x%02X\n", id.Serial, id.Address)

	case MsgReadRegister:
		id, err := ParseRegisterID(m)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "  register=0x%04X\n", id)

	case MsgRegisterValue, MsgWriteRegister:
		id, v, err := ParseRegisterValue(m)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "  register=0x%04X %s\n", id, FormatValue(v))

	case MsgWriteAck:
		id, status, err := ParseWriteAck(m)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "  register=0x%04X status=%s\n", id, status)

	case MsgError:
		req, status, err := ParseError(m)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "  request=%s status=%s\n", FormatMessageType(req), status)

	case MsgReadCells:
		start, count, err := ParseCellRange(m)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "  start=%d count=%d\n", start, count)

	case MsgCellVoltages:
		start, mv, err := ParseCellVoltages(m)
		if err != nil {
			return "", err
		}
		sb.WriteString(FormatCells(int(start), mv))

	case MsgReadEvents:
		page, err := ParseEventPage(m)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "  page=%d\n", page)

	case MsgEvents:
		page, pages, entries, err := ParseEvents(m)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "  page %d of %d\n", int(page)+1, pages)
		sb.WriteString(FormatEvents(entries, nil))
	}
	return sb.String(), nil
}

// FormatValue renders a typed value with its type name
func FormatValue(v Value) string {
	return fmt.Sprintf("%s=%s", v.Type, v)
}

// FormatCells renders cell voltages eight to a line
func FormatCells(start int, mv []int16) string {
	var sb strings.Builder
	for i, v := range mv {
		if i%8 == 0 {
			fmt.Fprintf(&sb, "  %3d:", start+i)
		}
		if v < 0 {
			sb.WriteString("     --")
		} else {
			fmt.Fprintf(&sb, " %6d", v)
		}
		if i%8 == 7 || i == len(mv)-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// FormatEvents renders event entries. Kind names come from defs when given.
func FormatEvents(entries []events.Entry, defs []events.Definition) string {
	if len(entries) == 0 {
		return "  (no active events)\n"
	}
	var sb strings.Builder
	for _, e := range entries {
		name := fmt.Sprintf("kind_%d", e.Kind)
		if int(e.Kind) < len(defs) {
			name = defs[e.Kind].Name
		}
		fmt.Fprintf(&sb, "  %-28s %-8s count=%-5d ts=%-10d data=0x%X\n", name, e.Level, e.Count, e.Timestamp, e.Data)
	}
	return sb.String()
}
