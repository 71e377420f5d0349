// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

// Entry is one line of the event log
type Entry struct {
	Kind      Kind
	Level     Level
	Count     uint16
	Timestamp int64
	Data      uint64
}

// Entries returns every kind that has ever occurred, ordered by kind
func (t *Table) Entries() []Entry {
	var out []Entry
	for k := Kind(0); k < KindCount; k++ {
		s := &t.slots[k]
		if s.Count == 0 && s.Level == LevelNone {
			continue
		}
		out = append(out, Entry{
			Kind:      k,
			Level:     s.Level,
			Count:     s.Count,
			Timestamp: s.Timestamp,
			Data:      s.Data,
		})
	}
	return out
}

// Page returns page n of the event log and the total page count.
// An empty log still has one (empty) page.
func (t *Table) Page(n, size int) ([]Entry, int) {
	if size <= 0 {
		size = 1
	}
	all := t.Entries()
	pages := (len(all) + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	start := n * size
	if n < 0 || start >= len(all) {
		return nil, pages
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], pages
}
