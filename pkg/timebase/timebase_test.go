// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package timebase

import "testing"

func TestSystemClock_NeverZero(t *testing.T) {
	c := NewSystemClock()
	if got := c.NowMs(); got < 1 {
		t.Fatalf("NowMs() = %d, want >= 1", got)
	}
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(10)
	if c.NowMs() != 10 {
		t.Fatalf("NowMs() = %d, want 10", c.NowMs())
	}
	if got := c.Advance(15); got != 25 {
		t.Errorf("Advance(15) = %d, want 25", got)
	}
	c.Set(5)
	if c.NowMs() != 5 {
		t.Errorf("after Set(5), NowMs() = %d", c.NowMs())
	}
}

func TestTicker(t *testing.T) {
	var tk Ticker
	if tk.Tick() != 0 {
		t.Fatal("new ticker should start at 0")
	}
	tk.Step()
	if n := tk.Step(); n != 2 || tk.Tick() != 2 {
		t.Errorf("Step() = %d, Tick() = %d, want 2", n, tk.Tick())
	}
}
