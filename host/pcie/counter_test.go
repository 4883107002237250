// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import "testing"

func TestCounterTracker_monotonicWithinOneWrap(t *testing.T) {
	c := NewCounterTracker(64) // N=64, wrap period = 64*65536 = 4194304
	prev := uint64(0)
	for i := uint64(0); i < 300; i++ {
		loopCount := i / 64
		loopIndex := i % 64
		status := uint32(loopCount<<16) | uint32(loopIndex)
		got := c.Advance(status)
		if got < prev {
			t.Fatalf("step %d: hw_count went backwards: %d -> %d", i, prev, got)
		}
		if got != i {
			t.Fatalf("step %d: got hw_count %d, want %d", i, got, i)
		}
		prev = got
	}
}

func TestCounterTracker_wrapAt32Bits(t *testing.T) {
	n := 16
	c := NewCounterTracker(n)
	wrapPeriod := uint64(n) << 16 // N * 2^16

	// Drive it right up to the wrap boundary.
	lastIndexBeforeWrap := wrapPeriod - 1
	loopCount := uint32(lastIndexBeforeWrap / uint64(n))
	loopIndex := uint32(lastIndexBeforeWrap % uint64(n))
	status := loopCount<<16 | loopIndex
	got := c.Advance(status)
	if got != lastIndexBeforeWrap {
		t.Fatalf("got %d, want %d", got, lastIndexBeforeWrap)
	}

	// The 32-bit register wraps back to loop_count=0, loop_index=0.
	got = c.Advance(0)
	want := wrapPeriod
	if got != want {
		t.Fatalf("after wrap: got %d, want %d", got, want)
	}
	if got < lastIndexBeforeWrap {
		t.Fatal("monotonicity violated across the 32-bit wrap")
	}
}

func TestCounterTracker_resetZeroesLast(t *testing.T) {
	c := NewCounterTracker(16)
	c.Advance(uint32(5))
	if c.Last() == 0 {
		t.Fatal("expected non-zero last before reset")
	}
	c.Reset()
	if c.Last() != 0 {
		t.Fatal("expected last to be zero after Reset")
	}
}
