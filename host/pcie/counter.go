// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import "periph.io/x/m2sdr/conn/dmabuf"

// CounterTracker is the CT of spec.md §4.4: it reconstructs a
// monotonically non-decreasing 64-bit hw_count from the device's
// wrap-prone 32-bit loop-status register, (loop_count<<16)|loop_index.
//
// N must be a power of two (enforced by dmabuf.CheckPoolSize at Pool
// construction time); this lets the "preserve the high bits" step be a
// bit-mask instead of a division, exactly as spec.md calls out.
type CounterTracker struct {
	n uint64 // buffer count, power of two

	last uint64 // hw_count_last
}

// NewCounterTracker builds a tracker for a direction whose pool has n
// buffers.
func NewCounterTracker(n int) *CounterTracker {
	return &CounterTracker{n: uint64(n)}
}

// wrapPeriod is N * 2^16, the period of the 32-bit loop-status register.
func (c *CounterTracker) wrapPeriod() uint64 { return c.n << 16 }

// Advance runs the reconstruction algorithm of spec.md §4.4 against one
// sample of the device's loop-status register and returns the
// reconstructed 64-bit hw_count. It must be called with samples in the
// order they were observed from hardware (single-writer: the Interrupt
// Demultiplexer).
func (c *CounterTracker) Advance(loopStatus uint32) uint64 {
	loopCount := uint64(loopStatus >> 16)
	loopIndex := uint64(loopStatus & 0xffff)
	raw := loopCount*c.n + loopIndex

	mask := c.wrapPeriod() - 1
	hw := (c.last &^ mask) | (raw & mask)
	if hw < c.last {
		hw += c.wrapPeriod()
	}
	c.last = hw
	return hw
}

// Reset zeroes hw_count_last, matching spec.md §4.3 step 4: "Reset CT
// counters for this direction to zero" on engine start.
func (c *CounterTracker) Reset() {
	c.last = 0
}

// Last returns the most recently reconstructed hw_count without
// consuming a new sample.
func (c *CounterTracker) Last() uint64 { return c.last }

// ApplyTo stores the reconstructed count into a dmabuf.State, the one
// place this package writes hw_count outside of tests.
func ApplyTo(s *dmabuf.State, c *CounterTracker, loopStatus uint32) {
	s.SetHWCount(c.Advance(loopStatus))
}
