// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dmabuf defines the data model shared by every transport: the
// Buffer Pool (BP) contract and the per (channel, direction)
// DirectionState record, exactly as specified in spec.md §3-§4.2.
//
// It plays the role periph.io's conn/gpio plays for pins: a set of types
// and invariants that concrete host packages (host/pcie) implement
// against real hardware, and that fakes (internal/hwsim) implement
// against simulated hardware, so the rest of the engine (ring, sdr) is
// written once against the interface.
package dmabuf

import (
	"sync/atomic"

	"periph.io/x/m2sdr/dmaerr"
)

// Direction is either Tx or Rx within a Channel.
type Direction int

const (
	Tx Direction = iota
	Rx
)

func (d Direction) String() string {
	switch d {
	case Tx:
		return "tx"
	case Rx:
		return "rx"
	default:
		return "invalid"
	}
}

// Buffer is one physically-contiguous DMA-coherent buffer of the pool.
// Identity (bus address, host pointer, size) is stable over the lifetime
// of the owning BufferPool.
type Buffer struct {
	// Index is this buffer's position in the pool, in [0, N).
	Index int
	// BusAddr is the address the device must use to reach this buffer
	// (spec.md: "Software accessing RAM using the DMA engines must use
	// bus addresses").
	BusAddr uint64
	// Host is the process-local view of the buffer. Its length is always
	// exactly the pool's B.
	Host []byte
}

// Pool is the Buffer Pool (BP) contract: new(channel, N, B) -> BufferPool,
// bus_address(i), host_ptr(i), len(), Close() (spec.md §4.2).
//
// N must be a power of two: the modular arithmetic throughout the ring
// layer assumes it (spec.md design note: "Counter reconstruction assumes
// N is a power of two").
type Pool interface {
	// Len returns N, the number of buffers in the pool.
	Len() int
	// BufSize returns B, the size in bytes of each buffer.
	BufSize() int
	// Buffer returns the i'th buffer, i in [0, Len()).
	Buffer(i int) *Buffer
	// Close releases every buffer. Failure to allocate any buffer at
	// construction must have already released every previously allocated
	// buffer and returned an error (dmaerr.OutOfMemory); Close is only
	// ever called on a fully-constructed Pool.
	Close() error
}

// CheckPoolSize validates that n is a power of two and b is a power of
// two, aborting construction with dmaerr.InvalidArgument otherwise. Every
// Pool constructor must call this before allocating.
func CheckPoolSize(pkg string, n, b int) error {
	if n <= 0 || n&(n-1) != 0 {
		return dmaerr.New(dmaerr.InvalidArgument, pkg, "buffer count %d must be a power of two", n)
	}
	if b <= 0 || b&(b-1) != 0 {
		return dmaerr.New(dmaerr.InvalidArgument, pkg, "buffer size %d must be a power of two", b)
	}
	return nil
}

// State is the DirectionState record of spec.md §3: per (channel,
// direction) hw_count/sw_count bookkeeping plus enable/lock flags.
//
// hw_count is written only by the Interrupt Demultiplexer (or, over UDP,
// by transport/udp's datagram reassembly loop); sw_count is
// written only by the owning User Ring. Both are read by many goroutines
// concurrently, hence the atomic access throughout.
type State struct {
	Dir  Direction
	Pool Pool

	hwCount uint64
	swCount uint64
	enabled uint32
	locked  uint32

	// LostBuffers counts RX buffers dropped because software did not
	// keep up (spec.md §4.7 overflow policy).
	LostBuffers uint64
	// Underflows counts TX slots where the device ran dry before
	// software resupplied (spec.md §4.7 underflow policy).
	Underflows uint64
}

// HWCount returns the hardware-completed buffer count.
func (s *State) HWCount() uint64 { return atomic.LoadUint64(&s.hwCount) }

// SWCount returns the software-produced/consumed buffer count.
func (s *State) SWCount() uint64 { return atomic.LoadUint64(&s.swCount) }

// SetHWCount is called by the Interrupt Demultiplexer, after
// reconstructing the 64-bit count from the device's wrap-prone 32-bit
// loop-status register (spec.md §4.4), and by transport/udp's
// reassembly loop each time a datagram completes a buffer.
func (s *State) SetHWCount(v uint64) { atomic.StoreUint64(&s.hwCount, v) }

// AdvanceSWCount advances sw_count by exactly one, as required for every
// buffer produced (TX) or consumed (RX). Returns the new value.
func (s *State) AdvanceSWCount() uint64 { return atomic.AddUint64(&s.swCount, 1) }

// ResetCounters zeroes both counters. Called on an enable 0->1 transition
// per spec.md §3 Lifecycles, provided no other holder keeps the lock.
func (s *State) ResetCounters() {
	atomic.StoreUint64(&s.hwCount, 0)
	atomic.StoreUint64(&s.swCount, 0)
}

// Enabled reports whether the direction's engine is currently enabled.
func (s *State) Enabled() bool { return atomic.LoadUint32(&s.enabled) != 0 }

// SetEnabled flips the enable flag. Returns true if this call performed
// a 0->1 transition (the caller should then consider ResetCounters, per
// the reset-on-enable invariant, subject to the lock-holder exception).
func (s *State) SetEnabled(v bool) (transitioned bool) {
	var n uint32
	if v {
		n = 1
	}
	old := atomic.SwapUint32(&s.enabled, n)
	return old == 0 && n == 1
}

// Locked reports whether a ChannelLock currently guards this direction's
// counters against reset.
func (s *State) Locked() bool { return atomic.LoadUint32(&s.locked) != 0 }

// SetLocked is called by the Channel Lock Arbiter.
func (s *State) SetLocked(v bool) {
	var n uint32
	if v {
		n = 1
	}
	atomic.StoreUint32(&s.locked, n)
}

// Occupancy returns hw_count-sw_count (RX) or sw_count-hw_count (TX),
// the ring's current occupancy, which must stay within [0, N] per
// spec.md §3's invariants.
func (s *State) Occupancy() int64 {
	hw := int64(s.HWCount())
	sw := int64(s.SWCount())
	if s.Dir == Rx {
		return hw - sw
	}
	return sw - hw
}

// N returns the buffer pool's buffer count, or 0 if no pool is attached.
func (s *State) N() int {
	if s.Pool == nil {
		return 0
	}
	return s.Pool.Len()
}
