// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import (
	"context"

	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/conn/regbus"
)

// InterruptSource is whatever wakes the Interrupt Demultiplexer when the
// device has work to report: transport's pollInterruptSource, which
// wakes on a fixed interval, for a real device, or hwsim's in-process
// equivalent under test. Run re-polls
// the pending-bit registers itself after every wake, so InterruptSource
// only needs to signal "something happened", never say what.
type InterruptSource interface {
	Wait(ctx context.Context) error
}

type dirHandler struct {
	dir   dmabuf.Direction
	state *dmabuf.State
	ct    *CounterTracker
	ready *Broadcaster
}

// InterruptDemux is the ID of spec.md §4.5: on each wake it reads the
// pending-vector register for every direction it owns, reconstructs
// hw_count through that direction's CounterTracker, clears the
// acknowledged bit, and wakes anyone waiting on that direction's
// Broadcaster. Vectors belonging to out-of-scope subsystems (AD9361,
// SI5351, ...) are never decoded here; they are just handed to
// onExternalVector, if set, and left uncleared for whatever owns them.
type InterruptDemux struct {
	bus              regbus.Bus
	src              InterruptSource
	dirs             []*dirHandler
	onExternalVector func(vector uint32)
}

// NewInterruptDemux builds a demultiplexer over bus, woken by src.
func NewInterruptDemux(bus regbus.Bus, src InterruptSource, onExternalVector func(vector uint32)) *InterruptDemux {
	return &InterruptDemux{bus: bus, src: src, onExternalVector: onExternalVector}
}

// Watch registers a direction for this demux to service. ready is
// broadcast to every time that direction's hw_count advances.
func (id *InterruptDemux) Watch(dir dmabuf.Direction, state *dmabuf.State, ct *CounterTracker, ready *Broadcaster) {
	id.dirs = append(id.dirs, &dirHandler{dir: dir, state: state, ct: ct, ready: ready})
}

// Run blocks, servicing interrupts, until ctx is done or src.Wait returns
// a non-nil error.
func (id *InterruptDemux) Run(ctx context.Context) error {
	for {
		if err := id.src.Wait(ctx); err != nil {
			return err
		}
		if err := id.service(); err != nil {
			return err
		}
	}
}

// service runs exactly one pass over every watched direction, reading
// and clearing any pending completion it finds. It is split out as its
// own step (rather than inlined into Run) so this package's tests can
// drive one pass at a time without a live InterruptSource.
func (id *InterruptDemux) service() error {
	for _, h := range id.dirs {
		base := dirBase(h.dir)
		pending, err := id.bus.Read(base + offIrqPending)
		if err != nil {
			return err
		}
		if pending&1 == 0 {
			continue
		}
		loopStatus, err := id.bus.Read(base + offLoopStatus)
		if err != nil {
			return err
		}
		ApplyTo(h.state, h.ct, loopStatus)
		if err := id.bus.Write(base+offIrqClear, 1); err != nil {
			return err
		}
		h.ready.Broadcast()
	}
	if id.onExternalVector != nil {
		vec, err := id.bus.Read(regExternalPending)
		if err != nil {
			return err
		}
		if vec != 0 {
			id.onExternalVector(vec)
		}
	}
	return nil
}
