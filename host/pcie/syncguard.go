// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import "sync"

// syncGuard arbitrates the one transport-synchronizer clock shared by a
// channel's TX and RX engines: each direction that starts enables it,
// and it is only disabled again once both directions have stopped.
// Without this, stopping TX while RX is still running would cut RX's
// clock out from under it (spec.md §4.3's "mutual synchronizer" note).
type syncGuard struct {
	mu     sync.Mutex
	active int
	addrs  []uint32 // enable registers written since the last full release
}

// acquire increments the active count and writes 1 to the
// synchronizer-enable register at addr, remembering addr for release.
func (g *syncGuard) acquire(bus writer, addr uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active++
	g.addrs = append(g.addrs, addr)
	return bus.Write(addr, 1)
}

// release decrements the active count and, on a 1->0 transition, writes
// 0 to every synchronizer-enable register acquire wrote. It is a no-op,
// never going negative, if called without a matching acquire (defensive
// against a Stop on an already-idle direction).
func (g *syncGuard) release(bus writer, addr uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == 0 {
		return nil
	}
	g.active--
	if g.active > 0 {
		return nil
	}
	addrs := g.addrs
	g.addrs = nil
	for _, a := range addrs {
		if err := bus.Write(a, 0); err != nil {
			return err
		}
	}
	return nil
}

type writer interface {
	Write(addr uint32, v uint32) error
}
