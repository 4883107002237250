// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import (
	"sync"
	"time"

	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/conn/regbus"
	"periph.io/x/m2sdr/dmaerr"
)

// Config tunes a DescriptorProgrammer's engine-start/stop behavior.
type Config struct {
	// IRQCadence is K, the number of buffers completed between
	// interrupts (spec.md §4.3); the device signals once every K
	// buffers rather than once per buffer.
	IRQCadence uint32
	// DisableIRQOnStop masks the direction's interrupt before disabling
	// the engine, so a completion racing the stop never reaches the
	// Interrupt Demultiplexer after Stop has returned.
	DisableIRQOnStop bool
	// DisableOnLastBuffer, when true, tells the engine to clear its own
	// enable bit after the last programmed buffer completes instead of
	// running an unbounded ring (Start sets control bit1). Stop still
	// writes the disable itself either way.
	DisableOnLastBuffer bool
	// AlignedEOF resolves spec.md §9's open question on whether the
	// last buffer of a bounded transfer must land on a
	// DMA_BUFFER_ALIGNED boundary. Decided false (see DESIGN.md): the
	// common case is continuous streaming, where no "last buffer"
	// exists, and forcing alignment would silently truncate a
	// one-shot capture that isn't a multiple of the buffer size. Start
	// does not read this field.
	AlignedEOF bool
	// Settle is how long Stop waits after clearing the engine-enable
	// bit before it is safe to reuse the pool's buffers, covering a
	// buffer transfer already in flight when the bit was cleared.
	Settle time.Duration
}

// DefaultConfig returns the Config used when none is supplied.
func DefaultConfig() Config {
	return Config{
		IRQCadence:          1,
		DisableIRQOnStop:    true,
		DisableOnLastBuffer: false,
		AlignedEOF:          false,
		Settle:              100 * time.Microsecond,
	}
}

// DescriptorProgrammer is the DP of spec.md §4.3: it programs the ring
// base/count for a direction's buffer pool, arms the engine, and tears it
// down again, carrying the direction through Idle->Armed->Running and
// Running->Draining->Idle.
type DescriptorProgrammer struct {
	bus   regbus.Bus
	dir   dmabuf.Direction
	state *dmabuf.State
	ct    *CounterTracker
	cfg   Config
	sync  *syncGuard

	mu    sync.Mutex
	phase Phase
}

// NewDescriptorProgrammer builds a DP for one direction of one channel.
// sync is shared with the DP of the other direction of the same channel,
// so the two cooperate over the shared transport-synchronizer clock.
func NewDescriptorProgrammer(bus regbus.Bus, dir dmabuf.Direction, state *dmabuf.State, ct *CounterTracker, cfg Config, sync *syncGuard) *DescriptorProgrammer {
	return &DescriptorProgrammer{bus: bus, dir: dir, state: state, ct: ct, cfg: cfg, sync: sync}
}

// Phase returns the DP's current state-machine phase.
func (d *DescriptorProgrammer) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Start programs pool's ring into the device and arms the engine. It is
// an error to Start a direction that is not Idle.
func (d *DescriptorProgrammer) Start(pool dmabuf.Pool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase != Idle {
		return dmaerr.New(dmaerr.Busy, "pcie", "%s: Start called in phase %s, want idle", d.dir, d.phase)
	}
	if pool.Len() == 0 {
		return dmaerr.New(dmaerr.InvalidArgument, "pcie", "%s: empty buffer pool", d.dir)
	}
	base := dirBase(d.dir)

	d.phase = Armed
	d.state.Pool = pool
	d.ct.Reset()
	if !d.state.Locked() {
		d.state.ResetCounters()
	}

	ring := pool.Buffer(0).BusAddr
	if err := regbus.Write64Lo(d.bus, base+offDescBase, ring); err != nil {
		d.phase = Idle
		return err
	}
	if err := d.bus.Write(base+offDescCount, uint32(pool.Len())); err != nil {
		d.phase = Idle
		return err
	}
	if err := d.bus.Write(base+offIrqCadence, d.cfg.IRQCadence); err != nil {
		d.phase = Idle
		return err
	}
	if err := d.bus.Write(base+offIrqEnable, 1); err != nil {
		d.phase = Idle
		return err
	}
	if err := d.sync.acquire(d.bus, base+offSyncEnable); err != nil {
		d.phase = Idle
		return err
	}

	var ctl uint32 = 1
	if d.cfg.DisableOnLastBuffer {
		ctl |= 1 << 1
	}
	if err := d.bus.Write(base+offControl, ctl); err != nil {
		d.phase = Idle
		return err
	}
	d.state.SetEnabled(true)
	d.phase = Running
	return nil
}

// Stop disables the engine and waits out Settle before returning, so the
// pool's buffers are safe to reuse or free once Stop returns. Calling
// Stop on an already-Idle direction is a no-op.
func (d *DescriptorProgrammer) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase == Idle {
		return nil
	}
	base := dirBase(d.dir)
	d.phase = Draining

	if d.cfg.DisableIRQOnStop {
		if err := d.bus.Write(base+offIrqEnable, 0); err != nil {
			return err
		}
	}
	if err := d.bus.Write(base+offControl, 0); err != nil {
		return err
	}
	if d.cfg.Settle > 0 {
		time.Sleep(d.cfg.Settle)
	}
	if err := d.sync.release(d.bus, base+offSyncEnable); err != nil {
		return err
	}
	d.state.SetEnabled(false)
	d.phase = Idle
	return nil
}
