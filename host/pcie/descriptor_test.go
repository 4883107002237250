// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import (
	"testing"
	"time"

	"periph.io/x/m2sdr/conn/dmabuf"
)

type fakeBus struct {
	regs map[uint32]uint32
}

func newFakeBus() *fakeBus { return &fakeBus{regs: map[uint32]uint32{}} }

func (b *fakeBus) String() string { return "fakeBus" }

func (b *fakeBus) Read(addr uint32) (uint32, error) { return b.regs[addr], nil }

func (b *fakeBus) Write(addr uint32, v uint32) error {
	b.regs[addr] = v
	return nil
}

type fakePool struct {
	n, size int
	bufs    []*dmabuf.Buffer
}

func newFakePool(n, size int) *fakePool {
	p := &fakePool{n: n, size: size}
	for i := 0; i < n; i++ {
		p.bufs = append(p.bufs, &dmabuf.Buffer{Index: i, BusAddr: uint64(0x10000 + i*size), Host: make([]byte, size)})
	}
	return p
}

func (p *fakePool) Len() int                   { return p.n }
func (p *fakePool) BufSize() int               { return p.size }
func (p *fakePool) Buffer(i int) *dmabuf.Buffer { return p.bufs[i] }
func (p *fakePool) Close() error                { return nil }

func TestDescriptorProgrammer_startProgramsRing(t *testing.T) {
	bus := newFakeBus()
	state := &dmabuf.State{Dir: dmabuf.Tx}
	ct := NewCounterTracker(8)
	cfg := DefaultConfig()
	cfg.Settle = 0
	dp := NewDescriptorProgrammer(bus, dmabuf.Tx, state, ct, cfg, &syncGuard{})

	pool := newFakePool(8, 4096)
	if err := dp.Start(pool); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if dp.Phase() != Running {
		t.Fatalf("phase = %s, want running", dp.Phase())
	}
	base := dirBase(dmabuf.Tx)
	if got, _ := bus.Read(base + offDescBase); got != uint32(pool.Buffer(0).BusAddr) {
		t.Fatalf("ring base = %#x, want %#x", got, pool.Buffer(0).BusAddr)
	}
	if got, _ := bus.Read(base + offDescBaseHi); got != uint32(pool.Buffer(0).BusAddr>>32) {
		t.Fatalf("ring base hi = %#x, want %#x", got, pool.Buffer(0).BusAddr>>32)
	}
	if got, _ := bus.Read(base + offDescCount); got != 8 {
		t.Fatalf("ring count = %d, want 8", got)
	}
	if got, _ := bus.Read(base + offSyncEnable); got != 1 {
		t.Fatal("expected synchronizer enabled after Start")
	}
	if !state.Enabled() {
		t.Fatal("expected state.Enabled() after Start")
	}
}

func TestDescriptorProgrammer_startSplits64BitBusAddr(t *testing.T) {
	bus := newFakeBus()
	state := &dmabuf.State{Dir: dmabuf.Rx}
	cfg := DefaultConfig()
	cfg.Settle = 0
	dp := NewDescriptorProgrammer(bus, dmabuf.Rx, state, NewCounterTracker(4), cfg, &syncGuard{})

	pool := &fakePool{n: 4, size: 4096}
	pool.bufs = append(pool.bufs, &dmabuf.Buffer{Index: 0, BusAddr: 0x1_8000_0000, Host: make([]byte, 4096)})
	for i := 1; i < 4; i++ {
		pool.bufs = append(pool.bufs, &dmabuf.Buffer{Index: i, BusAddr: 0x1_8000_0000 + uint64(i*4096), Host: make([]byte, 4096)})
	}

	if err := dp.Start(pool); err != nil {
		t.Fatalf("Start: %v", err)
	}
	base := dirBase(dmabuf.Rx)
	gotLo, _ := bus.Read(base + offDescBase)
	gotHi, _ := bus.Read(base + offDescBaseHi)
	if gotLo != uint32(0x80000000) || gotHi != 1 {
		t.Fatalf("ring base = hi:%#x lo:%#x, want hi:0x1 lo:0x80000000", gotHi, gotLo)
	}
}

func TestDescriptorProgrammer_doubleStartIsBusy(t *testing.T) {
	bus := newFakeBus()
	state := &dmabuf.State{Dir: dmabuf.Rx}
	cfg := DefaultConfig()
	cfg.Settle = 0
	dp := NewDescriptorProgrammer(bus, dmabuf.Rx, state, NewCounterTracker(4), cfg, &syncGuard{})
	pool := newFakePool(4, 1024)
	if err := dp.Start(pool); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := dp.Start(pool); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestDescriptorProgrammer_stopIdempotent(t *testing.T) {
	bus := newFakeBus()
	state := &dmabuf.State{Dir: dmabuf.Tx}
	cfg := DefaultConfig()
	cfg.Settle = time.Microsecond
	dp := NewDescriptorProgrammer(bus, dmabuf.Tx, state, NewCounterTracker(4), cfg, &syncGuard{})
	if err := dp.Stop(); err != nil {
		t.Fatalf("Stop on idle: %v", err)
	}
	pool := newFakePool(4, 1024)
	if err := dp.Start(pool); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := dp.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := dp.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if dp.Phase() != Idle {
		t.Fatalf("phase = %s, want idle", dp.Phase())
	}
	if state.Enabled() {
		t.Fatal("expected state.Enabled() == false after Stop")
	}
}

func TestDescriptorProgrammer_sharedSyncGuardMutualExclusion(t *testing.T) {
	bus := newFakeBus()
	guard := &syncGuard{}
	cfgTx := DefaultConfig()
	cfgTx.Settle = 0
	cfgRx := cfgTx
	tx := NewDescriptorProgrammer(bus, dmabuf.Tx, &dmabuf.State{Dir: dmabuf.Tx}, NewCounterTracker(4), cfgTx, guard)
	rx := NewDescriptorProgrammer(bus, dmabuf.Rx, &dmabuf.State{Dir: dmabuf.Rx}, NewCounterTracker(4), cfgRx, guard)

	poolTx := newFakePool(4, 1024)
	poolRx := newFakePool(4, 1024)
	if err := tx.Start(poolTx); err != nil {
		t.Fatalf("tx.Start: %v", err)
	}
	if err := rx.Start(poolRx); err != nil {
		t.Fatalf("rx.Start: %v", err)
	}
	if guard.active != 2 {
		t.Fatalf("guard.active = %d, want 2", guard.active)
	}
	if err := tx.Stop(); err != nil {
		t.Fatalf("tx.Stop: %v", err)
	}
	if got, _ := bus.Read(dirBase(dmabuf.Rx) + offSyncEnable); got != 1 {
		t.Fatal("rx's synchronizer must stay enabled while rx is still running")
	}
	if err := rx.Stop(); err != nil {
		t.Fatalf("rx.Stop: %v", err)
	}
	if got, _ := bus.Read(dirBase(dmabuf.Rx) + offSyncEnable); got != 0 {
		t.Fatal("synchronizer should be disabled once both directions stopped")
	}
}
