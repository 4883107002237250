// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import (
	"testing"

	"periph.io/x/m2sdr/conn/dmabuf"
)

// fakeControlChannel is a full in-process ControlChannel, standing in
// for internal/hwsim in this package's own tests so Device can be
// exercised without a real character device.
type fakeControlChannel struct {
	regs     map[uint32]uint32
	loopback bool
	locks    map[dmabuf.Direction]bool
}

func newFakeControlChannel() *fakeControlChannel {
	return &fakeControlChannel{regs: map[uint32]uint32{}, locks: map[dmabuf.Direction]bool{}}
}

func (c *fakeControlChannel) RegRead(addr uint32) (uint32, error) { return c.regs[addr], nil }

func (c *fakeControlChannel) RegWrite(addr uint32, v uint32) error {
	c.regs[addr] = v
	return nil
}

func (c *fakeControlChannel) SetLoopback(enable bool) error {
	c.loopback = enable
	return nil
}

func (c *fakeControlChannel) SetDirection(dir dmabuf.Direction, enable bool, hwCount, swCount int64) (int64, int64, error) {
	return hwCount, swCount, nil
}

func (c *fakeControlChannel) MMAPDMAInfo() (MMAPInfo, error) { return MMAPInfo{}, nil }

func (c *fakeControlChannel) UpdateSWCount(dir dmabuf.Direction, sw int64) error { return nil }

func (c *fakeControlChannel) LockRequest(dir dmabuf.Direction) (bool, error) {
	if c.locks[dir] {
		return false, nil
	}
	c.locks[dir] = true
	return true, nil
}

func (c *fakeControlChannel) LockRelease(dir dmabuf.Direction) error {
	c.locks[dir] = false
	return nil
}

func (c *fakeControlChannel) LockStatus(dir dmabuf.Direction) (bool, error) {
	return c.locks[dir], nil
}

func TestDevice_scratchRoundTrip(t *testing.T) {
	cc := newFakeControlChannel()
	dev := Open("dev0c0", cc, &fakeSource{fire: make(chan struct{})}, DefaultConfig(), nil, nil)
	if err := dev.ScratchWrite(0xdeadbeef); err != nil {
		t.Fatalf("ScratchWrite: %v", err)
	}
	got, err := dev.ScratchRead()
	if err != nil {
		t.Fatalf("ScratchRead: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("got %#x, want 0xdeadbeef", got)
	}
}

func TestDevice_startStopAndInterruptWiring(t *testing.T) {
	cc := newFakeControlChannel()
	cfg := DefaultConfig()
	cfg.Settle = 0
	dev := Open("dev0c0", cc, &fakeSource{fire: make(chan struct{})}, cfg, nil, nil)

	pool := newFakePool(4, 4096)
	if err := dev.Start(dmabuf.Rx, pool); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !dev.Rx.State.Enabled() {
		t.Fatal("expected rx enabled after Start")
	}

	base := dirBase(dmabuf.Rx)
	dev.RP.Write(base+offIrqPending, 1)
	dev.RP.Write(base+offLoopStatus, 2)
	if err := dev.ID.service(); err != nil {
		t.Fatalf("service: %v", err)
	}
	if dev.Rx.State.HWCount() != 2 {
		t.Fatalf("hw_count = %d, want 2", dev.Rx.State.HWCount())
	}

	if err := dev.Stop(dmabuf.Rx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if dev.Rx.State.Enabled() {
		t.Fatal("expected rx disabled after Stop")
	}
}

func TestDevice_lockArbiter(t *testing.T) {
	cc := newFakeControlChannel()
	dev := Open("dev0c0", cc, &fakeSource{fire: make(chan struct{})}, DefaultConfig(), nil, nil)
	lock, err := dev.CLA.Acquire(dmabuf.Tx, dev.Tx.State)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := dev.CLA.Acquire(dmabuf.Tx, dev.Tx.State); err == nil {
		t.Fatal("expected second Acquire to fail")
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestDevice_loopback(t *testing.T) {
	cc := newFakeControlChannel()
	dev := Open("dev0c0", cc, &fakeSource{fire: make(chan struct{})}, DefaultConfig(), nil, nil)
	if err := dev.Loopback(true); err != nil {
		t.Fatalf("Loopback: %v", err)
	}
	if !cc.loopback {
		t.Fatal("expected loopback enabled")
	}
}
