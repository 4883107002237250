// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import (
	"testing"

	"periph.io/x/m2sdr/conn/dmabuf"
)

type fakeLockChannel struct {
	ControlChannel
	held map[dmabuf.Direction]bool
}

func newFakeLockChannel() *fakeLockChannel {
	return &fakeLockChannel{held: map[dmabuf.Direction]bool{}}
}

func (c *fakeLockChannel) LockRequest(dir dmabuf.Direction) (bool, error) {
	if c.held[dir] {
		return false, nil
	}
	c.held[dir] = true
	return true, nil
}

func (c *fakeLockChannel) LockRelease(dir dmabuf.Direction) error {
	c.held[dir] = false
	return nil
}

func (c *fakeLockChannel) LockStatus(dir dmabuf.Direction) (bool, error) {
	return c.held[dir], nil
}

func TestChannelLockArbiter_acquireRelease(t *testing.T) {
	cc := newFakeLockChannel()
	arb := NewChannelLockArbiter(cc)
	state := &dmabuf.State{Dir: dmabuf.Tx}

	lock, err := arb.Acquire(dmabuf.Tx, state)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !state.Locked() {
		t.Fatal("expected state.Locked() after Acquire")
	}
	if _, err := arb.Acquire(dmabuf.Tx, state); err == nil {
		t.Fatal("expected second Acquire to fail while held")
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if state.Locked() {
		t.Fatal("expected state.Locked() == false after Release")
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release should be a no-op, got: %v", err)
	}
	held, err := arb.Status(dmabuf.Tx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if held {
		t.Fatal("expected Status() == false after Release")
	}
}

func TestChannelLockArbiter_independentDirections(t *testing.T) {
	cc := newFakeLockChannel()
	arb := NewChannelLockArbiter(cc)
	txState := &dmabuf.State{Dir: dmabuf.Tx}
	rxState := &dmabuf.State{Dir: dmabuf.Rx}

	if _, err := arb.Acquire(dmabuf.Tx, txState); err != nil {
		t.Fatalf("Acquire tx: %v", err)
	}
	if _, err := arb.Acquire(dmabuf.Rx, rxState); err != nil {
		t.Fatalf("Acquire rx should not be blocked by tx's lock: %v", err)
	}
}
