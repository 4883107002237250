// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import (
	"sync"

	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/dmaerr"
)

// ChannelLockArbiter is the CLA of spec.md §4.6: mutual exclusion per
// (channel, direction) across every process sharing the control device,
// so that only the lock holder's counters are protected from an enable
// 0->1 reset by some other opener.
type ChannelLockArbiter struct {
	cc ControlChannel
}

// NewChannelLockArbiter builds an arbiter over cc.
func NewChannelLockArbiter(cc ControlChannel) *ChannelLockArbiter {
	return &ChannelLockArbiter{cc: cc}
}

// Acquire requests the lock for dir. If granted, state.Locked() reports
// true until the returned ChannelLock is released. Acquire returns
// dmaerr.Busy if another holder already has the lock.
func (a *ChannelLockArbiter) Acquire(dir dmabuf.Direction, state *dmabuf.State) (*ChannelLock, error) {
	granted, err := a.cc.LockRequest(dir)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, dmaerr.New(dmaerr.Busy, "pcie", "%s: lock already held by another opener", dir)
	}
	state.SetLocked(true)
	return &ChannelLock{cc: a.cc, dir: dir, state: state}, nil
}

// Status reports whether dir is currently locked, by anyone.
func (a *ChannelLockArbiter) Status(dir dmabuf.Direction) (bool, error) {
	return a.cc.LockStatus(dir)
}

// ChannelLock is a held lock on one (channel, direction). Release frees
// it (later calls are no-ops); a held lock left unreleased when its owning
// handle is dropped should be released from that handle's Close, the
// same way host/pmem's View.Close releases its mapping.
type ChannelLock struct {
	cc    ControlChannel
	dir   dmabuf.Direction
	state *dmabuf.State

	mu       sync.Mutex
	released bool
}

// Release releases the lock. It is idempotent: calling it more than once
// is a no-op returning nil.
func (l *ChannelLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	l.state.SetLocked(false)
	return l.cc.LockRelease(l.dir)
}
