// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import (
	"context"
	"sync"
)

// Broadcaster wakes any number of waiters on every event, using the same
// close-and-replace-a-channel idiom context.Context itself uses for
// Done(): each Wait call snapshots the current channel, and Broadcast
// closes it and installs a fresh one. This lets a waiter select on both
// the broadcast and a context deadline without a sync.Cond's inability
// to participate in a select.
type Broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewBroadcaster returns a ready Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{ch: make(chan struct{})}
}

// Broadcast wakes every goroutine currently blocked in Wait.
func (b *Broadcaster) Broadcast() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}

// Wait blocks until the next Broadcast or until ctx is done.
func (b *Broadcaster) Wait(ctx context.Context) error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
