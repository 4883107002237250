// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ring

import (
	"context"
	"sync"
)

// Broadcaster is a Waiter any number of producers can wake at once,
// using the same close-and-replace-a-channel idiom context.Context
// itself uses for Done(). Transports that have no real interrupt source
// of their own (transport/udp) use this to wake a blocked NextBuffer
// call once a datagram completes a buffer.
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
