// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ring implements the User Ring (UR) of spec.md §4.7: the
// transport-agnostic producer/consumer surface built on top of a
// dmabuf.Pool and dmabuf.State, whichever concrete transport supplied
// them.
package ring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/dmaerr"
)

// Waiter is whatever wakes a blocked NextWriteBuffer/NextReadBuffer call
// when hw_count might have advanced. host/pcie.Broadcaster and this
// package's Broadcaster both satisfy it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Mode selects how buffers are handed to the caller.
type Mode int

const (
	// ZeroCopy hands out the pool's own buffer; the caller reads/writes
	// it directly and Submit/Consume publish the new count with no copy.
	ZeroCopy Mode = iota
	// Staged copies into/out of a per-ring scratch buffer, for transports
	// (e.g. UDP) whose datagram reassembly can't address the pool
	// in-place.
	Staged
)

// UserRing is the UR: one (channel, direction)'s producer or consumer
// side, built on a dmabuf.Pool and the dmabuf.State the owning transport
// keeps hw_count/sw_count in.
type UserRing struct {
	dir    dmabuf.Direction
	state  *dmabuf.State
	waiter Waiter
	mode   Mode
	log    *zap.Logger

	stage []byte // only used in Staged mode
}

// New builds a UserRing over state (whose Pool must already be set,
// i.e. the owning transport's Start has run). log may be nil.
func New(dir dmabuf.Direction, state *dmabuf.State, waiter Waiter, mode Mode, log *zap.Logger) *UserRing {
	if log == nil {
		log = zap.NewNop()
	}
	r := &UserRing{dir: dir, state: state, waiter: waiter, mode: mode, log: log}
	if mode == Staged && state.Pool != nil {
		r.stage = make([]byte, state.Pool.BufSize())
	}
	return r
}

// halfWatermark is the shared N/2 threshold spec.md §4.7/§5 use on both
// sides of the ring: the occupancy at which an RX ring is considered
// dangerously full, and the room a TX ring must keep below to stay
// writable.
func (r *UserRing) halfWatermark() int64 {
	return int64(r.state.N()) / 2
}

// rxReadableWatermark is the literal occupancy spec.md §5 requires RX to
// cross before Poll reports readable ("hw_count - sw_count > 2").
const rxReadableWatermark = 2

// Poll reports whether the ring currently has a buffer ready to read
// (RX) or room to write (TX), without blocking (spec.md §5: RX readable
// at hw_count-sw_count > 2, TX writable at sw_count-hw_count < N/2).
func (r *UserRing) Poll() (readable, writable bool) {
	occ := r.state.Occupancy()
	if r.dir == dmabuf.Rx {
		return occ > rxReadableWatermark, false
	}
	return false, occ < r.halfWatermark()
}

// FenceBeforeRead is a hook for platforms where the DMA buffer is not
// cache-coherent with the CPU and a read barrier must run before the
// buffer's contents are observed. The PCIe host path is coherent, so
// this is a no-op here.
func (r *UserRing) FenceBeforeRead() {}

// FenceAfterWrite is FenceBeforeRead's write-side counterpart.
func (r *UserRing) FenceAfterWrite() {}

// wait blocks until cond() is true or timeout elapses (timeout <= 0
// means wait forever).
func (r *UserRing) wait(ctx context.Context, timeout time.Duration, cond func() bool) error {
	if cond() {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for !cond() {
		if err := r.waiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return dmaerr.Wrap(dmaerr.Timeout, "ring", err, "%s: timed out waiting for buffer", r.dir)
			}
			return err
		}
	}
	return nil
}

// NextReadBuffer blocks (up to timeout, <= 0 for forever) until at least
// one RX buffer is available, then returns it without advancing
// sw_count; the caller must call Consume when done with it.
func (r *UserRing) NextReadBuffer(ctx context.Context, timeout time.Duration) (*dmabuf.Buffer, error) {
	if r.dir != dmabuf.Rx {
		return nil, dmaerr.New(dmaerr.InvalidArgument, "ring", "NextReadBuffer called on a tx ring")
	}
	if err := r.wait(ctx, timeout, func() bool { return r.state.Occupancy() > 0 }); err != nil {
		return nil, err
	}
	r.checkOverflow()
	sw := r.state.SWCount()
	buf := r.state.Pool.Buffer(int(sw % uint64(r.state.N())))
	if r.mode == Staged {
		copy(r.stage, buf.Host)
		staged := *buf
		staged.Host = r.stage
		return &staged, nil
	}
	return buf, nil
}

// Consume publishes that the buffer most recently returned by
// NextReadBuffer has been fully processed, advancing sw_count.
func (r *UserRing) Consume() {
	r.state.AdvanceSWCount()
}

// NextWriteBuffer blocks (up to timeout, <= 0 for forever) until the
// ring has room (sw_count - hw_count < N/2, spec.md §4.7/§5), then
// returns the next slot without advancing sw_count; the caller must
// fill it and call Submit.
func (r *UserRing) NextWriteBuffer(ctx context.Context, timeout time.Duration) (*dmabuf.Buffer, error) {
	if r.dir != dmabuf.Tx {
		return nil, dmaerr.New(dmaerr.InvalidArgument, "ring", "NextWriteBuffer called on an rx ring")
	}
	if err := r.wait(ctx, timeout, func() bool { return r.state.Occupancy() < r.halfWatermark() }); err != nil {
		return nil, err
	}
	r.checkUnderflow()
	sw := r.state.SWCount()
	buf := r.state.Pool.Buffer(int(sw % uint64(r.state.N())))
	if r.mode == Staged {
		staged := *buf
		staged.Host = r.stage
		return &staged, nil
	}
	return buf, nil
}

// Submit publishes the buffer most recently returned by NextWriteBuffer
// as ready for the device to send, advancing sw_count. In Staged mode it
// first copies the staging buffer into the pool slot sw_count actually
// names.
func (r *UserRing) Submit() {
	if r.mode == Staged {
		sw := r.state.SWCount()
		dst := r.state.Pool.Buffer(int(sw % uint64(r.state.N())))
		copy(dst.Host, r.stage)
	}
	r.state.AdvanceSWCount()
}

// checkOverflow declares a buffer lost once the consumer has fallen
// N/2 buffers behind the device (spec.md §4.7): sw_count is advanced
// without copying, skipping the stale slot forward instead of handing
// it to the caller again on the next NextReadBuffer call.
func (r *UserRing) checkOverflow() {
	for r.state.Occupancy() >= r.halfWatermark() {
		r.state.LostBuffers++
		r.state.AdvanceSWCount()
		r.log.Warn("rx ring overflow, dropping stale buffer",
			zap.Int64("occupancy", r.state.Occupancy()),
			zap.Int("n", r.state.N()),
			zap.Uint64("lost_buffers_total", r.state.LostBuffers))
	}
}

// checkUnderflow logs and counts the device catching up to software on
// TX (spec.md §4.7). Like overflow, this is never an error return.
func (r *UserRing) checkUnderflow() {
	if r.state.Occupancy() <= 0 {
		r.state.Underflows++
		r.log.Warn("tx ring underflow", zap.Uint64("underflows_total", r.state.Underflows))
	}
}
