// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package smr

import "periph.io/x/m2sdr/dmaerr"

// Ring is the in-memory view of an SMR file: the header plus the slot
// region, both backed by the same mapping (mmap'ed file in production,
// a plain []byte in tests).
type Ring struct {
	Header *Header
	slots  []byte // HeaderSize onward
}

// NewRing wraps the full backing buffer (header + slots) as a Ring.
func NewRing(backing []byte) (*Ring, error) {
	if len(backing) < HeaderSize {
		return nil, dmaerr.New(dmaerr.InvalidArgument, "smr", "backing buffer smaller than header size")
	}
	h, err := NewHeader(backing[:HeaderSize])
	if err != nil {
		return nil, err
	}
	return &Ring{Header: h, slots: backing[HeaderSize:]}, nil
}

// Slot returns the backing bytes for slot index i (taken mod num_slots).
func (r *Ring) Slot(i uint64) []byte {
	off := int(r.Header.SlotOffset(i)) - HeaderSize
	n := r.Header.ChunkBytes()
	return r.slots[off : off+n]
}

// TryProduce attempts to publish one slot. fill is called with the slot
// buffer to populate it; TryProduce stores write_index+1 with release
// ordering only after fill returns, satisfying spec.md §4.8's "all slot
// stores happen-before the index publication."
//
// Returns false if the ring is full (write_index - read_index ==
// num_slots); TryProduce counts that stall itself via
// Header.AddBufferStallCount, and the caller retries or waits.
func (r *Ring) TryProduce(fill func(slot []byte)) bool {
	h := r.Header
	wi := h.WriteIndex()
	ri := h.ReadIndex()
	if wi-ri >= uint64(h.NumSlots()) {
		h.AddBufferStallCount()
		return false
	}
	fill(r.Slot(wi))
	h.SetWriteIndex(wi + 1)
	return true
}

// TryConsume attempts to read one slot. drain is called with the slot
// buffer; TryConsume stores read_index+1 with release ordering only
// after drain returns, so the producer's next acquire-load of
// read_index cannot observe the slot as free before the consumer is
// done with it.
//
// Returns (true, false) if a slot was consumed, (false, true) if the
// ring was empty and the producer has signalled writer_done (the caller
// should terminate cleanly), and (false, false) if the ring is merely
// empty for now.
func (r *Ring) TryConsume(drain func(slot []byte)) (consumed bool, done bool) {
	h := r.Header
	wi := h.WriteIndex()
	ri := h.ReadIndex()
	if ri >= wi {
		return false, h.WriterDone()
	}
	drain(r.Slot(ri))
	h.SetReadIndex(ri + 1)
	return true, false
}
