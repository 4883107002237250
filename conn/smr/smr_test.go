// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package smr

import "testing"

func newTestRing(t *testing.T, numSlots uint32, chunkSize uint32, numChannels uint16, sampleSize uint32) *Ring {
	t.Helper()
	h := &Header{raw: make([]byte, HeaderSize)}
	if err := h.Init(chunkSize, numSlots, numChannels, sampleSize); err != nil {
		t.Fatal(err)
	}
	backing := make([]byte, h.FileSize())
	copy(backing, h.raw)
	r, err := NewRing(backing)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRing_produceConsumeRoundTrip(t *testing.T) {
	r := newTestRing(t, 64, 4, 2, 4)
	const n = 100
	for i := 0; i < n; i++ {
		want := byte(i)
		ok := r.TryProduce(func(slot []byte) {
			for j := range slot {
				slot[j] = want
			}
		})
		if !ok {
			t.Fatalf("produce %d: ring unexpectedly full", i)
		}
		var got []byte
		consumed, done := r.TryConsume(func(slot []byte) {
			got = append([]byte(nil), slot...)
		})
		if !consumed || done {
			t.Fatalf("consume %d: consumed=%v done=%v", i, consumed, done)
		}
		for _, b := range got {
			if b != want {
				t.Fatalf("slot %d: got byte %d, want %d", i, b, want)
			}
		}
	}
	if r.Header.ErrorCount() != 0 {
		t.Fatalf("expected error_count 0, got %d", r.Header.ErrorCount())
	}
}

func TestRing_fullStalls(t *testing.T) {
	r := newTestRing(t, 16, 4, 1, 4)
	for i := 0; i < 16; i++ {
		if !r.TryProduce(func([]byte) {}) {
			t.Fatalf("produce %d should have succeeded", i)
		}
	}
	if r.TryProduce(func([]byte) {}) {
		t.Fatal("expected ring to report full")
	}
	if r.Header.BufferStallCount() != 1 {
		t.Fatalf("expected 1 stall, got %d", r.Header.BufferStallCount())
	}
}

func TestRing_emptyAndWriterDone(t *testing.T) {
	r := newTestRing(t, 16, 4, 1, 4)
	consumed, done := r.TryConsume(func([]byte) {})
	if consumed || done {
		t.Fatal("expected empty ring with writer not done")
	}
	r.Header.SetWriterDone()
	consumed, done = r.TryConsume(func([]byte) {})
	if consumed || !done {
		t.Fatal("expected empty ring with writer done")
	}
}

func TestHeader_legacySampleSize(t *testing.T) {
	h := &Header{raw: make([]byte, HeaderSize)}
	if err := h.Init(2048, 64, 2, 0); err != nil {
		t.Fatal(err)
	}
	if got := h.SampleSize(); got != 4 {
		t.Fatalf("expected legacy sample size 4, got %d", got)
	}
}

func TestHeader_minSlots(t *testing.T) {
	h := &Header{raw: make([]byte, HeaderSize)}
	if err := h.Init(2048, 15, 2, 4); err == nil {
		t.Fatal("expected error for num_slots below minimum")
	}
}

func TestHeader_writerDoneMonotonic(t *testing.T) {
	h := &Header{raw: make([]byte, HeaderSize)}
	h.SetWriterDone()
	if !h.WriterDone() {
		t.Fatal("expected writer_done set")
	}
	// No API exists to clear it; calling SetWriterDone again must be a no-op.
	h.SetWriterDone()
	if !h.WriterDone() {
		t.Fatal("expected writer_done to remain set")
	}
}
