// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package smr defines the Shared-Memory Ring (SMR) layout and the
// producer/consumer acquire/release protocol of spec.md §3 and §4.8: a
// single-producer/single-consumer ring used to hand finished sample
// buffers to another process.
//
// The header layout mirrors host/pmem's Slice.Struct approach (pointer-
// cast a mmap'ed []byte onto a Go struct) but the index fields are
// accessed exclusively through sync/atomic, never through the struct
// cast directly, so the release/acquire ordering spec.md requires is
// expressed in the type the way periph.io's gpio.PinIO fields are always
// accessed through methods rather than direct struct field reads.
package smr

import (
	"encoding/binary"
	"sync/atomic"

	"periph.io/x/m2sdr/dmaerr"
)

// HeaderSize is the fixed 64-byte header size of spec.md §3.
const HeaderSize = 64

// MinSlots is the minimum num_slots invariant of spec.md §3.
const MinSlots = 16

// WriterDone is the flags bit meaning the producer will not publish any
// more slots.
const WriterDone uint16 = 1 << 0

// legacySampleSize is assumed for files with sample_size == 0 (spec.md
// §7: "legacy files ... are assumed to be 4-byte-per-sample Complex-Int16").
const legacySampleSize = 4

// Header is the 64-byte SmrHeader of spec.md §3. It must only ever be
// obtained as a view onto the first HeaderSize bytes of the backing
// mapping (see Create and Open in file.go), never copied,
// since WriteIndex/ReadIndex carry release/acquire semantics tied to
// that exact memory.
type Header struct {
	raw []byte // HeaderSize bytes, native byte order, backed by the mmap.
}

// NewHeader wraps raw (which must be exactly HeaderSize bytes) as a
// Header view. raw is typically a slice into an mmap'ed file.
func NewHeader(raw []byte) (*Header, error) {
	if len(raw) != HeaderSize {
		return nil, dmaerr.New(dmaerr.InvalidArgument, "smr", "header must be exactly %d bytes, got %d", HeaderSize, len(raw))
	}
	return &Header{raw: raw}, nil
}

func (h *Header) u64(off int) *uint64 {
	return (*uint64)(wordPtr(h.raw[off:]))
}

func (h *Header) u32(off int) *uint32 {
	return (*uint32)(dwordPtr(h.raw[off:]))
}

func (h *Header) u16(off int) *uint16 {
	return (*uint16)(hwordPtr(h.raw[off:]))
}

// Field byte offsets within the 64-byte header, per spec.md §3.
const (
	offWriteIndex       = 0
	offReadIndex        = 8
	offErrorCount       = 16
	offChunkSize        = 24
	offNumSlots         = 28
	offNumChannels      = 32
	offFlags            = 34
	offSampleSize       = 36
	offBufferStallCount = 40
)

// WriteIndex acquire-loads write_index. Called by the consumer.
func (h *Header) WriteIndex() uint64 { return atomic.LoadUint64(h.u64(offWriteIndex)) }

// SetWriteIndex release-stores write_index. Called by the producer; all
// slot stores for the published index must happen-before this call.
func (h *Header) SetWriteIndex(v uint64) { atomic.StoreUint64(h.u64(offWriteIndex), v) }

// ReadIndex acquire-loads read_index. Called by the producer.
func (h *Header) ReadIndex() uint64 { return atomic.LoadUint64(h.u64(offReadIndex)) }

// SetReadIndex release-stores read_index. Called by the consumer, after
// it has finished reading the slot it is releasing.
func (h *Header) SetReadIndex(v uint64) { atomic.StoreUint64(h.u64(offReadIndex), v) }

// ErrorCount returns the direction-dependent error counter (overflow
// count for an RX producer, underflow count for a TX consumer).
func (h *Header) ErrorCount() uint64 { return atomic.LoadUint64(h.u64(offErrorCount)) }

// AddErrorCount increments the error counter by delta (relaxed: it is a
// diagnostic counter, not part of the ring's correctness protocol).
func (h *Header) AddErrorCount(delta uint64) { atomic.AddUint64(h.u64(offErrorCount), delta) }

// BufferStallCount returns the producer's stall counter.
func (h *Header) BufferStallCount() uint64 { return atomic.LoadUint64(h.u64(offBufferStallCount)) }

// AddBufferStallCount increments the stall counter by one.
func (h *Header) AddBufferStallCount() { atomic.AddUint64(h.u64(offBufferStallCount), 1) }

// ChunkSize returns samples per chunk per channel.
func (h *Header) ChunkSize() uint32 { return atomic.LoadUint32(h.u32(offChunkSize)) }

// NumSlots returns num_slots.
func (h *Header) NumSlots() uint32 { return atomic.LoadUint32(h.u32(offNumSlots)) }

// NumChannels returns num_channels.
func (h *Header) NumChannels() uint16 { return atomic.LoadUint16(h.u16(offNumChannels)) }

// SampleSize returns bytes per sample, applying the legacy sample_size==0
// fallback of spec.md §7.
func (h *Header) SampleSize() uint32 {
	v := atomic.LoadUint32(h.u32(offSampleSize))
	if v == 0 {
		return legacySampleSize
	}
	return v
}

// Flags returns the raw flags word.
func (h *Header) Flags() uint16 { return atomic.LoadUint16(h.u16(offFlags)) }

// WriterDone reports whether the writer_done flag is set.
func (h *Header) WriterDone() bool { return h.Flags()&WriterDone != 0 }

// SetWriterDone sets the writer_done flag. Monotonic: never call this
// with the intent of clearing it again, and this method provides no way
// to clear it.
func (h *Header) SetWriterDone() {
	p := h.u16(offFlags)
	for {
		old := atomic.LoadUint16(p)
		if old&WriterDone != 0 {
			return
		}
		if atomic.CompareAndSwapUint16(p, old, old|WriterDone) {
			return
		}
	}
}

// Init populates a freshly-created header. Only the producer calls this,
// once, before publishing the file to consumers.
func (h *Header) Init(chunkSize, numSlots uint32, numChannels uint16, sampleSize uint32) error {
	if numSlots < MinSlots {
		return dmaerr.New(dmaerr.InvalidArgument, "smr", "num_slots %d is below the minimum of %d", numSlots, MinSlots)
	}
	atomic.StoreUint64(h.u64(offWriteIndex), 0)
	atomic.StoreUint64(h.u64(offReadIndex), 0)
	atomic.StoreUint64(h.u64(offErrorCount), 0)
	atomic.StoreUint32(h.u32(offChunkSize), chunkSize)
	atomic.StoreUint32(h.u32(offNumSlots), numSlots)
	atomic.StoreUint16(h.u16(offNumChannels), numChannels)
	atomic.StoreUint16(h.u16(offFlags), 0)
	atomic.StoreUint32(h.u32(offSampleSize), sampleSize)
	atomic.StoreUint64(h.u64(offBufferStallCount), 0)
	return nil
}

// ChunkBytes computes chunk_size * sample_size * num_channels, the byte
// size of one slot.
func (h *Header) ChunkBytes() int {
	return int(h.ChunkSize()) * int(h.SampleSize()) * int(h.NumChannels())
}

// SlotOffset returns the byte offset of slot index i (taken mod
// num_slots) within the file, per spec.md §3.
func (h *Header) SlotOffset(i uint64) int64 {
	slot := i % uint64(h.NumSlots())
	return int64(HeaderSize) + int64(slot)*int64(h.ChunkBytes())
}

// FileSize returns the total SMR file size for the header's current
// configuration: HeaderSize + num_slots * chunk_bytes.
func (h *Header) FileSize() int64 {
	return int64(HeaderSize) + int64(h.NumSlots())*int64(h.ChunkBytes())
}

// byteOrder is the host's native byte order, used only by callers that
// need to serialize header fields outside of the atomic-view path (e.g.
// printing diagnostics); the ring protocol itself never depends on it
// since atomic.Load/Store operate on the machine's native representation
// directly. Cross-host portability is explicitly not a goal (spec.md §6).
var byteOrder binary.ByteOrder = binary.NativeEndian
