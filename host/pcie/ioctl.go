// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pcie is the concrete PCIe host driver: the kernel↔user control
// channel of spec.md §6, the Register Port, Buffer Pool, Descriptor
// Programmer, Counter Tracker, Interrupt Demultiplexer and Channel Lock
// Arbiter (spec.md §4.1-§4.6), built against golang.org/x/sys/unix the
// way the teacher built host/pmem against bare syscall.
package pcie

import "periph.io/x/m2sdr/conn/dmabuf"

// Op identifies one control-channel operation. Values are part of the
// ABI (spec.md §6) and must not be renumbered.
type Op uint32

const (
	OpReg Op = iota
	OpDMA
	OpDMAWriter
	OpDMAReader
	OpMMAPDMAInfo
	OpMMAPDMAWriterUpdate
	OpMMAPDMAReaderUpdate
	OpLock
)

// RegPayload is the REG op payload: {addr, val, is_write}.
type RegPayload struct {
	Addr    uint32
	Val     uint32
	IsWrite uint8
}

// DMAPayload is the DMA op payload: {loopback_enable}.
type DMAPayload struct {
	LoopbackEnable uint8
}

// DMADirPayload is the DMA_WRITER/DMA_READER op payload: {enable,
// hw_count, sw_count}.
type DMADirPayload struct {
	Enable  uint8
	HWCount int64
	SWCount int64
}

// MMAPInfo is the MMAP_DMA_INFO op payload: the byte offsets/sizes/counts
// of the TX and RX mmap regions, plus the bus address of each region's
// first buffer (the Descriptor Programmer needs this to program the
// ring; the rest of the ring is contiguous at TXBusAddr+i*bufSize and
// RXBusAddr+i*bufSize).
type MMAPInfo struct {
	TXOffset  uint64
	TXSize    uint64
	TXCount   uint64
	TXBusAddr uint64
	RXOffset  uint64
	RXSize    uint64
	RXCount   uint64
	RXBusAddr uint64
}

// MMAPUpdatePayload is the MMAP_DMA_{WRITER,READER}_UPDATE op payload:
// {sw_count}.
type MMAPUpdatePayload struct {
	SWCount int64
}

// LockPayload is the LOCK op payload: one byte each for reader/writer
// request/release/status.
type LockPayload struct {
	ReaderRequest uint8
	WriterRequest uint8
	ReaderRelease uint8
	WriterRelease uint8
	ReaderStatus  uint8
	WriterStatus  uint8
}

// ControlChannel is the kernel↔user control protocol of spec.md §6,
// expressed as a typed Go interface rather than raw ioctl numbers so the
// rest of host/pcie never encodes/decodes a payload struct directly.
//
// FileControlChannel implements it against a real character device via
// golang.org/x/sys/unix ioctl syscalls; internal/hwsim implements it
// in-process for tests, with no real syscalls at all.
type ControlChannel interface {
	// RegRead/RegWrite implement the REG op.
	RegRead(addr uint32) (uint32, error)
	RegWrite(addr uint32, val uint32) error
	// SetLoopback implements the DMA op.
	SetLoopback(enable bool) error
	// SetDirection implements the DMA_WRITER/DMA_READER op: requests an
	// enable transition and/or counter write, and returns the driver's
	// current view of both counters.
	SetDirection(dir dmabuf.Direction, enable bool, hwCount, swCount int64) (curHW, curSW int64, err error)
	// MMAPDMAInfo implements the MMAP_DMA_INFO op.
	MMAPDMAInfo() (MMAPInfo, error)
	// UpdateSWCount implements MMAP_DMA_WRITER_UPDATE/
	// MMAP_DMA_READER_UPDATE: the fast path used after a zero-copy
	// submit/consume, which only needs to publish the new sw_count.
	UpdateSWCount(dir dmabuf.Direction, sw int64) error
	// LockRequest/LockRelease/LockStatus implement the LOCK op.
	LockRequest(dir dmabuf.Direction) (granted bool, err error)
	LockRelease(dir dmabuf.Direction) error
	LockStatus(dir dmabuf.Direction) (held bool, err error)
}
