// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package regbus defines the Register Port (RP) contract: narrow
// synchronous read/write of 32-bit device registers at 32-bit-aligned
// byte addresses (spec.md §4.1).
//
// It plays the same role conn.Conn plays for periph.io's point-to-point
// buses: the lowest common denominator every concrete transport (PCIe
// MMIO, UDP/Etherbone) implements, and every higher layer (descriptor
// programmer, counter tracker, interrupt demux) is written against.
package regbus

import "periph.io/x/m2sdr/dmaerr"

// Bus is a single synchronous 32-bit register interface. One instance
// exists per open device.
//
// Implementations must reject addresses that are not 32-bit-word-aligned
// or that fall outside the mapped MMIO region with a dmaerr.Kind of
// InvalidArgument, and must report transport failures (a dead PCIe link,
// a socket error on the remote variant) with a Kind of Io.
type Bus interface {
	// String returns a name meaningful to the user, e.g. "pcie:/dev/m2sdr0".
	String() string
	// Read returns the 32-bit value at addr.
	Read(addr uint32) (uint32, error)
	// Write stores v at addr.
	Write(addr uint32, v uint32) error
}

// wordSize is the width in bytes of one 32-bit register word; register
// addresses must be multiples of it.
const wordSize = 4

// CheckAligned validates that addr is a 32-bit-word-aligned offset
// strictly within [0, regionSize). Every Bus implementation's Read/Write
// should call this before touching hardware.
func CheckAligned(pkg string, addr uint32, regionSize uint32) error {
	if addr%wordSize != 0 {
		return dmaerr.New(dmaerr.InvalidArgument, pkg, "address 0x%x is not 32-bit aligned", addr)
	}
	if addr >= regionSize {
		return dmaerr.New(dmaerr.InvalidArgument, pkg, "address 0x%x is outside the %d-byte register window", addr, regionSize)
	}
	return nil
}

// Read64Lo reads a 64-bit field laid out as two adjacent 32-bit registers
// with the low word at loAddr and the high word at loAddr+4.
//
// Per spec.md §9 ("Mixed-endian 64-bit device registers"), the device
// lays out 64-bit fields inconsistently across register blocks: some
// store the low word first, some the high word first. Every such field
// must go through a named helper like this one (or Read64Hi below)
// documenting the convention at the call site; generic code must never
// guess.
func Read64Lo(b Bus, loAddr uint32) (uint64, error) {
	lo, err := b.Read(loAddr)
	if err != nil {
		return 0, err
	}
	hi, err := b.Read(loAddr + wordSize)
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// Write64Lo writes a 64-bit field laid out low-word-first, see Read64Lo.
func Write64Lo(b Bus, loAddr uint32, v uint64) error {
	if err := b.Write(loAddr, uint32(v)); err != nil {
		return err
	}
	return b.Write(loAddr+wordSize, uint32(v>>32))
}

// Read64Hi reads a 64-bit field laid out with the high word first, at
// hiAddr, and the low word at hiAddr+4. Used for register blocks that
// invert the Read64Lo convention; callers must confirm which convention
// a given block uses against the gateware documentation, not infer it.
func Read64Hi(b Bus, hiAddr uint32) (uint64, error) {
	hi, err := b.Read(hiAddr)
	if err != nil {
		return 0, err
	}
	lo, err := b.Read(hiAddr + wordSize)
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// Write64Hi writes a 64-bit field laid out high-word-first, see Read64Hi.
func Write64Hi(b Bus, hiAddr uint32, v uint64) error {
	if err := b.Write(hiAddr, uint32(v>>32)); err != nil {
		return err
	}
	return b.Write(hiAddr+wordSize, uint32(v))
}
