// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import "periph.io/x/m2sdr/conn/dmabuf"

// Register offsets within the per-channel MMIO window, in the style of
// host/bcm283x's named bit/offset constants (dma.go). Exact gateware
// offsets are LiteX-CSR-specific and not recovered from any source in
// this retrieval (original_source/ carried no files for this spec); the
// values below are placeholders, used symbolically within this package
// (dirBase(dir)+offLoopStatus, never a bare hex literal). The same
// offsets are repeated in internal/hwsim/regs.go, and the cmd/ tools
// carry their own copies of regScratch and regCrossbarMux.
const (
	regScratch         uint32 = 0x00
	regCrossbarMux     uint32 = 0x04
	regHeaderEnable    uint32 = 0x08
	regExternalPending uint32 = 0x0c // vectors for out-of-scope subsystems (AD9361 etc.)

	regTxBase uint32 = 0x40
	regRxBase uint32 = 0x80

	// Offsets relative to a direction's base.
	offControl    uint32 = 0x00 // bit0 = engine enable, bit1 = disable after last buffer
	offLoopStatus uint32 = 0x04 // (loop_count<<16)|loop_index
	// offDescBase/offDescBaseHi hold the 64-bit ring base bus address,
	// low word first (the regbus.Write64Lo/Read64Lo convention, per
	// spec.md §9's note that 64-bit fields are not consistently laid out
	// across register blocks): offDescBaseHi is always offDescBase+4.
	offDescBase   uint32 = 0x08
	offDescBaseHi uint32 = 0x0c
	offDescCount  uint32 = 0x10 // buffer count programmed into the ring
	offIrqCadence uint32 = 0x14 // K, buffers per interrupt
	offIrqPending uint32 = 0x18
	offIrqEnable  uint32 = 0x1c
	offIrqClear   uint32 = 0x20
	offSyncEnable uint32 = 0x24 // transport synchronizer enable; see syncGuard
)

// dirBase returns the base address of a direction's register block.
func dirBase(dir dmabuf.Direction) uint32 {
	if dir == dmabuf.Tx {
		return regTxBase
	}
	return regRxBase
}
