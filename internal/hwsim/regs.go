// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hwsim

// Register offsets mirror host/pcie/regs.go's layout exactly: hwsim
// stands in for the gateware itself, not for the driver package, so it
// speaks the same wire-level register map rather than importing the
// driver's unexported constants.
const (
	regScratch         uint32 = 0x00
	regCrossbarMux     uint32 = 0x04
	regHeaderEnable    uint32 = 0x08
	regExternalPending uint32 = 0x0c

	regTxBase uint32 = 0x40
	regRxBase uint32 = 0x80

	offControl    uint32 = 0x00
	offLoopStatus uint32 = 0x04
	offDescBase   uint32 = 0x08
	offDescBaseHi uint32 = 0x0c
	offDescCount  uint32 = 0x10
	offIrqCadence uint32 = 0x14
	offIrqPending uint32 = 0x18
	offIrqEnable  uint32 = 0x1c
	offIrqClear   uint32 = 0x20
	offSyncEnable uint32 = 0x24
)
