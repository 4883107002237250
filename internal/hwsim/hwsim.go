// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hwsim is an in-process fake of the M.2 SDR gateware, playing
// the role conn/conntest and devices/devicestest play for the rest of
// the corpus: a small, deterministic stand-in a test drives directly
// instead of needing real hardware. It implements host/pcie.
// ControlChannel and host/pcie.InterruptSource against its own
// register map and buffer pools, so host/pcie.Device, package ring and
// package sdr can all be exercised end to end without a PCIe device.
//
// hwsim models the DMA engines as free-running: once a direction is
// enabled, its hw_count advances every Pump (or SimulateRxArrival)
// call regardless of whether software kept its ring slot filled or
// drained, exactly the hazard spec.md's overflow/underflow policy
// exists to tolerate. There is no software "doorbell" in the real
// register map this mirrors, so hwsim does not invent one either.
package hwsim

import (
	"context"
	"sync"
	"time"

	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/dmaerr"
	"periph.io/x/m2sdr/host/pcie"
)

// dirState is one direction's register file plus its buffer pool.
type dirState struct {
	control    uint32
	hwCount    uint64
	swCount    uint64
	descBase   uint64
	descCount  uint32
	irqCadence uint32
	irqPending bool
	irqEnable  bool
	syncEnable bool
	sinceIRQ   uint32
	pool       *Pool
}

func (d *dirState) enabled() bool { return d.control&1 != 0 }

func (d *dirState) cadenceReached() bool {
	if d.irqCadence == 0 {
		return true
	}
	return d.sinceIRQ >= d.irqCadence
}

func (d *dirState) read(offset uint32) uint32 {
	switch offset {
	case offControl:
		return d.control
	case offLoopStatus:
		if d.pool == nil || d.pool.Len() == 0 {
			return 0
		}
		n := uint64(d.pool.Len())
		loopCount := d.hwCount / n
		loopIndex := d.hwCount % n
		return uint32(loopCount<<16) | uint32(loopIndex)
	case offDescBase:
		return uint32(d.descBase)
	case offDescBaseHi:
		return uint32(d.descBase >> 32)
	case offDescCount:
		return d.descCount
	case offIrqCadence:
		return d.irqCadence
	case offIrqPending:
		return boolToU32(d.irqPending)
	case offIrqEnable:
		return boolToU32(d.irqEnable)
	case offSyncEnable:
		return boolToU32(d.syncEnable)
	default:
		return 0
	}
}

func (d *dirState) write(offset, v uint32) {
	switch offset {
	case offControl:
		wasEnabled := d.enabled()
		d.control = v
		if !wasEnabled && d.enabled() {
			d.hwCount = 0
			d.sinceIRQ = 0
		}
	case offDescBase:
		d.descBase = d.descBase&(0xffffffff<<32) | uint64(v)
	case offDescBaseHi:
		d.descBase = d.descBase&0xffffffff | uint64(v)<<32
	case offDescCount:
		d.descCount = v
	case offIrqCadence:
		d.irqCadence = v
	case offIrqEnable:
		d.irqEnable = v&1 != 0
	case offIrqClear:
		if v&1 != 0 {
			d.irqPending = false
		}
	case offSyncEnable:
		d.syncEnable = v&1 != 0
	}
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Device is the fake gateware: a scratch register, a crossbar-loopback
// flag, and one dirState per direction.
type Device struct {
	mu       sync.Mutex
	scratch  uint32
	loopback bool
	tx, rx   dirState
	locks    map[dmabuf.Direction]bool
	irq      *pcie.Broadcaster
}

// New builds a Device with a txN-buffer pool of txB bytes and an
// rxN-buffer pool of rxB bytes.
func New(txN, txB, rxN, rxB int) (*Device, error) {
	txPool, err := newPool(txN, txB)
	if err != nil {
		return nil, err
	}
	rxPool, err := newPool(rxN, rxB)
	if err != nil {
		return nil, err
	}
	d := &Device{
		locks: map[dmabuf.Direction]bool{},
		irq:   pcie.NewBroadcaster(),
	}
	d.tx.pool = txPool
	d.rx.pool = rxPool
	return d, nil
}

// TxPool and RxPool expose the pools a test passes to
// host/pcie.Device.Start.
func (d *Device) TxPool() *Pool { return d.tx.pool }
func (d *Device) RxPool() *Pool { return d.rx.pool }

func (d *Device) dir(dir dmabuf.Direction) *dirState {
	if dir == dmabuf.Tx {
		return &d.tx
	}
	return &d.rx
}

var _ pcie.ControlChannel = (*Device)(nil)
var _ pcie.InterruptSource = (*Device)(nil)

func (d *Device) RegRead(addr uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case addr == regScratch:
		return d.scratch, nil
	case addr == regCrossbarMux:
		return boolToU32(d.loopback), nil
	case addr == regHeaderEnable, addr == regExternalPending:
		return 0, nil
	case addr >= regRxBase:
		return d.rx.read(addr - regRxBase), nil
	case addr >= regTxBase:
		return d.tx.read(addr - regTxBase), nil
	default:
		return 0, nil
	}
}

func (d *Device) RegWrite(addr uint32, v uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case addr == regScratch:
		d.scratch = v
	case addr == regCrossbarMux:
		d.loopback = v&1 != 0
	case addr >= regRxBase:
		d.rx.write(addr-regRxBase, v)
	case addr >= regTxBase:
		d.tx.write(addr-regTxBase, v)
	}
	return nil
}

func (d *Device) SetLoopback(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loopback = enable
	return nil
}

func (d *Device) SetDirection(dir dmabuf.Direction, enable bool, hwCount, swCount int64) (int64, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ds := d.dir(dir)
	if enable {
		ds.control |= 1
	} else {
		ds.control &^= 1
	}
	if hwCount >= 0 {
		ds.hwCount = uint64(hwCount)
	}
	if swCount >= 0 {
		ds.swCount = uint64(swCount)
	}
	return int64(ds.hwCount), int64(ds.swCount), nil
}

func (d *Device) MMAPDMAInfo() (pcie.MMAPInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return pcie.MMAPInfo{
		TXOffset:  0,
		TXSize:    uint64(d.tx.pool.Len() * d.tx.pool.BufSize()),
		TXCount:   uint64(d.tx.pool.Len()),
		TXBusAddr: 0,
		RXOffset:  uint64(d.tx.pool.Len() * d.tx.pool.BufSize()),
		RXSize:    uint64(d.rx.pool.Len() * d.rx.pool.BufSize()),
		RXCount:   uint64(d.rx.pool.Len()),
		RXBusAddr: 0,
	}, nil
}

func (d *Device) UpdateSWCount(dir dmabuf.Direction, sw int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dir(dir).swCount = uint64(sw)
	return nil
}

func (d *Device) LockRequest(dir dmabuf.Direction) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locks[dir] {
		return false, nil
	}
	d.locks[dir] = true
	return true, nil
}

func (d *Device) LockRelease(dir dmabuf.Direction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.locks, dir)
	return nil
}

func (d *Device) LockStatus(dir dmabuf.Direction) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locks[dir], nil
}

// Wait implements host/pcie.InterruptSource: it blocks until Pump or
// SimulateRxArrival raises a pending IRQ on an enabled direction.
func (d *Device) Wait(ctx context.Context) error {
	return d.irq.Wait(ctx)
}

// completeRxLocked delivers data into the next RX ring slot and
// advances rx hw_count. Caller holds d.mu. Returns true if this
// completion raised a pending IRQ that should wake a waiter.
func (d *Device) completeRxLocked(data []byte) bool {
	if d.rx.pool == nil || d.rx.pool.Len() == 0 {
		return false
	}
	n := uint64(d.rx.pool.Len())
	idx := int(d.rx.hwCount % n)
	copy(d.rx.pool.Buffer(idx).Host, data)
	d.rx.hwCount++
	if !d.rx.irqEnable {
		return false
	}
	d.rx.sinceIRQ++
	if !d.rx.cadenceReached() {
		return false
	}
	d.rx.irqPending = true
	d.rx.sinceIRQ = 0
	return true
}

// Pump advances the simulated device clock by one buffer-time tick: if
// TX is enabled, whatever bytes currently sit in the slot hw_count is
// about to complete are "transmitted" (and, if the crossbar loopback is
// on and RX is enabled, delivered straight into the next RX slot), then
// tx hw_count advances. A test that never refills the TX ring between
// Pump calls will see hw_count run past sw_count, exactly the
// underflow condition package ring detects; a test that never drains
// the RX ring will see the same happen in reverse as overflow.
func (d *Device) Pump() {
	d.mu.Lock()
	woke := false
	if d.tx.enabled() && d.tx.pool != nil && d.tx.pool.Len() > 0 {
		n := uint64(d.tx.pool.Len())
		idx := int(d.tx.hwCount % n)
		data := append([]byte(nil), d.tx.pool.Buffer(idx).Host...)
		d.tx.hwCount++
		if d.tx.irqEnable {
			d.tx.sinceIRQ++
			if d.tx.cadenceReached() {
				d.tx.irqPending = true
				d.tx.sinceIRQ = 0
				woke = true
			}
		}
		if d.loopback && d.rx.enabled() {
			if d.completeRxLocked(data) {
				woke = true
			}
		}
	}
	d.mu.Unlock()
	if woke {
		d.irq.Broadcast()
	}
}

// SimulateRxArrival delivers one buffer of RX data directly, for tests
// exercising RX independent of any TX/loopback path (for example,
// overflow accounting, where software is supposed to fall behind).
func (d *Device) SimulateRxArrival(data []byte) error {
	d.mu.Lock()
	if !d.rx.enabled() {
		d.mu.Unlock()
		return dmaerr.New(dmaerr.Busy, "hwsim", "rx engine is not enabled")
	}
	if d.rx.pool == nil || len(data) != d.rx.pool.BufSize() {
		d.mu.Unlock()
		return dmaerr.New(dmaerr.InvalidArgument, "hwsim", "payload does not match the rx buffer size")
	}
	woke := d.completeRxLocked(data)
	d.mu.Unlock()
	if woke {
		d.irq.Broadcast()
	}
	return nil
}

// RunAutoPump calls Pump on a ticker until ctx is done, standing in
// for the device's own free-running sample clock; tests that want
// deterministic control should call Pump directly instead.
func (d *Device) RunAutoPump(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.Pump()
		}
	}
}
