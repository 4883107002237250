// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import (
	"context"

	"go.uber.org/zap"

	"periph.io/x/m2sdr/conn/dmabuf"
)

// Direction is one per-direction handle a Device exposes.
type Direction struct {
	State *dmabuf.State
	CT    *CounterTracker
	DP    *DescriptorProgrammer
	Ready *Broadcaster
}

// Device composes the Register Port, Descriptor Programmer, Counter
// Tracker, Interrupt Demultiplexer and Channel Lock Arbiter of one
// (device, channel) into the cohesive unit spec.md §4 describes,
// regardless of whether cc is a FileControlChannel talking to real
// hardware or internal/hwsim's in-process fake.
type Device struct {
	RP  *RegisterPort
	CC  ControlChannel
	CLA *ChannelLockArbiter
	ID  *InterruptDemux

	Tx Direction
	Rx Direction

	log *zap.Logger
}

// Open builds a Device over cc, named name (surfaced in RP.String() and
// error messages). src drives the Interrupt Demultiplexer; onExternal,
// if non-nil, receives vectors belonging to out-of-scope subsystems. log
// may be nil, in which case the device logs nothing.
func Open(name string, cc ControlChannel, src InterruptSource, cfg Config, onExternal func(vector uint32), log *zap.Logger) *Device {
	if log == nil {
		log = zap.NewNop()
	}
	rp := NewRegisterPort(name, cc)
	guard := &syncGuard{}

	txState := &dmabuf.State{Dir: dmabuf.Tx}
	txCT := NewCounterTracker(1)
	txReady := NewBroadcaster()
	tx := Direction{
		State: txState,
		CT:    txCT,
		DP:    NewDescriptorProgrammer(rp, dmabuf.Tx, txState, txCT, cfg, guard),
		Ready: txReady,
	}

	rxState := &dmabuf.State{Dir: dmabuf.Rx}
	rxCT := NewCounterTracker(1)
	rxReady := NewBroadcaster()
	rx := Direction{
		State: rxState,
		CT:    rxCT,
		DP:    NewDescriptorProgrammer(rp, dmabuf.Rx, rxState, rxCT, cfg, guard),
		Ready: rxReady,
	}

	id := NewInterruptDemux(rp, src, onExternal)
	id.Watch(dmabuf.Tx, txState, txCT, txReady)
	id.Watch(dmabuf.Rx, rxState, rxCT, rxReady)

	return &Device{
		RP:  rp,
		CC:  cc,
		CLA: NewChannelLockArbiter(cc),
		ID:  id,
		Tx:  tx,
		Rx:  rx,
		log: log,
	}
}

// direction returns the TX or RX half of the device.
func (d *Device) direction(dir dmabuf.Direction) *Direction {
	if dir == dmabuf.Tx {
		return &d.Tx
	}
	return &d.Rx
}

// Start arms dir's engine over pool; pool's buffer count retunes that
// direction's CounterTracker, since N must match the pool actually
// programmed.
func (d *Device) Start(dir dmabuf.Direction, pool dmabuf.Pool) error {
	h := d.direction(dir)
	*h.CT = *NewCounterTracker(pool.Len())
	if err := h.DP.Start(pool); err != nil {
		d.log.Warn("direction start failed", zap.Stringer("direction", dir), zap.Error(err))
		return err
	}
	d.log.Info("direction started", zap.Stringer("direction", dir), zap.Int("buffers", pool.Len()), zap.Int("buffer_size", pool.BufSize()))
	return nil
}

// Stop disarms dir's engine.
func (d *Device) Stop(dir dmabuf.Direction) error {
	if err := d.direction(dir).DP.Stop(); err != nil {
		d.log.Warn("direction stop failed", zap.Stringer("direction", dir), zap.Error(err))
		return err
	}
	d.log.Info("direction stopped", zap.Stringer("direction", dir))
	return nil
}

// Loopback enables or disables the device-wide internal loopback path
// (spec.md's scratch/loopback self-test surface).
func (d *Device) Loopback(enable bool) error {
	return d.CC.SetLoopback(enable)
}

// ScratchRead and ScratchWrite read and write the scratch register (S1 of spec.md §8: a
// register round-trip that needs no DMA at all).
func (d *Device) ScratchRead() (uint32, error) { return d.RP.Read(regScratch) }
func (d *Device) ScratchWrite(v uint32) error  { return d.RP.Write(regScratch, v) }

// RunInterrupts services interrupts until ctx is done; callers run it in
// its own goroutine for the lifetime of the Device.
func (d *Device) RunInterrupts(ctx context.Context) error {
	return d.ID.Run(ctx)
}
