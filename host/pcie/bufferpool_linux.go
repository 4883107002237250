// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package pcie

import (
	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/dmaerr"
)

// BufferPool is the BP of spec.md §4.2 for the PCIe transport: it mmaps
// one of the two N*B-byte regions described by MMAP_DMA_INFO (TX at
// offset 0, RX at offset N*B, per §6) and slices it into N buffers of B
// bytes each, all zero-copy views into the one mmap.
type BufferPool struct {
	dir  dmabuf.Direction
	mem  []byte
	bufs []dmabuf.Buffer
}

// NewBufferPool mmaps and slices the pool for dir from fd, using the
// layout cc reports via MMAPDMAInfo.
func NewBufferPool(cc ControlChannel, fd uintptr, dir dmabuf.Direction) (*BufferPool, error) {
	info, err := cc.MMAPDMAInfo()
	if err != nil {
		return nil, err
	}
	var offset, size, count, busAddr uint64
	if dir == dmabuf.Tx {
		offset, size, count, busAddr = info.TXOffset, info.TXSize, info.TXCount, info.TXBusAddr
	} else {
		offset, size, count, busAddr = info.RXOffset, info.RXSize, info.RXCount, info.RXBusAddr
	}
	if count == 0 || size == 0 || size%count != 0 {
		return nil, dmaerr.New(dmaerr.InvalidArgument, "pcie", "%s: mmap region size=%d not evenly divisible by count=%d", dir, size, count)
	}
	bufSize := int(size / count)
	if err := dmabuf.CheckPoolSize("pcie", int(count), bufSize); err != nil {
		return nil, err
	}

	mem, err := mmapRegion(fd, int64(offset), int(size))
	if err != nil {
		return nil, err
	}
	p := &BufferPool{dir: dir, mem: mem}
	for i := uint64(0); i < count; i++ {
		p.bufs = append(p.bufs, dmabuf.Buffer{
			Index:   int(i),
			BusAddr: busAddr + i*uint64(bufSize),
			Host:    mem[i*uint64(bufSize) : (i+1)*uint64(bufSize)],
		})
	}
	return p, nil
}

func (p *BufferPool) Len() int     { return len(p.bufs) }
func (p *BufferPool) BufSize() int { return len(p.mem) / len(p.bufs) }

func (p *BufferPool) Buffer(i int) *dmabuf.Buffer { return &p.bufs[i] }

// Close unmaps the pool's backing memory. Every Buffer's Host slice is
// invalid for use after Close returns.
func (p *BufferPool) Close() error {
	if p.mem == nil {
		return nil
	}
	err := munmapRegion(p.mem)
	p.mem = nil
	return err
}

var _ dmabuf.Pool = (*BufferPool)(nil)
