// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package udp

import "periph.io/x/m2sdr/conn/dmabuf"

// memPool is a software-only dmabuf.Pool: the UDP transport has no
// device-side DMA buffers to mmap, so it just allocates N*B bytes in the
// Go heap and slices it, the same shape bufferpool_linux.go gives the
// PCIe transport. BusAddr is always 0: nothing on this path ever
// programs a descriptor ring with it.
type memPool struct {
	n, size int
	mem     []byte
	bufs    []dmabuf.Buffer
}

func newMemPool(n, size int) (*memPool, error) {
	if err := dmabuf.CheckPoolSize("udp", n, size); err != nil {
		return nil, err
	}
	p := &memPool{n: n, size: size, mem: make([]byte, n*size)}
	for i := 0; i < n; i++ {
		p.bufs = append(p.bufs, dmabuf.Buffer{Index: i, Host: p.mem[i*size : (i+1)*size]})
	}
	return p, nil
}

func (p *memPool) Len() int                    { return p.n }
func (p *memPool) BufSize() int                { return p.size }
func (p *memPool) Buffer(i int) *dmabuf.Buffer { return &p.bufs[i] }
func (p *memPool) Close() error                { return nil }

var _ dmabuf.Pool = (*memPool)(nil)
