// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hwsim

import "periph.io/x/m2sdr/conn/dmabuf"

// Pool is a software-backed dmabuf.Pool, the same shape
// transport/udp's memPool gives a transport with no real DMA-coherent
// memory to mmap: hwsim has no character device to back an mmap with,
// so each buffer is just a slice of a Go-heap allocation. BusAddr is
// the buffer's index, which is all a simulated device needs to locate
// it.
type Pool struct {
	n, size int
	mem     []byte
	bufs    []dmabuf.Buffer
}

func newPool(n, size int) (*Pool, error) {
	if err := dmabuf.CheckPoolSize("hwsim", n, size); err != nil {
		return nil, err
	}
	p := &Pool{n: n, size: size, mem: make([]byte, n*size)}
	for i := 0; i < n; i++ {
		p.bufs = append(p.bufs, dmabuf.Buffer{Index: i, BusAddr: uint64(i), Host: p.mem[i*size : (i+1)*size]})
	}
	return p, nil
}

func (p *Pool) Len() int                    { return p.n }
func (p *Pool) BufSize() int                { return p.size }
func (p *Pool) Buffer(i int) *dmabuf.Buffer { return &p.bufs[i] }
func (p *Pool) Close() error                { return nil }

var _ dmabuf.Pool = (*Pool)(nil)
