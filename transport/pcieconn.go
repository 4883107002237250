// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package transport

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"periph.io/x/m2sdr"
	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/dmaerr"
	"periph.io/x/m2sdr/host/pcie"
	"periph.io/x/m2sdr/ring"
)

// pcieConn adapts a host/pcie.Device into a Conn.
type pcieConn struct {
	name string
	f    *pcie.FileControlChannel
	dev  *pcie.Device

	txRing, rxRing *ring.UserRing
	txPool, rxPool *pcie.BufferPool

	cancel context.CancelFunc
	irqErr chan error
}

// OpenPCIe opens the m2sdr character device at path and returns a Conn
// over it. cfg tunes the Descriptor Programmer; log may be nil.
func OpenPCIe(path string, cfg pcie.Config, log *zap.Logger) (Conn, error) {
	f, err := pcie.OpenFile(path)
	if err != nil {
		return nil, err
	}
	dev := pcie.Open(path, f, pollInterruptSource{}, cfg, nil, log)
	ctx, cancel := context.WithCancel(context.Background())
	c := &pcieConn{name: path, f: f, dev: dev, cancel: cancel, irqErr: make(chan error, 1)}
	go func() { c.irqErr <- dev.RunInterrupts(ctx) }()
	return c, nil
}

func (c *pcieConn) String() string { return c.name }

func (c *pcieConn) ReadRegister(addr uint32) (uint32, error) { return c.dev.RP.Read(addr) }

func (c *pcieConn) WriteRegister(addr uint32, v uint32) error { return c.dev.RP.Write(addr, v) }

// Start ignores n/bufSize: the PCIe transport's buffer geometry is fixed
// by MMAP_DMA_INFO, not chosen by the caller.
func (c *pcieConn) Start(dir dmabuf.Direction, n, bufSize int) error {
	pool, err := pcie.NewBufferPool(c.f, c.f.Fd(), dir)
	if err != nil {
		return err
	}
	h := c.dev.Tx
	if dir == dmabuf.Rx {
		h = c.dev.Rx
	}
	if err := c.dev.Start(dir, pool); err != nil {
		pool.Close()
		return err
	}
	r := ring.New(dir, h.State, h.Ready, ring.ZeroCopy, nil)
	if dir == dmabuf.Tx {
		c.txPool, c.txRing = pool, r
	} else {
		c.rxPool, c.rxRing = pool, r
	}
	return nil
}

func (c *pcieConn) Stop(dir dmabuf.Direction) error {
	if err := c.dev.Stop(dir); err != nil {
		return err
	}
	if dir == dmabuf.Tx && c.txPool != nil {
		err := c.txPool.Close()
		c.txPool, c.txRing = nil, nil
		return err
	}
	if dir == dmabuf.Rx && c.rxPool != nil {
		err := c.rxPool.Close()
		c.rxPool, c.rxRing = nil, nil
		return err
	}
	return nil
}

func (c *pcieConn) ring(dir dmabuf.Direction) *ring.UserRing {
	if dir == dmabuf.Tx {
		return c.txRing
	}
	return c.rxRing
}

func (c *pcieConn) NextBuffer(ctx context.Context, dir dmabuf.Direction, timeout time.Duration) (*dmabuf.Buffer, error) {
	r := c.ring(dir)
	if dir == dmabuf.Tx {
		return r.NextWriteBuffer(ctx, timeout)
	}
	return r.NextReadBuffer(ctx, timeout)
}

func (c *pcieConn) Submit(dir dmabuf.Direction) {
	r := c.ring(dir)
	if dir == dmabuf.Tx {
		r.Submit()
	} else {
		r.Consume()
	}
}

func (c *pcieConn) Poll(dir dmabuf.Direction) (bool, bool) {
	r := c.ring(dir)
	if r == nil {
		return false, false
	}
	return r.Poll()
}

func (c *pcieConn) Close() error {
	c.Stop(dmabuf.Tx)
	c.Stop(dmabuf.Rx)
	c.cancel()
	<-c.irqErr
	return c.f.Close()
}

// pollInterruptSource is a placeholder InterruptSource that simply waits
// out a short fixed interval and re-polls, used when the real device
// does not expose a blocking interrupt-wait file descriptor through
// ControlChannel. A production deployment with a real UIO interrupt fd
// would replace this with a blocking read on that fd.
type pollInterruptSource struct{}

func (pollInterruptSource) Wait(ctx context.Context) error {
	t := time.NewTimer(time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func init() {
	m2sdr.MustRegister(pcieAvailability{})
}

// pcieAvailability is a m2sdr.Transport that only probes for the
// presence of a m2sdr character device under /dev, without opening one;
// it lets m2sdr.Init() report whether the PCIe transport is worth trying
// on this host the same way a periph.io host driver's Init() reports
// platform relevance before any resource is actually claimed.
type pcieAvailability struct{}

func (pcieAvailability) String() string          { return "pcie" }
func (pcieAvailability) Prerequisites() []string { return nil }

func (pcieAvailability) Init() (bool, error) {
	matches, err := filepath.Glob("/dev/m2sdr*")
	if err != nil {
		return true, dmaerr.Wrap(dmaerr.Io, "transport", err, "globbing /dev/m2sdr*")
	}
	if len(matches) == 0 {
		return false, dmaerr.New(dmaerr.Unsupported, "transport", "no /dev/m2sdr* character device found")
	}
	return true, nil
}
