// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sdr

import (
	"context"
	"errors"
	"testing"
	"time"

	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/dmaerr"
)

// fakeConn is a minimal in-process transport.Conn, standing in for a
// real transport so Stream's Tx/Rx framing can be tested without a
// device or a socket.
type fakeConn struct {
	regs   map[uint32]uint32
	txPool []dmabuf.Buffer
	rxPool []dmabuf.Buffer
	txN    uint64
	rxN    uint64
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{regs: map[uint32]uint32{}}
}

func (c *fakeConn) String() string { return "fake" }

func (c *fakeConn) ReadRegister(addr uint32) (uint32, error) { return c.regs[addr], nil }

func (c *fakeConn) WriteRegister(addr uint32, v uint32) error {
	c.regs[addr] = v
	return nil
}

func (c *fakeConn) Start(dir dmabuf.Direction, n, bufSize int) error {
	bufs := make([]dmabuf.Buffer, n)
	for i := range bufs {
		bufs[i] = dmabuf.Buffer{Index: i, Host: make([]byte, bufSize)}
	}
	if dir == dmabuf.Tx {
		c.txPool = bufs
	} else {
		c.rxPool = bufs
	}
	return nil
}

func (c *fakeConn) Stop(dir dmabuf.Direction) error { return nil }

func (c *fakeConn) NextBuffer(ctx context.Context, dir dmabuf.Direction, timeout time.Duration) (*dmabuf.Buffer, error) {
	if dir == dmabuf.Tx {
		return &c.txPool[c.txN%uint64(len(c.txPool))], nil
	}
	return &c.rxPool[c.rxN%uint64(len(c.rxPool))], nil
}

func (c *fakeConn) Submit(dir dmabuf.Direction) {
	if dir == dmabuf.Tx {
		c.txN++
	} else {
		c.rxN++
	}
}

func (c *fakeConn) Poll(dir dmabuf.Direction) (bool, bool) { return true, true }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newTestStream(dir dmabuf.Direction) (*Stream, *fakeConn) {
	c := newFakeConn()
	cfg := Config{Dir: dir, SamplesPerBuffer: 4, BytesPerSample: 4, NumBuffers: 4}
	c.Start(dir, cfg.NumBuffers, cfg.bufSize())
	return &Stream{conn: c, cfg: cfg}, c
}

func TestConfig_validateRejectsNonPowerOfTwo(t *testing.T) {
	cfg := Config{Dir: dmabuf.Tx, SamplesPerBuffer: 3, BytesPerSample: 4, NumBuffers: 4}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected an error for a non-power-of-two buffer size")
	}
}

func TestStream_txRoundTrip(t *testing.T) {
	s, c := newTestStream(dmabuf.Tx)
	payload := []byte("0123456789abcdef")
	if err := s.Tx(context.Background(), payload); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if string(c.txPool[0].Host) != string(payload) {
		t.Fatalf("got %q, want %q", c.txPool[0].Host, payload)
	}
	if c.txN != 1 {
		t.Fatalf("expected Submit to advance txN, got %d", c.txN)
	}
}

func TestStream_rxRoundTrip(t *testing.T) {
	s, c := newTestStream(dmabuf.Rx)
	copy(c.rxPool[0].Host, []byte("fedcba9876543210"))
	got := make([]byte, 16)
	n, err := s.Rx(context.Background(), got)
	if err != nil {
		t.Fatalf("Rx: %v", err)
	}
	if n != 16 || string(got) != "fedcba9876543210" {
		t.Fatalf("got %q (%d bytes)", got, n)
	}
}

func TestStream_txWrongDirectionRejected(t *testing.T) {
	s, _ := newTestStream(dmabuf.Rx)
	err := s.Tx(context.Background(), make([]byte, 16))
	if !errors.Is(err, dmaerr.InvalidArgumentSentinel) {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}

func TestStream_txWrongSizeRejected(t *testing.T) {
	s, _ := newTestStream(dmabuf.Tx)
	err := s.Tx(context.Background(), make([]byte, 3))
	if !errors.Is(err, dmaerr.InvalidArgumentSentinel) {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}

func TestStream_close(t *testing.T) {
	s, c := newTestStream(dmabuf.Tx)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !c.closed {
		t.Fatal("expected Close to propagate to the underlying Conn")
	}
}
