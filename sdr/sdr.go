// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sdr is the Sync API Facade (SAF) of spec.md §4.9: a thin,
// blocking Tx/Rx surface composed over a transport.Conn, the same way
// conn/i2c's Dev composes a typed device API over a raw conn.Conn.
package sdr

import (
	"context"
	"time"

	"go.uber.org/zap"

	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/dmaerr"
	"periph.io/x/m2sdr/host/pcie"
	"periph.io/x/m2sdr/transport"
	"periph.io/x/m2sdr/transport/udp"
)

// Config is one direction's stream configuration.
type Config struct {
	Dir dmabuf.Direction
	// Channel selects which device channel to bind to; informational in
	// this repo, since a Stream always owns one Conn to one channel.
	Channel int
	// SamplesPerBuffer and BytesPerSample together fix the buffer size
	// (B = SamplesPerBuffer*BytesPerSample) a single Tx/Rx call moves.
	SamplesPerBuffer int
	BytesPerSample   int
	// NumBuffers is N, the ring depth. Must be a power of two.
	NumBuffers int
	// TimeoutMS bounds every blocking Tx/Rx call; 0 waits forever.
	TimeoutMS int
}

func (c Config) bufSize() int { return c.SamplesPerBuffer * c.BytesPerSample }

func (c Config) timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// validate checks the invariants spec.md §4.9 requires before a Stream
// is armed: the per-call payload must evenly divide the buffer size
// (trivially true here, since it defines it), and N must be a power of
// two so ring's modular index arithmetic holds.
func (c Config) validate() error {
	if c.SamplesPerBuffer <= 0 || c.BytesPerSample <= 0 {
		return dmaerr.New(dmaerr.InvalidArgument, "sdr", "samples_per_buffer and bytes_per_sample must be positive")
	}
	if err := dmabuf.CheckPoolSize("sdr", c.NumBuffers, c.bufSize()); err != nil {
		return err
	}
	return nil
}

// Stream is one (device, direction)'s blocking Tx/Rx handle.
type Stream struct {
	conn transport.Conn
	cfg  Config
}

// Open parses deviceID (per transport.ParseDeviceID: "pcie:<path>",
// "eth:<ip>[:port]", or a bare path) and dials the matching transport,
// then arms cfg.Dir with a pool sized from cfg.
func Open(deviceID string, cfg Config, pcieCfg pcie.Config, log *zap.Logger) (*Stream, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	id, err := transport.ParseDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	var conn transport.Conn
	switch id.Scheme {
	case "pcie":
		conn, err = transport.OpenPCIe(id.Path, pcieCfg, log)
	case "eth":
		conn, err = udp.Open(id.Host, id.Port, 0, log)
	default:
		err = dmaerr.New(dmaerr.Unsupported, "sdr", "unknown transport scheme %q", id.Scheme)
	}
	if err != nil {
		return nil, err
	}
	if err := conn.Start(cfg.Dir, cfg.NumBuffers, cfg.bufSize()); err != nil {
		conn.Close()
		return nil, err
	}
	return &Stream{conn: conn, cfg: cfg}, nil
}

// Close stops the stream's direction and releases the underlying
// transport.
func (s *Stream) Close() error {
	stopErr := s.conn.Stop(s.cfg.Dir)
	closeErr := s.conn.Close()
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

// Tx blocks until a full buffer's worth of samples has been accepted
// for transmission, copying samples (which must be exactly
// cfg.bufSize() bytes) into the next free ring slot. It returns
// dmaerr.Timeout if cfg.TimeoutMS elapses first.
func (s *Stream) Tx(ctx context.Context, samples []byte) error {
	if s.cfg.Dir != dmabuf.Tx {
		return dmaerr.New(dmaerr.InvalidArgument, "sdr", "Tx called on an rx Stream")
	}
	if len(samples) != s.cfg.bufSize() {
		return dmaerr.New(dmaerr.InvalidArgument, "sdr", "Tx payload is %d bytes, want %d", len(samples), s.cfg.bufSize())
	}
	buf, err := s.conn.NextBuffer(ctx, dmabuf.Tx, s.cfg.timeout())
	if err != nil {
		return err
	}
	copy(buf.Host, samples)
	s.conn.Submit(dmabuf.Tx)
	return nil
}

// Rx blocks until a full buffer of samples is available, copying it
// into samples (which must be exactly cfg.bufSize() bytes) and
// returning the number of bytes copied. It returns dmaerr.Timeout if
// cfg.TimeoutMS elapses first.
func (s *Stream) Rx(ctx context.Context, samples []byte) (int, error) {
	if s.cfg.Dir != dmabuf.Rx {
		return 0, dmaerr.New(dmaerr.InvalidArgument, "sdr", "Rx called on a tx Stream")
	}
	if len(samples) != s.cfg.bufSize() {
		return 0, dmaerr.New(dmaerr.InvalidArgument, "sdr", "Rx buffer is %d bytes, want %d", len(samples), s.cfg.bufSize())
	}
	buf, err := s.conn.NextBuffer(ctx, dmabuf.Rx, s.cfg.timeout())
	if err != nil {
		return 0, err
	}
	n := copy(samples, buf.Host)
	s.conn.Submit(dmabuf.Rx)
	return n, nil
}

// Poll reports stream readiness without blocking.
func (s *Stream) Poll() (readable, writable bool) {
	return s.conn.Poll(s.cfg.Dir)
}
