// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package udp is the UDP Transport Variant of spec.md §4.10: register
// access and sample streaming carried over two UDP sockets instead of a
// character device's ioctl/mmap surface, exposing the same
// transport.Conn capability set host/pcie does.
//
// Sample streaming never reorders, deduplicates, or recovers a lost
// datagram: a dropped datagram is a dropped chunk of the buffer it was
// assembling, surfacing downstream as ordinary overflow/underflow
// bookkeeping in package ring rather than as a UDP-specific error.
package udp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"periph.io/x/m2sdr"
	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/dmaerr"
	"periph.io/x/m2sdr/ring"
	"periph.io/x/m2sdr/transport"
)

const (
	regOpRead  = 0
	regOpWrite = 1

	// regReqLen is the wire size of a register request datagram: 1 byte
	// opcode, 4 bytes address, 4 bytes value.
	regReqLen = 9
)

// DefaultDatagramSize is the fixed sample-datagram payload size used
// when none is given to Open.
const DefaultDatagramSize = 1472 // fits one Ethernet MTU without IP fragmentation

// Open dials host for both the data socket (port) and the control
// socket (port+1) and returns a Conn. datagramSize <= 0 uses
// DefaultDatagramSize.
func Open(host string, port, datagramSize int, log *zap.Logger) (transport.Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if datagramSize <= 0 {
		datagramSize = DefaultDatagramSize
	}
	ctrlAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port+1))
	if err != nil {
		return nil, dmaerr.Wrap(dmaerr.InvalidArgument, "udp", err, "resolving control address")
	}
	dataAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, dmaerr.Wrap(dmaerr.InvalidArgument, "udp", err, "resolving data address")
	}
	ctrl, err := net.DialUDP("udp", nil, ctrlAddr)
	if err != nil {
		return nil, dmaerr.Wrap(dmaerr.Io, "udp", err, "dialing control socket")
	}
	data, err := net.DialUDP("udp", nil, dataAddr)
	if err != nil {
		ctrl.Close()
		return nil, dmaerr.Wrap(dmaerr.Io, "udp", err, "dialing data socket")
	}
	c := &Conn{
		name:         fmt.Sprintf("eth:%s:%d", host, port),
		ctrl:         ctrl,
		data:         data,
		datagramSize: datagramSize,
		log:          log,
		txReady:      ring.NewBroadcaster(),
		rxReady:      ring.NewBroadcaster(),
	}
	return c, nil
}

// Conn is the UDP transport.Conn implementation.
type Conn struct {
	name         string
	ctrl, data   *net.UDPConn
	datagramSize int
	log          *zap.Logger

	ctrlMu sync.Mutex

	txState, rxState dmabuf.State
	txPool, rxPool   *memPool
	txRing, rxRing   *ring.UserRing
	txReady, rxReady *ring.Broadcaster

	rxMu            sync.Mutex
	rxRunning       bool
	rxCancel        context.CancelFunc
	rxAssembling    []byte // accumulator for the buffer currently being reassembled
	rxAssemblingLen int
}

var _ transport.Conn = (*Conn)(nil)

func (c *Conn) String() string { return c.name }

func (c *Conn) ReadRegister(addr uint32) (uint32, error) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	req := make([]byte, regReqLen)
	req[0] = regOpRead
	binary.BigEndian.PutUint32(req[1:5], addr)
	if err := c.ctrlRoundTrip(req); err != nil {
		return 0, err
	}
	resp := make([]byte, 4)
	if err := c.ctrlRead(resp); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(resp), nil
}

func (c *Conn) WriteRegister(addr uint32, v uint32) error {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	req := make([]byte, regReqLen)
	req[0] = regOpWrite
	binary.BigEndian.PutUint32(req[1:5], addr)
	binary.BigEndian.PutUint32(req[5:9], v)
	if err := c.ctrlRoundTrip(req); err != nil {
		return err
	}
	ack := make([]byte, 1)
	return c.ctrlRead(ack)
}

func (c *Conn) ctrlRoundTrip(req []byte) error {
	if err := c.ctrl.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		return dmaerr.Wrap(dmaerr.Io, "udp", err, "set write deadline")
	}
	if _, err := c.ctrl.Write(req); err != nil {
		return dmaerr.Wrap(dmaerr.Io, "udp", err, "writing control request")
	}
	return nil
}

func (c *Conn) ctrlRead(buf []byte) error {
	if err := c.ctrl.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		return dmaerr.Wrap(dmaerr.Io, "udp", err, "set read deadline")
	}
	if _, err := c.ctrl.Read(buf); err != nil {
		if isTimeout(err) {
			return dmaerr.Wrap(dmaerr.Timeout, "udp", err, "waiting for control reply")
		}
		return dmaerr.Wrap(dmaerr.Io, "udp", err, "reading control reply")
	}
	return nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// isEAGAIN reports whether err is the socket buffer being momentarily
// full, the condition spec.md §4.10's TX path is required to retry
// rather than drop.
func isEAGAIN(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// Start builds an n-buffer pool of bufSize bytes and, for Rx, launches
// the datagram-reassembly reader goroutine.
func (c *Conn) Start(dir dmabuf.Direction, n, bufSize int) error {
	pool, err := newMemPool(n, bufSize)
	if err != nil {
		return err
	}
	if dir == dmabuf.Tx {
		c.txState = dmabuf.State{Dir: dmabuf.Tx, Pool: pool}
		c.txPool = pool
		c.txRing = ring.New(dmabuf.Tx, &c.txState, c.txReady, ring.Staged, c.log)
		return nil
	}
	c.rxState = dmabuf.State{Dir: dmabuf.Rx, Pool: pool}
	c.rxPool = pool
	c.rxRing = ring.New(dmabuf.Rx, &c.rxState, c.rxReady, ring.Staged, c.log)
	c.rxAssembling = make([]byte, bufSize)
	return c.startRxLoop()
}

func (c *Conn) startRxLoop() error {
	c.rxMu.Lock()
	defer c.rxMu.Unlock()
	if c.rxRunning {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.rxCancel = cancel
	c.rxRunning = true
	go c.rxLoop(ctx)
	return nil
}

// rxLoop reads fixed-size datagrams and appends each into
// rxAssembling/rxAssemblingLen until a full buffer has been reassembled,
// then publishes it by advancing hw_count, exactly spec.md §4.10's
// reassembly accumulator. A datagram longer than the room left in the
// current buffer is split, its remainder starting the next buffer.
// Nothing detects a datagram lost in transit: the datagrams after it
// fill the accumulator in its place, so that buffer completes later
// and holds the following bytes instead.
func (c *Conn) rxLoop(ctx context.Context) {
	buf := make([]byte, c.datagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := c.data.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			return
		}
		n, err := c.data.Read(buf)
		if err != nil {
			if isTimeout(err) || err == unix.EAGAIN {
				continue
			}
			return
		}
		c.absorb(buf[:n])
	}
}

func (c *Conn) absorb(datagram []byte) {
	for len(datagram) > 0 {
		room := len(c.rxAssembling) - c.rxAssemblingLen
		take := len(datagram)
		if take > room {
			take = room
		}
		copy(c.rxAssembling[c.rxAssemblingLen:], datagram[:take])
		c.rxAssemblingLen += take
		datagram = datagram[take:]
		if c.rxAssemblingLen == len(c.rxAssembling) {
			n := c.rxState.N()
			idx := int(c.rxState.HWCount() % uint64(n))
			copy(c.rxPool.Buffer(idx).Host, c.rxAssembling)
			c.rxState.SetHWCount(c.rxState.HWCount() + 1)
			c.rxReady.Broadcast()
			c.rxAssemblingLen = 0
		}
	}
}

func (c *Conn) Stop(dir dmabuf.Direction) error {
	if dir == dmabuf.Rx {
		c.rxMu.Lock()
		if c.rxRunning {
			c.rxCancel()
			c.rxRunning = false
		}
		c.rxMu.Unlock()
	}
	return nil
}

func (c *Conn) NextBuffer(ctx context.Context, dir dmabuf.Direction, timeout time.Duration) (*dmabuf.Buffer, error) {
	if dir == dmabuf.Tx {
		return c.txRing.NextWriteBuffer(ctx, timeout)
	}
	return c.rxRing.NextReadBuffer(ctx, timeout)
}

// Submit chunks a Tx buffer into datagramSize datagrams and sends one
// write per datagram, so a slot larger than datagramSize goes out as
// several datagrams rather than one. A datagram whose write hits EAGAIN
// is retried rather than dropped; any other write error still aborts
// the remainder of the buffer.
func (c *Conn) Submit(dir dmabuf.Direction) {
	if dir == dmabuf.Rx {
		c.rxRing.Consume()
		return
	}
	idx := int(c.txState.SWCount() % uint64(c.txState.N()))
	// Submit copies the ring's staged scratch buffer into pool slot idx
	// and advances sw_count; the pool slot holds the bytes to send only
	// after this call.
	c.txRing.Submit()
	payload := c.txPool.Buffer(idx).Host
	for off := 0; off < len(payload); off += c.datagramSize {
		end := off + c.datagramSize
		if end > len(payload) {
			end = len(payload)
		}
		if err := c.writeDatagramRetryingEAGAIN(payload[off:end]); err != nil {
			c.log.Warn("udp tx datagram dropped", zap.Error(err))
			break
		}
	}
}

// writeDatagramRetryingEAGAIN writes one datagram, retrying as long as
// the socket send buffer reports momentarily full rather than surfacing
// EAGAIN to the caller as a dropped datagram.
func (c *Conn) writeDatagramRetryingEAGAIN(datagram []byte) error {
	for {
		_, err := c.data.Write(datagram)
		if err == nil {
			return nil
		}
		if !isEAGAIN(err) {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *Conn) Poll(dir dmabuf.Direction) (bool, bool) {
	if dir == dmabuf.Tx {
		if c.txRing == nil {
			return false, false
		}
		return c.txRing.Poll()
	}
	if c.rxRing == nil {
		return false, false
	}
	return c.rxRing.Poll()
}

func (c *Conn) Close() error {
	c.Stop(dmabuf.Rx)
	c.Stop(dmabuf.Tx)
	ctrlErr := c.ctrl.Close()
	dataErr := c.data.Close()
	if ctrlErr != nil {
		return ctrlErr
	}
	return dataErr
}

func init() {
	m2sdr.MustRegister(udpAvailability{})
}

// udpAvailability is a m2sdr.Transport reporting the UDP transport as
// always worth trying: unlike pcie, it needs no character device, so
// there is no host-specific presence check to run before Open.
type udpAvailability struct{}

func (udpAvailability) String() string          { return "eth" }
func (udpAvailability) Prerequisites() []string { return nil }
func (udpAvailability) Init() (bool, error)     { return true, nil }
