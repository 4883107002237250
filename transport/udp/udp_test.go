// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package udp

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"periph.io/x/m2sdr/conn/dmabuf"
)

// fakePeer is a minimal stand-in for the device side of the wire
// protocol: it echoes register writes back as reads, and retransmits
// whatever data datagrams it receives (a trivial loopback), enough to
// exercise Conn's framing without a real device.
type fakePeer struct {
	ctrl, data *net.UDPConn
	regs       map[uint32]uint32
}

// newFakePeer binds a (data, data+1) port pair, retrying a few times in
// case either port is already in use on the test machine.
func newFakePeer(t *testing.T) (*fakePeer, int) {
	t.Helper()
	var lastErr error
	for base := 57100; base < 57100+50; base += 2 {
		data, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: base})
		if err != nil {
			lastErr = err
			continue
		}
		ctrl, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: base + 1})
		if err != nil {
			data.Close()
			lastErr = err
			continue
		}
		p := &fakePeer{ctrl: ctrl, data: data, regs: map[uint32]uint32{}}
		go p.serveCtrl()
		return p, base
	}
	t.Fatalf("could not bind a fake-peer port pair: %v", lastErr)
	return nil, 0
}

func (p *fakePeer) serveCtrl() {
	buf := make([]byte, regReqLen)
	for {
		n, addr, err := p.ctrl.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n != regReqLen {
			continue
		}
		op := buf[0]
		addrReg := binary.BigEndian.Uint32(buf[1:5])
		if op == regOpRead {
			resp := make([]byte, 4)
			binary.BigEndian.PutUint32(resp, p.regs[addrReg])
			p.ctrl.WriteToUDP(resp, addr)
		} else {
			val := binary.BigEndian.Uint32(buf[5:9])
			p.regs[addrReg] = val
			p.ctrl.WriteToUDP([]byte{1}, addr)
		}
	}
}

func (p *fakePeer) close() {
	p.ctrl.Close()
	p.data.Close()
}

func TestConn_registerRoundTrip(t *testing.T) {
	peer, dataPort := newFakePeer(t)
	defer peer.close()

	c, err := Open("127.0.0.1", dataPort, 0, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if err := c.WriteRegister(0x10, 0xcafef00d); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	got, err := c.ReadRegister(0x10)
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if got != 0xcafef00d {
		t.Fatalf("got %#x, want 0xcafef00d", got)
	}
}

func TestConn_txSubmitSendsDatagrams(t *testing.T) {
	peer, dataPort := newFakePeer(t)
	defer peer.close()

	c, err := Open("127.0.0.1", dataPort, 8, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if err := c.Start(dmabuf.Tx, 4, 16); err != nil {
		t.Fatalf("Start: %v", err)
	}
	buf, err := c.NextBuffer(context.Background(), dmabuf.Tx, 0)
	if err != nil {
		t.Fatalf("NextBuffer: %v", err)
	}
	copy(buf.Host, []byte("0123456789abcdef"))
	c.Submit(dmabuf.Tx)

	peer.data.SetReadDeadline(time.Now().Add(time.Second))
	got := make([]byte, 8)
	n, err := peer.data.Read(got)
	if err != nil {
		t.Fatalf("peer did not receive a datagram: %v", err)
	}
	if n != 8 || string(got) != "01234567" {
		t.Fatalf("got %q, want first 8-byte chunk", got[:n])
	}
}

func TestConn_rxReassembly(t *testing.T) {
	peer, dataPort := newFakePeer(t)
	defer peer.close()

	c, err := Open("127.0.0.1", dataPort, 8, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if err := c.Start(dmabuf.Rx, 4, 16); err != nil {
		t.Fatalf("Start: %v", err)
	}

	selfAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: dataPort}
	peer.data.WriteToUDP([]byte("01234567"), selfAddr)
	peer.data.WriteToUDP([]byte("89abcdef"), selfAddr)

	buf, err := c.NextBuffer(context.Background(), dmabuf.Rx, time.Second)
	if err != nil {
		t.Fatalf("NextBuffer: %v", err)
	}
	if string(buf.Host) != "0123456789abcdef" {
		t.Fatalf("got %q, want reassembled 16-byte buffer", buf.Host)
	}
	c.Submit(dmabuf.Rx)
}
