// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// m2sdr-loopback exercises a M.2 SDR device's internal crossbar
// loopback: it arms both directions, enables the loopback path, sends
// a pseudo-random pattern out the tx ring, and verifies the same bytes
// come back on the rx ring.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/host/pcie"
	"periph.io/x/m2sdr/transport"
	"periph.io/x/m2sdr/transport/udp"
)

// crossbarMuxReg mirrors host/pcie/regs.go's regCrossbarMux offset: bit0
// ties the tx engine's output back into the rx engine's input.
const crossbarMuxReg = 0x04

func mainImpl() error {
	deviceID := flag.String("d", "/dev/m2sdr0", "device id: a pcie path, \"pcie:<path>\", or \"eth:<host>[:port]\"")
	n := flag.Int("n", 16, "ring depth (buffer count), must be a power of two")
	size := flag.Int("s", 4096, "buffer size in bytes, must be a power of two")
	seed := flag.Int64("seed", 69069, "PRNG seed for the test pattern")
	timeout := flag.Duration("t", 2*time.Second, "deadline for the round trip")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger = zap.NewNop()
	}
	if err != nil {
		return err
	}
	defer logger.Sync()

	id, err := transport.ParseDeviceID(*deviceID)
	if err != nil {
		return err
	}
	var conn transport.Conn
	switch id.Scheme {
	case "pcie":
		conn, err = transport.OpenPCIe(id.Path, pcie.DefaultConfig(), logger)
	case "eth":
		conn, err = udp.Open(id.Host, id.Port, 0, logger)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteRegister(crossbarMuxReg, 1); err != nil {
		return fmt.Errorf("enabling loopback: %w", err)
	}
	defer conn.WriteRegister(crossbarMuxReg, 0)

	if err := conn.Start(dmabuf.Tx, *n, *size); err != nil {
		return fmt.Errorf("arming tx: %w", err)
	}
	defer conn.Stop(dmabuf.Tx)
	if err := conn.Start(dmabuf.Rx, *n, *size); err != nil {
		return fmt.Errorf("arming rx: %w", err)
	}
	defer conn.Stop(dmabuf.Rx)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pattern := make([]byte, *size)
	rand.New(rand.NewSource(*seed)).Read(pattern)

	txBuf, err := conn.NextBuffer(ctx, dmabuf.Tx, *timeout)
	if err != nil {
		return fmt.Errorf("tx NextBuffer: %w", err)
	}
	copy(txBuf.Host, pattern)
	conn.Submit(dmabuf.Tx)

	rxBuf, err := conn.NextBuffer(ctx, dmabuf.Rx, *timeout)
	if err != nil {
		return fmt.Errorf("rx NextBuffer: %w", err)
	}
	defer conn.Submit(dmabuf.Rx)

	for i := range pattern {
		if rxBuf.Host[i] != pattern[i] {
			return fmt.Errorf("loopback mismatch at byte %d: got %#x, want %#x", i, rxBuf.Host[i], pattern[i])
		}
	}
	fmt.Printf("loopback OK: %d bytes round-tripped through %s\n", *size, conn.String())
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "m2sdr-loopback: %s.\n", err)
		os.Exit(1)
	}
}
