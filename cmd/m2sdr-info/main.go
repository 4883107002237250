// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// m2sdr-info prints a M.2 SDR device's scratch register and the
// current readiness of its tx/rx rings, without arming either
// direction.
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"

	"go.uber.org/zap"

	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/host/pcie"
	"periph.io/x/m2sdr/transport"
	"periph.io/x/m2sdr/transport/udp"
)

func mainImpl() error {
	deviceID := flag.String("d", "/dev/m2sdr0", "device id: a pcie path, \"pcie:<path>\", or \"eth:<host>[:port]\"")
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

	scratch, err := conn.ReadRegister(0x00)
	if err != nil {
		return err
	}
	fmt.Printf("device:  %s\n", conn.String())
	fmt.Printf("scratch: %#08x\n", scratch)

	for _, dir := range []dmabuf.Direction{dmabuf.Tx, dmabuf.Rx} {
		readable, writable := conn.Poll(dir)
		fmt.Printf("%-2s: readable=%-5v writable=%-5v\n", dir, readable, writable)
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "m2sdr-info: %s.\n", err)
		os.Exit(1)
	}
}
