// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux

package transport

import (
	"go.uber.org/zap"

	"periph.io/x/m2sdr"
	"periph.io/x/m2sdr/dmaerr"
	"periph.io/x/m2sdr/host/pcie"
)

// OpenPCIe is not supported outside Linux; see host/pcie.OpenFile.
func OpenPCIe(path string, cfg pcie.Config, log *zap.Logger) (Conn, error) {
	return nil, dmaerr.New(dmaerr.Unsupported, "transport", "the PCIe transport is only supported on Linux")
}

func init() {
	m2sdr.MustRegister(pcieAvailability{})
}

// pcieAvailability reports the PCIe transport as irrelevant on any host
// other than Linux, the same way a periph.io host driver reports itself
// irrelevant on the wrong platform instead of failing Init().
type pcieAvailability struct{}

func (pcieAvailability) String() string          { return "pcie" }
func (pcieAvailability) Prerequisites() []string { return nil }
func (pcieAvailability) Init() (bool, error) {
	return false, dmaerr.New(dmaerr.Unsupported, "transport", "the PCIe transport is only supported on Linux")
}
