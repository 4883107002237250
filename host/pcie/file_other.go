// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux

package pcie

import "periph.io/x/m2sdr/dmaerr"

// OpenFile is not supported outside Linux: the m2sdr character device
// and its ioctl/mmap surface are Linux-specific, matching host/pmem's
// mem_other.go fallback for non-Linux hosts.
func OpenFile(path string) (*FileControlChannel, error) {
	return nil, dmaerr.New(dmaerr.Unsupported, "pcie", "the PCIe transport is only supported on Linux")
}

// FileControlChannel is an empty placeholder on non-Linux hosts so the
// package still compiles there; it can never be constructed.
type FileControlChannel struct{}
