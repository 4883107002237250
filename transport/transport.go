// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package transport defines the capability-set abstraction spec.md §4.10
// asks for: one small interface a PCIe-backed DMA channel and a
// UDP-backed ring both satisfy with equivalent semantics, so the Sync
// API Facade (package sdr) is written once against Conn rather than
// against either transport directly. This plays the role periph.go's
// Transport interface plays for transport drivers: a small capability
// surface plus a registry of concrete implementations, here a registry
// of device-id schemes instead of init-time drivers.
package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"periph.io/x/m2sdr/conn/dmabuf"
	"periph.io/x/m2sdr/dmaerr"
)

// Conn is the capability set every transport variant implements:
// register access, buffer exchange, and readiness polling, in terms of
// dmabuf's Direction/Buffer types.
type Conn interface {
	// String identifies the underlying device, for logs.
	String() string
	// ReadRegister/WriteRegister implement the Register Port (§4.1).
	ReadRegister(addr uint32) (uint32, error)
	WriteRegister(addr uint32, v uint32) error
	// Start arms dir with a pool of n buffers of bufSize bytes each. A
	// transport whose buffer geometry is fixed by the device (PCIe) may
	// ignore n/bufSize and use its own; a software-only transport (UDP)
	// allocates exactly what is asked for.
	Start(dir dmabuf.Direction, n, bufSize int) error
	// Stop disarms dir. Calling Stop on an already-stopped direction is
	// a no-op.
	Stop(dir dmabuf.Direction) error
	// NextBuffer blocks (up to timeout, <= 0 for forever) for the next
	// buffer to fill (Tx) or drain (Rx).
	NextBuffer(ctx context.Context, dir dmabuf.Direction, timeout time.Duration) (*dmabuf.Buffer, error)
	// Submit publishes the buffer most recently returned by NextBuffer:
	// ready-to-send on Tx, fully-drained on Rx.
	Submit(dir dmabuf.Direction)
	// Poll reports readiness without blocking.
	Poll(dir dmabuf.Direction) (readable, writable bool)
	// Close releases every resource the Conn holds, stopping both
	// directions first if still armed.
	Close() error
}

// DeviceID is a parsed device-id string: "pcie:<path>", "eth:<ip>[:port]",
// or a bare path (defaulting to the pcie scheme), per spec.md §6.
type DeviceID struct {
	Scheme string // "pcie" or "eth"
	Path   string // character-device path, for "pcie"
	Host   string // IP/hostname, for "eth"
	Port   int    // UDP port, for "eth"; 0 if not given
}

// DefaultUDPPort is used when an "eth:" device-id omits a port.
const DefaultUDPPort = 1234

// ParseDeviceID parses one of the three device-id forms spec.md §6
// describes.
func ParseDeviceID(id string) (DeviceID, error) {
	scheme, rest, hasScheme := strings.Cut(id, ":")
	if !hasScheme {
		return DeviceID{Scheme: "pcie", Path: id}, nil
	}
	switch scheme {
	case "pcie":
		if rest == "" {
			return DeviceID{}, dmaerr.New(dmaerr.InvalidArgument, "transport", "pcie device-id %q has an empty path", id)
		}
		return DeviceID{Scheme: "pcie", Path: rest}, nil
	case "eth":
		host, portStr, hasPort := strings.Cut(rest, ":")
		if host == "" {
			return DeviceID{}, dmaerr.New(dmaerr.InvalidArgument, "transport", "eth device-id %q has an empty host", id)
		}
		port := DefaultUDPPort
		if hasPort {
			p, err := strconv.Atoi(portStr)
			if err != nil || p <= 0 || p > 65535 {
				return DeviceID{}, dmaerr.New(dmaerr.InvalidArgument, "transport", "eth device-id %q has an invalid port", id)
			}
			port = p
		}
		return DeviceID{Scheme: "eth", Host: host, Port: port}, nil
	default:
		return DeviceID{}, dmaerr.New(dmaerr.InvalidArgument, "transport", "unknown device-id scheme %q", scheme)
	}
}

func (d DeviceID) String() string {
	if d.Scheme == "eth" {
		return fmt.Sprintf("eth:%s:%d", d.Host, d.Port)
	}
	return fmt.Sprintf("pcie:%s", d.Path)
}
