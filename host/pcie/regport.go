// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pcie

import (
	"periph.io/x/m2sdr/conn/regbus"
)

// RegisterPort is the RP of spec.md §4.1: it implements regbus.Bus by
// delegating every access to a ControlChannel's REG op, exactly the way
// host/bcm283x's mmr.Dev8 wraps a raw memory window. DescriptorProgrammer,
// CounterTracker and InterruptDemux are all written against regbus.Bus so
// they work unmodified whether cc is a FileControlChannel or hwsim's fake.
type RegisterPort struct {
	name string
	cc   ControlChannel
}

// NewRegisterPort builds a Register Port named name (used only in
// String(), for log and error messages) over cc.
func NewRegisterPort(name string, cc ControlChannel) *RegisterPort {
	return &RegisterPort{name: name, cc: cc}
}

func (r *RegisterPort) String() string { return r.name }

func (r *RegisterPort) Read(addr uint32) (uint32, error) {
	return r.cc.RegRead(addr)
}

func (r *RegisterPort) Write(addr uint32, v uint32) error {
	return r.cc.RegWrite(addr, v)
}

var _ regbus.Bus = (*RegisterPort)(nil)
