// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package m2sdr

import (
	"testing"
)

type fakeTransport struct {
	name string
	deps []string
	ok   bool
	err  error
}

func (f *fakeTransport) String() string         { return f.name }
func (f *fakeTransport) Prerequisites() []string { return f.deps }
func (f *fakeTransport) Init() (bool, error)     { return f.ok, f.err }

func TestInit_orderAndConcurrency(t *testing.T) {
	Reset()
	defer Reset()

	if err := Register(&fakeTransport{name: "pcie0", ok: true}); err != nil {
		t.Fatal(err)
	}
	if err := Register(&fakeTransport{name: "udp0", deps: []string{"pcie0"}, ok: true}); err != nil {
		t.Fatal(err)
	}

	st, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Loaded) != 2 {
		t.Fatalf("expected 2 loaded transports, got %d", len(st.Loaded))
	}
	if st.Loaded[0].String() != "pcie0" || st.Loaded[1].String() != "udp0" {
		t.Fatalf("unexpected load order: %v", st.Loaded)
	}
}

func TestInit_missingDependency(t *testing.T) {
	Reset()
	defer Reset()

	if err := Register(&fakeTransport{name: "udp0", deps: []string{"ghost"}, ok: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := Init(); err == nil {
		t.Fatal("expected error for unsatisfied dependency")
	}
}

func TestInit_idempotent(t *testing.T) {
	Reset()
	defer Reset()

	if err := Register(&fakeTransport{name: "pcie0", ok: true}); err != nil {
		t.Fatal(err)
	}
	st1, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	st2, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	if st1 != st2 {
		t.Fatal("Init() should memoize state across calls")
	}
}

func TestRegister_duplicateName(t *testing.T) {
	Reset()
	defer Reset()

	if err := Register(&fakeTransport{name: "pcie0", ok: true}); err != nil {
		t.Fatal(err)
	}
	if err := Register(&fakeTransport{name: "pcie0", ok: true}); err == nil {
		t.Fatal("expected duplicate name registration to fail")
	}
}

func TestInit_skippedTransport(t *testing.T) {
	Reset()
	defer Reset()

	if err := Register(&fakeTransport{name: "eth0", ok: false}); err != nil {
		t.Fatal(err)
	}
	st, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Skipped) != 1 || len(st.Loaded) != 0 {
		t.Fatalf("expected transport to be skipped, got loaded=%v skipped=%v", st.Loaded, st.Skipped)
	}
}
