// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package m2sdr is the DMA streaming engine for the M.2 SDR platform.
//
// It acts as a registry of transports the same way periph.io acts as a
// registry of host drivers: a PCIe-backed transport and a UDP/Etherbone
// transport both implement m2sdr.Transport and register themselves in
// their package init() by calling m2sdr.MustRegister(). The application
// calls m2sdr.Init() once at startup to bring up every registered
// transport in dependency order.
//
// → dmaerr/ is the shared error taxonomy (§7).
// → conn/ contains the protocol-level contracts: register access, buffer
// pool/direction-state types, and the shared-memory ring layout.
// → host/pcie/ is the concrete PCIe host driver.
// → ring/ is the user-space producer/consumer ring (UR).
// → transport/ is the capability-set abstraction plus the UDP variant.
// → sdr/ is the blocking config/rx/tx facade (SAF) most callers use.
package m2sdr // import "periph.io/x/m2sdr"

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Transport is an implementation of one of the engine's transports (PCIe,
// UDP/Etherbone, or a future one).
type Transport interface {
	// String returns the name of the transport, as presented to the user.
	//
	// It must be unique across the list of registered transports.
	String() string
	// Prerequisites returns the names of transports that must be
	// successfully initialized before this one.
	//
	// A transport listing a prerequisite that is never registered is a
	// fatal failure at Init() time.
	Prerequisites() []string
	// Init brings up the transport.
	//
	// On success it returns true, nil. When irrelevant on this host it
	// returns false, <reason>. On failure to initialize a relevant
	// transport it returns true, <reason>.
	Init() (bool, error)
}

// TransportFailure is a transport that wasn't loaded, either skipped or
// failed.
type TransportFailure struct {
	T   Transport
	Err error
}

func (f TransportFailure) String() string {
	return fmt.Sprintf("%s: %v", f.T, f.Err)
}

// State is the state of loaded transports after Init(). Each list is
// sorted by transport name.
type State struct {
	Loaded  []Transport
	Skipped []TransportFailure
	Failed  []TransportFailure
}

// Init initializes all the registered transports.
//
// Independent transports in the same dependency stage are started
// concurrently via errgroup.Group; a hard failure in one transport does
// not stop its siblings in the same stage from finishing, but is
// surfaced once the stage completes.
//
// It is safe to call Init() multiple times: the result of the first call
// is memoized and returned on subsequent calls.
func Init() (*State, error) {
	mu.Lock()
	defer mu.Unlock()
	if state != nil {
		return state, nil
	}
	state = &State{}

	stages, err := explodeStages(allTransports)
	if err != nil {
		return state, err
	}
	loaded := map[string]struct{}{}
	for _, ts := range stages {
		loadStage(ts, loaded, state)
	}

	sort.Sort(byTransportName(state.Loaded))
	sort.Sort(byFailureName(state.Skipped))
	sort.Sort(byFailureName(state.Failed))
	return state, nil
}

// Register registers a transport to be initialized automatically on
// Init(). t.String() must be unique across registered transports. It is
// an error to call Register() after Init() was called.
func Register(t Transport) error {
	mu.Lock()
	defer mu.Unlock()
	if state != nil {
		return fmt.Errorf("m2sdr: can't call Register() after Init()")
	}
	n := t.String()
	if _, ok := registered[n]; ok {
		return fmt.Errorf("m2sdr: transport with same name %q was already registered", n)
	}
	registered[n] = t
	allTransports = append(allTransports, t)
	return nil
}

// MustRegister calls Register() and panics on failure. Call it from a
// transport package's init() function.
func MustRegister(t Transport) {
	if err := Register(t); err != nil {
		panic(err)
	}
}

// Reset clears all registration and Init() state. It exists only for
// tests that need a clean registry between scenarios; production code
// never calls it.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	allTransports = nil
	registered = map[string]Transport{}
	state = nil
}

//

var (
	mu            sync.Mutex
	allTransports []Transport
	registered    = map[string]Transport{}
	state         *State
)

// explodeStages topologically sorts transports into dependency stages:
// every transport in stage i only depends on transports in stages < i, so
// all transports within one stage can start concurrently.
func explodeStages(ts []Transport) ([][]Transport, error) {
	deps := map[string]map[string]struct{}{}
	for _, t := range ts {
		deps[t.String()] = map[string]struct{}{}
	}
	for _, t := range ts {
		name := t.String()
		for _, dep := range t.Prerequisites() {
			if _, ok := registered[dep]; !ok {
				return nil, fmt.Errorf("m2sdr: unsatisfied dependency %q->%q; it is missing", name, dep)
			}
			deps[name][dep] = struct{}{}
		}
	}

	var stages [][]Transport
	for len(deps) != 0 {
		var names []string
		var stage []Transport
		for name, d := range deps {
			if len(d) == 0 {
				names = append(names, name)
				stage = append(stage, registered[name])
				delete(deps, name)
			}
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("m2sdr: found cycle(s) in transport dependencies: %v", deps)
		}
		stages = append(stages, stage)
		for _, passed := range names {
			for name := range deps {
				delete(deps[name], passed)
			}
		}
	}
	return stages, nil
}

// loadStage initializes every transport of one stage concurrently,
// skipping any whose prerequisite failed to load in a previous stage.
//
// Per-transport success/failure is recorded on state rather than
// propagated as a Go error, so the errgroup itself never fails: it is
// used purely for its WaitGroup-with-panic-safety semantics, which is
// strictly more than the teacher's hand-rolled 3-channel fan-in needed.
func loadStage(ts []Transport, loaded map[string]struct{}, state *State) {
	var g errgroup.Group
	var smu sync.Mutex

	for _, t := range ts {
		t := t
		skip := false
		for _, dep := range t.Prerequisites() {
			if _, ok := loaded[dep]; !ok {
				skip = true
				break
			}
		}
		if skip {
			smu.Lock()
			state.Skipped = append(state.Skipped, TransportFailure{t, fmt.Errorf("m2sdr: prerequisite not loaded")})
			smu.Unlock()
			continue
		}

		g.Go(func() error {
			ok, err := t.Init()
			smu.Lock()
			defer smu.Unlock()
			if ok {
				if err == nil {
					state.Loaded = append(state.Loaded, t)
					loaded[t.String()] = struct{}{}
					return nil
				}
				state.Failed = append(state.Failed, TransportFailure{t, err})
				return nil
			}
			if err == nil {
				err = fmt.Errorf("m2sdr: no reason was given")
			}
			state.Skipped = append(state.Skipped, TransportFailure{t, err})
			return nil
		})
	}
	_ = g.Wait()
}

type byTransportName []Transport

func (b byTransportName) Len() int           { return len(b) }
func (b byTransportName) Less(i, j int) bool { return b[i].String() < b[j].String() }
func (b byTransportName) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }

type byFailureName []TransportFailure

func (b byFailureName) Len() int           { return len(b) }
func (b byFailureName) Less(i, j int) bool { return b[i].T.String() < b[j].T.String() }
func (b byFailureName) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }
