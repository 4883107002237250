// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dmaerr defines the closed error taxonomy shared by every layer
// of the DMA streaming engine.
//
// Over/underflow are not part of this taxonomy: they are recoverable
// conditions recorded in counters and logs, never returned as errors.
package dmaerr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error kinds of the streaming engine. Values are
// part of the control-channel ABI (§6/§7) and must not be renumbered.
type Kind int

const (
	// Ok is not normally constructed as an error; it exists so Kind zero
	// value has a name distinct from an unset/unknown kind.
	Ok Kind = iota
	// InvalidArgument covers malformed parameters: bad register address,
	// unknown sample format, a buffer size that isn't a multiple of B.
	InvalidArgument
	// Io covers transport failures: MMIO access error, socket error,
	// kernel copy-to/from-user failure.
	Io
	// Timeout means a blocking call exceeded its deadline.
	Timeout
	// OutOfMemory means a buffer or descriptor table allocation failed.
	OutOfMemory
	// Unsupported means the feature is absent from the loaded gateware or
	// build.
	Unsupported
	// Busy means the channel lock is held by another owner.
	Busy
	// Interrupted means a blocking call was cancelled.
	Interrupted
	// WouldBlock means a non-blocking call found the ring empty or full.
	WouldBlock
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "Ok"
	case InvalidArgument:
		return "InvalidArgument"
	case Io:
		return "Io"
	case Timeout:
		return "Timeout"
	case OutOfMemory:
		return "OutOfMemory"
	case Unsupported:
		return "Unsupported"
	case Busy:
		return "Busy"
	case Interrupted:
		return "Interrupted"
	case WouldBlock:
		return "WouldBlock"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the concrete error type returned across package boundaries in
// this module. It always carries a Kind so callers can branch with
// errors.Is against the sentinel values below, and a package-qualified
// message in the teacher's wrapf style.
type Error struct {
	Kind    Kind
	Pkg     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Pkg, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Pkg, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by Kind: errors.Is(err, dmaerr.BusySentinel)
// reports true for any *Error whose Kind is Busy, not only for a
// kind-sentinel identity.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && e.Kind == Kind(k)
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return Kind(k).String() }

// Sentinels usable with errors.Is(err, dmaerr.BusySentinel), matching any
// *Error of that Kind regardless of message or package.
var (
	InvalidArgumentSentinel error = kindSentinel(InvalidArgument)
	IoSentinel              error = kindSentinel(Io)
	TimeoutSentinel         error = kindSentinel(Timeout)
	OutOfMemorySentinel     error = kindSentinel(OutOfMemory)
	UnsupportedSentinel     error = kindSentinel(Unsupported)
	BusySentinel            error = kindSentinel(Busy)
	InterruptedSentinel     error = kindSentinel(Interrupted)
	WouldBlockSentinel      error = kindSentinel(WouldBlock)
)

// New constructs an *Error. pkg should be the short package name, matching
// the teacher's wrapf() convention of prefixing messages with the package
// that raised them.
func New(kind Kind, pkg string, format string, a ...interface{}) error {
	return &Error{Kind: kind, Pkg: pkg, Message: fmt.Sprintf(format, a...)}
}

// Wrap is like New but preserves a lower-level cause for %v/Unwrap chains.
func Wrap(kind Kind, pkg string, cause error, format string, a ...interface{}) error {
	return &Error{Kind: kind, Pkg: pkg, Message: fmt.Sprintf(format, a...), Cause: cause}
}

// KindOf extracts the Kind of err, or Ok if err is nil, or Io if err is a
// non-nil error not produced by this package (a conservative default: an
// un-taxonomized failure is treated as a transport-level failure rather
// than silently succeeding).
func KindOf(err error) Kind {
	if err == nil {
		return Ok
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Io
}
