// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

import "fmt"

// Kind classifies driver errors as described by the error handling design:
// every operation returns a status, and the kind lets callers (and
// diagnostic tooling) branch on the failure class rather than string
// matching.
type Kind int

const (
	// KindBadArgument covers a null/short/oversized input structure, a
	// length out of range, or an unrecognized selector.
	KindBadArgument Kind = iota
	// KindNoDevice means the provider cast failed or the device closed
	// mid-operation.
	KindNoDevice
	// KindDeviceError wraps a non-success status from a kernel-side call
	// (open, memory map, DMA prepare), propagated verbatim.
	KindDeviceError
	// KindTimeout is used by the flash SPI transaction when DONE is never
	// observed within its budget.
	KindTimeout
	// KindOverrun is a soft error: the consumer observed hw-sw > N in
	// process(). It is reported through a counter, never returned as a
	// call failure (see client.Stream.Overruns).
	KindOverrun
)

func (k Kind) String() string {
	switch k {
	case KindBadArgument:
		return "bad argument"
	case KindNoDevice:
		return "no device"
	case KindDeviceError:
		return "device error"
	case KindTimeout:
		return "timeout"
	case KindOverrun:
		return "overrun"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by every driver operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("litepcie: %s: %s: %v", e.Op, e.Kind, e.Err)
	}

	return fmt.Sprintf("litepcie: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newErr(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
