// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package corectl

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific ErrorKind.
const (
	// ErrInvalidConfig indicates the controller configuration is invalid.
	ErrInvalidConfig = ErrorKind("ErrInvalidConfig")

	// ErrPoolExhausted indicates a port was requested from an empty port
	// pool.  This should not happen when the pool is sized to the worker
	// budget and is treated as an internal invariant violation.
	ErrPoolExhausted = ErrorKind("ErrPoolExhausted")

	// ErrExitedEarly indicates the core process exited, or failed to launch,
	// before its inbound listener became ready.  The error description
	// includes the exit status and a tail of the process stderr when
	// available.
	ErrExitedEarly = ErrorKind("ErrExitedEarly")

	// ErrStartupTimeout indicates the core process did not expose a ready
	// inbound listener within the readiness timeout.
	ErrStartupTimeout = ErrorKind("ErrStartupTimeout")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to core process management.  It has full
// support for errors.Is and errors.As, so the caller can ascertain the
// specific reason for the error by checking the underlying error.
type Error struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}
