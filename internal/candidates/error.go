// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package candidates

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific ErrorKind.
const (
	// ErrNoRanges indicates that enumeration was requested without any
	// address ranges or seed entries to draw candidates from.
	ErrNoRanges = ErrorKind("ErrNoRanges")

	// ErrInvalidAddress indicates that a seed entry is not a valid address
	// and port literal.
	ErrInvalidAddress = ErrorKind("ErrInvalidAddress")

	// ErrInvalidCIDR indicates that a configured range is not a valid CIDR
	// prefix.
	ErrInvalidCIDR = ErrorKind("ErrInvalidCIDR")

	// ErrInvalidPort indicates that a configured port is outside the valid
	// range.
	ErrInvalidPort = ErrorKind("ErrInvalidPort")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to candidate enumeration.  It has full
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
