// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package candidates

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Candidate represents a single WARP edge endpoint under evaluation.  It is
// immutable once enumerated.
type Candidate struct {
	// Addr is the IPv4 or IPv6 address of the endpoint.
	Addr netip.Addr

	// Port is the UDP port the WARP edge listens on.
	Port uint16
}

// IsIPv4 returns whether the candidate address is an IPv4 address, including
// IPv4-mapped IPv6 addresses.
func (c Candidate) IsIPv4() bool {
	return c.Addr.Is4() || c.Addr.Is4In6()
}

// Key returns a string that uniquely represents the candidate and includes
// the port.  IPv6 addresses are bracketed per RFC 3986 so the result is
// suitable for direct use as a dial address or configuration endpoint.
func (c Candidate) Key() string {
	portStr := strconv.FormatUint(uint64(c.Port), 10)
	return net.JoinHostPort(c.Addr.String(), portStr)
}

// String returns a human-readable string for the candidate.  This is
// equivalent to calling Key, but is provided so the type can be used as a
// fmt.Stringer.
func (c Candidate) String() string {
	return c.Key()
}

// ParseCandidate parses an address and port literal of the form "host:port"
// (IPv6 addresses must be bracketed) into a Candidate.
func ParseCandidate(s string) (Candidate, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		str := fmt.Sprintf("malformed candidate %q: %v", s, err)
		return Candidate{}, makeError(ErrInvalidAddress, str)
	}
	if ap.Port() == 0 {
		str := fmt.Sprintf("malformed candidate %q: port must be nonzero", s)
		return Candidate{}, makeError(ErrInvalidPort, str)
	}
	return Candidate{Addr: ap.Addr().Unmap(), Port: ap.Port()}, nil
}
