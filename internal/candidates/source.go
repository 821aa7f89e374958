// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package candidates

import (
	"fmt"
	"math/rand"
	"net/netip"
	"time"
)

const (
	// maxAttemptsFactor is the multiple of the requested candidate count used
	// to bound the number of random sampling attempts.  Sampling stops once
	// this many attempts have been made even if fewer unique candidates than
	// requested were produced, which prevents tiny ranges from looping
	// forever.
	maxAttemptsFactor = 5
)

// DefaultPorts is the well-known list of UDP ports the Cloudflare WARP edge
// accepts WireGuard traffic on.
var DefaultPorts = []uint16{
	500, 854, 859, 864, 878, 880, 890, 891, 894, 903, 908, 928, 934, 939,
	942, 943, 945, 946, 955, 968, 987, 988, 1002, 1010, 1014, 1018, 1070,
	1074, 1180, 1387, 1701, 1843, 2371, 2408, 2506, 3138, 3476, 3581, 3854,
	4177, 4198, 4233, 4500, 5279, 5956, 7103, 7152, 7156, 7281, 7559, 8319,
	8742, 8854, 8886,
}

// DefaultIPv4Ranges returns the well-known Cloudflare WARP IPv4 address
// blocks.
func DefaultIPv4Ranges() []netip.Prefix {
	return []netip.Prefix{
		netip.MustParsePrefix("188.114.96.0/24"),
		netip.MustParsePrefix("188.114.97.0/24"),
		netip.MustParsePrefix("188.114.98.0/24"),
		netip.MustParsePrefix("188.114.99.0/24"),
		netip.MustParsePrefix("162.159.192.0/24"),
		netip.MustParsePrefix("162.159.193.0/24"),
		netip.MustParsePrefix("162.159.195.0/24"),
	}
}

// DefaultIPv6Ranges returns the well-known Cloudflare WARP IPv6 address
// blocks.
func DefaultIPv6Ranges() []netip.Prefix {
	return []netip.Prefix{
		netip.MustParsePrefix("2606:4700:d0::/64"),
		netip.MustParsePrefix("2606:4700:d1::/64"),
	}
}

// Source describes where candidates come from and how many to produce.  The
// zero value is not usable; at least one of Seeds, IPv4 ranges with a
// positive IPv4Count, or IPv6 ranges with a positive IPv6Count must be
// configured.
type Source struct {
	// IPv4Count and IPv6Count are the number of candidates to sample from
	// the respective ranges.  Sampling may produce fewer unique candidates
	// than requested when the configured ranges are small.
	IPv4Count int
	IPv6Count int

	// IPv4Ranges and IPv6Ranges are the CIDR ranges candidates are sampled
	// from.
	IPv4Ranges []netip.Prefix
	IPv6Ranges []netip.Prefix

	// Ports is the set of ports to pair with sampled addresses.  DefaultPorts
	// is used when empty.
	Ports []uint16

	// Seeds are fixed candidates that are always included.
	Seeds []Candidate

	// MaxCandidates caps the total number of candidates enumerated in one
	// run.  No cap is applied when it is zero.
	MaxCandidates int

	// Rand is the source of randomness used for sampling and shuffling.  A
	// time-seeded source is used when nil, so tests can inject a fixed seed
	// for deterministic enumeration.
	Rand *rand.Rand
}

// Enumerate produces the finite, deduplicated set of candidates described by
// the source.  The result is shuffled, so the order carries no meaning.
//
// The returned error will have an underlying kind of ErrNoRanges when the
// source describes no work at all, or ErrInvalidCIDR/ErrInvalidPort when the
// configuration is malformed.
func (s *Source) Enumerate() ([]Candidate, error) {
	wantIPv4 := s.IPv4Count > 0 && len(s.IPv4Ranges) > 0
	wantIPv6 := s.IPv6Count > 0 && len(s.IPv6Ranges) > 0
	if !wantIPv4 && !wantIPv6 && len(s.Seeds) == 0 {
		str := "no seed entries or address ranges configured"
		return nil, makeError(ErrNoRanges, str)
	}

	ports := s.Ports
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	for _, port := range ports {
		if port == 0 {
			return nil, makeError(ErrInvalidPort, "port must be nonzero")
		}
	}
	for _, pfx := range s.IPv4Ranges {
		if !pfx.IsValid() || !pfx.Addr().Is4() {
			str := fmt.Sprintf("range %v is not a valid IPv4 prefix", pfx)
			return nil, makeError(ErrInvalidCIDR, str)
		}
	}
	for _, pfx := range s.IPv6Ranges {
		if !pfx.IsValid() || !pfx.Addr().Is6() || pfx.Addr().Is4In6() {
			str := fmt.Sprintf("range %v is not a valid IPv6 prefix", pfx)
			return nil, makeError(ErrInvalidCIDR, str)
		}
	}

	rng := s.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	seen := make(map[string]struct{})
	var cands []Candidate
	add := func(c Candidate) bool {
		key := c.Key()
		if _, ok := seen[key]; ok {
			return false
		}
		seen[key] = struct{}{}
		cands = append(cands, c)
		return true
	}

	for _, seed := range s.Seeds {
		add(seed)
	}
	if wantIPv4 {
		sampled := sample(rng, s.IPv4Ranges, ports, s.IPv4Count, add)
		if sampled < s.IPv4Count {
			log.Warnf("Sampled only %d of %d requested IPv4 candidates",
				sampled, s.IPv4Count)
		}
	}
	if wantIPv6 {
		sampled := sample(rng, s.IPv6Ranges, ports, s.IPv6Count, add)
		if sampled < s.IPv6Count {
			log.Warnf("Sampled only %d of %d requested IPv6 candidates",
				sampled, s.IPv6Count)
		}
	}

	rng.Shuffle(len(cands), func(i, j int) {
		cands[i], cands[j] = cands[j], cands[i]
	})
	if s.MaxCandidates > 0 && len(cands) > s.MaxCandidates {
		cands = cands[:s.MaxCandidates]
	}

	log.Debugf("Enumerated %d unique candidates", len(cands))
	return cands, nil
}

// sample draws up to count unique candidates from the provided ranges and
// ports using the add callback for dedup.  It returns the number of unique
// candidates actually added.
func sample(rng *rand.Rand, ranges []netip.Prefix, ports []uint16, count int,
	add func(Candidate) bool) int {

	var added int
	maxAttempts := count * maxAttemptsFactor
	for attempts := 0; added < count && attempts < maxAttempts; attempts++ {
		pfx := ranges[rng.Intn(len(ranges))]
		port := ports[rng.Intn(len(ports))]
		cand := Candidate{Addr: randAddr(rng, pfx), Port: port}
		if add(cand) {
			added++
		}
	}
	return added
}

// randAddr returns a uniformly random address within the provided prefix by
// randomizing the host bits while preserving the network bits.
func randAddr(rng *rand.Rand, pfx netip.Prefix) netip.Addr {
	base := pfx.Masked().Addr()
	if base.Is4() {
		bytes := base.As4()
		randomizeHostBits(rng, bytes[:], pfx.Bits())
		return netip.AddrFrom4(bytes)
	}
	bytes := base.As16()
	randomizeHostBits(rng, bytes[:], pfx.Bits())
	return netip.AddrFrom16(bytes)
}

// randomizeHostBits overwrites all bits after the first 'bits' network bits
// with random values.
func randomizeHostBits(rng *rand.Rand, addr []byte, bits int) {
	for i := range addr {
		bitPos := i * 8
		if bitPos+8 <= bits {
			continue
		}
		r := byte(rng.Intn(256))
		if bitPos >= bits {
			addr[i] = r
			continue
		}
		// Partial byte: keep the leading network bits.
		keep := bits - bitPos
		mask := byte(0xff) << (8 - keep)
		addr[i] = addr[i]&mask | r&^mask
	}
}
