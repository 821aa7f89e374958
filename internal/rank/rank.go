// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rank

import (
	"sort"
	"time"

	"github.com/wescan/wescan/internal/candidates"
	"github.com/wescan/wescan/internal/prober"
)

// Entry is one healthy endpoint in a ranking.
type Entry struct {
	// Candidate is the endpoint the entry describes.
	Candidate candidates.Candidate

	// Latency is the endpoint's aggregate round-trip latency.
	Latency time.Duration

	// LossRate is the fraction of probe attempts that failed, in [0, 1].
	LossRate float64
}

// Ranking is an ordered list of healthy endpoints, fastest first.
type Ranking []Entry

// Aggregate filters the healthy results and orders them ascending by latency
// with ties broken by candidate key.  The input is not modified and the
// ordering is fully determined by the result values, so aggregating the same
// results always produces the same ranking.
func Aggregate(results []prober.Result) Ranking {
	ranking := make(Ranking, 0, len(results))
	for _, result := range results {
		if !result.Healthy() {
			continue
		}
		ranking = append(ranking, Entry{
			Candidate: result.Candidate,
			Latency:   result.Latency,
			LossRate:  result.LossRate,
		})
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		if ranking[i].Latency != ranking[j].Latency {
			return ranking[i].Latency < ranking[j].Latency
		}
		return ranking[i].Candidate.Key() < ranking[j].Candidate.Key()
	})
	return ranking
}

// split partitions a ranking into its IPv4 and IPv6 entries, preserving
// order.
func (r Ranking) split() (v4, v6 Ranking) {
	for _, entry := range r {
		if entry.Candidate.IsIPv4() {
			v4 = append(v4, entry)
		} else {
			v6 = append(v6, entry)
		}
	}
	return v4, v6
}
