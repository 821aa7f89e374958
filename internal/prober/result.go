// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prober

import (
	"fmt"
	"time"

	"github.com/wescan/wescan/internal/candidates"
)

// Outcome classifies the result of probing one candidate.
type Outcome int

// These constants define the possible probe outcomes.  Exactly one outcome
// is recorded per candidate per run.
const (
	// OutcomeSuccess indicates at least one diagnostic request completed
	// with the expected status.
	OutcomeSuccess Outcome = iota

	// OutcomeTimeout indicates the probe, or the candidate's overall budget,
	// elapsed before a response arrived.
	OutcomeTimeout

	// OutcomeConnectionRefused indicates the connection was actively
	// refused.
	OutcomeConnectionRefused

	// OutcomeHandshakeError indicates a TLS or other protocol-level failure
	// after the transport connected.
	OutcomeHandshakeError

	// OutcomeUnexpectedStatus indicates the diagnostic endpoint responded
	// with a status other than the expected one.
	OutcomeUnexpectedStatus

	// OutcomeStartupFailure indicates the candidate's core process never
	// became ready, so no request was attempted.
	OutcomeStartupFailure
)

// Map of Outcome values back to their constant names for pretty printing.
var outcomeStrings = map[Outcome]string{
	OutcomeSuccess:           "Success",
	OutcomeTimeout:           "Timeout",
	OutcomeConnectionRefused: "ConnectionRefused",
	OutcomeHandshakeError:    "HandshakeError",
	OutcomeUnexpectedStatus:  "UnexpectedStatus",
	OutcomeStartupFailure:    "StartupFailure",
}

// String returns the Outcome as a human-readable name.
func (o Outcome) String() string {
	if s, ok := outcomeStrings[o]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Outcome (%d)", int(o))
}

// Result records the outcome of probing one candidate.  It is immutable once
// recorded.
type Result struct {
	// Candidate is the endpoint that was probed.
	Candidate candidates.Candidate

	// Outcome classifies the probe.
	Outcome Outcome

	// Latency is the aggregated wall-clock latency of the successful
	// diagnostic requests.  It is only meaningful when the outcome is
	// OutcomeSuccess.
	Latency time.Duration

	// LossRate is the fraction of diagnostic requests that failed, in the
	// range [0, 1].
	LossRate float64

	// Err is the underlying failure for unhealthy outcomes, nil otherwise.
	Err error

	// Timestamp is when the probe concluded.
	Timestamp time.Time
}

// Healthy returns whether the candidate passed probing.
func (r Result) Healthy() bool {
	return r.Outcome == OutcomeSuccess
}
