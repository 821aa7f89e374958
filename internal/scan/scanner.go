// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scan

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wescan/wescan/internal/candidates"
	"github.com/wescan/wescan/internal/prober"
)

const (
	// DefaultWorkers is the default worker budget.
	DefaultWorkers = 20

	// DefaultCandidateBudget is the default wall-clock budget covering one
	// candidate's full launch, probe, and teardown cycle.
	DefaultCandidateBudget = 30 * time.Second
)

// Session represents a ready local proxy endpoint for one candidate.
type Session interface {
	// ListenAddr returns the local proxy address test traffic is sent to.
	ListenAddr() string
}

// Controller provisions local proxy endpoints routed through candidates.
// The corectl package provides the production implementation; tests use
// in-process fakes.
type Controller interface {
	// Launch provisions and starts a proxy session routed through the
	// candidate, returning once the session's listener is ready.
	Launch(ctx context.Context, cand candidates.Candidate) (Session, error)

	// Terminate tears the session down and releases its resources.  It must
	// be called exactly once per successful Launch.
	Terminate(Session) error
}

// Prober performs the diagnostic requests for one candidate through its
// session's local proxy endpoint.
type Prober interface {
	Probe(ctx context.Context, cand candidates.Candidate, proxyAddr string) prober.Result
}

// Config holds the configuration options related to the scanner.
type Config struct {
	// Controller provisions per-candidate proxy sessions.
	Controller Controller

	// Prober classifies candidates through their sessions.
	Prober Prober

	// Workers is the maximum number of candidates probed concurrently.
	// Defaults to DefaultWorkers.
	Workers int

	// CandidateBudget bounds one candidate's full cycle.  Defaults to
	// DefaultCandidateBudget.
	CandidateBudget time.Duration
}

// Scanner runs probes for many candidates under a bounded worker budget.
type Scanner struct {
	cfg Config
}

// New returns a scanner for the provided configuration.
func New(cfg Config) (*Scanner, error) {
	if cfg.Controller == nil {
		return nil, errors.New("scan: controller is required")
	}
	if cfg.Prober == nil {
		return nil, errors.New("scan: prober is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.CandidateBudget <= 0 {
		cfg.CandidateBudget = DefaultCandidateBudget
	}
	return &Scanner{cfg: cfg}, nil
}

// Run probes all provided candidates and returns one result per candidate.
// Results are positionally matched to the input; no candidate is ever
// dropped.  Individual failures never abort the run.  Run returns once the
// queue is drained.
func (s *Scanner) Run(ctx context.Context, cands []candidates.Candidate) []prober.Result {
	log.Infof("Probing %d candidates with %d workers (budget %v per "+
		"candidate)", len(cands), s.cfg.Workers, s.cfg.CandidateBudget)

	// Log progress roughly twenty times over the run.
	progressEvery := uint64(len(cands) / 20)
	if progressEvery == 0 {
		progressEvery = 1
	}

	var completed, healthy uint64
	results := make([]prober.Result, len(cands))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := range cands {
		i := i
		g.Go(func() error {
			results[i] = s.probeCandidate(ctx, cands[i])
			if results[i].Healthy() {
				atomic.AddUint64(&healthy, 1)
			}
			if n := atomic.AddUint64(&completed, 1); n%progressEvery == 0 ||
				n == uint64(len(cands)) {

				log.Infof("Probed %d/%d candidates (%d healthy)", n,
					len(cands), atomic.LoadUint64(&healthy))
			}
			return nil
		})
	}
	g.Wait()
	return results
}

// probeCandidate runs one candidate's full cycle under its wall-clock
// budget.  All failures are converted into results at this boundary; a
// session that was launched is always terminated, including when the probe
// itself fails or the budget expires.
func (s *Scanner) probeCandidate(ctx context.Context, cand candidates.Candidate) prober.Result {
	budgetCtx, cancel := context.WithTimeout(ctx, s.cfg.CandidateBudget)
	defer cancel()

	sess, err := s.cfg.Controller.Launch(budgetCtx, cand)
	if err != nil {
		outcome := prober.OutcomeStartupFailure
		if budgetCtx.Err() != nil {
			// The candidate budget expired or the run was canceled before
			// the session became ready.
			outcome = prober.OutcomeTimeout
		}
		log.Debugf("Candidate %v failed to launch: %v", cand, err)
		return prober.Result{
			Candidate: cand,
			Outcome:   outcome,
			LossRate:  1,
			Err:       err,
			Timestamp: time.Now().UTC(),
		}
	}
	defer func() {
		if err := s.cfg.Controller.Terminate(sess); err != nil {
			log.Debugf("Terminate session for %v: %v", cand, err)
		}
	}()

	return s.cfg.Prober.Probe(budgetCtx, cand, sess.ListenAddr())
}
