// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scan

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/wescan/wescan/internal/candidates"
	"github.com/wescan/wescan/internal/prober"
)

// makeCandidates returns n distinct candidates.
func makeCandidates(n int) []candidates.Candidate {
	cands := make([]candidates.Candidate, n)
	for i := range cands {
		addr := netip.AddrFrom4([4]byte{188, 114, 96, byte(i)})
		cands[i] = candidates.Candidate{Addr: addr, Port: uint16(2408 + i)}
	}
	return cands
}

// fakeSession is an in-process stand-in for a running core process.
type fakeSession struct {
	cand candidates.Candidate
}

func (s *fakeSession) ListenAddr() string {
	return "127.0.0.1:10800"
}

// fakeController implements Controller with instrumentation for launch and
// terminate pairing and peak concurrency.
type fakeController struct {
	mtx        sync.Mutex
	active     int
	peak       int
	launches   int
	terminates int

	// launchDelay is how long each launch takes.
	launchDelay time.Duration

	// launchErr, when set, is consulted per candidate to induce launch
	// failures.
	launchErr func(cand candidates.Candidate) error

	// hang, when set, is consulted per candidate to make the launch block
	// until the candidate budget expires.
	hang func(cand candidates.Candidate) bool
}

func (c *fakeController) Launch(ctx context.Context, cand candidates.Candidate) (Session, error) {
	if c.hang != nil && c.hang(cand) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.launchErr != nil {
		if err := c.launchErr(cand); err != nil {
			return nil, err
		}
	}
	if c.launchDelay > 0 {
		time.Sleep(c.launchDelay)
	}

	c.mtx.Lock()
	c.launches++
	c.active++
	if c.active > c.peak {
		c.peak = c.active
	}
	c.mtx.Unlock()
	return &fakeSession{cand: cand}, nil
}

func (c *fakeController) Terminate(s Session) error {
	c.mtx.Lock()
	c.active--
	c.terminates++
	c.mtx.Unlock()
	return nil
}

// fakeProber implements Prober with configurable per-candidate behavior.
type fakeProber struct {
	// result, when set, is consulted per candidate.  Healthy results with a
	// fixed latency are returned otherwise.
	result func(cand candidates.Candidate) prober.Result

	// delay is how long each probe takes.
	delay time.Duration
}

func (p *fakeProber) Probe(ctx context.Context, cand candidates.Candidate, proxyAddr string) prober.Result {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return prober.Result{
				Candidate: cand,
				Outcome:   prober.OutcomeTimeout,
				LossRate:  1,
				Err:       ctx.Err(),
				Timestamp: time.Now().UTC(),
			}
		}
	}
	if p.result != nil {
		return p.result(cand)
	}
	return prober.Result{
		Candidate: cand,
		Outcome:   prober.OutcomeSuccess,
		Latency:   25 * time.Millisecond,
		Timestamp: time.Now().UTC(),
	}
}

// TestRunOneResultPerCandidate ensures every candidate yields exactly one
// result even when launches and probes fail, and that every launched session
// is terminated exactly once.
func TestRunOneResultPerCandidate(t *testing.T) {
	cands := makeCandidates(25)
	ctl := &fakeController{
		launchErr: func(cand candidates.Candidate) error {
			// Every third candidate fails to launch.
			if cand.Port%3 == 0 {
				return errors.New("core exited early")
			}
			return nil
		},
	}
	prb := &fakeProber{
		result: func(cand candidates.Candidate) prober.Result {
			// Every fifth candidate fails its probe.
			outcome := prober.OutcomeSuccess
			if cand.Port%5 == 0 {
				outcome = prober.OutcomeConnectionRefused
			}
			return prober.Result{
				Candidate: cand,
				Outcome:   outcome,
				Timestamp: time.Now().UTC(),
			}
		},
	}
	s, err := New(Config{Controller: ctl, Prober: prb, Workers: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results := s.Run(context.Background(), cands)
	if len(results) != len(cands) {
		t.Fatalf("unexpected result count -- got %d, want %d", len(results),
			len(cands))
	}
	for i, result := range results {
		if result.Candidate != cands[i] {
			t.Errorf("result %d for wrong candidate -- got %v, want %v", i,
				result.Candidate, cands[i])
		}
		if result.Candidate.Port%3 == 0 {
			if result.Outcome != prober.OutcomeStartupFailure {
				t.Errorf("candidate %v: unexpected outcome -- got %v, want %v",
					result.Candidate, result.Outcome,
					prober.OutcomeStartupFailure)
			}
			if result.Err == nil {
				t.Errorf("candidate %v: startup failure carries no error",
					result.Candidate)
			}
		}
	}

	ctl.mtx.Lock()
	defer ctl.mtx.Unlock()
	if ctl.terminates != ctl.launches {
		t.Fatalf("terminate/launch mismatch -- %d terminates, %d launches",
			ctl.terminates, ctl.launches)
	}
	if ctl.active != 0 {
		t.Fatalf("%d sessions still active after run", ctl.active)
	}
}

// TestRunConcurrencyBound ensures no more than the worker budget of sessions
// is ever active simultaneously with far more candidates than workers.
func TestRunConcurrencyBound(t *testing.T) {
	const workers = 5
	cands := makeCandidates(60)
	ctl := &fakeController{launchDelay: time.Millisecond}
	prb := &fakeProber{delay: 2 * time.Millisecond}
	s, err := New(Config{Controller: ctl, Prober: prb, Workers: workers})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Run(context.Background(), cands)

	ctl.mtx.Lock()
	defer ctl.mtx.Unlock()
	if ctl.peak > workers {
		t.Fatalf("peak concurrency %d exceeds worker budget %d", ctl.peak,
			workers)
	}
	if ctl.terminates != len(cands) {
		t.Fatalf("unexpected terminate count -- got %d, want %d",
			ctl.terminates, len(cands))
	}
}

// TestRunHungCandidate ensures a candidate whose launch hangs is classified
// Timeout within its budget and never blocks the remaining candidates.
func TestRunHungCandidate(t *testing.T) {
	cands := makeCandidates(10)
	hungPort := cands[3].Port
	ctl := &fakeController{
		hang: func(cand candidates.Candidate) bool {
			return cand.Port == hungPort
		},
	}
	s, err := New(Config{
		Controller:      ctl,
		Prober:          &fakeProber{},
		Workers:         2,
		CandidateBudget: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	begin := time.Now()
	results := s.Run(context.Background(), cands)
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Fatalf("hung candidate stalled the run for %v", elapsed)
	}

	var timeouts, successes int
	for _, result := range results {
		switch result.Outcome {
		case prober.OutcomeTimeout:
			timeouts++
			if result.Candidate.Port != hungPort {
				t.Errorf("unexpected timeout for %v", result.Candidate)
			}
		case prober.OutcomeSuccess:
			successes++
		default:
			t.Errorf("candidate %v: unexpected outcome %v", result.Candidate,
				result.Outcome)
		}
	}
	if timeouts != 1 {
		t.Errorf("unexpected timeout count -- got %d, want 1", timeouts)
	}
	if successes != len(cands)-1 {
		t.Errorf("unexpected success count -- got %d, want %d", successes,
			len(cands)-1)
	}
}

// TestRunProbeBudget ensures a probe that exceeds the candidate budget is
// cut off and its session still terminated.
func TestRunProbeBudget(t *testing.T) {
	cands := makeCandidates(3)
	ctl := &fakeController{}
	prb := &fakeProber{delay: time.Minute}
	s, err := New(Config{
		Controller:      ctl,
		Prober:          prb,
		Workers:         3,
		CandidateBudget: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results := s.Run(context.Background(), cands)
	for _, result := range results {
		if result.Outcome != prober.OutcomeTimeout {
			t.Errorf("candidate %v: unexpected outcome -- got %v, want %v",
				result.Candidate, result.Outcome, prober.OutcomeTimeout)
		}
	}

	ctl.mtx.Lock()
	defer ctl.mtx.Unlock()
	if ctl.terminates != ctl.launches {
		t.Fatalf("terminate/launch mismatch -- %d terminates, %d launches",
			ctl.terminates, ctl.launches)
	}
}

// TestNewInvalid ensures scanner configuration is validated.
func TestNewInvalid(t *testing.T) {
	if _, err := New(Config{Prober: &fakeProber{}}); err == nil {
		t.Error("expected error for missing controller")
	}
	if _, err := New(Config{Controller: &fakeController{}}); err == nil {
		t.Error("expected error for missing prober")
	}
}
