// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prober

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/wescan/wescan/internal/candidates"
)

// testCandidate returns a fixed candidate for probe tests.
func testCandidate() candidates.Candidate {
	return candidates.Candidate{
		Addr: netip.MustParseAddr("188.114.96.1"),
		Port: 2408,
	}
}

// newLocalProxy starts an HTTP server that answers every request with the
// provided handler and returns its host:port address.  Plain HTTP requests
// through an HTTP proxy are sent directly to the proxy, so the server stands
// in for the per-candidate local proxy endpoint.
func newLocalProxy(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u := srv.Listener.Addr().String()
	return u
}

// TestProbeSuccess ensures a responsive proxy yields a healthy result with a
// positive latency and zero loss.
func TestProbeSuccess(t *testing.T) {
	proxyAddr := newLocalProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	p, err := New(Config{Tries: 3, RetryPause: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := p.Probe(context.Background(), testCandidate(), proxyAddr)
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected outcome -- got %v, want %v (err %v)",
			result.Outcome, OutcomeSuccess, result.Err)
	}
	if result.Latency <= 0 {
		t.Errorf("latency %v not positive", result.Latency)
	}
	if result.LossRate != 0 {
		t.Errorf("unexpected loss rate %v", result.LossRate)
	}
	if !result.Healthy() {
		t.Error("successful result not healthy")
	}
	if result.Timestamp.IsZero() {
		t.Error("result timestamp not set")
	}
}

// TestProbePartialSuccess ensures a candidate that answers only some tries is
// still healthy with the loss reflected in the loss rate.
func TestProbePartialSuccess(t *testing.T) {
	var calls int32
	proxyAddr := newLocalProxy(t, func(w http.ResponseWriter, r *http.Request) {
		// Answer only the second of three tries.
		if atomic.AddInt32(&calls, 1) == 2 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})

	p, err := New(Config{Tries: 3, RetryPause: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := p.Probe(context.Background(), testCandidate(), proxyAddr)
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected outcome -- got %v, want %v (err %v)",
			result.Outcome, OutcomeSuccess, result.Err)
	}
	const wantLoss = 2.0 / 3.0
	if diff := result.LossRate - wantLoss; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("unexpected loss rate -- got %v, want %v", result.LossRate,
			wantLoss)
	}
}

// TestProbeUnexpectedStatus ensures wrong statuses on every try classify as
// UnexpectedStatus with full loss.
func TestProbeUnexpectedStatus(t *testing.T) {
	proxyAddr := newLocalProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	p, err := New(Config{Tries: 2, RetryPause: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := p.Probe(context.Background(), testCandidate(), proxyAddr)
	if result.Outcome != OutcomeUnexpectedStatus {
		t.Fatalf("unexpected outcome -- got %v, want %v", result.Outcome,
			OutcomeUnexpectedStatus)
	}
	if result.LossRate != 1 {
		t.Errorf("unexpected loss rate %v", result.LossRate)
	}
	if result.Err == nil {
		t.Error("failure result carries no error")
	}

	// Failure results are timestamped the same as successful ones.
	if result.Timestamp.IsZero() {
		t.Error("result timestamp not set")
	}
}

// TestProbeConnectionRefused ensures a dead local proxy classifies as
// ConnectionRefused.
func TestProbeConnectionRefused(t *testing.T) {
	// Grab a port that is immediately closed again.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	proxyAddr := l.Addr().String()
	l.Close()

	p, err := New(Config{Tries: 1, RetryPause: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := p.Probe(context.Background(), testCandidate(), proxyAddr)
	if result.Outcome != OutcomeConnectionRefused {
		t.Fatalf("unexpected outcome -- got %v, want %v (err %v)",
			result.Outcome, OutcomeConnectionRefused, result.Err)
	}
}

// TestProbeTimeout ensures a proxy that never answers within the request
// timeout classifies as Timeout.
func TestProbeTimeout(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	proxyAddr := newLocalProxy(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	})

	p, err := New(Config{
		Tries:          1,
		RequestTimeout: 50 * time.Millisecond,
		RetryPause:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := p.Probe(context.Background(), testCandidate(), proxyAddr)
	if result.Outcome != OutcomeTimeout {
		t.Fatalf("unexpected outcome -- got %v, want %v (err %v)",
			result.Outcome, OutcomeTimeout, result.Err)
	}
}

// TestProbeCanceledContext ensures an expired candidate budget classifies as
// Timeout without issuing further requests.
func TestProbeCanceledContext(t *testing.T) {
	proxyAddr := newLocalProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	p, err := New(Config{Tries: 3, RetryPause: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := p.Probe(ctx, testCandidate(), proxyAddr)
	if result.Outcome != OutcomeTimeout {
		t.Fatalf("unexpected outcome -- got %v, want %v", result.Outcome,
			OutcomeTimeout)
	}
}

// TestClassify ensures error shapes map to the documented outcomes.
func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{{
		name: "unexpected status",
		err:  statusError{status: 403},
		want: OutcomeUnexpectedStatus,
	}, {
		name: "context deadline",
		err:  context.DeadlineExceeded,
		want: OutcomeTimeout,
	}, {
		name: "net timeout",
		err:  &net.OpError{Op: "dial", Err: &timeoutError{}},
		want: OutcomeTimeout,
	}, {
		name: "connection refused",
		err: &net.OpError{
			Op:  "dial",
			Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
		},
		want: OutcomeConnectionRefused,
	}, {
		name: "tls record header",
		err:  tls.RecordHeaderError{Msg: "not tls"},
		want: OutcomeHandshakeError,
	}, {
		name: "other",
		err:  errors.New("proxy rejected request"),
		want: OutcomeHandshakeError,
	}}

	for _, test := range tests {
		if got := Classify(test.err); got != test.want {
			t.Errorf("%q: unexpected outcome -- got %v, want %v", test.name,
				got, test.want)
		}
	}
}

// timeoutError implements net.Error with Timeout reporting true.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// TestAggregateLatency ensures each aggregation policy reduces samples as
// documented.
func TestAggregateLatency(t *testing.T) {
	samples := []time.Duration{
		30 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
	}
	tests := []struct {
		policy LatencyPolicy
		want   time.Duration
	}{
		{LatencyMean, 20 * time.Millisecond},
		{LatencyMin, 10 * time.Millisecond},
		{LatencyMedian, 20 * time.Millisecond},
	}
	for _, test := range tests {
		if got := aggregateLatency(samples, test.policy); got != test.want {
			t.Errorf("%v: unexpected result -- got %v, want %v", test.policy,
				got, test.want)
		}
	}

	// Median of an even number of samples is the midpoint of the middle two.
	even := []time.Duration{10 * time.Millisecond, 30 * time.Millisecond}
	if got := aggregateLatency(even, LatencyMedian); got != 20*time.Millisecond {
		t.Errorf("even median: unexpected result -- got %v", got)
	}

	// The input must not be reordered.
	if samples[0] != 30*time.Millisecond {
		t.Error("aggregation mutated its input")
	}
}

// TestParseLatencyPolicy ensures policy names round trip and unknown names
// are rejected.
func TestParseLatencyPolicy(t *testing.T) {
	for _, policy := range []LatencyPolicy{LatencyMean, LatencyMin,
		LatencyMedian} {

		parsed, err := ParseLatencyPolicy(policy.String())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if parsed != policy {
			t.Errorf("round trip mismatch -- got %v, want %v", parsed, policy)
		}
	}
	if _, err := ParseLatencyPolicy("p99"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

// TestNewInvalid ensures prober configuration is validated.
func TestNewInvalid(t *testing.T) {
	if _, err := New(Config{Proxy: "vless"}); err == nil {
		t.Error("expected error for unsupported proxy protocol")
	}
	if _, err := New(Config{TestURL: "http://%zz"}); err == nil {
		t.Error("expected error for malformed test URL")
	}
}
