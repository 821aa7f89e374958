// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prober

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"syscall"
	"time"

	"github.com/decred/go-socks/socks"

	"github.com/wescan/wescan/internal/candidates"
)

const (
	// DefaultTestURL is the well-known diagnostic endpoint probed through
	// each candidate.
	DefaultTestURL = "http://www.gstatic.com/generate_204"

	// DefaultWantStatus is the response status that marks a diagnostic
	// request successful.
	DefaultWantStatus = 204

	// DefaultTries is the default number of diagnostic requests issued per
	// candidate.
	DefaultTries = 3

	// DefaultRequestTimeout is the default per-request timeout.  It must be
	// strictly shorter than the per-candidate probe budget.
	DefaultRequestTimeout = 2 * time.Second

	// DefaultRetryPause is the default pause between diagnostic requests to
	// the same candidate.
	DefaultRetryPause = 200 * time.Millisecond

	// ProxyHTTP dials the diagnostic endpoint through a local HTTP proxy.
	ProxyHTTP = "http"

	// ProxySOCKS dials the diagnostic endpoint through a local SOCKS5 proxy.
	ProxySOCKS = "socks"
)

// LatencyPolicy selects how multiple latency samples for one candidate are
// reduced to a single figure.
type LatencyPolicy int

// These constants define the supported latency aggregation policies.
const (
	// LatencyMean reports the arithmetic mean of the successful samples.
	LatencyMean LatencyPolicy = iota

	// LatencyMin reports the fastest successful sample.
	LatencyMin

	// LatencyMedian reports the median successful sample.
	LatencyMedian
)

// Map of LatencyPolicy values back to their names for pretty printing.
var latencyPolicyStrings = map[LatencyPolicy]string{
	LatencyMean:   "mean",
	LatencyMin:    "min",
	LatencyMedian: "median",
}

// String returns the LatencyPolicy as a human-readable name.
func (p LatencyPolicy) String() string {
	if s, ok := latencyPolicyStrings[p]; ok {
		return s
	}
	return fmt.Sprintf("Unknown LatencyPolicy (%d)", int(p))
}

// ParseLatencyPolicy converts a policy name into a LatencyPolicy.
func ParseLatencyPolicy(s string) (LatencyPolicy, error) {
	for policy, name := range latencyPolicyStrings {
		if name == s {
			return policy, nil
		}
	}
	return 0, fmt.Errorf("unknown latency policy %q", s)
}

// Config holds the configuration options related to the prober.
type Config struct {
	// TestURL is the diagnostic endpoint requested through each candidate.
	// Defaults to DefaultTestURL.
	TestURL string

	// WantStatus is the response status that marks a request successful.
	// Defaults to DefaultWantStatus.
	WantStatus int

	// Tries is the number of diagnostic requests issued per candidate.
	// Defaults to DefaultTries.
	Tries int

	// RequestTimeout bounds each individual diagnostic request.  Defaults to
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// RetryPause is the pause between diagnostic requests to the same
	// candidate.  Defaults to DefaultRetryPause.
	RetryPause time.Duration

	// Latency selects the latency aggregation policy.
	Latency LatencyPolicy

	// Proxy selects how the local proxy endpoint is spoken to, ProxyHTTP or
	// ProxySOCKS.  Defaults to ProxyHTTP.
	Proxy string
}

// Prober issues diagnostic requests through per-candidate local proxies and
// classifies the outcomes.  It is safe for concurrent use.
type Prober struct {
	cfg Config
}

// New returns a prober for the provided configuration.
func New(cfg Config) (*Prober, error) {
	if cfg.TestURL == "" {
		cfg.TestURL = DefaultTestURL
	}
	if _, err := url.Parse(cfg.TestURL); err != nil {
		return nil, fmt.Errorf("malformed test URL: %w", err)
	}
	if cfg.WantStatus == 0 {
		cfg.WantStatus = DefaultWantStatus
	}
	if cfg.Tries <= 0 {
		cfg.Tries = DefaultTries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = DefaultRetryPause
	}
	switch cfg.Proxy {
	case "":
		cfg.Proxy = ProxyHTTP
	case ProxyHTTP, ProxySOCKS:
	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", cfg.Proxy)
	}
	return &Prober{cfg: cfg}, nil
}

// statusError indicates the diagnostic endpoint responded with an unexpected
// status.
type statusError struct {
	status int
}

// Error satisfies the error interface and prints human-readable errors.
func (e statusError) Error() string {
	return fmt.Sprintf("unexpected response status %d", e.status)
}

// Probe issues the configured diagnostic requests for one candidate through
// the local proxy at proxyAddr and reduces them to a single result.  All
// failures are reported through the result classification; Probe never
// panics or blocks beyond the provided context.
func (p *Prober) Probe(ctx context.Context, cand candidates.Candidate, proxyAddr string) (result Result) {
	result = Result{Candidate: cand, LossRate: 1}

	// The timestamp covers every return path, so the return value is named.
	defer func() {
		result.Timestamp = time.Now().UTC()
	}()

	client := p.newClient(proxyAddr)
	defer client.CloseIdleConnections()

	var latencies []time.Duration
	var lastErr error
	for try := 0; try < p.cfg.Tries; try++ {
		if try > 0 {
			select {
			case <-time.After(p.cfg.RetryPause):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		latency, err := p.tryOnce(ctx, client)
		if err != nil {
			log.Tracef("Probe try %d for %v failed: %v", try+1, cand, err)
			lastErr = err
			continue
		}
		latencies = append(latencies, latency)
	}

	result.LossRate = float64(p.cfg.Tries-len(latencies)) /
		float64(p.cfg.Tries)
	if len(latencies) > 0 {
		result.Outcome = OutcomeSuccess
		result.Latency = aggregateLatency(latencies, p.cfg.Latency)
		log.Debugf("Candidate %v healthy: %v latency, %.0f%% loss", cand,
			result.Latency.Round(time.Millisecond), result.LossRate*100)
		return result
	}

	result.Outcome = Classify(lastErr)
	result.Err = lastErr
	return result
}

// tryOnce issues a single diagnostic request and returns its wall-clock
// latency from dispatch to response headers.
func (p *Prober) tryOnce(ctx context.Context, client *http.Client) (time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead,
		p.cfg.TestURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	begin := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	latency := time.Since(begin)
	resp.Body.Close()

	if resp.StatusCode != p.cfg.WantStatus {
		return 0, statusError{status: resp.StatusCode}
	}
	return latency, nil
}

// newClient constructs an HTTP client that routes all requests through the
// local proxy at proxyAddr.
func (p *Prober) newClient(proxyAddr string) *http.Client {
	transport := &http.Transport{DisableKeepAlives: true}
	switch p.cfg.Proxy {
	case ProxySOCKS:
		proxy := &socks.Proxy{Addr: proxyAddr}
		transport.DialContext = proxy.DialContext
	default:
		proxyURL := &url.URL{Scheme: "http", Host: proxyAddr}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Transport: transport}
}

// Classify maps a diagnostic request failure to its outcome.
func Classify(err error) Outcome {
	var sErr statusError
	if errors.As(err, &sErr) {
		return OutcomeUnexpectedStatus
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {

		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return OutcomeConnectionRefused
	}
	var recordErr tls.RecordHeaderError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var certErr x509.CertificateInvalidError
	if errors.As(err, &recordErr) || errors.As(err, &unknownAuthErr) ||
		errors.As(err, &hostnameErr) || errors.As(err, &certErr) {

		return OutcomeHandshakeError
	}

	// Remaining failures happen after the transport connected, such as the
	// proxy rejecting the request or a malformed response, so they classify
	// as handshake failures.
	return OutcomeHandshakeError
}

// aggregateLatency reduces latency samples to a single figure per the
// provided policy.  The input slice is not modified.
func aggregateLatency(samples []time.Duration, policy LatencyPolicy) time.Duration {
	switch policy {
	case LatencyMin:
		min := samples[0]
		for _, s := range samples[1:] {
			if s < min {
				min = s
			}
		}
		return min

	case LatencyMedian:
		sorted := make([]time.Duration, len(samples))
		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i] < sorted[j]
		})
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]

	default:
		var total time.Duration
		for _, s := range samples {
			total += s
		}
		return total / time.Duration(len(samples))
	}
}
