// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package prober issues diagnostic requests through a local proxy endpoint and
classifies the outcome.

A probe sends a configurable number of HEAD requests to a well-known
diagnostic URL through the per-candidate local proxy, measures wall-clock
latency per successful request, and reduces the samples to a single latency
figure using a configurable aggregation policy.  A candidate is healthy only
when at least one request succeeds; all failures are classified into a small
closed set of outcomes so the aggregator can report why a candidate was
dropped.
*/
package prober
