// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package candidates provides enumeration of WARP edge endpoint candidates.

A candidate is a single address and port pair that might be a usable WARP
edge endpoint.  The package ships with the well-known Cloudflare WARP
address blocks and port list and supports sampling additional candidates
from arbitrary caller-provided CIDR ranges as well as including fixed seed
entries.

Enumeration produces a finite, deduplicated, and shuffled set so downstream
scheduling spreads probes across the configured ranges rather than walking
them in order.
*/
package candidates
