// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package scan drives probes for many candidates under a bounded worker
budget.

Each worker owns one full candidate lifecycle at a time: launch a core
process routed through the candidate, probe its local proxy endpoint, and
tear the process down again.  A per-candidate wall-clock budget covers the
whole cycle so a hung candidate can never block progress on the rest of the
queue, and every enumerated candidate yields exactly one result regardless
of how it failed.
*/
package scan
