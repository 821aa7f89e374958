// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package corectl owns the lifecycle of xray core subprocesses.

Each probe gets its own core process: the controller prepares a fresh
configuration document that routes a single local inbound listener through a
WireGuard outbound to one candidate endpoint, launches the core binary with
stdout and stderr redirected to per-process log files, polls the inbound
listener until it accepts connections, and guarantees the process is
terminated and its port released on every exit path.

Inbound listener ports are drawn from a fixed pool sized to the scan worker
budget so concurrent probes can never collide.
*/
package corectl
