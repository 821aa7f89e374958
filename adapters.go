// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/wescan/wescan/internal/candidates"
	"github.com/wescan/wescan/internal/corectl"
	"github.com/wescan/wescan/internal/scan"
)

// coreAdapter provides an adapter from the concrete core controller to the
// scan.Controller interface so the scan package does not depend on the
// corectl package directly.
type coreAdapter struct {
	ctl *corectl.Controller
}

// Ensure coreAdapter implements the scan.Controller interface.
var _ scan.Controller = (*coreAdapter)(nil)

// Launch starts a core process routed through the candidate and returns it
// once its inbound listener is ready.
//
// This function is safe for concurrent access and is part of the
// scan.Controller interface implementation.
func (a *coreAdapter) Launch(ctx context.Context, cand candidates.Candidate) (scan.Session, error) {
	proc, err := a.ctl.Launch(ctx, cand)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// Terminate tears down a core process previously returned by Launch.
//
// This function is safe for concurrent access and is part of the
// scan.Controller interface implementation.
func (a *coreAdapter) Terminate(sess scan.Session) error {
	return a.ctl.Stop(sess.(*corectl.CoreProcess))
}
