// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package rank aggregates probe results into a deterministic ranking of
healthy endpoints and renders report artifacts from it.
*/
package rank
