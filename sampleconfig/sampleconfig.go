// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sampleconfig

import (
	_ "embed"
)

// sampleWescanConf is a string containing the commented example config for
// wescan.
//
//go:embed sample-wescan.conf
var sampleWescanConf string

// Wescan returns a string containing the commented example config for
// wescan.
func Wescan() string {
	return sampleWescanConf
}
