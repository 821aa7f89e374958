// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package warpapi registers a throwaway WARP account with the Cloudflare client
API and extracts the WireGuard parameters the proxy core needs to build an
outbound tunnel: the client private key, the peer public key, the assigned
client IPv6 interface address, and the reserved bytes decoded from the
client ID.
*/
package warpapi
