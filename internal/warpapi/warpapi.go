// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package warpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultURL is the Cloudflare client API registration endpoint.
	DefaultURL = "https://api.cloudflareclient.com/v0a4005/reg"

	// userAgent is sent with registration requests.  The API rejects unknown
	// agents, so this mimics a known client.
	userAgent = "insomnia/8.6.1"

	// defaultTimeout is the request timeout used when the caller does not
	// provide an HTTP client of its own.
	defaultTimeout = 15 * time.Second

	// maxResponseSize bounds how much of the registration response is read.
	maxResponseSize = 1 << 20 // 1 MiB
)

// Params holds the WireGuard tunnel parameters extracted from a successful
// WARP registration.
type Params struct {
	// PrivateKey is the base64-encoded client private key the registration
	// was performed with.
	PrivateKey string

	// PeerPublicKey is the base64-encoded public key of the WARP peer.
	PeerPublicKey string

	// ClientIPv6 is the IPv6 interface address assigned to the client,
	// including the /128 suffix.
	ClientIPv6 string

	// Reserved holds the three reserved bytes decoded from the assigned
	// client ID.  The core includes them in the WireGuard header so the edge
	// can route the session.
	Reserved [3]byte
}

// Client performs WARP account registrations.
type Client struct {
	// URL is the registration endpoint.  DefaultURL is used when empty.
	URL string

	// HTTPClient is the client used for requests.  A client with a sane
	// default timeout is used when nil.
	HTTPClient *http.Client
}

// regRequest is the registration request document.
type regRequest struct {
	InstallID   string `json:"install_id"`
	FCMToken    string `json:"fcm_token"`
	TOS         string `json:"tos"`
	Type        string `json:"type"`
	Model       string `json:"model"`
	Locale      string `json:"locale"`
	WARPEnabled bool   `json:"warp_enabled"`
	Key         string `json:"key"`
}

// regResponse mirrors the subset of the registration response needed to
// extract tunnel parameters.
type regResponse struct {
	Config struct {
		ClientID  string `json:"client_id"`
		Interface struct {
			Addresses struct {
				V4 string `json:"v4"`
				V6 string `json:"v6"`
			} `json:"addresses"`
		} `json:"interface"`
		Peers []struct {
			PublicKey string `json:"public_key"`
		} `json:"peers"`
	} `json:"config"`
}

// Register creates a throwaway WARP account using a freshly generated key
// pair and returns the tunnel parameters for it.
func (c *Client) Register(ctx context.Context) (*Params, error) {
	publicKey, privateKey, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	log.Debugf("Registering WARP account with public key %s...",
		publicKey[:12])

	url := c.URL
	if url == "" {
		url = DefaultURL
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	payload, err := json.Marshal(&regRequest{
		TOS:         time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Type:        "Android",
		Model:       "PC",
		Locale:      "en_US",
		WARPEnabled: true,
		Key:         publicKey,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url,
		bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("registration response read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registration rejected with status %d",
			resp.StatusCode)
	}

	var reg regResponse
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, fmt.Errorf("malformed registration response: %w", err)
	}
	return extractParams(&reg, privateKey)
}

// extractParams validates a registration response and converts it into
// tunnel parameters.
func extractParams(reg *regResponse, privateKey string) (*Params, error) {
	if len(reg.Config.Peers) == 0 {
		return nil, fmt.Errorf("registration response contains no peers")
	}
	peerKey := reg.Config.Peers[0].PublicKey
	if peerKey == "" {
		return nil, fmt.Errorf("registration response peer has no public key")
	}

	clientIPv6 := reg.Config.Interface.Addresses.V6
	if clientIPv6 == "" {
		return nil, fmt.Errorf("registration response has no client IPv6")
	}
	if !strings.HasSuffix(clientIPv6, "/128") {
		clientIPv6 += "/128"
	}

	reserved, err := DecodeReserved(reg.Config.ClientID)
	if err != nil {
		return nil, err
	}

	log.Infof("Registered WARP account (client IPv6 %s)", clientIPv6)
	return &Params{
		PrivateKey:    privateKey,
		PeerPublicKey: peerKey,
		ClientIPv6:    clientIPv6,
		Reserved:      reserved,
	}, nil
}

// DecodeReserved decodes the three reserved bytes from a base64-encoded
// client ID.
func DecodeReserved(clientID string) ([3]byte, error) {
	var reserved [3]byte
	raw, err := base64.StdEncoding.DecodeString(clientID)
	if err != nil {
		return reserved, fmt.Errorf("malformed client ID %q: %w", clientID,
			err)
	}
	if len(raw) != len(reserved) {
		return reserved, fmt.Errorf("malformed client ID %q: got %d bytes, "+
			"want %d", clientID, len(raw), len(reserved))
	}
	copy(reserved[:], raw)
	return reserved, nil
}
