// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package corectl

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/wescan/wescan/internal/candidates"
)

const (
	// InboundHTTP configures the per-probe local listener as an HTTP proxy.
	InboundHTTP = "http"

	// InboundSOCKS configures the per-probe local listener as a SOCKS5 proxy.
	InboundSOCKS = "socks"

	// DefaultReadyTimeout is the default bound on how long a core process may
	// take to expose a ready inbound listener.
	DefaultReadyTimeout = 5 * time.Second

	// DefaultStopTimeout is the default bound on how long a core process may
	// take to exit gracefully before it is killed.
	DefaultStopTimeout = 10 * time.Second

	// inboundIdleTimeout is the idle timeout, in seconds, configured on the
	// core inbound listener.
	inboundIdleTimeout = 120

	// wireguardMTU is the tunnel MTU configured on the core outbound.
	wireguardMTU = 1280

	// wireguardKeepAlive is the persistent keepalive interval, in seconds,
	// configured on the WireGuard peer.
	wireguardKeepAlive = 25

	// clientIPv4 is the fixed WARP client IPv4 interface address.  Every WARP
	// registration is assigned the same one.
	clientIPv4 = "172.16.0.2/32"
)

// dnsServers are resolvers configured in each core document.
var dnsServers = []string{"1.1.1.1", "8.8.8.8", "1.0.0.1"}

// TunnelParams describes the WireGuard tunnel every probe routes through.
// The values come from a WARP account registration.
type TunnelParams struct {
	// PrivateKey is the base64-encoded client private key.
	PrivateKey string

	// PeerPublicKey is the base64-encoded public key of the WARP peer.
	PeerPublicKey string

	// ClientIPv6 is the registered client IPv6 interface address including
	// the /128 suffix.
	ClientIPv6 string

	// Reserved holds the three reserved bytes assigned by the registration.
	Reserved [3]byte
}

// Config holds the configuration options related to the core controller.
type Config struct {
	// CoreBin is the path to the core executable.
	CoreBin string

	// WorkDir is the directory per-probe work directories are created under.
	WorkDir string

	// Inbound selects the local listener protocol, InboundHTTP or
	// InboundSOCKS.  Defaults to InboundHTTP.
	Inbound string

	// Tunnel holds the WireGuard parameters bound into every generated
	// configuration document.
	Tunnel TunnelParams

	// Ports supplies inbound listener ports.  It must be sized to the scan
	// worker budget.
	Ports *PortPool

	// ReadyTimeout bounds how long Start waits for the inbound listener to
	// accept connections.  Defaults to DefaultReadyTimeout.
	ReadyTimeout time.Duration

	// StopTimeout bounds how long Stop waits for a graceful exit before
	// killing the process.  Defaults to DefaultStopTimeout.
	StopTimeout time.Duration

	// KeepWorkDirs prevents per-probe work directories from being removed on
	// teardown.  Useful when debugging core startup failures.
	KeepWorkDirs bool
}

// Controller translates candidates into running local proxy endpoints and
// guarantees their teardown.  It is safe for concurrent use.
type Controller struct {
	// seq is used to assign unique work directory names.  It must only be
	// used atomically.
	seq uint64

	cfg Config
}

// New returns a controller for the provided configuration.
func New(cfg Config) (*Controller, error) {
	if cfg.CoreBin == "" {
		return nil, makeError(ErrInvalidConfig, "no core binary configured")
	}
	if cfg.Ports == nil {
		return nil, makeError(ErrInvalidConfig, "no port pool configured")
	}
	switch cfg.Inbound {
	case "":
		cfg.Inbound = InboundHTTP
	case InboundHTTP, InboundSOCKS:
	default:
		str := fmt.Sprintf("unsupported inbound protocol %q", cfg.Inbound)
		return nil, makeError(ErrInvalidConfig, str)
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "wescan")
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Controller{cfg: cfg}, nil
}

// CoreConfig describes one generated core configuration document bound to a
// single candidate.  It exists from Prepare until teardown of the probe that
// uses it.
type CoreConfig struct {
	// Candidate is the endpoint the document routes through.
	Candidate candidates.Candidate

	// InboundPort is the local listener port assigned from the pool.
	InboundPort uint16

	// Dir is the per-probe work directory holding the configuration document
	// and all process logs.
	Dir string

	// ConfigPath, StdoutPath, and StderrPath locate the rendered document and
	// the files process output is redirected to.
	ConfigPath string
	StdoutPath string
	StderrPath string

	doc coreDoc
}

// The following types mirror the core configuration document layout.
type coreDoc struct {
	Log       coreLog        `json:"log"`
	DNS       coreDNS        `json:"dns"`
	Inbounds  []coreInbound  `json:"inbounds"`
	Outbounds []coreOutbound `json:"outbounds"`
	Routing   coreRouting    `json:"routing"`
}

type coreLog struct {
	Access string `json:"access"`
	Error  string `json:"error"`
	Level  string `json:"loglevel"`
}

type coreDNS struct {
	Servers []string `json:"servers"`
}

type coreInbound struct {
	Listen   string          `json:"listen"`
	Port     uint16          `json:"port"`
	Protocol string          `json:"protocol"`
	Tag      string          `json:"tag"`
	Settings inboundSettings `json:"settings"`
}

type inboundSettings struct {
	Timeout int `json:"timeout"`
}

type coreOutbound struct {
	Protocol string      `json:"protocol"`
	Settings interface{} `json:"settings"`
	Tag      string      `json:"tag"`
}

type wireguardSettings struct {
	SecretKey string          `json:"secretKey"`
	Address   []string        `json:"address"`
	Peers     []wireguardPeer `json:"peers"`
	MTU       int             `json:"mtu"`
	Reserved  []int           `json:"reserved"`
}

type wireguardPeer struct {
	PublicKey string `json:"publicKey"`
	Endpoint  string `json:"endpoint"`
	KeepAlive int    `json:"keepAlive"`
}

type coreRouting struct {
	DomainStrategy string     `json:"domainStrategy"`
	Rules          []coreRule `json:"rules"`
}

type coreRule struct {
	Type        string   `json:"type"`
	InboundTag  []string `json:"inboundTag,omitempty"`
	Protocol    []string `json:"protocol,omitempty"`
	OutboundTag string   `json:"outboundTag"`
}

// Prepare builds a configuration document that binds the core's single
// outbound route to the provided candidate and its inbound listener to a
// freshly assigned local port.  The document and its work directory are
// released again by Start on failure or by Stop after a successful Start.
func (c *Controller) Prepare(cand candidates.Candidate) (*CoreConfig, error) {
	port, err := c.cfg.Ports.Acquire()
	if err != nil {
		return nil, err
	}

	seq := atomic.AddUint64(&c.seq, 1)
	dir := filepath.Join(c.cfg.WorkDir, fmt.Sprintf("probe-%06d", seq))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		c.cfg.Ports.Release(port)
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	cfg := &CoreConfig{
		Candidate:   cand,
		InboundPort: port,
		Dir:         dir,
		ConfigPath:  filepath.Join(dir, "config.json"),
		StdoutPath:  filepath.Join(dir, "stdout.log"),
		StderrPath:  filepath.Join(dir, "stderr.log"),
	}
	reserved := make([]int, len(c.cfg.Tunnel.Reserved))
	for i, b := range c.cfg.Tunnel.Reserved {
		reserved[i] = int(b)
	}
	cfg.doc = coreDoc{
		Log: coreLog{
			Access: filepath.Join(dir, "access.log"),
			Error:  filepath.Join(dir, "error.log"),
			Level:  "warning",
		},
		DNS: coreDNS{Servers: dnsServers},
		Inbounds: []coreInbound{{
			Listen:   "127.0.0.1",
			Port:     port,
			Protocol: c.cfg.Inbound,
			Tag:      "probe-in",
			Settings: inboundSettings{Timeout: inboundIdleTimeout},
		}},
		Outbounds: []coreOutbound{{
			Protocol: "wireguard",
			Settings: wireguardSettings{
				SecretKey: c.cfg.Tunnel.PrivateKey,
				Address:   []string{clientIPv4, c.cfg.Tunnel.ClientIPv6},
				Peers: []wireguardPeer{{
					PublicKey: c.cfg.Tunnel.PeerPublicKey,
					Endpoint:  cand.Key(),
					KeepAlive: wireguardKeepAlive,
				}},
				MTU:      wireguardMTU,
				Reserved: reserved,
			},
			Tag: "probe-out",
		}, {
			Protocol: "freedom",
			Settings: struct{}{},
			Tag:      "direct",
		}},
		Routing: coreRouting{
			DomainStrategy: "AsIs",
			Rules: []coreRule{{
				Type:        "field",
				Protocol:    []string{"dns"},
				OutboundTag: "direct",
			}, {
				Type:        "field",
				InboundTag:  []string{"probe-in"},
				OutboundTag: "probe-out",
			}},
		},
	}
	return cfg, nil
}

// discard releases the resources held by a prepared configuration.  It is
// used on the failure paths of Start; successful starts hand the resources
// to the process and Stop releases them instead.
func (c *Controller) discard(cfg *CoreConfig) {
	c.cfg.Ports.Release(cfg.InboundPort)
	if !c.cfg.KeepWorkDirs {
		if err := os.RemoveAll(cfg.Dir); err != nil {
			log.Warnf("Unable to remove work dir %s: %v", cfg.Dir, err)
		}
	}
}
