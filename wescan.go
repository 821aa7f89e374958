// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/wescan/wescan/internal/candidates"
	"github.com/wescan/wescan/internal/corectl"
	"github.com/wescan/wescan/internal/prober"
	"github.com/wescan/wescan/internal/rank"
	"github.com/wescan/wescan/internal/scan"
	"github.com/wescan/wescan/internal/version"
	"github.com/wescan/wescan/internal/warpapi"
)

var cfg *config

// tunnelParams returns the WireGuard tunnel parameters the core processes
// are configured with, either from credentials supplied via the config or by
// registering a throwaway WARP account.
func tunnelParams(ctx context.Context) (*warpapi.Params, error) {
	if cfg.PrivateKey != "" {
		reserved, err := warpapi.DecodeReserved(cfg.ClientID)
		if err != nil {
			return nil, fmt.Errorf("invalid clientid: %w", err)
		}
		wscnLog.Info("Using WARP credentials from configuration")
		return &warpapi.Params{
			PrivateKey:    cfg.PrivateKey,
			PeerPublicKey: cfg.PeerPublicKey,
			ClientIPv6:    cfg.ClientIPv6,
			Reserved:      reserved,
		}, nil
	}

	client := &warpapi.Client{URL: cfg.APIURL}
	params, err := client.Register(ctx)
	if err != nil {
		return nil, fmt.Errorf("WARP registration failed: %w", err)
	}
	wscnLog.Info("Registered a throwaway WARP account")
	return params, nil
}

// writeReport renders the ranking in the configured format and atomically
// replaces the output file with it.
func writeReport(ranking rank.Ranking) error {
	var buf bytes.Buffer
	var err error
	switch cfg.Format {
	case "text":
		err = rank.WriteText(&buf, ranking)
	default:
		err = rank.WriteMarkdown(&buf, ranking, time.Now(), cfg.TopN)
	}
	if err != nil {
		return err
	}

	// Write to a temp file in the same directory and rename it over the
	// output path so a crash mid-write never leaves a truncated report.
	dir := filepath.Dir(cfg.Output)
	tmp, err := os.CreateTemp(dir, filepath.Base(cfg.Output)+".tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), cfg.Output)
}

// runScan performs one full scan cycle: register or load tunnel parameters,
// enumerate candidates, probe them all, and write the report.
func runScan(ctx context.Context) error {
	params, err := tunnelParams(ctx)
	if err != nil {
		return err
	}
	if shutdownRequested(ctx) {
		return nil
	}

	// Enumerate the candidate endpoints.
	source := candidates.Source{
		IPv4Count:     cfg.IPv4Count,
		IPv6Count:     cfg.IPv6Count,
		IPv4Ranges:    cfg.ipv4Ranges,
		IPv6Ranges:    cfg.ipv6Ranges,
		Seeds:         cfg.seeds,
		MaxCandidates: cfg.MaxCandidates,
	}
	cands, err := source.Enumerate()
	if err != nil {
		return err
	}
	wscnLog.Infof("Enumerated %d candidate endpoints", len(cands))
	if shutdownRequested(ctx) {
		return nil
	}

	// Assemble the controller, prober, and scanner.
	pool, err := corectl.NewPortPool(cfg.BasePort, cfg.Workers)
	if err != nil {
		return err
	}
	controller, err := corectl.New(corectl.Config{
		CoreBin: cfg.CoreBin,
		WorkDir: cfg.WorkDir,
		Inbound: cfg.Inbound,
		Tunnel: corectl.TunnelParams{
			PrivateKey:    params.PrivateKey,
			PeerPublicKey: params.PeerPublicKey,
			ClientIPv6:    params.ClientIPv6,
			Reserved:      params.Reserved,
		},
		Ports:        pool,
		ReadyTimeout: cfg.ReadyTimeout,
		StopTimeout:  cfg.StopTimeout,
		KeepWorkDirs: cfg.KeepWorkDirs,
	})
	if err != nil {
		return err
	}
	prb, err := prober.New(prober.Config{
		TestURL:        cfg.TestURL,
		Tries:          cfg.Tries,
		RequestTimeout: cfg.RequestTimeout,
		Latency:        cfg.latencyPolicy,
		Proxy:          cfg.Inbound,
	})
	if err != nil {
		return err
	}
	scanner, err := scan.New(scan.Config{
		Controller:      &coreAdapter{controller},
		Prober:          prb,
		Workers:         cfg.Workers,
		CandidateBudget: cfg.ProbeBudget,
	})
	if err != nil {
		return err
	}

	// Probe everything and rank the survivors.
	results := scanner.Run(ctx, cands)
	if shutdownRequested(ctx) {
		return nil
	}
	ranking := rank.Aggregate(results)
	wscnLog.Infof("Found %d healthy endpoints out of %d candidates",
		len(ranking), len(cands))

	if err := writeReport(ranking); err != nil {
		return fmt.Errorf("unable to write report: %w", err)
	}
	wscnLog.Infof("Report written to %s", cfg.Output)
	return nil
}

// wescanMain is the real main function for wescan.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is
// called.
func wescanMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	tcfg, _, err := loadConfig(appName)
	if err != nil {
		usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
		fmt.Fprintln(os.Stderr, err)
		var e errSuppressUsage
		if !errors.As(err, &e) {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Get a context that will be canceled when a shutdown signal has been
	// triggered from an OS signal such as SIGINT (Ctrl+C).
	ctx := shutdownListener()
	defer wscnLog.Info("Shutdown complete")

	// Show version and home dir at startup.
	wscnLog.Infof("Version %s (Go version %s %s/%s)", version.String(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	wscnLog.Infof("Home dir: %s", cfg.HomeDir)
	if cfg.NoFileLogging {
		wscnLog.Info("File logging disabled")
	}

	// Enable http profile server if requested.  Note that since the server
	// may be started now or dynamically started and stopped later, the stop
	// call is always deferred to ensure it is always stopped during process
	// shutdown.
	var profiler profileServer
	defer profiler.Stop()
	if cfg.Profile != "" {
		if err := profiler.Start(cfg.Profile); err != nil {
			wscnLog.Warnf("unable to start profile server: %v", err)
			return err
		}
	}

	// Write cpu profile if requested.
	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			wscnLog.Errorf("Unable to create cpu profile: %v", err.Error())
			return err
		}
		pprof.StartCPUProfile(f)
		defer f.Close()
		defer pprof.StopCPUProfile()
	}

	// Write mem profile if requested.
	if cfg.MemProfile != "" {
		f, err := os.Create(cfg.MemProfile)
		if err != nil {
			wscnLog.Errorf("Unable to create mem profile: %v", err)
			return err
		}
		defer f.Close()
		defer pprof.WriteHeapProfile(f)
	}

	// Return now if a shutdown signal was triggered.
	if shutdownRequested(ctx) {
		return nil
	}

	if err := runScan(ctx); err != nil {
		wscnLog.Errorf("%v", err)
		return err
	}
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := wescanMain(); err != nil {
		os.Exit(1)
	}
}
