// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package corectl

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/wescan/wescan/internal/candidates"
)

// coreModeEnv selects the fake core behavior when the test binary is
// re-executed as the core executable.
const coreModeEnv = "WESCAN_TEST_CORE_MODE"

// TestMain re-executes the test binary as a fake core process when the mode
// environment variable is set, otherwise it runs the tests normally.  This
// exercises the real process lifecycle without an external binary.
func TestMain(m *testing.M) {
	mode := os.Getenv(coreModeEnv)
	if mode == "" {
		os.Exit(m.Run())
	}

	fs := flag.NewFlagSet("fakecore", flag.ExitOnError)
	configPath := fs.String("c", "", "config path")
	fs.Parse(os.Args[1:])

	switch mode {
	case "serve":
		runFakeCore(*configPath)
	case "hang":
		// Block forever without tripping the runtime deadlock detector,
		// which a bare select on the sole goroutine would.
		for {
			time.Sleep(time.Hour)
		}
	case "fail":
		fmt.Fprintln(os.Stderr, "fake core: invalid configuration")
		os.Exit(23)
	default:
		fmt.Fprintf(os.Stderr, "unknown fake core mode %q\n", mode)
		os.Exit(2)
	}
}

// runFakeCore reads the inbound port from the rendered configuration
// document, listens on it, and blocks until killed.
func runFakeCore(configPath string) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake core: %v\n", err)
		os.Exit(1)
	}
	var doc struct {
		Inbounds []struct {
			Listen string `json:"listen"`
			Port   uint16 `json:"port"`
		} `json:"inbounds"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || len(doc.Inbounds) == 0 {
		fmt.Fprintf(os.Stderr, "fake core: malformed config: %v\n", err)
		os.Exit(1)
	}
	in := doc.Inbounds[0]
	addr := net.JoinHostPort(in.Listen, strconv.Itoa(int(in.Port)))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake core: %v\n", err)
		os.Exit(1)
	}
	defer l.Close()
	// Block forever without tripping the runtime deadlock detector,
	// which a bare select on the sole goroutine would.
	for {
		time.Sleep(time.Hour)
	}
}

// newTestController returns a controller that launches the test binary as a
// fake core with short timeouts.
func newTestController(t *testing.T, size int) (*Controller, *PortPool) {
	t.Helper()
	pool, err := NewPortPool(11800, size)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctl, err := New(Config{
		CoreBin:      os.Args[0],
		WorkDir:      t.TempDir(),
		Tunnel:       testTunnel(),
		Ports:        pool,
		ReadyTimeout: 2 * time.Second,
		StopTimeout:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ctl, pool
}

// testCandidate returns a fixed candidate for process tests.
func testCandidate() candidates.Candidate {
	return candidates.Candidate{
		Addr: netip.MustParseAddr("188.114.96.1"),
		Port: 2408,
	}
}

// TestStartStop ensures a core that exposes its listener is reported ready,
// serves dials on its listen address, and releases its port and work dir on
// stop.
func TestStartStop(t *testing.T) {
	t.Setenv(coreModeEnv, "serve")
	ctl, pool := newTestController(t, 1)

	proc, err := ctl.Launch(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conn, err := net.DialTimeout("tcp", proc.ListenAddr(), time.Second)
	if err != nil {
		t.Fatalf("listener not accepting: %v", err)
	}
	conn.Close()

	workDir := proc.cfg.Dir
	if err := ctl.Stop(proc); err != nil {
		// The interrupt-induced exit status is expected here.
		t.Logf("stop returned %v", err)
	}
	// Stop must be idempotent.
	ctl.Stop(proc)

	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Errorf("work dir %q not removed on stop", workDir)
	}
	if _, err := pool.Acquire(); err != nil {
		t.Errorf("port not released on stop: %v", err)
	}
}

// TestStartExitedEarly ensures a core that exits before its listener is
// ready is classified ErrExitedEarly with the stderr tail captured, and that
// its resources are released.
func TestStartExitedEarly(t *testing.T) {
	t.Setenv(coreModeEnv, "fail")
	ctl, pool := newTestController(t, 1)

	_, err := ctl.Launch(context.Background(), testCandidate())
	if !errors.Is(err, ErrExitedEarly) {
		t.Fatalf("unexpected error -- got %v, want %v", err, ErrExitedEarly)
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("stderr tail missing from error: %v", err)
	}
	if _, err := pool.Acquire(); err != nil {
		t.Errorf("port not released on early exit: %v", err)
	}
}

// TestStartStartupTimeout ensures a core that never exposes a listener is
// classified ErrStartupTimeout within the readiness budget and torn down.
func TestStartStartupTimeout(t *testing.T) {
	t.Setenv(coreModeEnv, "hang")
	pool, err := NewPortPool(11900, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctl, err := New(Config{
		CoreBin:      os.Args[0],
		WorkDir:      t.TempDir(),
		Ports:        pool,
		ReadyTimeout: 300 * time.Millisecond,
		StopTimeout:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	begin := time.Now()
	_, err = ctl.Launch(context.Background(), testCandidate())
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("unexpected error -- got %v, want %v", err,
			ErrStartupTimeout)
	}
	// Classification must happen within the readiness timeout plus teardown
	// slack, not hang indefinitely.
	if elapsed := time.Since(begin); elapsed > 3*time.Second {
		t.Fatalf("startup timeout took %v", elapsed)
	}
	if _, err := pool.Acquire(); err != nil {
		t.Errorf("port not released on startup timeout: %v", err)
	}
}

// TestStartCanceled ensures an already-canceled context aborts startup and
// releases resources.
func TestStartCanceled(t *testing.T) {
	t.Setenv(coreModeEnv, "hang")
	ctl, pool := newTestController(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ctl.Launch(ctx, testCandidate())
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("unexpected error -- got %v, want %v", err,
			ErrStartupTimeout)
	}
	if _, err := pool.Acquire(); err != nil {
		t.Errorf("port not released on cancellation: %v", err)
	}
}

// TestFileTail ensures only the trailing bytes of large files are returned.
func TestFileTail(t *testing.T) {
	path := t.TempDir() + "/tail.log"
	content := strings.Repeat("x", 1000) + "the actual failure"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tail := fileTail(path, 64)
	if !strings.HasSuffix(tail, "the actual failure") {
		t.Errorf("unexpected tail %q", tail)
	}
	if len(tail) > 64 {
		t.Errorf("tail too long: %d bytes", len(tail))
	}
	if fileTail(path+".missing", 64) != "" {
		t.Error("expected empty tail for missing file")
	}
}
