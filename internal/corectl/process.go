// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package corectl

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wescan/wescan/internal/candidates"
)

const (
	// readyPollInterval is how often the inbound listener is dialed while
	// waiting for the core process to become ready.
	readyPollInterval = 100 * time.Millisecond

	// readyDialTimeout bounds each individual readiness dial.
	readyDialTimeout = 250 * time.Millisecond

	// stderrTailSize is how many trailing bytes of the process stderr are
	// included in early-exit error descriptions.
	stderrTailSize = 512
)

// CoreProcess houses the state required to manage a launched core process.
// It is created by Start and must be torn down with exactly one call to Stop.
type CoreProcess struct {
	cfg *CoreConfig
	cmd *exec.Cmd

	stdout *os.File
	stderr *os.File

	// waitErr receives the result of cmd.Wait exactly once.
	waitErr chan error

	stopOnce sync.Once
	stopErr  error
}

// Candidate returns the candidate the process routes traffic through.
func (p *CoreProcess) Candidate() candidates.Candidate {
	return p.cfg.Candidate
}

// ListenAddr returns the local proxy address the process accepts test
// traffic on.
func (p *CoreProcess) ListenAddr() string {
	portStr := strconv.FormatUint(uint64(p.cfg.InboundPort), 10)
	return net.JoinHostPort("127.0.0.1", portStr)
}

// Start renders the provided configuration document to disk, launches the
// core binary with stdout and stderr redirected to the per-process log
// files, and polls the inbound listener until it accepts connections.
//
// On success the returned process owns the configuration's resources and
// must be released with Stop.  On failure the resources are released before
// returning and the error will have an underlying kind of ErrExitedEarly or
// ErrStartupTimeout.
func (c *Controller) Start(ctx context.Context, cfg *CoreConfig) (*CoreProcess, error) {
	doc, err := json.MarshalIndent(&cfg.doc, "", "  ")
	if err != nil {
		c.discard(cfg)
		return nil, err
	}
	if err := os.WriteFile(cfg.ConfigPath, doc, 0o600); err != nil {
		c.discard(cfg)
		return nil, fmt.Errorf("write config: %w", err)
	}

	stdout, err := os.Create(cfg.StdoutPath)
	if err != nil {
		c.discard(cfg)
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	stderr, err := os.Create(cfg.StderrPath)
	if err != nil {
		stdout.Close()
		c.discard(cfg)
		return nil, fmt.Errorf("create stderr log: %w", err)
	}

	cmd := exec.Command(c.cfg.CoreBin, "-c", cfg.ConfigPath)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	p := &CoreProcess{
		cfg:     cfg,
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		waitErr: make(chan error, 1),
	}
	if err := cmd.Start(); err != nil {
		p.closeLogs()
		c.discard(cfg)
		str := fmt.Sprintf("core failed to launch for %v: %v", cfg.Candidate,
			err)
		return nil, makeError(ErrExitedEarly, str)
	}
	log.Tracef("Core pid %d started for %v on port %d", cmd.Process.Pid,
		cfg.Candidate, cfg.InboundPort)
	go func() {
		p.waitErr <- cmd.Wait()
	}()

	begin := time.Now()
	deadline := time.NewTimer(c.cfg.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	addr := p.ListenAddr()
	for {
		select {
		case err := <-p.waitErr:
			// The process exited before the listener became ready.  Re-arm
			// waitErr so teardown does not block, then release everything.
			p.waitErr <- err
			tail := fileTail(cfg.StderrPath, stderrTailSize)
			p.closeLogs()
			c.discard(cfg)
			str := fmt.Sprintf("core exited before ready for %v: %v",
				cfg.Candidate, err)
			if tail != "" {
				str += " -- stderr: " + tail
			}
			return nil, makeError(ErrExitedEarly, str)

		case <-ctx.Done():
			p.terminate(c.cfg.StopTimeout)
			p.closeLogs()
			c.discard(cfg)
			str := fmt.Sprintf("core startup canceled for %v: %v",
				cfg.Candidate, ctx.Err())
			return nil, makeError(ErrStartupTimeout, str)

		case <-deadline.C:
			p.terminate(c.cfg.StopTimeout)
			p.closeLogs()
			c.discard(cfg)
			str := fmt.Sprintf("core not ready for %v within %v",
				cfg.Candidate, c.cfg.ReadyTimeout)
			return nil, makeError(ErrStartupTimeout, str)

		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", addr, readyDialTimeout)
			if err == nil {
				conn.Close()
				log.Debugf("Core ready for %v on %s after %v", cfg.Candidate,
					addr, time.Since(begin).Round(time.Millisecond))
				return p, nil
			}
		}
	}
}

// Launch is shorthand for Prepare followed by Start.
func (c *Controller) Launch(ctx context.Context, cand candidates.Candidate) (*CoreProcess, error) {
	cfg, err := c.Prepare(cand)
	if err != nil {
		return nil, err
	}
	return c.Start(ctx, cfg)
}

// Stop terminates the process, closes its log files, releases its inbound
// port, and removes its work directory unless the controller is configured
// to keep them.  It is idempotent and safe to call on every exit path.
func (c *Controller) Stop(p *CoreProcess) error {
	p.stopOnce.Do(func() {
		p.stopErr = p.terminate(c.cfg.StopTimeout)
		p.closeLogs()
		c.discard(p.cfg)
	})
	return p.stopErr
}

// terminate signals the process to exit and waits up to the provided timeout
// for it to do so before killing it outright.  Interrupt is not supported on
// Windows, so the process is killed immediately there.
func (p *CoreProcess) terminate(timeout time.Duration) error {
	if p.cmd.Process == nil {
		return nil
	}

	sig := os.Interrupt
	if runtime.GOOS == "windows" {
		sig = os.Kill
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		log.Debugf("Signal pid %d: %v", p.cmd.Process.Pid, err)
	}

	select {
	case err := <-p.waitErr:
		return err
	case <-time.After(timeout):
		log.Warnf("Core pid %d did not exit within %v, killing",
			p.cmd.Process.Pid, timeout)
		if err := p.cmd.Process.Kill(); err != nil {
			log.Debugf("Kill pid %d: %v", p.cmd.Process.Pid, err)
		}
		return <-p.waitErr
	}
}

// closeLogs closes the redirected stdout and stderr files.
func (p *CoreProcess) closeLogs() {
	if p.stdout != nil {
		p.stdout.Close()
	}
	if p.stderr != nil {
		p.stderr.Close()
	}
}

// fileTail returns up to the final n bytes of the named file with whitespace
// trimmed, or an empty string when the file cannot be read.
func fileTail(path string, n int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	if size := info.Size(); size > n {
		if _, err := f.Seek(size-n, 0); err != nil {
			return ""
		}
	}
	buf := make([]byte, n)
	read, _ := f.Read(buf)
	return strings.TrimSpace(string(buf[:read]))
}
