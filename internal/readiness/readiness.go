// Package readiness decides when a background dependency is usable.
//
// Two policies implement the same contract: a fixed delay (parity with
// entrypoint scripts that sleep and hope) and an active probe polled until
// a deadline. Both are bounded, and both fail fast if the dependency
// process exits while the supervisor is still waiting on it.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"time"
)

var (
	// ErrNotReady indicates the probe budget expired without a successful check.
	ErrNotReady = errors.New("dependency not ready before timeout")

	// ErrDependencyExited indicates the dependency died during the wait.
	ErrDependencyExited = errors.New("dependency exited before becoming ready")
)

// Policy blocks until the dependency is considered ready.
// depExited is closed when the dependency process exits.
type Policy interface {
	Await(ctx context.Context, depExited <-chan struct{}) error
}

// FixedDelay waits a configured duration with no active check.
type FixedDelay struct {
	Wait time.Duration
}

func (f FixedDelay) Await(ctx context.Context, depExited <-chan struct{}) error {
	timer := time.NewTimer(f.Wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-depExited:
		return ErrDependencyExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Probe polls a single readiness check until it succeeds or Timeout expires.
type Probe struct {
	Type     string // "http" | "tcp" | "exec"
	Path     string // http only
	Port     int    // http and tcp
	Command  string // exec only
	Interval time.Duration
	Timeout  time.Duration
}

func (p Probe) Await(ctx context.Context, depExited <-chan struct{}) error {
	deadline := time.NewTimer(p.Timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	// First check immediately, so a fast dependency does not cost an interval
	lastErr := p.check(ctx)
	if lastErr == nil {
		return nil
	}

	for {
		select {
		case <-ticker.C:
			lastErr = p.check(ctx)
			if lastErr == nil {
				return nil
			}
		case <-deadline.C:
			return fmt.Errorf("%w (last check: %v)", ErrNotReady, lastErr)
		case <-depExited:
			return ErrDependencyExited
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p Probe) check(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, p.Interval)
	defer cancel()

	switch p.Type {
	case "http":
		return p.checkHTTP(checkCtx)
	case "tcp":
		return p.checkTCP(checkCtx)
	case "exec":
		return p.checkExec(checkCtx)
	default:
		return fmt.Errorf("unknown probe type: %s", p.Type)
	}
}

func (p Probe) checkHTTP(ctx context.Context) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", p.Port, p.Path)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unready status: %d", resp.StatusCode)
	}

	return nil
}

func (p Probe) checkTCP(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", p.Port)
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp connect failed: %w", err)
	}
	conn.Close()
	return nil
}

func (p Probe) checkExec(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", p.Command)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}
