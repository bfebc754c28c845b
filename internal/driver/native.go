package driver

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/benaskins/outrider/internal/logbuf"
)

// NativeDriver manages a native (fork/exec) dependency process.
type NativeDriver struct {
	command    string
	args       []string
	env        []string
	workingDir string

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   string
	buf       *logbuf.Buffer
	done      chan struct{}
}

// NativeConfig holds configuration for a native dependency process.
type NativeConfig struct {
	Command    string
	Env        []string
	WorkingDir string
}

// NewNative creates a new native process driver.
func NewNative(cfg NativeConfig) *NativeDriver {
	parts := strings.Fields(cfg.Command)
	var command string
	var args []string
	if len(parts) > 0 {
		command = parts[0]
		args = parts[1:]
	}

	return &NativeDriver{
		command:    command,
		args:       args,
		env:        cfg.Env,
		workingDir: cfg.WorkingDir,
		state:      StateStopped,
		buf:        logbuf.New(),
	}
}

func (d *NativeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateRunning || d.state == StateStarting {
		return fmt.Errorf("process already running")
	}

	d.cmd = exec.CommandContext(ctx, d.command, d.args...)
	d.cmd.Env = d.env
	if d.workingDir != "" {
		d.cmd.Dir = d.workingDir
	}

	// Capture combined stdout and stderr, replayed in full at teardown
	d.cmd.Stdout = d.buf
	d.cmd.Stderr = d.buf

	// Set process group so we can kill the whole tree
	d.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	d.state = StateStarting

	if err := d.cmd.Start(); err != nil {
		d.state = StateFailed
		d.exitErr = err.Error()
		return fmt.Errorf("starting process: %w", err)
	}

	d.state = StateRunning
	d.startedAt = time.Now()
	d.done = make(chan struct{})

	// Wait for process exit in background
	go func() {
		err := d.cmd.Wait()
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.state == StateStopping {
			// Expected shutdown
			d.state = StateStopped
		} else {
			d.state = StateFailed
		}

		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				d.exitCode = exitErr.ExitCode()
			}
			d.exitErr = err.Error()
		} else {
			d.exitCode = 0
		}

		close(d.done)
	}()

	return nil
}

func (d *NativeDriver) Stop(ctx context.Context, grace time.Duration) error {
	d.mu.Lock()

	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}

	d.state = StateStopping
	pid := d.cmd.Process.Pid
	d.mu.Unlock()

	// Send SIGTERM to the process group. The process may have exited
	// between the state check and here; ESRCH is not an error.
	_ = unix.Kill(-pid, unix.SIGTERM)

	// Wait for exit or grace expiry
	select {
	case <-d.done:
		return nil
	case <-time.After(grace):
		// Force kill the process group
		_ = unix.Kill(-pid, unix.SIGKILL)
		<-d.done
		return nil
	case <-ctx.Done():
		_ = unix.Kill(-pid, unix.SIGKILL)
		<-d.done
		return ctx.Err()
	}
}

func (d *NativeDriver) Info() ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := ProcessInfo{
		State:     d.state,
		StartedAt: d.startedAt,
		ExitCode:  d.exitCode,
		Error:     d.exitErr,
	}

	if d.cmd != nil && d.cmd.Process != nil {
		info.PID = d.cmd.Process.Pid
	}

	return info
}

func (d *NativeDriver) Wait() (int, error) {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return -1, fmt.Errorf("process not started")
	}
	<-done

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitCode, nil
}

func (d *NativeDriver) LogLines(n int) []string {
	return d.buf.Last(n)
}

func (d *NativeDriver) Log() []string {
	return d.buf.Lines()
}
