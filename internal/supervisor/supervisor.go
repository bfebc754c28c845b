// Package supervisor orchestrates a single supervised run: one background
// dependency process and one foreground workload.
//
// The contract is deliberately narrow. The dependency is started first and
// given bounded time to become ready; the workload then runs to completion
// with inherited stdio; and on every exit path (clean, failed, or
// interrupted) the dependency's full captured output is printed and the
// dependency is terminated, exactly once. The supervisor's result mirrors
// the workload's exit status; it is a lifecycle manager, not a resilience
// layer, and never retries either process.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/benaskins/outrider/internal/audit"
	"github.com/benaskins/outrider/internal/driver"
	"github.com/benaskins/outrider/internal/port"
	"github.com/benaskins/outrider/internal/readiness"
	"github.com/benaskins/outrider/internal/runtime"
	"github.com/benaskins/outrider/internal/spec"
)

// Sentinel errors classifying supervisor-level failures. A non-zero
// workload exit is NOT one of these; it is propagated as a plain code.
var (
	ErrRuntimeNotFound    = errors.New("required runtime installation not found")
	ErrDependencyLaunch   = errors.New("dependency failed to launch")
	ErrDependencyNotReady = errors.New("dependency did not become ready")
	ErrDependencyExited   = errors.New("dependency exited before the workload could run")
	ErrWorkloadLaunch     = errors.New("workload failed to launch")
)

// Reserved exit codes, kept clear of ordinary workload codes by following
// the shell convention: 125 for supervisor failures, 126/127 for workloads
// that never ran.
const (
	ExitSupervisorFailure   = 125
	ExitWorkloadNotRunnable = 126
	ExitWorkloadNotFound    = 127
)

// Phase is the externally visible stage of a run.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseResolving       Phase = "resolving"
	PhaseStartingDep     Phase = "starting-dependency"
	PhaseAwaitingReady   Phase = "awaiting-readiness"
	PhaseRunningWorkload Phase = "running-workload"
	PhaseTearingDown     Phase = "tearing-down"
	PhaseDone            Phase = "done"
)

const (
	// EnvDependencyPort is exported to both processes when a network block
	// is configured, so the workload can find the dependency without
	// hardcoding the port.
	EnvDependencyPort = "OUTRIDER_DEPENDENCY_PORT"

	// EnvRuntimeHome is exported when runtime discovery resolves an install.
	EnvRuntimeHome = "OUTRIDER_RUNTIME_HOME"
)

const (
	portRangeMin = 20000
	portRangeMax = 32000
)

// Status is a point-in-time snapshot of the run, served by the status API.
type Status struct {
	Phase       Phase        `json:"phase"`
	Dependency  string       `json:"dependency"`
	DepState    driver.State `json:"dependency_state"`
	DepPID      int          `json:"dependency_pid,omitempty"`
	DepPort     int          `json:"dependency_port,omitempty"`
	WorkloadPID int          `json:"workload_pid,omitempty"`
	Uptime      string       `json:"dependency_uptime,omitempty"`
}

// Supervisor owns one dependency and one workload for the duration of Run.
type Supervisor struct {
	spec     *spec.RunSpec
	logger   *slog.Logger
	dumpTo   io.Writer // sink for the dependency log replay at teardown
	stdin    io.Reader // workload stdio, overridable in tests
	stdout   io.Writer
	stderr   io.Writer
	auditLog *audit.Logger
	ports    *port.Allocator

	mu          sync.Mutex
	running     bool
	phase       Phase
	drv         driver.Driver
	depPort     int
	workloadPID int
}

// Option configures the supervisor.
type Option func(*Supervisor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithAudit enables the lifecycle event log. Audit write failures are soft:
// logged, never fatal, never able to affect the run's result.
func WithAudit(l *audit.Logger) Option {
	return func(s *Supervisor) { s.auditLog = l }
}

// WithDumpWriter redirects the teardown log replay (default os.Stdout).
func WithDumpWriter(w io.Writer) Option {
	return func(s *Supervisor) { s.dumpTo = w }
}

// WithWorkloadStdio overrides the streams the workload inherits
// (default: the supervisor's own os.Stdin/os.Stdout/os.Stderr).
func WithWorkloadStdio(in io.Reader, out, errw io.Writer) Option {
	return func(s *Supervisor) {
		s.stdin = in
		s.stdout = out
		s.stderr = errw
	}
}

// New creates a supervisor for the given run spec.
func New(rs *spec.RunSpec, opts ...Option) *Supervisor {
	s := &Supervisor{
		spec:   rs,
		logger: slog.With("component", "supervisor", "dependency", rs.Dependency.Name),
		dumpTo: os.Stdout,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		ports:  port.NewAllocator(portRangeMin, portRangeMax),
		phase:  PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns a snapshot for the status API.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Phase:       s.phase,
		Dependency:  s.spec.Dependency.Name,
		DepState:    driver.StateStopped,
		DepPort:     s.depPort,
		WorkloadPID: s.workloadPID,
	}
	if s.drv != nil {
		info := s.drv.Info()
		st.DepState = info.State
		st.DepPID = info.PID
		if info.State == driver.StateRunning && !info.StartedAt.IsZero() {
			st.Uptime = time.Since(info.StartedAt).Truncate(time.Second).String()
		}
	}
	return st
}

// LogLines returns the last n captured dependency output lines.
func (s *Supervisor) LogLines(n int) []string {
	s.mu.Lock()
	drv := s.drv
	s.mu.Unlock()
	if drv == nil {
		return nil
	}
	return drv.LogLines(n)
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Run executes the full supervised lifecycle and returns the exit code the
// supervisor process should exit with. A non-nil error means the workload's
// own outcome was never reached (supervisor failure or launch failure);
// exit codes of a workload that ran are returned with a nil error, even
// when non-zero.
func (s *Supervisor) Run(ctx context.Context, workload []string) (int, error) {
	if len(workload) == 0 {
		return ExitSupervisorFailure, fmt.Errorf("workload command must not be empty")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ExitSupervisorFailure, fmt.Errorf("a run is already active")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.phase = PhaseDone
		s.mu.Unlock()
	}()

	s.audit(audit.Entry{Event: audit.EventRunStarted, Detail: workload[0]})

	// Step 1: resolve environment prerequisites before anything is launched.
	s.setPhase(PhaseResolving)
	env, err := s.buildEnv()
	if err != nil {
		s.audit(audit.Entry{Event: audit.EventRunFailed, Error: err.Error()})
		return ExitSupervisorFailure, err
	}

	// Step 2: launch the dependency in the background, output captured.
	s.setPhase(PhaseStartingDep)
	drv, err := s.createDriver(env)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDependencyLaunch, err)
		s.audit(audit.Entry{Event: audit.EventRunFailed, Error: err.Error()})
		return ExitSupervisorFailure, err
	}
	s.mu.Lock()
	s.drv = drv
	s.mu.Unlock()

	// Step 3: teardown is registered before readiness so every later exit
	// path, including interruption, replays the log and stops the
	// dependency exactly once. Teardown errors never override the result.
	var teardownOnce sync.Once
	teardown := func() {
		teardownOnce.Do(func() {
			s.setPhase(PhaseTearingDown)
			s.dumpDependencyLog(drv)
			if err := drv.Stop(context.Background(), s.spec.GracePeriod()); err != nil {
				s.logger.Warn("error terminating dependency", "error", err)
			}
			info := drv.Info()
			s.audit(audit.Entry{
				Event:      audit.EventDependencyTerminated,
				Dependency: s.spec.Dependency.Name,
				PID:        info.PID,
			})
		})
	}
	defer teardown()

	s.logger.Info("starting dependency", "type", s.spec.Dependency.Type)
	if err := drv.Start(ctx); err != nil {
		err = fmt.Errorf("%w: %v", ErrDependencyLaunch, err)
		s.audit(audit.Entry{Event: audit.EventRunFailed, Error: err.Error()})
		return ExitSupervisorFailure, err
	}
	s.audit(audit.Entry{
		Event:      audit.EventDependencyStarted,
		Dependency: s.spec.Dependency.Name,
		PID:        drv.Info().PID,
	})

	depExited := make(chan struct{})
	go func() {
		drv.Wait()
		close(depExited)
	}()

	// Step 4: bounded readiness wait. A dependency that dies during the
	// wait fails the run here rather than surfacing later as a confusing
	// workload error.
	s.setPhase(PhaseAwaitingReady)
	policy := s.readinessPolicy()
	s.logger.Info("waiting for dependency readiness", "policy", s.spec.Readiness.Policy)
	if err := policy.Await(ctx, depExited); err != nil {
		err = s.classifyReadiness(err, drv)
		s.audit(audit.Entry{Event: audit.EventRunFailed, Error: err.Error()})
		return ExitSupervisorFailure, err
	}
	s.logger.Info("dependency ready, handing off to workload")
	s.audit(audit.Entry{Event: audit.EventDependencyReady, Dependency: s.spec.Dependency.Name})

	// Steps 5-6: run the workload in the foreground and wait for it.
	s.setPhase(PhaseRunningWorkload)
	code, err := s.runWorkload(ctx, workload, env)
	if err != nil {
		s.audit(audit.Entry{Event: audit.EventRunFailed, Error: err.Error()})
		return code, err
	}

	// Step 7 is the deferred teardown; step 8 is plain propagation.
	s.audit(audit.Entry{Event: audit.EventWorkloadExited, ExitCode: &code})
	return code, nil
}

// buildEnv assembles the environment shared by dependency and workload:
// the supervisor's own environment, extended with the resolved runtime's
// PATH and the dependency port. The supervisor's environment itself is
// never mutated.
func (s *Supervisor) buildEnv() ([]string, error) {
	env := os.Environ()

	if r := s.spec.Runtime; r != nil {
		install, err := runtime.Resolve(r.Root, r.Pattern, r.Bin)
		if err != nil {
			if errors.Is(err, runtime.ErrNotFound) {
				return nil, fmt.Errorf("%w: %v", ErrRuntimeNotFound, err)
			}
			return nil, fmt.Errorf("resolving runtime: %w", err)
		}
		s.logger.Info("runtime resolved", "home", install.Home)
		s.audit(audit.Entry{Event: audit.EventRuntimeResolved, Detail: install.Home})
		env = setEnv(env, "PATH", install.PathEnv(os.Getenv("PATH")))
		env = setEnv(env, EnvRuntimeHome, install.Home)
	}

	if n := s.spec.Network; n != nil {
		p := n.Port
		if p == 0 {
			allocated, err := s.ports.Allocate(s.spec.Dependency.Name)
			if err != nil {
				return nil, fmt.Errorf("allocating dependency port: %w", err)
			}
			p = allocated
			s.logger.Info("allocated dependency port", "port", p)
		}
		s.mu.Lock()
		s.depPort = p
		s.mu.Unlock()
		env = setEnv(env, EnvDependencyPort, fmt.Sprintf("%d", p))
	}

	return env, nil
}

func (s *Supervisor) createDriver(env []string) (driver.Driver, error) {
	dep := s.spec.Dependency

	depEnv := env
	if dep.Type == "container" {
		// Containers get a clean environment: only the spec's env block
		// plus the dependency port.
		depEnv = nil
		if p := s.dependencyPort(); p != 0 {
			depEnv = append(depEnv, fmt.Sprintf("%s=%d", EnvDependencyPort, p))
		}
	}
	for k, v := range dep.Env {
		depEnv = append(depEnv, k+"="+v)
	}

	switch dep.Type {
	case "container":
		return driver.NewContainer(driver.ContainerConfig{
			Name:        dep.Name,
			Image:       dep.Image,
			Env:         depEnv,
			NetworkMode: dep.NetworkMode,
		})
	default:
		return driver.NewNative(driver.NativeConfig{
			Command:    dep.Command,
			Env:        depEnv,
			WorkingDir: dep.WorkingDir,
		}), nil
	}
}

func (s *Supervisor) dependencyPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depPort
}

func (s *Supervisor) readinessPolicy() readiness.Policy {
	r := s.spec.Readiness
	if r.Policy == "fixed" {
		return readiness.FixedDelay{Wait: r.Wait.Duration}
	}

	p := r.Probe
	probePort := p.Port
	if probePort == 0 {
		probePort = s.dependencyPort()
	}
	return readiness.Probe{
		Type:     p.Type,
		Path:     p.Path,
		Port:     probePort,
		Command:  p.Command,
		Interval: p.Interval.Duration,
		Timeout:  p.Timeout.Duration,
	}
}

func (s *Supervisor) classifyReadiness(err error, drv driver.Driver) error {
	switch {
	case errors.Is(err, readiness.ErrDependencyExited):
		info := drv.Info()
		return fmt.Errorf("%w (exit code %d)", ErrDependencyExited, info.ExitCode)
	case errors.Is(err, readiness.ErrNotReady):
		return fmt.Errorf("%w: %v", ErrDependencyNotReady, err)
	default:
		return err
	}
}

// runWorkload launches the foreground workload with inherited stdio and
// waits for it. The supervisor does not interpret the workload's output.
func (s *Supervisor) runWorkload(ctx context.Context, workload, env []string) (int, error) {
	cmd := exec.Command(workload[0], workload[1:]...)
	cmd.Stdin = s.stdin
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	cmd.Env = env

	if err := cmd.Start(); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return ExitWorkloadNotRunnable, fmt.Errorf("%w: %w", ErrWorkloadLaunch, err)
		}
		return ExitWorkloadNotFound, fmt.Errorf("%w: %w", ErrWorkloadLaunch, err)
	}

	s.mu.Lock()
	s.workloadPID = cmd.Process.Pid
	s.mu.Unlock()
	s.logger.Info("workload started", "pid", cmd.Process.Pid, "command", workload[0])
	s.audit(audit.Entry{Event: audit.EventWorkloadStarted, PID: cmd.Process.Pid, Detail: workload[0]})

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case err := <-waitDone:
		return workloadExitCode(cmd, err), nil
	case <-ctx.Done():
		// External interruption. Forward a termination signal so the
		// workload can exit, then collect it. Teardown still follows.
		s.logger.Info("interrupted, signaling workload")
		_ = cmd.Process.Signal(unix.SIGTERM)
		select {
		case err := <-waitDone:
			return workloadExitCode(cmd, err), nil
		case <-time.After(s.spec.GracePeriod()):
			_ = cmd.Process.Kill()
			err := <-waitDone
			return workloadExitCode(cmd, err), nil
		}
	}
}

// workloadExitCode extracts the exit status, mapping signal deaths to the
// conventional 128+signal.
func workloadExitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	// Wait failures other than a non-zero exit are supervisor territory
	return ExitSupervisorFailure
}

// dumpDependencyLog replays the dependency's full captured output.
func (s *Supervisor) dumpDependencyLog(drv driver.Driver) {
	lines := drv.Log()
	fmt.Fprintf(s.dumpTo, "--- dependency log: %s (%d lines) ---\n", s.spec.Dependency.Name, len(lines))
	for _, line := range lines {
		fmt.Fprintln(s.dumpTo, line)
	}
	fmt.Fprintf(s.dumpTo, "--- end dependency log ---\n")
}

func (s *Supervisor) audit(entry audit.Entry) {
	if s.auditLog == nil {
		return
	}
	if entry.Dependency == "" {
		entry.Dependency = s.spec.Dependency.Name
	}
	if err := s.auditLog.Log(entry); err != nil {
		s.logger.Warn("audit write failed", "error", err)
	}
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
