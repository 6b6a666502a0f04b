// Package onhost implements the host supervisor (spec.md §4.8): one state
// machine per executable, restarting it according to its restart policy and
// forwarding health into the owning sub-agent.
package onhost

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rancher/agent-control/internal/agenttype"
	"github.com/rancher/agent-control/internal/healthtypes"
	"github.com/rancher/agent-control/pkg/durations"
	"github.com/sirupsen/logrus"
)

type State string

const (
	StateIdle           State = "idle"
	StateStarting       State = "starting"
	StateRunning        State = "running"
	StateRestartWaiting State = "restart-waiting"
	StateTerminating    State = "terminating"
	StateExited         State = "exited"
)

// HealthChecker is the probe capability consumed by a running executable;
// cadence and protocol are opaque to the supervisor.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// LogSink receives a running child's combined stdout/stderr.
type LogSink interface {
	io.Writer
	Close() error
}

// fileLogSink writes to a file under the agent's log directory.
type fileLogSink struct{ f *os.File }

func (s *fileLogSink) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s *fileLogSink) Close() error                { return s.f.Close() }

// parentLogSink forwards to the supervisor's own logger.
type parentLogSink struct {
	log *logrus.Entry
}

func (s *parentLogSink) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			s.log.Info(line)
		}
	}
	return len(p), nil
}
func (s *parentLogSink) Close() error { return nil }

// Executable is one entry of a host runtime config, resolved into argv/env.
type Executable struct {
	Path          string
	Args          []string
	Env           []string
	RestartPolicy agenttype.RestartPolicy
	HealthChecker HealthChecker
}

// NewExecutable splits an ExecutableConfig's templated Args/Env strings
// into argv and a KEY=VALUE environment slice merged on top of the
// supervisor process's own environment.
func NewExecutable(cfg agenttype.ExecutableConfig, checker HealthChecker) Executable {
	env := append([]string{}, os.Environ()...)
	env = append(env, splitEnv(cfg.Env)...)
	return Executable{
		Path:          cfg.Path,
		Args:          strings.Fields(cfg.Args),
		Env:           env,
		RestartPolicy: cfg.RestartPolicy,
		HealthChecker: checker,
	}
}

func splitEnv(s string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Supervisor drives a single executable through its state machine. One
// goroutine owns the restart loop; a second listens for the current
// child's termination so the PID can be read outside the starter's lock.
type Supervisor struct {
	exec       Executable
	enableFile bool
	logDir     string
	log        *logrus.Entry

	health chan healthtypes.Health

	mu    sync.Mutex
	state State
	pid   int

	shutdown chan struct{}
	wakeWait chan struct{}
	done     chan struct{}
}

func New(exec Executable, enableFileLogging bool, logDir string, log *logrus.Entry) *Supervisor {
	return &Supervisor{
		exec:       exec,
		enableFile: enableFileLogging,
		logDir:     logDir,
		log:        log,
		health:     make(chan healthtypes.Health, 16),
		state:      StateIdle,
		shutdown:   make(chan struct{}),
		wakeWait:   make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Health returns the channel onto which Healthy/Unhealthy transitions are
// published for the owning sub-agent to forward.
func (s *Supervisor) Health() <-chan healthtypes.Health { return s.health }

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setPID(pid int) {
	s.mu.Lock()
	s.pid = pid
	s.mu.Unlock()
}

func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Start begins the owning goroutine. It returns immediately; health and
// state transitions are observed via Health().
func (s *Supervisor) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	b := &backoff.Backoff{}
	switch s.exec.RestartPolicy.Type {
	case agenttype.BackoffFixed, agenttype.BackoffLinear:
		b.Factor = 1
	case agenttype.BackoffExponential:
		b.Factor = 2
	}
	b.Min = s.exec.RestartPolicy.BackoffDelay
	if b.Min <= 0 {
		b.Min = durations.MinRestartBackoff
	}
	b.Max = s.exec.RestartPolicy.LastRetryInterval
	if b.Max < b.Min {
		b.Max = b.Min
	}

	var retries uint
	for {
		select {
		case <-s.shutdown:
			s.setState(StateExited)
			return
		default:
		}

		s.setState(StateStarting)
		exitCode, exitErr, runErr := s.runOnce(ctx)
		if runErr != nil {
			s.log.WithError(runErr).Error("failed to start child process")
			s.health <- healthtypes.NewUnhealthy("starting", runErr.Error(), time.Now())
			if !s.waitBackoffOrShutdown(b.Duration()) {
				s.setState(StateExited)
				return
			}
			retries++
			if s.exceededRetries(retries) {
				s.health <- healthtypes.NewUnhealthy("exited", "supervisor exceeded its defined restart policy", time.Now())
				s.setState(StateExited)
				return
			}
			continue
		}

		select {
		case <-s.shutdown:
			s.setState(StateExited)
			return
		default:
		}

		if !s.exec.RestartPolicy.ShouldRestart(exitCode) {
			s.setState(StateExited)
			if exitCode == 0 {
				return
			}
			s.health <- healthtypes.NewUnhealthy("exited", fmt.Sprintf("child exited with code %d: %v", exitCode, exitErr), time.Now())
			return
		}

		s.setState(StateRestartWaiting)
		retries++
		if s.exceededRetries(retries) {
			s.health <- healthtypes.NewUnhealthy("exited", "supervisor exceeded its defined restart policy", time.Now())
			s.setState(StateExited)
			return
		}
		if !s.waitBackoffOrShutdown(b.Duration()) {
			s.setState(StateExited)
			return
		}
	}
}

func (s *Supervisor) exceededRetries(retries uint) bool {
	maxRetries := s.exec.RestartPolicy.MaxRetries
	return maxRetries > 0 && retries > maxRetries
}

// waitBackoffOrShutdown sleeps for d, or returns false immediately if
// shutdown fires first.
func (s *Supervisor) waitBackoffOrShutdown(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.shutdown:
		return false
	}
}

// runOnce starts the child, starts its health probe (if any), waits for
// exit or shutdown, and returns the exit code/status.
func (s *Supervisor) runOnce(ctx context.Context) (exitCode int, exitErr error, startErr error) {
	sink, err := s.openLogSink()
	if err != nil {
		return 0, nil, err
	}
	defer sink.Close()

	cmd := exec.CommandContext(ctx, s.exec.Path, s.exec.Args...)
	cmd.Env = s.exec.Env
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Start(); err != nil {
		return 0, nil, err
	}
	s.setPID(cmd.Process.Pid)
	s.setState(StateRunning)
	s.health <- healthtypes.NewHealthy("running", time.Now())

	probeCtx, probeCancel := context.WithCancel(ctx)
	defer probeCancel()
	if s.exec.HealthChecker != nil {
		go s.probeLoop(probeCtx)
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case waitErr := <-waitDone:
		s.setPID(0)
		return exitCodeOf(waitErr), waitErr, nil
	case <-s.shutdown:
		s.setState(StateTerminating)
		s.terminateGracefully(cmd, waitDone)
		s.setPID(0)
		return 0, nil, nil
	}
}

func (s *Supervisor) terminateGracefully(cmd *exec.Cmd, waitDone <-chan error) {
	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-waitDone:
	case <-time.After(durations.TerminationGracePeriod):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-waitDone
	}
}

func (s *Supervisor) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(durations.DefaultHealthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.exec.HealthChecker.Check(ctx)
			if err != nil {
				s.health <- healthtypes.NewUnhealthy("running", err.Error(), time.Now())
			} else {
				s.health <- healthtypes.NewHealthy("running", time.Now())
			}
		}
	}
}

func (s *Supervisor) openLogSink() (LogSink, error) {
	if !s.enableFile {
		return &parentLogSink{log: s.log}, nil
	}
	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(fmt.Sprintf("%s/child.log", s.logDir), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening child log file: %w", err)
	}
	return &fileLogSink{f: f}, nil
}

// exitCodeOf returns the process exit code, or the signal number (negated
// convention avoided; spec treats the signal number itself as the code)
// when the child was killed by a signal.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !asExitError(err, &exitErr) {
		return -1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return int(status.Signal())
		}
		return status.ExitStatus()
	}
	return exitErr.ExitCode()
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

// Stop requests graceful shutdown and blocks until the owning goroutine has
// exited. Shutdown takes precedence over any in-progress backoff wait.
func (s *Supervisor) Stop() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	<-s.done
}
