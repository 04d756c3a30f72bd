// Package supervisor owns the lifecycle of one spawned command: start,
// stream, signal, wait, reap.
//
// The supervised process runs in its own process group so cancellation
// can reach everything it spawned. Cancellation is cooperative: SIGTERM
// to the group, a bounded grace period, then SIGKILL. Either path ends in
// a reaped process and closed pipes — never a zombie.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jkaninda/kamanda/internal/interrupt"
	"github.com/jkaninda/kamanda/internal/policy"
	"github.com/jkaninda/kamanda/internal/relay"
)

const defaultGracePeriod = 3 * time.Second

// HandleState tracks one spawned process through its lifetime.
type HandleState int

const (
	// Running means the process is alive and unsupervised by no one else.
	Running HandleState = iota
	// Cancelling means termination was requested and the grace period is
	// ticking.
	Cancelling
	// Exited means the process terminated on its own with an exit code.
	Exited
	// Signalled means the process was terminated by a signal.
	Signalled
)

// String returns the string representation of a HandleState.
func (s HandleState) String() string {
	switch s {
	case Running:
		return "running"
	case Cancelling:
		return "cancelling"
	case Exited:
		return "exited"
	case Signalled:
		return "signalled"
	}
	return "unknown"
}

// Handle represents one spawned OS process. It is registered with the
// interrupt coordinator for the duration of the run; the coordinator only
// ever calls Cancel, never mutates state.
type Handle struct {
	mu      sync.Mutex
	pid     int
	started time.Time
	state   HandleState

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

func newHandle() *Handle {
	return &Handle{started: time.Now(), cancelCh: make(chan struct{})}
}

// Cancel implements interrupt.Handle. Safe to call repeatedly; only the
// first call has effect.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancelCh) })
}

// PID returns the OS process id (zero before spawn).
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// State returns the current lifecycle state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setPID(pid int) {
	h.mu.Lock()
	h.pid = pid
	h.mu.Unlock()
}

func (h *Handle) setState(s HandleState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Result is the terminal outcome of one supervised execution.
type Result struct {
	// ExitCode is valid when Signal is empty.
	ExitCode int
	// Signal names the terminating signal, empty on normal exit.
	Signal string
	// Cancelled marks results produced by interrupt delivery.
	Cancelled bool
	// Truncated marks executions whose output hit the relay cap.
	Truncated bool
	Duration  time.Duration
}

// Failed reports whether the execution should count as a failure.
func (r *Result) Failed() bool {
	return r.Signal != "" || r.ExitCode != 0
}

// SpawnError reports that the OS could not create the process. No handle
// exists when it is returned.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn failed for %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IOError reports a pipe failure mid-stream. Partial output has already
// been relayed, followed by a terminal marker event.
type IOError struct {
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("i/o failure mid-stream: %v", e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

// Supervisor runs execution specs, one at a time.
type Supervisor struct {
	coord  *interrupt.Coordinator
	grace  time.Duration
	logger *slog.Logger
}

// New creates a supervisor. grace bounds the window between the graceful
// termination request and the forceful kill; zero selects the default.
func New(coord *interrupt.Coordinator, grace time.Duration, logger *slog.Logger) *Supervisor {
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	return &Supervisor{coord: coord, grace: grace, logger: logger}
}

// Run spawns the process described by spec and streams its output through
// rel until exit. The handle is registered with the interrupt coordinator
// before the process starts, so no interrupt delivered during spawn can
// be lost; it is unregistered before Run returns.
func (s *Supervisor) Run(ctx context.Context, spec *policy.Spec, rel *relay.Relay) (*Result, error) {
	if spec.NoOp {
		return &Result{}, nil
	}

	cmd := exec.Command(spec.Interpreter, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}

	handle := newHandle()
	if err := s.coord.Register(handle); err != nil {
		return nil, err
	}
	defer s.coord.Unregister(handle)

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	handle.setPID(cmd.Process.Pid)

	s.logger.DebugContext(ctx, "process started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("command", spec.Command),
		slog.String("mode", spec.Mode.String()),
	)

	// Drain both pipes before Wait; Wait closes them.
	ioErrs := make(chan error, 2)
	var readers sync.WaitGroup
	readers.Add(2)
	go s.stream(relay.Stdout, stdout, rel, &readers, ioErrs)
	go s.stream(relay.Stderr, stderr, rel, &readers, ioErrs)

	// Escalation watcher: a cancel request (from the coordinator or ctx)
	// sends SIGTERM to the process group, then SIGKILL after the grace
	// period if the process is still around.
	exited := make(chan struct{})
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-handle.cancelCh:
		case <-ctx.Done():
			handle.Cancel()
		case <-exited:
			return
		}
		handle.setState(Cancelling)
		s.logger.DebugContext(ctx, "cancelling process group",
			slog.Int("pid", handle.PID()),
			slog.Duration("grace", s.grace),
		)
		_ = syscall.Kill(-handle.PID(), syscall.SIGTERM)
		select {
		case <-exited:
		case <-time.After(s.grace):
			s.logger.WarnContext(ctx, "grace period elapsed, killing process group",
				slog.Int("pid", handle.PID()),
			)
			_ = syscall.Kill(-handle.PID(), syscall.SIGKILL)
		}
	}()

	readers.Wait()
	waitErr := cmd.Wait()
	close(exited)
	watcher.Wait()

	result := s.interpret(handle, waitErr)
	result.Truncated = rel.Truncated()
	result.Duration = time.Since(handle.started)

	s.logger.InfoContext(ctx, "process reaped",
		slog.Int("pid", handle.PID()),
		slog.String("state", handle.State().String()),
		slog.Int("exit_code", result.ExitCode),
		slog.String("signal", result.Signal),
		slog.Duration("duration", result.Duration),
	)

	select {
	case ioErr := <-ioErrs:
		return result, &IOError{Err: ioErr}
	default:
	}
	return result, nil
}

// stream relays one pipe line by line. A read error other than pipe
// closure emits a terminal marker and reports through errs.
func (s *Supervisor) stream(src relay.Source, r io.Reader, rel *relay.Relay, wg *sync.WaitGroup, errs chan<- error) {
	defer wg.Done()
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if strings.HasSuffix(line, "\n") {
				rel.Line(src, strings.TrimSuffix(line, "\n"))
			} else {
				rel.PartialLine(src, line)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				rel.StreamBroken(src, err)
				errs <- err
			}
			return
		}
	}
}

// interpret maps the Wait outcome onto the handle state and result.
func (s *Supervisor) interpret(handle *Handle, waitErr error) *Result {
	cancelled := handle.State() == Cancelling

	if waitErr == nil {
		handle.setState(Exited)
		return &Result{ExitCode: 0, Cancelled: cancelled}
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			handle.setState(Signalled)
			return &Result{
				ExitCode:  exitErr.ExitCode(),
				Signal:    ws.Signal().String(),
				Cancelled: cancelled,
			}
		}
		handle.setState(Exited)
		return &Result{ExitCode: exitErr.ExitCode(), Cancelled: cancelled}
	}

	// Wait itself failed (copy error from a closed pipe, etc.). The
	// process is reaped regardless; surface as an exited failure.
	handle.setState(Exited)
	return &Result{ExitCode: -1, Cancelled: cancelled}
}
