// Package session implements the shell's read-eval loop: it reads one
// input unit, classifies it, drives sandbox resolution and process
// supervision for it, and returns to a ready state — regardless of how
// the execution ended.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kamanda/internal/complete"
	"github.com/jkaninda/kamanda/internal/history"
	"github.com/jkaninda/kamanda/internal/interrupt"
	"github.com/jkaninda/kamanda/internal/llm"
	"github.com/jkaninda/kamanda/internal/policy"
	"github.com/jkaninda/kamanda/internal/relay"
	"github.com/jkaninda/kamanda/internal/supervisor"
)

// State is the session lifecycle.
type State int

const (
	// Starting is the initial state while collaborators are wired up.
	Starting State = iota
	// Ready means the session is at the prompt awaiting input.
	Ready
	// Executing means one execution request is in flight.
	Executing
	// Terminating is terminal: entered on end-of-input, a Terminate
	// interrupt, or a fatal invariant violation.
	Terminating
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Executing:
		return "executing"
	case Terminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Kind classifies one input unit.
type Kind int

const (
	// DirectCommand is shell syntax executed as-is.
	DirectCommand Kind = iota
	// NaturalLanguageTask needs AI mediation to resolve a command.
	NaturalLanguageTask
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case DirectCommand:
		return "direct"
	case NaturalLanguageTask:
		return "natural"
	default:
		return "unknown"
	}
}

// Request is one unit of work derived from one input line. Created per
// input, discarded once its result is delivered.
type Request struct {
	ID      string
	Raw     string
	Kind    Kind
	Command string
	Mode    policy.Mode
}

// Runner supervises one resolved execution. *supervisor.Supervisor is
// the production implementation; tests substitute spawn counters.
type Runner interface {
	Run(ctx context.Context, spec *policy.Spec, rel *relay.Relay) (*supervisor.Result, error)
}

// Appender records accepted inputs. *history.Store is the production
// implementation; nil disables persistence.
type Appender interface {
	Append(ctx context.Context, e history.Entry) error
}

// Options wires a session's collaborators.
type Options struct {
	ID   string
	Mode policy.Mode

	Policy      *policy.Policy
	Runner      Runner
	Coordinator *interrupt.Coordinator
	Provider    llm.Provider // nil disables natural-language requests
	History     Appender
	Completer   *complete.Engine
	Sink        relay.Sink
	Tracer      trace.Tracer
	Logger      *slog.Logger

	SystemPrompt string
	Instructions string
	MaxTokens    int

	// MaxOutputBytes caps relayed output per execution. Zero means
	// unlimited.
	MaxOutputBytes int

	// In is the input source, Out/ErrOut carry prompts and error
	// messages (process output goes through Sink).
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer

	// Interactive enables the prompt and greeting.
	Interactive bool

	// Cwd is the working directory reported to the completer.
	Cwd string
}

// Session is one running shell instance. Owned by its Run loop;
// destroyed on explicit exit or fatal error.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	state State

	done     chan struct{}
	termOnce sync.Once
}

// New creates a session in the Starting state.
func New(opts Options) (*Session, error) {
	if opts.Policy == nil || opts.Runner == nil || opts.Coordinator == nil {
		return nil, fmt.Errorf("session requires policy, runner, and coordinator")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("session requires an output sink")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("session requires a logger")
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	if opts.Tracer == nil {
		opts.Tracer = trace.NewNoopTracerProvider().Tracer("")
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.ErrOut == nil {
		opts.ErrOut = io.Discard
	}
	return &Session{
		opts:   opts,
		logger: opts.Logger,
		state:  Starting,
		done:   make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// RequestTerminate moves the session toward shutdown. Safe to call from
// any goroutine; intended as the interrupt coordinator's Terminate hook.
func (s *Session) RequestTerminate() {
	s.termOnce.Do(func() { close(s.done) })
}

// Run is the read-eval loop. It blocks until end-of-input, a Terminate
// interrupt, or a fatal error. A non-nil return means the session ended
// on the fatal error class.
func (s *Session) Run(ctx context.Context) error {
	s.setState(Ready)

	if s.opts.Interactive {
		fmt.Fprintln(s.opts.Out, "Kamanda — AI-assisted command shell with sandboxed execution")
		fmt.Fprintf(s.opts.Out, "Mode: %s. Type a command, describe a task, or \":help\".\n\n", s.opts.Mode)
	}

	// Input is read on its own goroutine so that a Terminate delivered
	// while the loop waits at an idle prompt still takes effect. The
	// deferred terminate releases the reader on every return path.
	defer s.RequestTerminate()
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.opts.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		if s.opts.Interactive {
			fmt.Fprintf(s.opts.Out, "%s> ", s.promptTag())
		}

		var line string
		select {
		case <-ctx.Done():
			s.setState(Terminating)
			return nil
		case <-s.done:
			s.setState(Terminating)
			return nil
		case text, ok := <-lines:
			if !ok {
				s.setState(Terminating)
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("reading input: %w", err)
					}
				default:
				}
				return nil
			}
			line = strings.TrimSpace(text)
		}

		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.setState(Terminating)
			return nil
		}
		if strings.HasPrefix(line, ":") && s.handleDirective(ctx, line) {
			continue
		}

		if _, err := s.Execute(ctx, line); err != nil {
			s.renderError(err)
			var inv *interrupt.InvariantViolationError
			if errors.As(err, &inv) {
				s.setState(Terminating)
				return err
			}
		}
	}
}

func (s *Session) promptTag() string {
	if s.opts.Mode == policy.Unrestricted {
		return "kamanda!"
	}
	return "kamanda"
}

// Execute runs one input line through classification, sandbox
// resolution, and supervision. The session returns to Ready afterwards
// unless it is already terminating.
func (s *Session) Execute(ctx context.Context, line string) (*supervisor.Result, error) {
	s.setState(Executing)
	defer func() {
		if s.State() != Terminating {
			s.setState(Ready)
		}
	}()

	req := s.classify(line)

	ctx, span := s.opts.Tracer.Start(ctx, "session.execute",
		trace.WithAttributes(
			attribute.String("request.id", req.ID),
			attribute.String("request.kind", req.Kind.String()),
			attribute.String("request.mode", req.Mode.String()),
		))
	defer span.End()

	rel := relay.New(s.opts.Sink, s.opts.MaxOutputBytes)

	if req.Kind == NaturalLanguageTask {
		command, err := s.resolveCommand(ctx, rel, req)
		if err != nil {
			s.appendHistory(ctx, req)
			return nil, fmt.Errorf("resolving command: %w", err)
		}
		req.Command = command
	}

	s.appendHistory(ctx, req)
	rel.BeginExecution()

	spec, err := s.opts.Policy.Resolve(req.Mode, req.Command)
	if err != nil {
		return nil, err
	}
	if spec.NoOp {
		return &supervisor.Result{}, nil
	}

	result, err := s.opts.Runner.Run(ctx, spec, rel)
	if result != nil {
		span.SetAttributes(
			attribute.Int("result.exit_code", result.ExitCode),
			attribute.String("result.signal", result.Signal),
			attribute.Bool("result.cancelled", result.Cancelled),
		)
		s.logger.DebugContext(ctx, "execution finished",
			slog.String("request_id", req.ID),
			slog.Int("exit_code", result.ExitCode),
			slog.String("signal", result.Signal),
			slog.Duration("duration", result.Duration),
		)
		if result.Signal != "" {
			fmt.Fprintf(s.opts.ErrOut, "terminated by signal: %s\n", result.Signal)
		}
	}
	return result, err
}

// appendHistory records intent, never outcome: the entry is written on
// acceptance, before the command runs.
func (s *Session) appendHistory(ctx context.Context, req *Request) {
	if s.opts.History == nil {
		return
	}
	err := s.opts.History.Append(ctx, history.Entry{
		SessionID: s.opts.ID,
		Input:     req.Raw,
		Kind:      req.Kind.String(),
		Command:   req.Command,
		Mode:      req.Mode.String(),
	})
	if err != nil {
		s.logger.Warn("history append failed", slog.String("error", err.Error()))
	}
}

// renderError maps the error taxonomy onto distinguishable messages.
// Every class returns control to the prompt except the invariant breach,
// which the Run loop treats as fatal.
func (s *Session) renderError(err error) {
	var (
		viol  *policy.ViolationError
		spawn *supervisor.SpawnError
		ioErr *supervisor.IOError
		inv   *interrupt.InvariantViolationError
	)
	switch {
	case errors.As(err, &viol):
		fmt.Fprintf(s.opts.ErrOut, "rejected: %s\n", viol.Reason)
	case errors.As(err, &spawn):
		fmt.Fprintf(s.opts.ErrOut, "could not start command: %v\n", spawn.Err)
	case errors.As(err, &ioErr):
		fmt.Fprintf(s.opts.ErrOut, "command output was interrupted: %v\n", ioErr.Err)
	case errors.As(err, &inv):
		fmt.Fprintf(s.opts.ErrOut, "fatal: %v\n", inv)
	default:
		fmt.Fprintf(s.opts.ErrOut, "error: %v\n", err)
	}
}

// handleDirective processes ":"-prefixed session directives. Returns
// false for ":unsafe", which Execute handles as a per-command mode
// override.
func (s *Session) handleDirective(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":help":
		fmt.Fprint(s.opts.Out, directiveHelp)
	case ":mode":
		if len(fields) < 2 {
			fmt.Fprintf(s.opts.Out, "mode: %s\n", s.opts.Mode)
			return true
		}
		s.opts.Mode = policy.ParseMode(fields[1])
		fmt.Fprintf(s.opts.Out, "mode set to %s\n", s.opts.Mode)
	case ":complete":
		if s.opts.Completer == nil {
			fmt.Fprintln(s.opts.Out, "completion is not available")
			return true
		}
		partial := strings.TrimSpace(strings.TrimPrefix(line, ":complete"))
		for _, c := range s.opts.Completer.Suggest(ctx, partial, s.opts.Cwd) {
			fmt.Fprintln(s.opts.Out, c)
		}
	case ":unsafe":
		return false
	default:
		fmt.Fprintf(s.opts.ErrOut, "unknown directive %s (try :help)\n", fields[0])
	}
	return true
}

const directiveHelp = `Input is either a shell command (run directly) or a task description
(resolved to a command by the AI backend). Prefixes and directives:

  !<command>        force direct execution
  ?<text>           force AI mediation
  :unsafe <command> run one command in unrestricted mode
  :mode [name]      show or switch the session mode
  :complete <text>  list completions for a partial input
  :help             this text
  exit, quit        leave the shell
`
