package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/kamanda/internal/history"
	"github.com/jkaninda/kamanda/internal/interrupt"
	"github.com/jkaninda/kamanda/internal/llm"
	"github.com/jkaninda/kamanda/internal/policy"
	"github.com/jkaninda/kamanda/internal/relay"
	"github.com/jkaninda/kamanda/internal/supervisor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRunner counts spawns in place of the real supervisor.
type fakeRunner struct {
	calls  int
	specs  []*policy.Spec
	emit   func(rel *relay.Relay)
	result *supervisor.Result
	err    error
}

func (f *fakeRunner) Run(_ context.Context, spec *policy.Spec, rel *relay.Relay) (*supervisor.Result, error) {
	f.calls++
	f.specs = append(f.specs, spec)
	if f.emit != nil {
		f.emit(rel)
	}
	if f.result == nil && f.err == nil {
		return &supervisor.Result{}, nil
	}
	return f.result, f.err
}

// fakeProvider streams a canned response.
type fakeProvider struct {
	chunks []string
	err    error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: strings.Join(f.chunks, "")}, nil
}

func (f *fakeProvider) Stream(_ context.Context, _ *llm.Request, events chan<- llm.StreamEvent) error {
	defer close(events)
	if f.err != nil {
		events <- llm.StreamEvent{Type: "error", Error: f.err}
		return f.err
	}
	for _, c := range f.chunks {
		events <- llm.StreamEvent{Type: "text", Content: c}
	}
	events <- llm.StreamEvent{Type: "done"}
	return nil
}

type memHistory struct {
	entries []history.Entry
}

func (m *memHistory) Append(_ context.Context, e history.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

type harness struct {
	session *Session
	runner  *fakeRunner
	sink    *relay.CollectSink
	history *memHistory
	errOut  *strings.Builder
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	runner := &fakeRunner{}
	sink := &relay.CollectSink{}
	hist := &memHistory{}
	errOut := &strings.Builder{}

	pol := policy.New(policy.Config{PermittedTree: t.TempDir()}, nil, testLogger())
	opts := Options{
		Mode:        policy.Restricted,
		Policy:      pol,
		Runner:      runner,
		Coordinator: interrupt.New(nil, testLogger()),
		History:     hist,
		Sink:        sink,
		Logger:      testLogger(),
		ErrOut:      errOut,
	}
	if mutate != nil {
		mutate(&opts)
	}

	s, err := New(opts)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return &harness{session: s, runner: runner, sink: sink, history: hist, errOut: errOut}
}

func TestClassify(t *testing.T) {
	h := newHarness(t, nil)
	cases := []struct {
		line string
		kind Kind
	}{
		{"echo hello", DirectCommand},
		{"ls -la", DirectCommand},
		{"/bin/sh -c true", DirectCommand},
		{"please summarize the log files", NaturalLanguageTask},
		{"what is using port 8080", NaturalLanguageTask},
		{"!weirdcommandname --flag", DirectCommand},
		{"?ls", NaturalLanguageTask},
	}
	for _, tc := range cases {
		req := h.session.classify(tc.line)
		if req.Kind != tc.kind {
			t.Errorf("classify(%q) = %s, want %s", tc.line, req.Kind, tc.kind)
		}
	}
}

func TestClassify_UnsafeOverridesMode(t *testing.T) {
	h := newHarness(t, nil)
	req := h.session.classify(":unsafe cd /etc")
	if req.Mode != policy.Unrestricted {
		t.Errorf("mode = %s, want unrestricted", req.Mode)
	}
	if req.Command != "cd /etc" {
		t.Errorf("command = %q", req.Command)
	}
}

func TestExecute_DirectCommand(t *testing.T) {
	h := newHarness(t, nil)
	result, err := h.session.Execute(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Failed() {
		t.Errorf("result = %+v", result)
	}
	if h.runner.calls != 1 {
		t.Fatalf("runner calls = %d, want 1", h.runner.calls)
	}
	spec := h.runner.specs[0]
	if spec.Command != "echo hello" || spec.Mode != policy.Restricted {
		t.Errorf("spec = %+v", spec)
	}
	if h.session.State() != Ready {
		t.Errorf("state = %s, want ready", h.session.State())
	}
}

func TestExecute_PolicyViolationSpawnsNothing(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.session.Execute(context.Background(), "cd /etc")

	var viol *policy.ViolationError
	if !errors.As(err, &viol) {
		t.Fatalf("got %v, want ViolationError", err)
	}
	if h.runner.calls != 0 {
		t.Errorf("runner calls = %d, want 0 (no process for rejected command)", h.runner.calls)
	}
	if len(h.sink.Events()) != 0 {
		t.Errorf("events = %+v, want none", h.sink.Events())
	}
	if h.session.State() != Ready {
		t.Errorf("state = %s, want ready after violation", h.session.State())
	}
}

func TestExecute_EmptyInputShortCircuits(t *testing.T) {
	h := newHarness(t, nil)
	result, err := h.session.Execute(context.Background(), "   ")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Failed() || h.runner.calls != 0 {
		t.Errorf("whitespace input must not spawn (calls=%d)", h.runner.calls)
	}
}

func TestExecute_HistoryRecordsIntent(t *testing.T) {
	h := newHarness(t, nil)
	// A rejected command is still accepted input.
	_, _ = h.session.Execute(context.Background(), "cd /etc")
	_, _ = h.session.Execute(context.Background(), "echo ok")

	if len(h.history.entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(h.history.entries))
	}
	if h.history.entries[0].Input != "cd /etc" {
		t.Errorf("first entry = %+v", h.history.entries[0])
	}
	if h.history.entries[1].Kind != "direct" {
		t.Errorf("second entry kind = %q", h.history.entries[1].Kind)
	}
}

func TestExecute_NaturalLanguageResolvesAndRuns(t *testing.T) {
	provider := &fakeProvider{chunks: []string{"I will list files.\n", "COMMAND: ls -la"}}
	h := newHarness(t, func(o *Options) { o.Provider = provider })

	h.runner.emit = func(rel *relay.Relay) { rel.Line(relay.Stdout, "total 0") }

	_, err := h.session.Execute(context.Background(), "show me all the files here please")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if h.runner.calls != 1 {
		t.Fatalf("runner calls = %d, want 1", h.runner.calls)
	}
	if got := h.runner.specs[0].Command; got != "ls -la" {
		t.Errorf("resolved command = %q, want ls -la", got)
	}

	// AI phase strictly precedes process output.
	events := h.sink.Events()
	sawProcess := false
	for _, ev := range events {
		if ev.Source != relay.AIStream {
			sawProcess = true
		} else if sawProcess {
			t.Fatalf("AI event after process output: %+v", events)
		}
	}

	// The resolved command, not the raw input, is recorded.
	if len(h.history.entries) != 1 || h.history.entries[0].Command != "ls -la" {
		t.Errorf("history = %+v", h.history.entries)
	}
}

func TestExecute_ProviderFailureIsLocal(t *testing.T) {
	provider := &fakeProvider{err: errors.New("backend unavailable")}
	h := newHarness(t, func(o *Options) { o.Provider = provider })

	_, err := h.session.Execute(context.Background(), "please do something clever")
	if err == nil {
		t.Fatal("expected provider error")
	}
	if h.runner.calls != 0 {
		t.Errorf("runner calls = %d, want 0", h.runner.calls)
	}
	if h.session.State() != Ready {
		t.Errorf("state = %s, want ready (provider errors never end the session)", h.session.State())
	}
}

// flakyProvider fails its first call, then serves the canned command.
type flakyProvider struct {
	calls int
	tiers []llm.Tier
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.calls++
	f.tiers = append(f.tiers, req.Tier)
	if f.calls == 1 {
		return nil, errors.New("overloaded")
	}
	return &llm.Response{Content: "COMMAND: uptime"}, nil
}

func TestExecute_RetriesOnOtherTier(t *testing.T) {
	provider := &flakyProvider{}
	h := newHarness(t, func(o *Options) { o.Provider = provider })

	_, err := h.session.Execute(context.Background(), "how long has this machine been up")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", provider.calls)
	}
	if provider.tiers[0] == provider.tiers[1] {
		t.Errorf("retry must switch tier, got %v", provider.tiers)
	}
	if h.runner.calls != 1 || h.runner.specs[0].Command != "uptime" {
		t.Errorf("runner calls = %d, specs = %+v", h.runner.calls, h.runner.specs)
	}
}

func TestExecute_NoProviderConfigured(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.session.Execute(context.Background(), "please do something clever")
	if err == nil {
		t.Fatal("expected error without a provider")
	}
}

// A Terminate delivered while the loop is idle at the prompt must end
// the session without waiting for another input line.
func TestRun_TerminateUnblocksIdlePrompt(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	var s *Session
	coord := interrupt.New(func() { s.RequestTerminate() }, testLogger())
	h := newHarness(t, func(o *Options) {
		o.In = pr
		o.Coordinator = coord
	})
	s = h.session

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	coord.Deliver(interrupt.Terminate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run still blocked at the idle prompt after a terminate delivery")
	}
	if s.State() != Terminating {
		t.Errorf("state = %s, want terminating", s.State())
	}
}

func TestRun_EOFTerminatesCleanly(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.In = strings.NewReader("") })
	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.session.State() != Terminating {
		t.Errorf("state = %s, want terminating", h.session.State())
	}
}

func TestRun_ErrorsReturnToPrompt(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.In = strings.NewReader("cd /etc\necho ok\n")
	})
	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1 (echo after rejected cd)", h.runner.calls)
	}
	if !strings.Contains(h.errOut.String(), "rejected") {
		t.Errorf("violation not rendered: %q", h.errOut.String())
	}
}

func TestRun_InvariantViolationIsFatal(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.In = strings.NewReader("echo one\necho two\n")
	})
	h.runner.err = &interrupt.InvariantViolationError{Op: "register"}

	err := h.session.Run(context.Background())
	var inv *interrupt.InvariantViolationError
	if !errors.As(err, &inv) {
		t.Fatalf("got %v, want InvariantViolationError", err)
	}
	if h.runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1 (fatal class ends the loop)", h.runner.calls)
	}
	if h.session.State() != Terminating {
		t.Errorf("state = %s, want terminating", h.session.State())
	}
}

func TestRun_ExitCommand(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.In = strings.NewReader("exit\necho never\n")
	})
	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.runner.calls != 0 {
		t.Errorf("runner calls = %d, want 0", h.runner.calls)
	}
}

func TestRun_ModeDirective(t *testing.T) {
	out := &strings.Builder{}
	h := newHarness(t, func(o *Options) {
		o.In = strings.NewReader(":mode unrestricted\n")
		o.Out = out
	})
	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.session.opts.Mode != policy.Unrestricted {
		t.Errorf("mode = %s, want unrestricted after directive", h.session.opts.Mode)
	}
}

func TestPickTier(t *testing.T) {
	if tier := pickTier("list files"); tier != llm.TierSmall {
		t.Errorf("short task tier = %s, want small", tier)
	}
	if tier := pickTier("find every log file modified today and show the largest ones sorted by size"); tier != llm.TierLarge {
		t.Errorf("long task tier = %s, want large", tier)
	}
}

func TestExtractCommand(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"I will list files.\nCOMMAND: ls -la", "ls -la"},
		{"```\nCOMMAND: df -h\n```", "df -h"},
		{"COMMAND: echo a\nactually:\nCOMMAND: echo b", "echo b"},
		{"no command here", ""},
	}
	for _, tc := range cases {
		if got := extractCommand(tc.text); got != tc.want {
			t.Errorf("extractCommand(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
