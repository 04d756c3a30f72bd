package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type stubProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(_ context.Context, _ *Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Content: s.text, Model: s.name}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallback_FirstSuccessWins(t *testing.T) {
	primary := &stubProvider{name: "primary", text: "ok"}
	backup := &stubProvider{name: "backup", text: "never"}
	f := NewFallbackProvider([]Provider{primary, backup}, testLogger())

	resp, err := f.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "ok" || backup.calls != 0 {
		t.Errorf("resp = %+v, backup calls = %d", resp, backup.calls)
	}
}

func TestFallback_TriesNextOnFailure(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("down")}
	backup := &stubProvider{name: "backup", text: "rescued"}
	f := NewFallbackProvider([]Provider{primary, backup}, testLogger())

	resp, err := f.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "rescued" || primary.calls != 1 {
		t.Errorf("resp = %+v, primary calls = %d", resp, primary.calls)
	}
}

func TestFallback_AllFail(t *testing.T) {
	last := errors.New("also down")
	f := NewFallbackProvider([]Provider{
		&stubProvider{name: "a", err: errors.New("down")},
		&stubProvider{name: "b", err: last},
	}, testLogger())

	_, err := f.Complete(context.Background(), &Request{})
	if !errors.Is(err, last) {
		t.Fatalf("err = %v, want wrap of last failure", err)
	}
}

func TestFallback_Name(t *testing.T) {
	f := NewFallbackProvider([]Provider{&stubProvider{name: "primary"}}, testLogger())
	if got := f.Name(); got != "primary+fallback" {
		t.Errorf("name = %q", got)
	}
}

func TestNonStreamingAdapter_ReplaysAsEvents(t *testing.T) {
	a := &NonStreamingAdapter{Provider: &stubProvider{name: "buffered", text: "whole response"}}

	events := make(chan StreamEvent, 4)
	if err := a.Stream(context.Background(), &Request{}, events); err != nil {
		t.Fatalf("stream: %v", err)
	}

	var got []StreamEvent
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 2 || got[0].Type != "text" || got[0].Content != "whole response" || got[1].Type != "done" {
		t.Errorf("events = %+v", got)
	}
}

func TestNonStreamingAdapter_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	a := &NonStreamingAdapter{Provider: &stubProvider{name: "buffered", err: boom}}

	events := make(chan StreamEvent, 4)
	if err := a.Stream(context.Background(), &Request{}, events); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	ev, ok := <-events
	if !ok || ev.Type != "error" || !errors.Is(ev.Error, boom) {
		t.Errorf("first event = %+v, ok = %v", ev, ok)
	}
}
