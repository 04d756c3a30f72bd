package relay

import (
	"io"
	"sync"
)

// WriterSink renders events to a pair of writers, preserving the output
// exactly as a direct interactive run would show it: complete lines get
// their newline back, partials are flushed as-is. Stdout and AI text go
// to Out, stderr to Err.
type WriterSink struct {
	mu  sync.Mutex
	Out io.Writer
	Err io.Writer
}

// NewWriterSink creates a sink writing stdout/AI events to out and stderr
// events to errw.
func NewWriterSink(out, errw io.Writer) *WriterSink {
	return &WriterSink{Out: out, Err: errw}
}

// Emit implements Sink.
func (w *WriterSink) Emit(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dst := w.Out
	if ev.Source == Stderr {
		dst = w.Err
	}
	if ev.Partial {
		_, _ = io.WriteString(dst, ev.Text)
		return
	}
	_, _ = io.WriteString(dst, ev.Text+"\n")
}

// CollectSink buffers events for inspection in tests and for the one-shot
// command's post-run summary.
type CollectSink struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (c *CollectSink) Emit(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

// Events returns a copy of everything emitted so far.
func (c *CollectSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// TeeSink forwards each event to every wrapped sink in order.
type TeeSink []Sink

// Emit implements Sink.
func (t TeeSink) Emit(ev Event) {
	for _, s := range t {
		s.Emit(ev)
	}
}
