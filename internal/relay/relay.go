// Package relay merges process output and AI response fragments into one
// ordered event stream for rendering.
//
// A Relay is created per execution request. Events carry a monotonically
// increasing sequence number shared across all sources, so the relative
// order of stdout and stderr is reconstructable by sequence alone. AI
// fragments are phase-gated: they may only be emitted before execution
// begins, never interleaved with process output.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"
)

// Source identifies the producer of an event.
type Source int

const (
	// Stdout is the child process standard output.
	Stdout Source = iota
	// Stderr is the child process standard error.
	Stderr
	// AIStream is streamed explanatory text from the AI backend.
	AIStream
)

// String returns the string representation of a Source.
func (s Source) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	case AIStream:
		return "ai"
	default:
		return "unknown"
	}
}

// Event is one renderable unit: a line, or a partial line at a flush
// boundary. Terminal marks the final event of a stream that ended
// abnormally (broken pipe, output cap reached).
type Event struct {
	Seq      uint64
	Source   Source
	Text     string
	Partial  bool
	Terminal bool
}

// Sink consumes events in non-decreasing sequence order.
type Sink interface {
	Emit(Event)
}

// ErrExecutionBegun is returned when an AI fragment is emitted after the
// relay entered the execution phase.
var ErrExecutionBegun = errors.New("relay: AI stream closed, execution already begun")

// Relay assigns sequence numbers and forwards events to the sink. Safe for
// concurrent use by multiple producers; delivery to the sink happens under
// the relay lock, so sink order matches sequence order.
type Relay struct {
	mu        sync.Mutex
	seq       uint64
	sink      Sink
	executing bool

	// remaining is the output byte budget. Negative means unlimited.
	remaining int
	truncated bool
}

// New creates a relay delivering to sink. maxBytes caps the total process
// output relayed for this execution; zero or negative means unlimited.
func New(sink Sink, maxBytes int) *Relay {
	if maxBytes <= 0 {
		maxBytes = -1
	}
	return &Relay{sink: sink, remaining: maxBytes}
}

// AIText emits one AI stream fragment. Fragments are partial by nature;
// the renderer joins them without separators. Returns ErrExecutionBegun
// if the execution phase has started.
func (r *Relay) AIText(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.executing {
		return ErrExecutionBegun
	}
	r.emit(AIStream, text, true, false)
	return nil
}

// BeginExecution closes the AI phase. All subsequent events come from the
// child process. Idempotent.
func (r *Relay) BeginExecution() {
	r.mu.Lock()
	r.executing = true
	r.mu.Unlock()
}

// Line emits one complete line of process output (text excludes the
// trailing newline). Returns false once the output cap is reached.
func (r *Relay) Line(src Source, text string) bool {
	return r.process(src, text, false)
}

// PartialLine emits a partial line at a flush boundary (no newline seen
// yet). Returns false once the output cap is reached.
func (r *Relay) PartialLine(src Source, text string) bool {
	return r.process(src, text, true)
}

// StreamBroken emits the terminal marker for a stream that failed
// mid-read. The marker itself is always delivered, cap or not.
func (r *Relay) StreamBroken(src Source, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(src, fmt.Sprintf("[%s: stream error: %v]", src, err), false, true)
}

// Truncated reports whether the output cap was reached.
func (r *Relay) Truncated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.truncated
}

// LastSeq returns the sequence number of the most recently emitted event.
func (r *Relay) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (r *Relay) process(src Source, text string, partial bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.truncated {
		return false
	}
	if r.remaining >= 0 {
		if len(text) > r.remaining {
			// Cap reached: deliver what fits, then a truncation marker.
			// The cut backs off to a rune boundary so the fragment is
			// never split mid-rune.
			cut := r.remaining
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut > 0 {
				r.emit(src, text[:cut], true, false)
			}
			r.remaining = 0
			r.truncated = true
			r.emit(src, fmt.Sprintf("[%s: output truncated]", src), false, true)
			return false
		}
		r.remaining -= len(text)
	}
	r.emit(src, text, partial, false)
	return true
}

// emit assigns the next sequence number and delivers. Caller holds r.mu.
func (r *Relay) emit(src Source, text string, partial, terminal bool) {
	r.seq++
	r.sink.Emit(Event{
		Seq:      r.seq,
		Source:   src,
		Text:     text,
		Partial:  partial,
		Terminal: terminal,
	})
}
