package observability

import (
	"context"
	"testing"

	"github.com/jkaninda/kamanda/internal/config"
)

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_TracingDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
}

func TestTracerOrNil_NilSafe(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("nil Observability should yield nil tracer setup")
	}
	if obs.TracerOrNil().Tracer() == nil {
		t.Error("nil tracer setup must still yield a usable noop tracer")
	}
	// Shutdown on the nil facade must not panic.
	obs.Shutdown(context.Background())
}

func TestNewLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "", "bogus"} {
		if NewLogger(level) == nil {
			t.Errorf("NewLogger(%q) returned nil", level)
		}
	}
}
