// Package interrupt brokers cancellation between OS signals and the
// currently supervised process.
//
// The coordinator holds at most one registered handle — the single
// foreground process slot. It never owns the handle: registration lends a
// cancellation hook, the supervisor keeps ownership for the process
// lifetime. Delivering Cancel with an empty slot is a no-op, so
// interrupting an idle prompt never exits the shell.
package interrupt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Signal is a momentary interruption event with no payload.
type Signal int

const (
	// Cancel requests cooperative termination of the active process only.
	Cancel Signal = iota
	// Terminate requests session shutdown: active process first, then the
	// session loop.
	Terminate
)

// String returns the string representation of a Signal.
func (s Signal) String() string {
	switch s {
	case Cancel:
		return "cancel"
	case Terminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Handle is the cancellation hook lent to the coordinator by whoever owns
// the active process.
type Handle interface {
	// Cancel requests cooperative termination. Must be safe to call more
	// than once.
	Cancel()
}

// InvariantViolationError reports a breach of the single-slot contract.
// It is the only fatal error class: the session must terminate after
// reporting it, since the foreground-slot state can no longer be trusted.
type InvariantViolationError struct {
	Op string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("interrupt: foreground slot invariant violated during %s", e.Op)
}

// Coordinator is the process-wide signal broker.
type Coordinator struct {
	mu        sync.Mutex
	active    Handle
	terminate func()
	logger    *slog.Logger
}

// New creates a coordinator. onTerminate is invoked (once per Terminate
// delivery, after the active process is cancelled) to move the session
// loop toward shutdown; nil is allowed.
func New(onTerminate func(), logger *slog.Logger) *Coordinator {
	return &Coordinator{terminate: onTerminate, logger: logger}
}

// Register lends a handle for the duration of one execution. Registering
// while another handle is active violates the single-command invariant.
func (c *Coordinator) Register(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return &InvariantViolationError{Op: "register"}
	}
	c.active = h
	return nil
}

// Unregister clears the slot. Unregistering a handle that is not the
// active one is a no-op (the slot may already have been cleared by a
// Terminate delivery).
func (c *Coordinator) Unregister(h Handle) {
	c.mu.Lock()
	if c.active == h {
		c.active = nil
	}
	c.mu.Unlock()
}

// Deliver routes one interruption event. Cancel reaches the active handle
// if there is one; Terminate additionally fires the shutdown hook.
func (c *Coordinator) Deliver(sig Signal) {
	c.mu.Lock()
	h := c.active
	term := c.terminate
	c.mu.Unlock()

	if h != nil {
		c.logger.Debug("delivering interrupt to active process",
			slog.String("signal", sig.String()),
		)
		h.Cancel()
	} else if sig == Cancel {
		c.logger.Debug("interrupt at idle prompt, ignoring")
	}

	if sig == Terminate && term != nil {
		term()
	}
}

// Active reports whether a handle is currently registered.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Notify bridges OS signals to interrupt deliveries: SIGINT becomes
// Cancel, SIGTERM becomes Terminate. The bridge runs until ctx is done or
// the returned stop function is called.
func (c *Coordinator) Notify(ctx context.Context) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				switch sig {
				case syscall.SIGINT:
					c.Deliver(Cancel)
				case syscall.SIGTERM:
					c.Deliver(Terminate)
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}
