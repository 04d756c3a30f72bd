package llm

import "context"

// StreamEvent is a single fragment of a streaming response.
type StreamEvent struct {
	Type    string // "text", "done", "error"
	Content string // Text content for "text" events.
	Error   error  // Error for "error" events.
}

// StreamingProvider extends Provider with incremental delivery. Providers
// without native streaming can be wrapped with NonStreamingAdapter.
type StreamingProvider interface {
	Provider
	// Stream sends a request and delivers events to the channel. The
	// channel is closed when the response completes or fails.
	Stream(ctx context.Context, req *Request, events chan<- StreamEvent) error
}

// NonStreamingAdapter makes a buffered Provider satisfy
// StreamingProvider by delivering the whole response as one event.
type NonStreamingAdapter struct {
	Provider
}

// Stream calls Complete and replays the result as buffered events.
func (a *NonStreamingAdapter) Stream(ctx context.Context, req *Request, events chan<- StreamEvent) error {
	defer close(events)

	resp, err := a.Complete(ctx, req)
	if err != nil {
		events <- StreamEvent{Type: "error", Error: err}
		return err
	}
	if resp.Content != "" {
		events <- StreamEvent{Type: "text", Content: resp.Content}
	}
	events <- StreamEvent{Type: "done"}
	return nil
}
