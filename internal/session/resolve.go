package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jkaninda/kamanda/internal/llm"
	"github.com/jkaninda/kamanda/internal/relay"
)

// ErrBackendUnavailable marks failures to obtain a command from the AI
// backend, either because none is configured or because the request to
// it failed outright.
var ErrBackendUnavailable = errors.New("AI backend unavailable")

// commandMarker introduces the resolved command in the model output, per
// the system prompt contract.
const commandMarker = "COMMAND:"

// resolveCommand asks the AI backend to turn a natural-language task
// into a shell command. The streamed explanation is relayed as AI
// events; the returned command fills the request before execution.
func (s *Session) resolveCommand(ctx context.Context, rel *relay.Relay, req *Request) (string, error) {
	if s.opts.Provider == nil {
		return "", fmt.Errorf("%w: none configured; prefix with ! to run directly", ErrBackendUnavailable)
	}

	tier := pickTier(req.Raw)
	llmReq := &llm.Request{
		SystemPrompt: s.opts.SystemPrompt,
		Instructions: s.opts.Instructions,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: req.Raw}},
		Tier:         tier,
		MaxTokens:    s.opts.MaxTokens,
	}

	s.logger.DebugContext(ctx, "resolving natural-language task",
		slog.String("request_id", req.ID),
		slog.String("tier", string(tier)),
		slog.String("provider", s.opts.Provider.Name()),
	)

	full, err := s.requestCompletion(ctx, llmReq, rel)
	if err != nil {
		// The tiers usually sit on separate model capacity; one retry
		// on the other tier before failing the request.
		llmReq.Tier = otherTier(tier)
		s.logger.WarnContext(ctx, "retrying on fallback tier",
			slog.String("request_id", req.ID),
			slog.String("tier", string(llmReq.Tier)),
			slog.String("error", err.Error()),
		)
		full, err = s.requestCompletion(ctx, llmReq, rel)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	command := extractCommand(full)
	if command == "" {
		return "", fmt.Errorf("backend produced no command for the task")
	}
	return command, nil
}

// requestCompletion issues one provider round trip, streaming when the
// provider supports it and buffering otherwise.
func (s *Session) requestCompletion(ctx context.Context, req *llm.Request, rel *relay.Relay) (string, error) {
	if sp, ok := s.opts.Provider.(llm.StreamingProvider); ok {
		return s.streamResponse(ctx, sp, req, rel)
	}
	resp, err := s.opts.Provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	_ = rel.AIText(resp.Content)
	return resp.Content, nil
}

func otherTier(t llm.Tier) llm.Tier {
	if t == llm.TierLarge {
		return llm.TierSmall
	}
	return llm.TierLarge
}

func (s *Session) streamResponse(ctx context.Context, sp llm.StreamingProvider, req *llm.Request, rel *relay.Relay) (string, error) {
	events := make(chan llm.StreamEvent, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- sp.Stream(ctx, req, events) }()

	var full strings.Builder
	for ev := range events {
		if ev.Type != "text" || ev.Content == "" {
			continue
		}
		full.WriteString(ev.Content)
		if err := rel.AIText(ev.Content); err != nil {
			s.logger.Warn("dropping AI fragment", slog.String("error", err.Error()))
		}
	}
	if err := <-errCh; err != nil {
		return "", err
	}
	return full.String(), nil
}

// pickTier classifies task complexity: short plain requests go to the
// small model, anything long or structurally involved to the large one.
func pickTier(task string) llm.Tier {
	if len(strings.Fields(task)) > 8 || strings.ContainsAny(task, "|&;") {
		return llm.TierLarge
	}
	return llm.TierSmall
}

// extractCommand pulls the last COMMAND line out of the model output,
// tolerating code fences around it.
func extractCommand(text string) string {
	var command string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "`"))
		if rest, ok := strings.CutPrefix(line, commandMarker); ok {
			if rest = strings.TrimSpace(rest); rest != "" {
				command = rest
			}
		}
	}
	return command
}
