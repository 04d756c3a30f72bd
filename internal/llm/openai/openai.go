// Package openai implements the LLM provider interface for the OpenAI
// Chat Completions API. It also fronts any OpenAI-compatible endpoint
// (Ollama, vLLM, gateway proxies) via WithBaseURL.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jkaninda/kamanda/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com"
	completionsPath  = "/v1/chat/completions"
	defaultMaxTokens = 1024
)

// Client implements llm.StreamingProvider using the Chat Completions API.
// One client serves both model tiers; the request's Tier picks the model.
type Client struct {
	apiKey     string
	largeModel string
	smallModel string
	baseURL    string
	name       string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (useful for testing and for
// OpenAI-compatible endpoints).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithName overrides the provider name (e.g. "ollama").
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// NewClient creates a provider with one model per tier. An empty
// smallModel falls back to largeModel.
func NewClient(apiKey, largeModel, smallModel string, logger *slog.Logger, opts ...Option) *Client {
	if smallModel == "" {
		smallModel = largeModel
	}
	c := &Client{
		apiKey:     apiKey,
		largeModel: largeModel,
		smallModel: smallModel,
		baseURL:    defaultBaseURL,
		name:       "openai",
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider identifier.
func (c *Client) Name() string { return c.name }

func (c *Client) model(tier llm.Tier) string {
	if tier == llm.TierSmall {
		return c.smallModel
	}
	return c.largeModel
}

// Complete sends the conversation and returns the buffered response.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	httpResp, err := c.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	resp := &llm.Response{
		Content:    apiResp.Choices[0].Message.Content,
		Model:      apiResp.Model,
		StopReason: apiResp.Choices[0].FinishReason,
	}

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.name),
		slog.String("model", apiResp.Model),
		slog.String("stop_reason", resp.StopReason),
	)
	return resp, nil
}

// Stream sends the conversation and delivers SSE fragments to events.
// The channel is closed when the stream ends.
func (c *Client) Stream(ctx context.Context, req *llm.Request, events chan<- llm.StreamEvent) error {
	defer close(events)

	httpResp, err := c.send(ctx, req, true)
	if err != nil {
		events <- llm.StreamEvent{Type: "error", Error: err}
		return err
	}
	defer httpResp.Body.Close()

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk apiStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.DebugContext(ctx, "skipping malformed stream chunk",
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			events <- llm.StreamEvent{Type: "text", Content: text}
		}
	}
	if err := scanner.Err(); err != nil {
		events <- llm.StreamEvent{Type: "error", Error: err}
		return fmt.Errorf("reading stream: %w", err)
	}

	events <- llm.StreamEvent{Type: "done"}
	return nil
}

func (c *Client) send(ctx context.Context, req *llm.Request, stream bool) (*http.Response, error) {
	apiReq := c.buildRequest(req, stream)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}
	return httpResp, nil
}

func (c *Client) buildRequest(req *llm.Request, stream bool) apiRequest {
	messages := make([]apiMessage, 0, len(req.Messages)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, apiMessage{Role: "system", Content: req.SystemPrompt})
	}
	if req.Instructions != "" {
		messages = append(messages, apiMessage{Role: "system", Content: req.Instructions})
	}
	for _, m := range req.Messages {
		messages = append(messages, apiMessage{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return apiRequest{
		Model:     c.model(req.Tier),
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
}

// API wire types.

type apiRequest struct {
	Model     string       `json:"model"`
	Messages  []apiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
	Stream    bool         `json:"stream,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
}

type apiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
