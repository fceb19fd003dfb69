// Package llm wraps an OpenAI-compatible chat completion endpoint behind a
// small interface the executors and the router consume. Function calling is
// first-class: the router and the plan executor both route through tools.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/homefox/homefox/pkg/config"
)

// ErrNotConfigured indicates the client was built without an API key.
var ErrNotConfigured = errors.New("llm client not configured")

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolDef describes one callable function exposed to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// Request is a chat completion request.
type Request struct {
	Messages    []Message
	Tools       []ToolDef
	Temperature float32
	MaxTokens   int
}

// Response carries the model's reply: assistant text and/or tool calls.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Client is the chat completion capability the rest of the runtime depends on.
type Client interface {
	// Chat performs one completion round. When Tools are supplied the model
	// may answer with tool calls instead of (or in addition to) content.
	Chat(ctx context.Context, req Request) (*Response, error)
}

// OpenAIClient implements Client against any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewOpenAIClient creates a client from configuration. BaseURL may point at
// any OpenAI-compatible gateway; empty means the official endpoint.
func NewOpenAIClient(cfg config.LLMConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing api key", ErrNotConfigured)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: maxRetries,
		retryDelay: time.Second,
		logger:     slog.With("component", "llm_client"),
	}, nil
}

// Chat performs one completion round with linear-backoff retries on
// transient failures.
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertMessages(req.Messages),
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		resp, lastErr = c.client.CreateChatCompletion(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("chat completion: %w", lastErr)
		}
		c.logger.Warn("Retrying chat completion", "attempt", attempt+1, "error", lastErr)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("chat completion after %d attempts: %w", c.maxRetries, lastErr)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0].Message
	out := &Response{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func convertTools(tools []ToolDef) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

// isRetryable classifies transient failures: rate limits, 5xx, timeouts.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}
