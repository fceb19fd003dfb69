package mcp

import (
	"encoding/json"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Envelope is the normalized tool-call result shared by remote connections
// and local tools: {success, result?, error?}.
type Envelope struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ErrorEnvelope wraps a transport-level failure.
func ErrorEnvelope(err error) Envelope {
	return Envelope{Success: false, Error: err.Error()}
}

// EnvelopeFromResult serializes an MCP call result. The remote isError flag
// is carried inside result; success stays true at this layer (the executor
// lifts isError via Lift).
func EnvelopeFromResult(result *mcpsdk.CallToolResult) Envelope {
	if result == nil {
		return Envelope{Success: true, Result: map[string]any{}}
	}

	content := make([]any, 0, len(result.Content))
	for _, c := range result.Content {
		content = append(content, contentToMap(c))
	}

	payload := map[string]any{
		"content": content,
		"isError": result.IsError,
	}
	if result.Meta != nil {
		payload["meta"] = map[string]any(result.Meta)
	}
	if result.StructuredContent != nil {
		payload["structuredContent"] = result.StructuredContent
	}
	return Envelope{Success: true, Result: payload}
}

func contentToMap(c mcpsdk.Content) map[string]any {
	switch v := c.(type) {
	case *mcpsdk.TextContent:
		return map[string]any{"type": "text", "text": v.Text}
	default:
		// Non-text content is rare for our tools; round-trip through JSON.
		raw, err := json.Marshal(c)
		if err != nil {
			return map[string]any{"type": "unknown"}
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return map[string]any{"type": "unknown"}
		}
		return m
	}
}

// Lift applies the isError promotion: when the inner result carries
// isError=true, the envelope becomes success=false with the embedded error
// message. Envelopes without isError pass through unchanged.
func Lift(env Envelope) Envelope {
	if !env.Success || env.Result == nil {
		return env
	}
	isErr, _ := env.Result["isError"].(bool)
	if !isErr {
		return env
	}
	return Envelope{
		Success: false,
		Result:  env.Result,
		Error:   extractErrorMessage(env.Result),
	}
}

// extractErrorMessage pulls a human-readable error out of a tool result:
// first text content block, then error/message fields, then a generic label.
func extractErrorMessage(result map[string]any) string {
	if content, ok := result["content"].([]any); ok {
		for _, c := range content {
			m, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok && strings.TrimSpace(text) != "" {
				return text
			}
		}
	}
	for _, key := range []string{"error", "message"} {
		if s, ok := result[key].(string); ok && s != "" {
			return s
		}
	}
	return "tool reported an error"
}

// TextContent concatenates the text blocks of a tool result, if any.
func TextContent(result map[string]any) string {
	content, ok := result["content"].([]any)
	if !ok {
		return ""
	}
	var parts []string
	for _, c := range content {
		if m, ok := c.(map[string]any); ok {
			if text, ok := m["text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, "\n")
}
