package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/homefox/homefox/pkg/llm"
)

// Router confidence levels. The executor gates acceptance on these; the
// router itself never retries.
const (
	ConfidenceNoTools     = 0.0
	ConfidenceUnknownTool = 0.0
	ConfidenceTextReply   = 0.3
	ConfidenceToolCall    = 0.8
)

// RouteContext is the input to one routing decision.
type RouteContext struct {
	Goal        string
	CurrentStep string
	History     []HistoryEntry
	Environment map[string]any
}

// HistoryEntry summarizes one prior tool execution for the router prompt.
type HistoryEntry struct {
	Tool    string
	Success bool
}

// Decision is the router's answer: either a concrete tool call or a text
// response with lowered confidence.
type Decision struct {
	ServerID   string         `json:"server_id,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning,omitempty"`
}

// routerSystemPrompt instructs the model to pick exactly one tool via
// function calling, or answer in text when no tool fits or the task is done.
const routerSystemPrompt = `You are a tool router for a smart-home assistant.
Pick exactly ONE tool via the function-calling mechanism that best advances the current step, or reply in plain text if no tool fits or the task is already done.
For home automation: map friendly device names to entity_id using environment.devices.
For cover devices, position ranges from 0 (fully closed) to 100 (fully open).
Do not invent tools or arguments not present in the schemas.`

// Router is a stateless façade over the LLM function-calling API and the
// tool index.
type Router struct {
	llm    llm.Client
	index  *ToolIndex
	logger *slog.Logger
}

// NewRouter creates a router.
func NewRouter(client llm.Client, index *ToolIndex) *Router {
	return &Router{
		llm:    client,
		index:  index,
		logger: slog.With("component", "router"),
	}
}

// Route makes one tool-selection decision for the given context.
func (r *Router) Route(ctx context.Context, rc RouteContext) (Decision, error) {
	entries := r.index.All()
	if len(entries) == 0 {
		return Decision{Confidence: ConfidenceNoTools, Reasoning: "No tools available"}, nil
	}

	tools := make([]llm.ToolDef, 0, len(entries))
	for _, e := range entries {
		tools = append(tools, llm.ToolDef{
			Name:        e.ToolName,
			Description: e.Description,
			Parameters:  e.InputSchema,
		})
	}

	resp, err := r.llm.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: routerSystemPrompt},
			{Role: llm.RoleUser, Content: buildRoutePrompt(rc)},
		},
		Tools: tools,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("route: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		return Decision{
			Confidence: ConfidenceTextReply,
			Reasoning:  strings.TrimSpace(resp.Content),
		}, nil
	}

	call := resp.ToolCalls[0]
	entry, known := r.index.Lookup(call.Name)
	if !known {
		r.logger.Warn("Router selected unknown tool", "tool", call.Name)
		return Decision{
			Tool:       call.Name,
			Confidence: ConfidenceUnknownTool,
			Reasoning:  fmt.Sprintf("tool %q not in index", call.Name),
		}, nil
	}

	var args map[string]any
	if raw := strings.TrimSpace(call.Arguments); raw != "" {
		// JSON-looking input goes through the tolerant parser (fence
		// stripping, repair); everything else through the structured-argument
		// cascade (JSON, YAML, key/value pairs, raw-string wrap).
		if strings.HasPrefix(raw, "{") {
			if err := llm.ParseJSON(raw, &args); err != nil || args == nil {
				args = ParseToolArguments(raw)
			}
		} else {
			args = ParseToolArguments(raw)
		}
	}

	return Decision{
		ServerID:   entry.ServerID,
		Tool:       entry.ToolName,
		Arguments:  args,
		Confidence: ConfidenceToolCall,
		Reasoning:  strings.TrimSpace(resp.Content),
	}, nil
}

// buildRoutePrompt renders goal, current step, the last three history entries,
// and the environment as a labelled list.
func buildRoutePrompt(rc RouteContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", rc.Goal)
	if rc.CurrentStep != "" {
		fmt.Fprintf(&b, "Current step: %s\n", rc.CurrentStep)
	}

	history := rc.History
	if len(history) > 3 {
		history = history[len(history)-3:]
	}
	if len(history) > 0 {
		b.WriteString("Recent tool calls:\n")
		for _, h := range history {
			outcome := "ok"
			if !h.Success {
				outcome = "failed"
			}
			fmt.Fprintf(&b, "- %s: %s\n", h.Tool, outcome)
		}
	}

	if len(rc.Environment) > 0 {
		b.WriteString("Environment:\n")
		for _, key := range []string{"devices", "user_context"} {
			if v, ok := rc.Environment[key]; ok {
				fmt.Fprintf(&b, "- %s: %s\n", key, renderEnvValue(v))
			}
		}
		for key, v := range rc.Environment {
			if key == "devices" || key == "user_context" {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", key, renderEnvValue(v))
		}
	}
	return b.String()
}

func renderEnvValue(v any) string {
	s := fmt.Sprintf("%v", v)
	return TruncateForPrompt(s)
}
