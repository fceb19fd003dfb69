package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homefox/homefox/pkg/llm"
)

// fakeLLM returns a canned response and records the last request.
type fakeLLM struct {
	resp    *llm.Response
	err     error
	lastReq llm.Request
}

func (f *fakeLLM) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func indexWithTool(name, serverID string) *ToolIndex {
	idx := NewToolIndex(nil)
	idx.entries[name] = ToolIndexEntry{
		ToolName:    name,
		ServerID:    serverID,
		Description: "test tool",
		InputSchema: map[string]any{"type": "object"},
	}
	return idx
}

func TestRouter_EmptyIndex(t *testing.T) {
	r := NewRouter(&fakeLLM{}, NewToolIndex(nil))
	d, err := r.Route(context.Background(), RouteContext{Goal: "turn on the light"})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceNoTools, d.Confidence)
	assert.Equal(t, "No tools available", d.Reasoning)
	assert.Empty(t, d.Tool)
}

func TestRouter_TextReply(t *testing.T) {
	fake := &fakeLLM{resp: &llm.Response{Content: "The task is already done."}}
	r := NewRouter(fake, indexWithTool("HassTurnOn", "home-assistant"))

	d, err := r.Route(context.Background(), RouteContext{Goal: "turn on the light"})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceTextReply, d.Confidence)
	assert.Empty(t, d.Tool)
	assert.Equal(t, "The task is already done.", d.Reasoning)
}

func TestRouter_ToolCall(t *testing.T) {
	fake := &fakeLLM{resp: &llm.Response{ToolCalls: []llm.ToolCall{{
		ID:        "call_1",
		Name:      "HassTurnOn",
		Arguments: `{"entity_id":"light.living_room_main"}`,
	}}}}
	r := NewRouter(fake, indexWithTool("HassTurnOn", "home-assistant"))

	d, err := r.Route(context.Background(), RouteContext{Goal: "打开客厅的灯"})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceToolCall, d.Confidence)
	assert.Equal(t, "home-assistant", d.ServerID)
	assert.Equal(t, "HassTurnOn", d.Tool)
	assert.Equal(t, "light.living_room_main", d.Arguments["entity_id"])

	// The index entry became a function definition.
	require.Len(t, fake.lastReq.Tools, 1)
	assert.Equal(t, "HassTurnOn", fake.lastReq.Tools[0].Name)
}

func TestRouter_UnknownTool(t *testing.T) {
	fake := &fakeLLM{resp: &llm.Response{ToolCalls: []llm.ToolCall{{
		Name: "NoSuchTool", Arguments: `{}`,
	}}}}
	r := NewRouter(fake, indexWithTool("HassTurnOn", "home-assistant"))

	d, err := r.Route(context.Background(), RouteContext{Goal: "anything"})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceUnknownTool, d.Confidence)
	assert.Empty(t, d.ServerID)
}

func TestRouter_ArgumentsFallThroughCascade(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{
			name: "key-value pairs",
			raw:  "entity_id: light.living_room_main, brightness: 80",
			want: map[string]any{"entity_id": "light.living_room_main", "brightness": int64(80)},
		},
		{
			name: "raw string wrapped",
			raw:  "definitely not structured at all",
			want: map[string]any{"input": "definitely not structured at all"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLLM{resp: &llm.Response{ToolCalls: []llm.ToolCall{{
				Name: "HassTurnOn", Arguments: tt.raw,
			}}}}
			r := NewRouter(fake, indexWithTool("HassTurnOn", "home-assistant"))

			d, err := r.Route(context.Background(), RouteContext{Goal: "anything"})
			require.NoError(t, err)
			assert.Equal(t, ConfidenceToolCall, d.Confidence)
			assert.Equal(t, tt.want, d.Arguments)
		})
	}
}

func TestBuildRoutePrompt(t *testing.T) {
	prompt := buildRoutePrompt(RouteContext{
		Goal:        "close the blinds",
		CurrentStep: "call the cover service",
		History: []HistoryEntry{
			{Tool: "a", Success: true},
			{Tool: "b", Success: false},
			{Tool: "c", Success: true},
			{Tool: "d", Success: true},
		},
		Environment: map[string]any{
			"devices": "cover.bedroom (卧室窗帘)",
		},
	})

	assert.Contains(t, prompt, "Goal: close the blinds")
	assert.Contains(t, prompt, "Current step: call the cover service")
	// Only the last three history entries appear.
	assert.NotContains(t, prompt, "- a:")
	assert.Contains(t, prompt, "- b: failed")
	assert.Contains(t, prompt, "- d: ok")
	assert.Contains(t, prompt, "devices: cover.bedroom")
}
