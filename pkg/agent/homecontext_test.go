package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homefox/homefox/pkg/task"
)

func TestIsHomeAutomationTask(t *testing.T) {
	tests := []struct {
		name  string
		setup func(tk *task.Task)
		want  bool
	}{
		{
			name: "explicit task_type marker",
			setup: func(tk *task.Task) {
				tk.Context["task_type"] = "home_automation"
			},
			want: true,
		},
		{
			name: "explicit boolean flag",
			setup: func(tk *task.Task) {
				tk.Context["home_automation"] = true
			},
			want: true,
		},
		{
			name: "prior hass tool call",
			setup: func(tk *task.Task) {
				tk.RecordEvent("tool_call", map[string]any{"tool": "HassTurnOn", "success": true})
			},
			want: true,
		},
		{
			name: "action verb with device word",
			setup: func(tk *task.Task) {
				tk.ExecutionData["user_intent"] = "打开客厅的窗帘"
			},
			want: true,
		},
		{
			name: "device word without action verb",
			setup: func(tk *task.Task) {
				tk.ExecutionData["user_intent"] = "客厅的灯好看吗"
			},
			want: false,
		},
		{
			name: "action verb without device word",
			setup: func(tk *task.Task) {
				tk.ExecutionData["user_intent"] = "打开一个网页"
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := task.New(task.TypeMCPCall)
			tt.setup(tk)
			assert.Equal(t, tt.want, IsHomeAutomationTask(tk))
		})
	}
}

func TestParseLiveContextEntitiesList(t *testing.T) {
	result := map[string]any{
		"entities": []any{
			map[string]any{
				"entity_id": "light.living_room",
				"name":      "客厅主灯",
				"state":     "off",
				"area":      "客厅",
			},
			map[string]any{
				"entity_id":  "cover.bedroom",
				"name":       "卧室窗帘",
				"state":      "open",
				"attributes": map[string]any{"current_position": float64(60)},
			},
			map[string]any{"name": "no id, dropped"},
		},
	}

	devices := ParseLiveContext("", result)
	require.Len(t, devices, 2)

	assert.Equal(t, "light.living_room", devices[0].EntityID)
	assert.Equal(t, "客厅主灯", devices[0].FriendlyName)
	assert.Equal(t, "light", devices[0].DeviceType)

	require.NotNil(t, devices[1].Position)
	assert.Equal(t, 60, *devices[1].Position)
}

func TestParseLiveContextTextualDump(t *testing.T) {
	dump := `- names: 客厅主灯
  domain: light
  state: 'off'
  areas: 客厅
- names: 卧室窗帘
  domain: cover
  state: open
  attributes: current_position: 45
`
	devices := ParseLiveContext(dump, nil)
	require.Len(t, devices, 2)

	assert.Equal(t, "客厅主灯", devices[0].FriendlyName)
	assert.Equal(t, "off", devices[0].State)
	assert.Equal(t, "light.客厅主灯", devices[0].EntityID, "entity id synthesized from domain and name")

	require.NotNil(t, devices[1].Position)
	assert.Equal(t, 45, *devices[1].Position)
}

func TestEnhanceGoal(t *testing.T) {
	pos := 50
	devices := []Device{
		{EntityID: "light.living_room", FriendlyName: "客厅主灯", Area: "客厅", State: "off"},
		{EntityID: "cover.bedroom", FriendlyName: "卧室窗帘", State: "open", Position: &pos},
	}

	enhanced := EnhanceGoal("打开客厅的灯", devices)
	assert.Contains(t, enhanced, "light.living_room")
	assert.Contains(t, enhanced, "position: 50")
	assert.Contains(t, enhanced, "原始目标: 打开客厅的灯")

	assert.Equal(t, "goal", EnhanceGoal("goal", nil), "no devices leaves the goal untouched")
}

func TestHomeContextProviderUsesFreshCache(t *testing.T) {
	p := NewHomeContextProvider(nil, time.Minute)

	tk := task.New(task.TypeMCPCall)
	tk.Context["home_live_context"] = map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"devices": []any{
			map[string]any{"entity_id": "light.living_room", "friendly_name": "客厅主灯", "state": "off"},
		},
	}

	devices := p.EnsureFresh(context.Background(), tk, false)
	require.Len(t, devices, 1)
	assert.Equal(t, "light.living_room", devices[0].EntityID)
}

func TestHomeContextProviderStaleCacheFallsBackWhenFetchFails(t *testing.T) {
	p := NewHomeContextProvider(nil, time.Minute)

	tk := task.New(task.TypeMCPCall)
	tk.Context["home_live_context"] = map[string]any{
		"timestamp": time.Now().Add(-5 * time.Minute).Format(time.RFC3339),
		"devices": []any{
			map[string]any{"entity_id": "light.living_room"},
		},
	}

	// No manager: the live fetch fails and the stale snapshot is reused.
	devices := p.EnsureFresh(context.Background(), tk, false)
	require.Len(t, devices, 1)
	assert.Equal(t, "light.living_room", devices[0].EntityID)
}

func TestHomeContextProviderConsumesForceRefreshFlag(t *testing.T) {
	p := NewHomeContextProvider(nil, time.Minute)

	tk := task.New(task.TypeMCPCall)
	tk.Context["force_refresh_home_context"] = true
	tk.Context["home_live_context"] = map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"devices":   []any{map[string]any{"entity_id": "light.a"}},
	}

	// The flag forces a fetch; with no manager the stale cache is reused, but
	// the flag itself must be consumed either way.
	devices := p.EnsureFresh(context.Background(), tk, false)
	require.Len(t, devices, 1)
	_, present := tk.Context["force_refresh_home_context"]
	assert.False(t, present)
}
