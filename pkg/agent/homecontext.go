package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/homefox/homefox/pkg/mcp"
	"github.com/homefox/homefox/pkg/task"
)

// Device is the uniform representation of one home-automation entity.
type Device struct {
	EntityID     string `json:"entity_id"`
	FriendlyName string `json:"friendly_name"`
	Area         string `json:"area"`
	State        string `json:"state"`
	DeviceType   string `json:"device_type"`
	Position     *int   `json:"position,omitempty"`
}

// liveContextTool is the Home Assistant tool that dumps device state.
const liveContextTool = "GetLiveContext"

var homeDeviceWords = []string{
	"灯", "窗帘", "空调", "风扇", "插座", "开关", "温度", "湿度",
	"light", "curtain", "cover", "blind", "climate", "fan", "switch",
	"thermostat", "plug",
}

var hassToolPrefixes = []string{"hass", "homeassistant"}

// IsHomeAutomationTask applies the detection heuristics: explicit context
// markers, prior Home Assistant tool calls, or an action verb paired with a
// device word in the intent.
func IsHomeAutomationTask(t *task.Task) bool {
	snap := t.Snapshot()

	if tt, ok := snap.Context["task_type"].(string); ok && tt == "home_automation" {
		return true
	}
	if flag, ok := snap.Context["home_automation"].(bool); ok && flag {
		return true
	}

	for _, event := range snap.History {
		if event.Details == nil {
			continue
		}
		tool, ok := event.Details["tool"].(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(tool)
		for _, prefix := range hassToolPrefixes {
			if strings.HasPrefix(lower, prefix) {
				return true
			}
		}
	}

	intent, _ := snap.ExecutionData["user_intent"].(string)
	if intent == "" {
		intent, _ = snap.ExecutionData["goal"].(string)
	}
	lower := strings.ToLower(intent)
	hasAction := false
	for _, verb := range actionVerbs {
		if strings.Contains(lower, verb) {
			hasAction = true
			break
		}
	}
	if !hasAction {
		return false
	}
	for _, word := range homeDeviceWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// HomeContextProvider fetches and caches live device context from the
// home-automation MCP server.
type HomeContextProvider struct {
	manager *mcp.Manager
	ttl     time.Duration
	logger  *slog.Logger
}

// NewHomeContextProvider creates a provider. ttl defaults to 60s.
func NewHomeContextProvider(manager *mcp.Manager, ttl time.Duration) *HomeContextProvider {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &HomeContextProvider{
		manager: manager,
		ttl:     ttl,
		logger:  slog.With("component", "home_context"),
	}
}

// EnsureFresh guarantees the task's context carries a usable device snapshot:
// a fresh cached one is reused; a stale one, a force_refresh_home_context
// flag, or forceRefresh triggers a live fetch. Returns the devices, or nil
// when no home server is reachable.
func (p *HomeContextProvider) EnsureFresh(ctx context.Context, t *task.Task, forceRefresh bool) []Device {
	force := forceRefresh
	if flag, ok := t.Context["force_refresh_home_context"].(bool); ok && flag {
		force = true
		delete(t.Context, "force_refresh_home_context")
	}

	if !force {
		if devices, ok := p.cachedDevices(t); ok {
			return devices
		}
	}

	devices, raw, err := p.fetch(ctx)
	if err != nil {
		p.logger.Warn("Live context fetch failed", "error", err)
		// Fall back to a stale cache rather than nothing.
		if devices, ok := p.staleDevices(t); ok {
			return devices
		}
		return nil
	}

	areas := make(map[string]bool)
	deviceMaps := make([]any, 0, len(devices))
	for _, d := range devices {
		if d.Area != "" {
			areas[d.Area] = true
		}
		deviceMaps = append(deviceMaps, deviceToMap(d))
	}
	areaList := make([]any, 0, len(areas))
	for a := range areas {
		areaList = append(areaList, a)
	}

	t.Context["home_live_context"] = map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"devices":   deviceMaps,
		"areas":     areaList,
		"raw_data":  raw,
	}
	return devices
}

// cachedDevices returns the cached snapshot when it is younger than the TTL.
func (p *HomeContextProvider) cachedDevices(t *task.Task) ([]Device, bool) {
	cache, ok := t.Context["home_live_context"].(map[string]any)
	if !ok {
		return nil, false
	}
	stamp, ok := cache["timestamp"].(string)
	if !ok {
		return nil, false
	}
	at, err := time.Parse(time.RFC3339, stamp)
	if err != nil || time.Since(at) >= p.ttl {
		return nil, false
	}
	return devicesFromCache(cache), true
}

func (p *HomeContextProvider) staleDevices(t *task.Task) ([]Device, bool) {
	cache, ok := t.Context["home_live_context"].(map[string]any)
	if !ok {
		return nil, false
	}
	return devicesFromCache(cache), true
}

func devicesFromCache(cache map[string]any) []Device {
	raw, ok := cache["devices"].([]any)
	if !ok {
		return nil
	}
	devices := make([]Device, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		d := Device{}
		d.EntityID, _ = m["entity_id"].(string)
		d.FriendlyName, _ = m["friendly_name"].(string)
		d.Area, _ = m["area"].(string)
		d.State, _ = m["state"].(string)
		d.DeviceType, _ = m["device_type"].(string)
		if pos, ok := m["position"].(float64); ok {
			v := int(pos)
			d.Position = &v
		} else if pos, ok := m["position"].(int); ok {
			v := pos
			d.Position = &v
		}
		devices = append(devices, d)
	}
	return devices
}

func deviceToMap(d Device) map[string]any {
	m := map[string]any{
		"entity_id":     d.EntityID,
		"friendly_name": d.FriendlyName,
		"area":          d.Area,
		"state":         d.State,
		"device_type":   d.DeviceType,
	}
	if d.Position != nil {
		m["position"] = *d.Position
	}
	return m
}

// fetch calls GetLiveContext on the first Ready connection whose server id
// contains "home" or "hass".
func (p *HomeContextProvider) fetch(ctx context.Context) ([]Device, string, error) {
	if p.manager == nil {
		return nil, "", fmt.Errorf("no mcp manager")
	}

	var conn *mcp.Connection
	for _, c := range p.manager.ReadyConnections() {
		id := strings.ToLower(c.ServerID())
		if strings.Contains(id, "home") || strings.Contains(id, "hass") {
			conn = c
			break
		}
	}
	if conn == nil {
		return nil, "", fmt.Errorf("no home-automation server connected")
	}

	env := mcp.Lift(conn.CallTool(ctx, liveContextTool, map[string]any{}))
	if !env.Success {
		return nil, "", fmt.Errorf("live context: %s", env.Error)
	}

	raw := mcp.TextContent(env.Result)
	devices := ParseLiveContext(raw, env.Result)
	return devices, raw, nil
}
