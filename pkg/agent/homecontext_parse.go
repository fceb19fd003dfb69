package agent

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseLiveContext extracts devices from a GetLiveContext response, accepting
// either the YAML-ish textual dump Home Assistant emits or an {entities: [...]}
// structured payload.
func ParseLiveContext(text string, result map[string]any) []Device {
	if devices := parseEntitiesList(result); len(devices) > 0 {
		return devices
	}
	return parseTextualDump(text)
}

// parseEntitiesList handles the {entities: [{entity_id, name, state, area, ...}]} shape.
func parseEntitiesList(result map[string]any) []Device {
	if result == nil {
		return nil
	}
	entities, ok := result["entities"].([]any)
	if !ok {
		if structured, ok := result["structuredContent"].(map[string]any); ok {
			entities, ok = structured["entities"].([]any)
			if !ok {
				return nil
			}
		} else {
			return nil
		}
	}

	devices := make([]Device, 0, len(entities))
	for _, item := range entities {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		d := Device{}
		d.EntityID, _ = m["entity_id"].(string)
		if d.EntityID == "" {
			continue
		}
		if name, ok := m["name"].(string); ok {
			d.FriendlyName = name
		} else {
			d.FriendlyName, _ = m["friendly_name"].(string)
		}
		d.Area, _ = m["area"].(string)
		d.State, _ = m["state"].(string)
		d.DeviceType = entityDomain(d.EntityID)
		if attrs, ok := m["attributes"].(map[string]any); ok {
			if pos, ok := numberValue(attrs["current_position"]); ok {
				v := pos
				d.Position = &v
			}
		}
		devices = append(devices, d)
	}
	return devices
}

// parseTextualDump handles the YAML-ish dump where each device block is
//
//   - names: 客厅主灯
//     domain: light
//     state: 'off'
//     areas: 客厅
//     attributes: current_position: 50
func parseTextualDump(text string) []Device {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var devices []Device
	var current *Device

	flush := func() {
		if current != nil && (current.EntityID != "" || current.FriendlyName != "") {
			if current.EntityID == "" {
				current.EntityID = synthesizeEntityID(current.DeviceType, current.FriendlyName)
			}
			devices = append(devices, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") {
			flush()
			current = &Device{}
			trimmed = strings.TrimPrefix(trimmed, "- ")
		}
		if current == nil {
			continue
		}

		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "'\"")

		switch key {
		case "names", "name":
			current.FriendlyName = value
		case "domain":
			current.DeviceType = value
		case "state":
			current.State = value
		case "areas", "area":
			current.Area = value
		case "entity_id":
			current.EntityID = value
		case "attributes":
			if pos, ok := positionFromAttributes(value); ok {
				v := pos
				current.Position = &v
			}
		case "current_position":
			if pos, err := strconv.Atoi(value); err == nil {
				v := pos
				current.Position = &v
			}
		}
	}
	flush()
	return devices
}

func positionFromAttributes(attrs string) (int, bool) {
	idx := strings.Index(attrs, "current_position")
	if idx < 0 {
		return 0, false
	}
	rest := strings.TrimLeft(attrs[idx+len("current_position"):], ": ")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	pos, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return pos, true
}

func entityDomain(entityID string) string {
	if idx := strings.Index(entityID, "."); idx > 0 {
		return entityID[:idx]
	}
	return ""
}

// synthesizeEntityID builds a placeholder id when the dump carries only a
// friendly name. Router prompts still work: the enhanced goal tells the
// model to use real ids from the rendered device list.
func synthesizeEntityID(domain, name string) string {
	if domain == "" {
		domain = "unknown"
	}
	return domain + "." + strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

func numberValue(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// EnhanceGoal appends the first ten devices, a parameter-usage rubric, and a
// restatement of the original goal.
func EnhanceGoal(goal string, devices []Device) string {
	if len(devices) == 0 {
		return goal
	}

	var b strings.Builder
	b.WriteString(goal)
	b.WriteString("\n\n当前可用设备:\n")
	limit := len(devices)
	if limit > 10 {
		limit = 10
	}
	for _, d := range devices[:limit] {
		fmt.Fprintf(&b, "- %s (%s", d.EntityID, d.FriendlyName)
		if d.Area != "" {
			fmt.Fprintf(&b, ", area: %s", d.Area)
		}
		if d.State != "" {
			fmt.Fprintf(&b, ", state: %s", d.State)
		}
		if d.Position != nil {
			fmt.Fprintf(&b, ", position: %d", *d.Position)
		}
		b.WriteString(")\n")
	}
	b.WriteString("\n参数要求: 使用上面列出的真实 entity_id 和真实区域名; cover 设备的 position 取值 0(全关)到 100(全开)。\n")
	fmt.Fprintf(&b, "\n原始目标: %s", goal)
	return b.String()
}
