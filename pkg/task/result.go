package task

// Tool outputs and task results are free-form maps whose shape depends on the
// producing tool. The helpers here implement the unwrap cascade used when the
// final output of a plan (or an MCP sub-task) is surfaced to the user:
// prefer formatted_output, then result, recursively unwrapping nested
// {result: {...}} and {content: ...} envelopes.

// ExtractOutput resolves the user-facing output of a result map.
func ExtractOutput(result map[string]any) any {
	if result == nil {
		return nil
	}
	if v, ok := result["formatted_output"]; ok && v != nil {
		return v
	}
	if v, ok := result["result"]; ok && v != nil {
		return Unwrap(v)
	}
	return nil
}

// Unwrap recursively strips {result: ...} and {content: ...} envelopes until
// a plain value remains. Non-map values are returned as-is.
func Unwrap(v any) any {
	for {
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		if inner, ok := m["formatted_output"]; ok && inner != nil {
			v = inner
			continue
		}
		if inner, ok := m["result"]; ok && inner != nil {
			v = inner
			continue
		}
		if inner, ok := m["content"]; ok && inner != nil {
			v = inner
			continue
		}
		return v
	}
}

// AsMap asserts v to a map[string]any.
func AsMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// GetString reads a string field from a result map, returning "" when the
// key is absent or not a string.
func GetString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// GetBool reads a bool field from a result map.
func GetBool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}
