package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseJSON decodes a model reply that should be a JSON object, tolerating
// the usual LLM output quirks: markdown code fences, leading prose, trailing
// commas, single quotes. The cascade is strict decode → fence stripping →
// jsonrepair.
func ParseJSON(raw string, out any) error {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return fmt.Errorf("empty response")
	}

	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}

	candidate = StripFences(candidate)
	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return fmt.Errorf("repair json: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("decode repaired json: %w", err)
	}
	return nil
}

// StripFences removes a markdown code fence wrapping and any prose before the
// first brace or bracket.
func StripFences(s string) string {
	s = strings.TrimSpace(s)

	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		// Drop the language tag on the fence line.
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}

	// Cut leading prose before the JSON payload.
	start := strings.IndexAny(s, "{[")
	if start > 0 {
		s = s[start:]
	}
	return strings.TrimSpace(s)
}
