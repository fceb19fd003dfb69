package mcp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken approximates tokens for threshold checks; exact counting
// would need a tokenizer dependency for little benefit.
const charsPerToken = 4

// DefaultPromptMaxTokens caps a single rendered value inside a router or
// reply-synthesis prompt.
const DefaultPromptMaxTokens = 2000

// DefaultResultMaxTokens caps tool output stored on a task result.
const DefaultResultMaxTokens = 8000

// EstimateTokens returns an approximate token count. len() counts bytes, so
// multi-byte content (CJK) overestimates, so truncation triggers early, which
// is the safe direction.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// truncateAtLineBoundary cuts at the last newline before the byte limit so
// indented JSON or YAML is not split mid-line, backing up first to avoid
// splitting a multi-byte rune.
func truncateAtLineBoundary(content string, maxChars int, marker string) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf("\n[TRUNCATED: %s, original %dB]", marker, len(content))
}

// TruncateForPrompt bounds a value rendered into an LLM prompt.
func TruncateForPrompt(content string) string {
	return truncateAtLineBoundary(content, DefaultPromptMaxTokens*charsPerToken,
		"prompt value limit")
}

// TruncateForResult bounds tool output before it is stored on a task result.
func TruncateForResult(content string) string {
	return truncateAtLineBoundary(content, DefaultResultMaxTokens*charsPerToken,
		"result storage limit")
}
