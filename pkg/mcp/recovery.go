package mcp

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"strings"
	"time"
)

// RecoveryAction determines how to handle an MCP transport failure.
type RecoveryAction int

const (
	// NoRetry: the error is not recoverable (bad request, auth failure, timeout).
	NoRetry RecoveryAction = iota
	// RetrySameSession: transient error, retry on the existing session.
	RetrySameSession
	// RetryNewSession: transport failure, reconnect and retry.
	RetryNewSession
)

// Retry timing for transport-level recovery.
const (
	RetryBackoffMin = 250 * time.Millisecond
	RetryBackoffMax = 750 * time.Millisecond
)

// retryBackoff returns a jittered delay within the retry window so concurrent
// callers do not hammer a recovering server in lockstep.
func retryBackoff() time.Duration {
	return RetryBackoffMin + rand.N(RetryBackoffMax-RetryBackoffMin)
}

// ClassifyTransportError determines the recovery action for a transport
// error. Timeouts are not retried (the server may just be slow); connection
// drops get a fresh session.
func ClassifyTransportError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry
		}
		return RetryNewSession
	}
	if isConnectionError(err) {
		return RetryNewSession
	}
	return NoRetry
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// ToolErrorKind classifies tool-reported failures by message pattern. The
// executor picks a recovery strategy per kind: plan revision, retry with a
// forced context refresh, or outright failure.
type ToolErrorKind string

// Tool error kinds, most specific first.
const (
	ErrorResourceNotFound ToolErrorKind = "resource_not_found"
	ErrorInvalidParameter ToolErrorKind = "invalid_parameter"
	ErrorToolUnsupported  ToolErrorKind = "tool_unsupported"
	ErrorPermissionDenied ToolErrorKind = "permission_denied"
	ErrorNetworkIssue     ToolErrorKind = "network_issue"
	ErrorUnknown          ToolErrorKind = "unknown"
)

// errorPatterns maps substrings (lowercased) to kinds. Order matters: the
// first matching group wins.
var errorPatterns = []struct {
	kind     ToolErrorKind
	patterns []string
}{
	{ErrorResourceNotFound, []string{
		"not found", "does not exist", "no such entity", "unknown entity",
		"未找到", "不存在",
	}},
	{ErrorInvalidParameter, []string{
		"invalid param", "invalid argument", "missing required", "validation error",
		"参数错误", "参数无效",
	}},
	{ErrorToolUnsupported, []string{
		"not supported", "unsupported", "unknown tool", "method not found",
		"不支持",
	}},
	{ErrorPermissionDenied, []string{
		"permission denied", "unauthorized", "forbidden", "access denied",
		"无权限",
	}},
	{ErrorNetworkIssue, []string{
		"connection refused", "connection reset", "timeout", "timed out",
		"network", "unreachable",
	}},
}

// ClassifyToolError matches a tool error message against the known patterns.
func ClassifyToolError(message string) ToolErrorKind {
	lower := strings.ToLower(message)
	for _, group := range errorPatterns {
		for _, p := range group.patterns {
			if strings.Contains(lower, p) {
				return group.kind
			}
		}
	}
	return ErrorUnknown
}
