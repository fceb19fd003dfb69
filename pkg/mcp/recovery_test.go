package mcp

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RecoveryAction
	}{
		{"nil", nil, NoRetry},
		{"context canceled", context.Canceled, NoRetry},
		{"deadline exceeded", context.DeadlineExceeded, NoRetry},
		{"eof", io.EOF, RetryNewSession},
		{"connection refused", errors.New("dial tcp: connection refused"), RetryNewSession},
		{"broken pipe", errors.New("write: broken pipe"), RetryNewSession},
		{"unknown", errors.New("something odd"), NoRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTransportError(tt.err))
		})
	}
}

func TestRetryBackoffStaysWithinWindow(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := retryBackoff()
		assert.GreaterOrEqual(t, d, RetryBackoffMin)
		assert.Less(t, d, RetryBackoffMax)
	}
}

func TestClassifyToolError(t *testing.T) {
	tests := []struct {
		message string
		want    ToolErrorKind
	}{
		{"Entity light.kitchen not found", ErrorResourceNotFound},
		{"设备不存在", ErrorResourceNotFound},
		{"Invalid parameter: brightness", ErrorInvalidParameter},
		{"missing required field entity_id", ErrorInvalidParameter},
		{"Operation not supported by this device", ErrorToolUnsupported},
		{"Permission denied for service call", ErrorPermissionDenied},
		{"connection reset by peer", ErrorNetworkIssue},
		{"request timed out", ErrorNetworkIssue},
		{"some inscrutable failure", ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyToolError(tt.message))
		})
	}
}
