package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMarkers(t *testing.T) {
	err := Client("spawn failed", errors.New("exec: not found"))

	assert.ErrorIs(t, err, ErrClient)
	assert.NotErrorIs(t, err, ErrLLM)
	assert.Equal(t, "spawn failed: exec: not found", err.Error())
	assert.Equal(t, "ClientError", err.Kind.String())
}

func TestWrappedCauseIsReachable(t *testing.T) {
	err := fmt.Errorf("calling add: %w", Client("call timed out", ErrTimeout))

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrClient)
	assert.Equal(t, KindClient, KindOf(err))
}

func TestErrorDoesNotRepeatCause(t *testing.T) {
	cause := errors.New("boom")
	err := ToolExecution("Failed to execute tool add: boom", cause)
	assert.Equal(t, "Failed to execute tool add: boom", err.Error())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		kind Kind
	}{
		{"missing config value", KindConfiguration},
		{"DEEPSEEK api key not set", KindConfiguration},
		{"tool call rejected", KindToolExecution},
		{"connection reset by peer", KindClient},
		{"mcp handshake failed", KindClient},
		{"chat completion failed", KindLLM},
		{"something odd", KindAgent},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := Classify(errors.New(tt.msg))
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
		})
	}
}

func TestClassifyKeepsTypedErrors(t *testing.T) {
	orig := LLM("empty response", nil)
	assert.Same(t, orig, Classify(fmt.Errorf("wrapped: %w", orig)))
	assert.Nil(t, Classify(nil))
}

func TestWithDetails(t *testing.T) {
	err := ToolExecution("failed", nil).With("tool", "add").With("attempt", 2)
	assert.Equal(t, map[string]any{"tool": "add", "attempt": 2}, err.Details)
}
