// Package agent drives the tool-calling loop.
//
// Model performs one LLM round-trip and turns <tool_request> segments into
// structured calls. Processor runs the ReAct loop on top of it. Session wires
// both to a provider and a pool of tool servers.
package agent

import (
	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/model"
)

// ModelResponse is the uniform result of Model.Execute. LLM failures are
// reported in Err with Content set to "Error: <message>" and no calls.
type ModelResponse struct {
	Content   string
	ToolCalls []llm.ToolCall
	Reasoning string
	Usage     *llm.TokenUsage
	Err       error
}

// HasToolCalls reports whether the response asks for tool execution.
func (r ModelResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Step is an alias for model.Step for loop iterations.
type Step = model.Step

// ToolCall is an alias for model.ToolCall for tool call metrics.
type ToolCall = model.ToolCall

// Metadata contains metadata about one query.
type Metadata struct {
	ExecutionTimeMs uint64          `json:"execution_time_ms"`
	Iterations      int             `json:"iterations"`
	ToolCalls       []ToolCall      `json:"tool_calls,omitempty"`
	TokenUsage      *llm.TokenUsage `json:"token_usage,omitempty"`
	LLMCalls        int             `json:"llm_calls"`
}

// ResponseType indicates how a query ended.
type ResponseType int

const (
	// ResponseSuccess is a final answer.
	ResponseSuccess ResponseType = iota
	// ResponseFailure is an LLM failure or an aborted query.
	ResponseFailure
	// ResponseTimeout is the degraded answer after max iterations.
	ResponseTimeout
)

// String returns the lowercase name of the type.
func (t ResponseType) String() string {
	switch t {
	case ResponseSuccess:
		return "success"
	case ResponseFailure:
		return "failure"
	case ResponseTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by name.
func (t ResponseType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Response is the result of Processor.Process. Result always holds the text
// to show the user, for every type.
type Response struct {
	Type     ResponseType `json:"type"`
	Result   string       `json:"result"`
	Error    string       `json:"error,omitempty"`
	Steps    []Step       `json:"steps,omitempty"`
	Metadata Metadata     `json:"metadata"`
}

// ResultText returns the text to show the user.
func (r Response) ResultText() string {
	return r.Result
}

// IsSuccess checks if the query produced a final answer.
func (r Response) IsSuccess() bool {
	return r.Type == ResponseSuccess
}
