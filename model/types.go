// Package model provides domain types shared across packages.
package model

// Step records one iteration of the query loop.
// Used by the agent for tracing and by storage for transcripts.
type Step struct {
	Iteration int      `json:"iteration"`
	Content   string   `json:"content"`
	Reasoning string   `json:"reasoning,omitempty"`
	Calls     []string `json:"calls,omitempty"`
	// Observations holds one tool result text per entry in Calls.
	Observations []string `json:"observations,omitempty"`
}

// IsFinal reports whether the step ended the loop without tool calls.
func (s Step) IsFinal() bool {
	return len(s.Calls) == 0
}

// ToolCall contains metrics about a tool invocation.
type ToolCall struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	InputSize  int    `json:"input_size"`
	OutputSize int    `json:"output_size"`
	DurationMs uint64 `json:"duration_ms"`
	Success    bool   `json:"success"`
}
