// Package conversation holds the canonical message log of one agent session
// and the adapter that reshapes it for a provider.
//
// Information Hiding:
// - History is append-only; callers never edit messages in place
// - Provider wire quirks live in Adapter, not in History
package conversation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/richinex/toolweave/llm"
)

// History is an ordered log of conversation turns. It is safe for concurrent
// use, although one session normally owns it exclusively.
type History struct {
	mu       sync.RWMutex
	messages []llm.ChatMessage
}

// NewHistory creates a history seeded with a system prompt. An empty prompt
// leaves the history empty.
func NewHistory(systemPrompt string) *History {
	h := &History{}
	if systemPrompt != "" {
		h.AddSystem(systemPrompt)
	}
	return h
}

// FromMessages rebuilds a history from stored messages.
func FromMessages(messages []llm.ChatMessage) *History {
	h := &History{messages: make([]llm.ChatMessage, len(messages))}
	copy(h.messages, messages)
	return h
}

func (h *History) append(msg llm.ChatMessage) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
}

// AddSystem appends a system message.
func (h *History) AddSystem(content string) {
	h.append(llm.SystemMessage(content))
}

// AddUser appends a user message.
func (h *History) AddUser(content string) {
	h.append(llm.UserMessage(content))
}

// AddAssistant appends an assistant message with optional tool calls.
func (h *History) AddAssistant(content string, calls ...llm.ToolCall) {
	msg := llm.AssistantMessage(content)
	if len(calls) > 0 {
		msg.ToolCalls = append([]llm.ToolCall(nil), calls...)
	}
	h.append(msg)
}

// AddToolResult appends a tool message. An empty callID becomes
// "call_<toolName>".
func (h *History) AddToolResult(toolName, result, callID string) {
	if callID == "" {
		callID = "call_" + toolName
	}
	h.append(llm.ChatMessage{
		Role:       llm.RoleTool,
		Content:    result,
		ToolCallID: callID,
		Name:       toolName,
	})
}

// Messages returns a copy of the log.
func (h *History) Messages() []llm.ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]llm.ChatMessage, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// LastMessage returns the most recent message, if any.
func (h *History) LastMessage() (llm.ChatMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) == 0 {
		return llm.ChatMessage{}, false
	}
	return h.messages[len(h.messages)-1], true
}

// Clear drops every message except system messages, keeping their order.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.messages[:0:0]
	for _, msg := range h.messages {
		if msg.Role == llm.RoleSystem {
			kept = append(kept, msg)
		}
	}
	h.messages = kept
}

// Restore replaces the log with stored messages. System messages already in
// the log are kept when messages carries none of its own.
func (h *History) Restore(messages []llm.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var restored []llm.ChatMessage
	hasSystem := false
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			hasSystem = true
			break
		}
	}
	if !hasSystem {
		for _, msg := range h.messages {
			if msg.Role == llm.RoleSystem {
				restored = append(restored, msg)
			}
		}
	}
	h.messages = append(restored, messages...)
}

// DebugString renders the log for debug logging.
func (h *History) DebugString() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var b strings.Builder
	b.WriteString("=== CONVERSATION HISTORY DEBUG OUTPUT ===\n")
	for i, msg := range h.messages {
		switch msg.Role {
		case llm.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				names := make([]string, len(msg.ToolCalls))
				for j, tc := range msg.ToolCalls {
					names[j] = tc.Name
				}
				fmt.Fprintf(&b, "[%d] ASSISTANT [TOOLS: %s]: %s\n", i, strings.Join(names, ", "), msg.Content)
			} else {
				fmt.Fprintf(&b, "[%d] ASSISTANT: %s\n", i, msg.Content)
			}
		case llm.RoleTool:
			fmt.Fprintf(&b, "[%d] TOOL [%s]: %s\n", i, msg.Name, msg.Content)
		default:
			fmt.Fprintf(&b, "[%d] %s: %s\n", i, strings.ToUpper(msg.Role), msg.Content)
		}
	}
	b.WriteString(strings.Repeat("=", 40))
	return b.String()
}
