package conversation

import (
	"fmt"
	"strings"

	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/tools"
)

// Quirk selects how tool traffic is shaped for a provider.
type Quirk int

const (
	// QuirkText folds tool results into user text and drops assistant
	// tool_calls. Works with any chat endpoint.
	QuirkText Quirk = iota
	// QuirkNativeTools keeps tool-role messages and assistant tool_calls for
	// endpoints that accept them.
	QuirkNativeTools
)

// String returns the quirk name used in configuration.
func (q Quirk) String() string {
	switch q {
	case QuirkNativeTools:
		return "native"
	default:
		return "text"
	}
}

// ParseQuirk parses "text" or "native"; anything else is text.
func ParseQuirk(s string) Quirk {
	if strings.EqualFold(strings.TrimSpace(s), "native") {
		return QuirkNativeTools
	}
	return QuirkText
}

const catalogMarker = "Available tools:"

// Adapter projects a history onto a provider's accepted message shape. It
// never mutates its input.
type Adapter struct {
	Quirk Quirk
}

// Format returns the provider-shaped projection of messages. When catalog is
// non-empty and no earlier user message already carries the tool list, the
// description is appended to the last message if that message is a user turn.
func (a Adapter) Format(messages []llm.ChatMessage, catalog tools.Catalog) []llm.ChatMessage {
	formatted := make([]llm.ChatMessage, 0, len(messages))
	for i, msg := range messages {
		if msg.Role == llm.RoleSystem {
			formatted = append(formatted, msg)
			continue
		}

		out := a.shape(msg)
		if i == len(messages)-1 && msg.Role == llm.RoleUser && len(catalog) > 0 && !hasCatalog(formatted) {
			out.Content += "\n\n" + catalogMarker + "\n" + a.Describe(catalog)
		}
		formatted = append(formatted, out)
	}
	return a.merge(formatted)
}

func (a Adapter) shape(msg llm.ChatMessage) llm.ChatMessage {
	switch msg.Role {
	case llm.RoleAssistant:
		out := llm.ChatMessage{Role: llm.RoleAssistant, Content: msg.Content}
		if a.Quirk == QuirkNativeTools && len(msg.ToolCalls) > 0 {
			out.ToolCalls = append([]llm.ToolCall(nil), msg.ToolCalls...)
		}
		return out
	case llm.RoleTool:
		if a.Quirk == QuirkNativeTools {
			name := msg.Name
			if name == "" {
				name = "unknown_tool"
			}
			return llm.ChatMessage{Role: llm.RoleTool, Content: msg.Content, ToolCallID: msg.ToolCallID, Name: name}
		}
		name := msg.Name
		if name == "" {
			name = "unknown tool"
		}
		return llm.UserMessage(fmt.Sprintf("Tool result from %s:\n%s", name, msg.Content))
	default:
		return llm.ChatMessage{Role: msg.Role, Content: msg.Content}
	}
}

func hasCatalog(formatted []llm.ChatMessage) bool {
	for _, m := range formatted {
		if m.Role == llm.RoleUser && strings.Contains(m.Content, catalogMarker) {
			return true
		}
	}
	return false
}

// merge coalesces adjacent messages with the same role. System messages and,
// for the native quirk, tool messages are never merged.
func (a Adapter) merge(messages []llm.ChatMessage) []llm.ChatMessage {
	merged := make([]llm.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if n := len(merged); n > 0 && a.mergeable(merged[n-1], msg) {
			prev := &merged[n-1]
			prev.Content = joinContent(prev.Content, msg.Content)
			if len(msg.ToolCalls) > 0 {
				prev.ToolCalls = append(prev.ToolCalls, msg.ToolCalls...)
			}
			continue
		}
		merged = append(merged, msg)
	}
	return merged
}

func (a Adapter) mergeable(prev, next llm.ChatMessage) bool {
	if prev.Role != next.Role || next.Role == llm.RoleSystem {
		return false
	}
	if a.Quirk == QuirkNativeTools {
		return next.Role == llm.RoleUser || next.Role == llm.RoleAssistant
	}
	return true
}

func joinContent(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}

// Describe renders the tool catalog for the model.
func (a Adapter) Describe(catalog tools.Catalog) string {
	if a.Quirk == QuirkNativeTools {
		return describeCompact(catalog)
	}

	var blocks []string
	for _, s := range catalog {
		fn := s.Function
		if fn.Name == "" || fn.Description == "" {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "**Available Tool**: %s\nDescription: %s\nParameters:", fn.Name, fn.Description)
		names := s.ParamNames()
		if len(names) == 0 {
			b.WriteString("\n  No parameters")
		}
		for _, p := range names {
			prop := fn.Parameters.Properties[p]
			req := "optional"
			if s.IsRequired(p) {
				req = "required"
			}
			fmt.Fprintf(&b, "\n  - %s (%s, %s): %s", p, typeOrAny(prop.Type), req, prop.Description)
		}
		blocks = append(blocks, b.String())
	}
	return "Note that ONLY the following tools are available:\n" + strings.Join(blocks, "\n\n")
}

func describeCompact(catalog tools.Catalog) string {
	var lines []string
	for _, s := range catalog {
		fn := s.Function
		lines = append(lines, fmt.Sprintf("- %s: %s", fn.Name, fn.Description))
		names := s.ParamNames()
		if len(names) == 0 {
			continue
		}
		lines = append(lines, "  Parameters:")
		for _, p := range names {
			prop := fn.Parameters.Properties[p]
			lines = append(lines, fmt.Sprintf("  - %s (%s): %s", p, typeOrAny(prop.Type), prop.Description))
		}
	}
	return strings.Join(lines, "\n")
}

func typeOrAny(t string) string {
	if t == "" {
		return "any"
	}
	return t
}
