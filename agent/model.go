package agent

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/richinex/toolweave/conversation"
	"github.com/richinex/toolweave/internal/errs"
	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/toolcall"
	"github.com/richinex/toolweave/tools"
)

var toolRequestPattern = regexp.MustCompile(`(?s)<tool_request>(.*?)</tool_request>`)

// Model performs one LLM round-trip over its history and converts the tool
// requests found in the reply into structured calls.
type Model struct {
	provider  llm.Provider
	history   *conversation.History
	adapter   conversation.Adapter
	generator toolcall.Generator
	logger    zerolog.Logger
}

// NewModel creates a model whose history starts with systemPrompt.
func NewModel(provider llm.Provider, generator toolcall.Generator, systemPrompt string, quirk conversation.Quirk, logger zerolog.Logger) *Model {
	return &Model{
		provider:  provider,
		history:   conversation.NewHistory(systemPrompt),
		adapter:   conversation.Adapter{Quirk: quirk},
		generator: generator,
		logger:    logger,
	}
}

// History returns the conversation history the model reads from.
func (m *Model) History() *conversation.History {
	return m.history
}

// Execute formats the history, calls the provider once and resolves every
// <tool_request> segment of the reply, in order. It never returns an error;
// failures are reported through ModelResponse.Err.
func (m *Model) Execute(ctx context.Context, catalog tools.Catalog) ModelResponse {
	messages := m.adapter.Format(m.history.Messages(), catalog)
	m.logger.Debug().Int("messages", len(messages)).Str("model", m.provider.Model()).Msg("Calling model")

	resp, err := m.provider.Chat(ctx, messages)
	if err != nil {
		return errorResponse(errs.LLM("Failed to get response from model", err))
	}
	if strings.TrimSpace(resp.Content) == "" {
		return errorResponse(errs.LLM("Failed to get response from model", nil))
	}

	out := ModelResponse{Content: resp.Content, Reasoning: resp.Reasoning, Usage: resp.Usage}
	m.logger.Info().Str("content", resp.Content).Msg("Received response from model")
	if resp.Reasoning != "" {
		m.logger.Info().Str("reasoning", resp.Reasoning).Msg("Reasoning content")
	}

	requests := ToolRequests(resp.Content)
	switch {
	case len(requests) == 0:
		m.logger.Debug().Msg("No tool requests in response")
		return out
	case len(catalog) == 0:
		m.logger.Warn().Int("requests", len(requests)).Msg("Found tool requests, but no tools were provided to execute")
		return out
	}

	for i, instruction := range requests {
		m.logger.Info().Int("request", i+1).Str("instruction", instruction).Msg("Processing tool request")
		calls, stats := m.generator.Generate(ctx, instruction, catalog)
		if len(calls) == 0 {
			m.logger.Error().Int("request", i+1).Object("stats", stats).Msg("Failed to generate valid tool calls")
			continue
		}
		out.ToolCalls = append(out.ToolCalls, calls...)
		m.logger.Debug().Int("request", i+1).Int("calls", stats.ValidCalls).Msg("Generated tool calls")
	}
	if len(out.ToolCalls) == 0 {
		m.logger.Warn().Msg("None of the tool requests produced valid tool calls")
	}
	m.uniqueIDs(out.ToolCalls)
	return out
}

// uniqueIDs gives a fresh id to every call whose id is empty or already used,
// by an earlier call in calls or anywhere in the history, so each tool result
// links to exactly one call.
func (m *Model) uniqueIDs(calls []llm.ToolCall) {
	if len(calls) == 0 {
		return
	}
	seen := make(map[string]bool)
	for _, msg := range m.history.Messages() {
		for _, c := range msg.ToolCalls {
			seen[c.ID] = true
		}
		if msg.ToolCallID != "" {
			seen[msg.ToolCallID] = true
		}
	}
	for i := range calls {
		id := calls[i].ID
		for id == "" || seen[id] {
			id = toolcall.NewCallID()
		}
		if id != calls[i].ID {
			m.logger.Debug().Str("tool", calls[i].Name).Str("id", calls[i].ID).Str("new_id", id).Msg("Replaced duplicate tool call id")
			calls[i].ID = id
		}
		seen[id] = true
	}
}

// ToolRequests returns the trimmed inner text of every <tool_request>
// segment in content, in order.
func ToolRequests(content string) []string {
	matches := toolRequestPattern.FindAllStringSubmatch(content, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

func errorResponse(err *errs.Error) ModelResponse {
	return ModelResponse{Content: "Error: " + err.Error(), Err: err}
}
