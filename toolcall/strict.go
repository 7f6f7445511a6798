package toolcall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	jsonx "github.com/richinex/toolweave/internal/json"
	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/tools"
)

// Strict generates calls with a dedicated JSON-mode LLM request and retries
// adaptively on failure.
type Strict struct {
	provider llm.Provider
	opts     Options
	logger   zerolog.Logger
	newID    func() string
}

// candidate is a parsed but not yet validated call.
type candidate struct {
	id   string
	typ  string
	name string
	args json.RawMessage
}

// Generate makes up to MaxRetries attempts and returns as soon as one attempt
// yields at least one valid call.
func (g *Strict) Generate(ctx context.Context, instruction string, catalog tools.Catalog) ([]llm.ToolCall, Stats) {
	stats := Stats{Errors: []string{}}
	currentInstruction, currentTools := instruction, catalog

	g.logger.Debug().Int("tools", len(catalog)).Msg("Starting tool call generation")

	for attempt := 0; attempt < g.opts.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			stats.Errors = append(stats.Errors, ctx.Err().Error())
			break
		}
		stats.Attempts = attempt + 1

		candidates, err := g.request(ctx, currentInstruction, currentTools)
		if err == nil && len(candidates) == 0 {
			err = errNoToolCalls
		}
		if err != nil {
			g.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Tool call attempt failed")
			stats.Errors = append(stats.Errors, err.Error())
			currentInstruction, currentTools = g.adapt(ctx, currentInstruction, currentTools, err, attempt)
			continue
		}

		stats.TotalCalls = len(candidates)
		var valid []llm.ToolCall
		for i, c := range candidates {
			call, verr := validate(c, catalog)
			if verr != nil {
				g.logger.Warn().Err(verr).Int("index", i).Int("attempt", attempt+1).
					Str("tool", c.name).Msg("Invalid tool call")
				stats.InvalidCalls++
				continue
			}
			valid = append(valid, call)
			stats.ValidCalls++
		}

		if len(valid) > 0 {
			stats.Success = true
			g.logger.Debug().Int("calls", len(valid)).Int("attempt", attempt+1).Msg("Generated valid tool calls")
			return valid, stats
		}
		g.logger.Warn().Int("attempt", attempt+1).Msg("No valid tool calls on attempt")
	}

	g.logger.Error().Int("max", g.opts.MaxRetries).Msg("Failed to generate valid tool calls after all attempts")
	return nil, stats
}

// request performs one JSON-mode generation call.
func (g *Strict) request(ctx context.Context, instruction string, catalog tools.Catalog) ([]candidate, error) {
	messages := []llm.ChatMessage{
		llm.SystemMessage(generationPrompt(catalog)),
		llm.UserMessage(instruction),
	}
	resp, err := g.provider.Chat(ctx, messages, g.opts.callOptions(
		llm.WithMaxTokens(maxTokensFor(messages)),
		llm.WithResponseFormat(llm.NewJSONObjectFormat()),
	)...)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return nil, fmt.Errorf("empty response from model")
	}
	return g.parse(content)
}

// parse reads either {"tool_calls": [...]} or a single {"function": {...}}.
func (g *Strict) parse(content string) ([]candidate, error) {
	fixed, err := jsonx.ExtractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("JSON parsing error: %w", err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(fixed), &top); err != nil {
		return nil, fmt.Errorf("JSON parsing error: %w", err)
	}

	if raw, ok := top["tool_calls"]; ok {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err == nil {
			out := make([]candidate, 0, len(elems))
			for i, elem := range elems {
				var wc wireCall
				if err := json.Unmarshal(elem, &wc); err != nil || wc.Function == nil {
					g.logger.Error().Int("index", i).Msg("Tool call missing function object")
					continue
				}
				args, ok := normalizeArgs(wc.Function.Arguments)
				if !ok {
					g.logger.Error().Int("index", i).Msg("Failed to parse arguments string as JSON")
					continue
				}
				out = append(out, candidate{id: g.newID(), typ: "function", name: wc.Function.Name, args: args})
			}
			return out, nil
		}
	}

	if raw, ok := top["function"]; ok {
		var fn wireFunction
		if err := json.Unmarshal(raw, &fn); err != nil {
			return nil, fmt.Errorf("invalid function object: %w", err)
		}
		return []candidate{{id: g.newID(), typ: "function", name: fn.Name, args: fn.Arguments}}, nil
	}

	return nil, fmt.Errorf("response does not contain tool_calls array or function object")
}

// normalizeArgs unwraps string-encoded arguments. Other shapes pass through
// for validate to judge.
func normalizeArgs(raw json.RawMessage) (json.RawMessage, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return raw, true
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, false
	}
	if !json.Valid([]byte(encoded)) {
		return nil, false
	}
	return json.RawMessage(encoded), true
}

// validate checks shape, catalog membership and argument type.
func validate(c candidate, catalog tools.Catalog) (llm.ToolCall, error) {
	if c.typ != "function" {
		return llm.ToolCall{}, fmt.Errorf("tool call is not a function call")
	}
	if c.name == "" || len(c.args) == 0 {
		return llm.ToolCall{}, errMissingArgs
	}
	if !catalog.Has(c.name) {
		return llm.ToolCall{}, fmt.Errorf("tool not in available tools: %s", c.name)
	}
	args, err := decodeArguments(c.args)
	if err != nil {
		return llm.ToolCall{}, err
	}
	return llm.ToolCall{ID: c.id, Name: c.name, Arguments: args}, nil
}

// adapt narrows the request for the next attempt. The first retry only trims
// the catalog; later ones ask the model to rewrite the instruction and shrink
// the catalog further.
func (g *Strict) adapt(ctx context.Context, instruction string, catalog tools.Catalog, cause error, attempt int) (string, tools.Catalog) {
	n := len(catalog)
	if attempt == 0 && n > 3 {
		keep := max(3, n/2)
		g.logger.Info().Int("original_count", n).Int("new_count", keep).Msg("Reducing tool count")
		return instruction, catalog[:keep]
	}

	adapted := instruction
	messages := []llm.ChatMessage{
		llm.SystemMessage(rewriteSystemPrompt),
		llm.UserMessage(rewritePrompt(instruction, cause.Error())),
	}
	resp, err := g.provider.Chat(ctx, messages, g.opts.callOptions(llm.WithMaxTokens(maxTokensFor(messages)))...)
	rewritten := ""
	if err == nil {
		rewritten = strings.TrimSpace(resp.Content)
	}
	if rewritten == "" {
		g.logger.Warn().Err(err).Msg("Failed to rewrite instruction using LLM")
		factor := min(0.3*float64(attempt+1), 0.8)
		runes := []rune(instruction)
		keepLen := max(50, int(float64(len(runes))*(1-factor)))
		if keepLen < len(runes) {
			adapted = string(runes[:keepLen])
		}
	} else {
		adapted = rewritten
	}

	keep := max(1, int(float64(n)*(1-min(0.25*float64(attempt), 0.75))))
	if keep < n {
		catalog = catalog[:keep]
	}

	g.logger.Debug().
		Int("attempt", attempt+1).
		Int("original_instruction_length", len(instruction)).
		Int("adapted_instruction_length", len(adapted)).
		Int("tools", len(catalog)).
		Bool("rewritten_by_llm", rewritten != "").
		Msg("Adapted parameters")
	return adapted, catalog
}
