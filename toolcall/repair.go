package toolcall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	jsonx "github.com/richinex/toolweave/internal/json"
	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/tools"
)

const (
	// placeholderMinLen is the length above which string arguments are parked
	// behind a PARAM_<n> token during repair.
	placeholderMinLen = 100
	placeholderPrefix = "PARAM_"
)

// Repair validates a tool_calls JSON object written by the agent model and
// fixes unknown tool names and parameters in one pass.
type Repair struct {
	provider llm.Provider
	opts     Options
	logger   zerolog.Logger
	newID    func() string
}

// Generate parses instruction as JSON and repairs every call it can.
func (g *Repair) Generate(ctx context.Context, instruction string, catalog tools.Catalog) ([]llm.ToolCall, Stats) {
	stats := Stats{Attempts: 1, Errors: []string{}}
	g.logger.Info().Int("tools", len(catalog)).Msg("Starting tool call processing")

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(instruction), &parsed); err != nil {
		// tolerate fences and prose around the object
		fixed, ferr := jsonx.ExtractJSON(instruction)
		if ferr != nil || json.Unmarshal([]byte(fixed), &parsed) != nil {
			msg := fmt.Sprintf("JSON parsing error: %v", err)
			stats.Errors = append(stats.Errors, msg)
			g.logger.Error().Err(err).Msg("JSON parsing error")
			return nil, stats
		}
	}

	calls := g.repair(ctx, parsed, catalog, &stats)
	if len(calls) == 0 {
		stats.Errors = append(stats.Errors, "Failed to repair tool calls")
		g.logger.Warn().Object("stats", stats).Msg("Failed to repair any tool calls")
		return nil, stats
	}

	stats.Success = true
	stats.TotalCalls = len(calls)
	stats.ValidCalls = len(calls)
	g.logger.Info().Object("stats", stats).Msg("Successfully repaired tool calls")
	return calls, stats
}

func (g *Repair) repair(ctx context.Context, parsed map[string]json.RawMessage, catalog tools.Catalog, stats *Stats) []llm.ToolCall {
	var elems []json.RawMessage
	if raw, ok := parsed["tool_calls"]; !ok || json.Unmarshal(raw, &elems) != nil {
		g.logger.Warn().Msg("No valid tool_calls array found in JSON")
		return nil
	}

	var (
		parked []parkedArg
		result []llm.ToolCall
	)

	for i, elem := range elems {
		var wc wireCall
		if err := json.Unmarshal(elem, &wc); err != nil || wc.Function == nil {
			g.logger.Warn().Int("index", i).Msg("Tool call missing function object")
			stats.FailedRepairs++
			continue
		}

		args, err := decodeArguments(wc.Function.Arguments)
		if err != nil {
			if len(wc.Function.Arguments) > 0 {
				g.logger.Warn().Err(err).Int("index", i).Msg("Failed to parse arguments, using empty object")
			}
			args = map[string]any{}
		}

		name := wc.Function.Name
		schema, known := catalog.Lookup(name)
		if !known {
			g.logger.Warn().Str("tool", name).Strs("available_tools", catalog.Names()).Msg("Invalid tool name")
			closest := g.findClosest(ctx, name, args, catalog)
			if closest == "" {
				g.logger.Error().Str("invalid_tool", name).Msg("Failed to find closest tool match")
				stats.FailedRepairs++
				continue
			}
			g.logger.Info().Str("original", name).Str("repaired", closest).Msg("Repaired invalid tool name")
			stats.RepairedCalls++
			name = closest
			schema, _ = catalog.Lookup(name)
		}

		valid := make(map[string]any, len(args))
		for param, value := range args {
			if _, ok := schema.Function.Parameters.Properties[param]; !ok {
				g.logger.Warn().Str("tool", name).Str("param", param).Msg("Invalid parameter name")
				continue
			}
			if s, ok := value.(string); ok && utf8.RuneCountInString(s) > placeholderMinLen {
				token := fmt.Sprintf("%s%d", placeholderPrefix, len(parked))
				parked = append(parked, parkedArg{call: len(result), param: param, value: s})
				valid[param] = token
				stats.ParamOptimizations++
				continue
			}
			valid[param] = value
		}

		var missing []string
		for _, req := range schema.Function.Parameters.Required {
			if _, ok := valid[req]; !ok {
				valid[req] = ""
				missing = append(missing, req)
			}
		}
		if len(missing) > 0 {
			g.logger.Warn().Str("tool", name).Strs("missing_params", missing).Msg("Added missing required parameters")
		}

		id := wc.ID
		if id == "" {
			id = g.newID()
		}
		result = append(result, llm.ToolCall{ID: id, Name: name, Arguments: valid})
		stats.ValidatedCalls++
	}

	for _, p := range parked {
		result[p.call].Arguments[p.param] = p.value
	}
	return result
}

// parkedArg is a long string argument replaced by a PARAM_<n> token while
// the call is validated.
type parkedArg struct {
	call  int
	param string
	value string
}

// findClosest asks the model for the nearest catalog name and falls back to
// positional character similarity. It returns "" when nothing is close enough.
func (g *Repair) findClosest(ctx context.Context, invalid string, args map[string]any, catalog tools.Catalog) string {
	messages := []llm.ChatMessage{
		llm.SystemMessage(matchSystemPrompt),
		llm.UserMessage(matchPrompt(invalid, args, catalog)),
	}
	opts := []llm.CallOption{llm.WithTemperature(0.1), llm.WithMaxTokens(50)}
	if g.opts.Model != "" {
		opts = append(opts, llm.WithModel(g.opts.Model))
	}

	resp, err := g.provider.Chat(ctx, messages, opts...)
	if err != nil {
		g.logger.Warn().Err(err).Msg("LLM recommendation error")
	} else {
		suggested := strings.TrimSpace(resp.Content)
		if catalog.Has(suggested) {
			g.logger.Info().Str("invalid", invalid).Str("suggestion", suggested).Msg("Using LLM suggested tool")
			return suggested
		}
		g.logger.Warn().Str("suggestion", suggested).Msg("LLM suggested invalid tool")
	}

	best, score := closestByPosition(invalid, catalog.Names())
	threshold := float64(utf8.RuneCountInString(invalid)) * 0.3
	if float64(score) > threshold {
		g.logger.Info().Str("invalid", invalid).Str("match", best).Int("score", score).Msg("Found similar tool via string matching")
		return best
	}
	g.logger.Warn().Str("invalid", invalid).Int("best_score", score).Float64("threshold", threshold).Msg("No similar tool found")
	return ""
}

// closestByPosition scores each candidate by the number of positions where it
// agrees with s and returns the first best one.
func closestByPosition(s string, candidates []string) (string, int) {
	a := []rune(s)
	best, bestScore := "", 0
	for _, c := range candidates {
		b := []rune(c)
		score := 0
		for i := 0; i < len(a) && i < len(b); i++ {
			if a[i] == b[i] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore
}
