// ReAct (Reason + Act) loop implementation.
//
// Information Hiding:
// - Loop state machine hidden
// - Tool execution ordering hidden
// - Top-level error conversion hidden

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/richinex/toolweave/conversation"
	"github.com/richinex/toolweave/internal/errs"
	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/logging"
	"github.com/richinex/toolweave/mcp"
	"github.com/richinex/toolweave/toolcall"
	"github.com/richinex/toolweave/tools"
)

const (
	degradedPrefix = "I spent too much time processing your request. Here's what I've gathered so far: "
	apologyPrefix  = "Sorry, there was a technical problem processing your request. Error: "
)

// ToolSource is everything the loop needs from the tool side. *mcp.Pool
// implements it.
type ToolSource interface {
	tools.Invoker
	tools.SchemaSource
	Catalog() tools.Catalog
	ToolMapping() []mcp.ServerTools
}

// Processor runs queries through the model and the tools until the model
// answers without tool calls or the iteration budget runs out.
type Processor struct {
	cfg      Config
	model    *Model
	source   ToolSource
	executor *tools.Executor
	logger   zerolog.Logger
}

// NewProcessor wires a processor. source may be nil for a tool-less agent.
func NewProcessor(provider llm.Provider, source ToolSource, cfg Config) *Processor {
	cfg = cfg.withDefaults()
	logger := logging.Component("agent")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	gen := cfg.ToolCalling
	if gen.Logger == nil {
		gen.Logger = cfg.Logger
	}
	generator := toolcall.New(cfg.Version, provider, gen)

	p := &Processor{
		cfg:    cfg,
		model:  NewModel(provider, generator, cfg.FullSystemPrompt(), cfg.Quirk, logger),
		source: source,
		logger: logger,
	}
	if source != nil {
		execCfg := cfg.Exec
		if execCfg.Logger == nil {
			execCfg.Logger = cfg.Logger
		}
		p.executor = tools.NewExecutor(source, source, execCfg)
	}
	return p
}

// Model returns the orchestration model.
func (p *Processor) Model() *Model { return p.model }

// History returns the conversation history.
func (p *Processor) History() *conversation.History { return p.model.History() }

// Reset drops everything but the system prompt.
func (p *Processor) Reset() { p.model.History().Clear() }

// Process answers one query. It never fails: an aborted query comes back as
// a ResponseFailure whose Result is an apology carrying the error message.
func (p *Processor) Process(ctx context.Context, query string) Response {
	start := time.Now()
	resp, err := p.run(ctx, query)
	resp.Metadata.ExecutionTimeMs = uint64(time.Since(start).Milliseconds())
	if err != nil {
		e := errs.Classify(err)
		p.logger.Error().Err(e).Int("history_length", p.History().Len()).Msg("Error in query processing")
		resp.Type = ResponseFailure
		resp.Error = e.Error()
		resp.Result = apologyPrefix + e.Error()
	}
	return resp
}

func (p *Processor) run(ctx context.Context, query string) (Response, error) {
	var resp Response
	history := p.History()

	p.logger.Debug().Str("query", query).Msg("Processing user query")

	var catalog tools.Catalog
	if p.source != nil {
		catalog = p.source.Catalog()
		if mapping := describeMapping(p.source.ToolMapping()); mapping != "" {
			history.AddUser("[TOOL MAPPING CONTEXT]\n" + mapping + "\n[USER QUERY FOLLOWS]")
			p.logger.Debug().Msg("Injected tool mapping context")
		}
	}
	history.AddUser(query)

	var usage llm.TokenUsage
	content := ""
	for iteration := 0; iteration < p.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return resp, fmt.Errorf("query cancelled: %w", err)
		}
		resp.Metadata.Iterations = iteration + 1

		mr := p.model.Execute(ctx, catalog)
		resp.Metadata.LLMCalls++
		if mr.Usage != nil {
			usage.PromptTokens += mr.Usage.PromptTokens
			usage.CompletionTokens += mr.Usage.CompletionTokens
			usage.TotalTokens += mr.Usage.TotalTokens
			resp.Metadata.TokenUsage = &usage
		}
		content = mr.Content
		step := Step{Iteration: iteration, Content: content, Reasoning: mr.Reasoning}

		if !mr.HasToolCalls() {
			history.AddAssistant(content)
			resp.Steps = append(resp.Steps, step)
			resp.Result = content
			resp.Type = ResponseSuccess
			if mr.Err != nil {
				resp.Type = ResponseFailure
				resp.Error = mr.Err.Error()
			}
			p.logger.Info().Int("iterations", iteration+1).Msg("Final response ready")
			return resp, nil
		}

		history.AddAssistant(content, mr.ToolCalls...)
		p.logger.Debug().Int("calls", len(mr.ToolCalls)).Int("iteration", iteration+1).Msg("Processing tool calls")

		results, metrics := p.execute(ctx, mr.ToolCalls)
		for i, call := range mr.ToolCalls {
			text := results[i].Text()
			history.AddToolResult(call.Name, text, call.ID)
			step.Calls = append(step.Calls, call.Name)
			step.Observations = append(step.Observations, text)
		}
		resp.Metadata.ToolCalls = append(resp.Metadata.ToolCalls, metrics...)
		resp.Steps = append(resp.Steps, step)
	}

	p.logger.Warn().Int("max", p.cfg.MaxIterations).Msg("Reached maximum iterations")
	final := degradedPrefix + content
	history.AddAssistant(final)
	resp.Type = ResponseTimeout
	resp.Result = final
	return resp, nil
}

// execute runs calls and returns one result per call, in call order.
func (p *Processor) execute(ctx context.Context, calls []llm.ToolCall) ([]tools.Result, []ToolCall) {
	results := make([]tools.Result, len(calls))
	metrics := make([]ToolCall, len(calls))

	one := func(i int) {
		call := calls[i]
		if p.executor == nil {
			results[i] = tools.Result{CallID: call.ID, Name: call.Name,
				Err: errs.ToolExecution("Failed to execute tool "+call.Name, errs.ErrUnknownTool)}
		} else {
			p.logger.Info().Str("tool", call.Name).Str("args", call.ArgumentsJSON()).Msg("Calling tool")
			start := time.Now()
			results[i] = p.executor.Execute(ctx, call)
			metrics[i].DurationMs = uint64(time.Since(start).Milliseconds())
		}
		r := results[i]
		metrics[i].ID = call.ID
		metrics[i].Name = call.Name
		metrics[i].InputSize = len(call.ArgumentsJSON())
		metrics[i].OutputSize = len(r.Output)
		metrics[i].Success = r.Success()
		if r.Err != nil {
			p.logger.Error().Err(r.Err).Str("tool", call.Name).Msg("Tool call failed")
		} else {
			p.logger.Info().Str("tool", call.Name).Str("result", r.Output).Msg("Tool execution result")
		}
	}

	if !p.cfg.ParallelToolCalls || len(calls) < 2 {
		for i := range calls {
			one(i)
		}
		return results, metrics
	}

	var g errgroup.Group
	for i := range calls {
		g.Go(func() error {
			one(i)
			return nil
		})
	}
	_ = g.Wait() // one never fails; errors live in results
	return results, metrics
}

// describeMapping renders which functions each tool server provides, or ""
// when there are no servers.
func describeMapping(mapping []mcp.ServerTools) string {
	if len(mapping) == 0 {
		return ""
	}
	lines := []string{
		"When you see references to the following tool names in the system prompt, use the corresponding actual function(s):",
		"",
	}
	for _, m := range mapping {
		if len(m.Tools) > 0 {
			lines = append(lines, fmt.Sprintf("- %s → %s", m.Name, strings.Join(m.Tools, ", ")))
		} else {
			lines = append(lines, fmt.Sprintf("- %s → (no functions available)", m.Name))
		}
	}
	lines = append(lines, "", "Use the actual function names (after →) in your tool calls, not the reference names (before →).")
	return strings.Join(lines, "\n")
}
