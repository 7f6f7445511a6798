// Package toolcall turns tool requests found in model output into validated
// structured tool calls.
//
// Two strategies share the Generator contract:
//   - Strict issues a dedicated JSON-mode LLM call per request and retries
//     adaptively until at least one valid call comes back.
//   - Repair expects the request to already be a tool_calls JSON object and
//     fixes what it can (tool names, parameters) in a single pass.
package toolcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/logging"
	"github.com/richinex/toolweave/tools"
)

// Version selects a strategy.
type Version int

const (
	// VersionStrict is the generation strategy ("stable").
	VersionStrict Version = iota
	// VersionRepair is the repair strategy ("turbo").
	VersionRepair
)

// String returns the configuration name of the version.
func (v Version) String() string {
	if v == VersionRepair {
		return "repair"
	}
	return "strict"
}

// ParseVersion accepts strict/stable/strict-generation and
// repair/turbo/repair-based.
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "stable", "strict-generation", "v1":
		return VersionStrict, nil
	case "repair", "turbo", "repair-based", "v2":
		return VersionRepair, nil
	default:
		return 0, fmt.Errorf("unsupported tool calling version: %s", s)
	}
}

// Instructions returns the tool-request instructions the agent model needs
// for this version.
func (v Version) Instructions() string {
	if v == VersionRepair {
		return repairRequestInstructions
	}
	return strictRequestInstructions
}

// Stats describes one Generate call.
type Stats struct {
	Attempts     int      `json:"attempts"`
	Success      bool     `json:"success"`
	ValidCalls   int      `json:"valid_calls"`
	InvalidCalls int      `json:"invalid_calls"`
	TotalCalls   int      `json:"total_calls"`
	Errors       []string `json:"errors"`

	// Repair strategy only.
	ValidatedCalls     int `json:"validated_calls,omitempty"`
	RepairedCalls      int `json:"repaired_calls,omitempty"`
	FailedRepairs      int `json:"failed_repairs,omitempty"`
	ParamOptimizations int `json:"param_optimizations,omitempty"`
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int("attempts", s.Attempts).
		Bool("success", s.Success).
		Int("valid_calls", s.ValidCalls).
		Int("invalid_calls", s.InvalidCalls).
		Int("total_calls", s.TotalCalls).
		Strs("errors", s.Errors)
	if s.ValidatedCalls+s.RepairedCalls+s.FailedRepairs+s.ParamOptimizations > 0 {
		e.Int("validated_calls", s.ValidatedCalls).
			Int("repaired_calls", s.RepairedCalls).
			Int("failed_repairs", s.FailedRepairs).
			Int("param_optimizations", s.ParamOptimizations)
	}
}

// Generator maps one instruction and a catalog to valid calls.
type Generator interface {
	Generate(ctx context.Context, instruction string, catalog tools.Catalog) ([]llm.ToolCall, Stats)
}

// Options configure both strategies.
type Options struct {
	// Model overrides the provider's model for tool-calling requests.
	Model string
	// Temperature for generation requests.
	Temperature float32
	// MaxRetries bounds strict generation attempts. Zero means 5.
	MaxRetries int
	Logger     *zerolog.Logger
}

const defaultMaxRetries = 5

// New builds the generator for version.
func New(version Version, provider llm.Provider, opts Options) Generator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	logger := logging.Component("toolcall")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("strategy", version.String()).Logger()

	if version == VersionRepair {
		return &Repair{provider: provider, opts: opts, logger: logger, newID: NewCallID}
	}
	return &Strict{provider: provider, opts: opts, logger: logger, newID: NewCallID}
}

// NewCallID returns a fresh tool call id, "call_" plus 8 hex characters.
func NewCallID() string {
	return "call_" + uuid.NewString()[:8]
}

func (o Options) callOptions(extra ...llm.CallOption) []llm.CallOption {
	opts := []llm.CallOption{llm.WithTemperature(o.Temperature)}
	if o.Model != "" {
		opts = append(opts, llm.WithModel(o.Model))
	}
	return append(opts, extra...)
}

// maxTokensFor leaves room for the prompt in an 8k context, estimating two
// characters per token.
func maxTokensFor(messages []llm.ChatMessage) int {
	chars := 0
	for _, m := range messages {
		chars += utf8.RuneCountInString(m.Content)
	}
	return max(512, 8192-chars/2-50)
}

var (
	errNoToolCalls   = errors.New("no tool calls returned")
	errMissingArgs   = errors.New("function object missing name or arguments")
	errArgsNotObject = errors.New("arguments must be a JSON object")
)

// wireFunction is the "function" member of a tool call as models emit it.
type wireFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// wireCall is one tool_calls element.
type wireCall struct {
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type,omitempty"`
	Function *wireFunction `json:"function"`
}

// decodeArguments accepts an object or a string holding an encoded object.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, errMissingArgs
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		raw = json.RawMessage(encoded)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to parse arguments: %w", err)
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, errArgsNotObject
	}
	return args, nil
}
