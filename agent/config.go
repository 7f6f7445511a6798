// Agent configuration types.
//
// Information Hiding:
// - Default values hidden
// - Settings translation hidden

package agent

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/richinex/toolweave/config"
	"github.com/richinex/toolweave/conversation"
	"github.com/richinex/toolweave/toolcall"
	"github.com/richinex/toolweave/tools"
)

// DefaultPersonality is the system prompt used when none is configured.
const DefaultPersonality = "You are an intelligent assistant. You carefully analyze user requests and determine if external tools are needed."

// DefaultMaxIterations bounds the loop when no limit is configured.
const DefaultMaxIterations = 10

// Config holds agent configuration.
type Config struct {
	// SystemPrompt is the personality part of the system prompt. The
	// tool-request instructions of the selected version are appended to it.
	SystemPrompt string

	// MaxIterations bounds model round-trips per query.
	MaxIterations int

	// ParallelToolCalls runs the calls of one iteration concurrently. Results
	// are still appended in call order.
	ParallelToolCalls bool

	// Quirk selects how history is shaped for the provider.
	Quirk conversation.Quirk

	// Version selects the tool-call strategy.
	Version toolcall.Version

	// ToolCalling configures the strategy.
	ToolCalling toolcall.Options

	// Exec configures tool execution.
	Exec tools.ExecConfig

	Logger *zerolog.Logger
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:  DefaultPersonality,
		MaxIterations: DefaultMaxIterations,
		Version:       toolcall.VersionStrict,
		ToolCalling:   toolcall.Options{MaxRetries: 5},
	}
}

// FullSystemPrompt joins the personality and the tool-request instructions.
func (c Config) FullSystemPrompt() string {
	personality := c.SystemPrompt
	if personality == "" {
		personality = DefaultPersonality
	}
	return personality + "\n\n" + c.Version.Instructions()
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	return c
}

// ConfigFromSettings translates loaded settings into an agent Config.
func ConfigFromSettings(s *config.Settings) (Config, error) {
	version, err := toolcall.ParseVersion(s.ToolCalling.Version)
	if err != nil {
		return Config{}, err
	}
	return Config{
		SystemPrompt:      s.Agent.CustomSystemPrompt,
		MaxIterations:     s.Agent.MaxIterations,
		ParallelToolCalls: s.Agent.ParallelToolCalls,
		Quirk:             conversation.ParseQuirk(s.Agent.HistoryFormat),
		Version:           version,
		ToolCalling: toolcall.Options{
			Model:       s.ToolCalling.Model,
			Temperature: s.ToolCalling.Temperature,
			MaxRetries:  s.ToolCalling.MaxRetries,
		},
		Exec: tools.ExecConfig{
			MaxRetries: s.Agent.ToolRetries,
			Validate:   s.Agent.ValidateArguments,
		},
	}, nil
}

// toolTimeout is the per-call bound configured for the pool.
func toolTimeout(s *config.Settings) time.Duration {
	return s.Agent.ToolTimeout.Duration
}
