// Package errs defines the error taxonomy shared by the engine.
//
// Every failure that crosses a component boundary is an *Error carrying one of
// four kinds. Callers match on kind with errors.Is against the Err* markers:
//
//	if errors.Is(err, errs.ErrClient) { ... }
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind int

const (
	// KindAgent is the catch-all for failures that fit no other kind.
	KindAgent Kind = iota
	// KindConfiguration is bad or missing setup.
	KindConfiguration
	// KindToolExecution is a failed invocation of one specific tool.
	KindToolExecution
	// KindClient is a subprocess/session failure: spawn, handshake, transport.
	KindClient
	// KindLLM is a failed model call or unusable model output.
	KindLLM
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindToolExecution:
		return "ToolExecutionError"
	case KindClient:
		return "ClientError"
	case KindLLM:
		return "LLMError"
	default:
		return "AgentError"
	}
}

// Kind markers for errors.Is.
var (
	ErrAgent         = errors.New("agent error")
	ErrConfiguration = errors.New("configuration error")
	ErrToolExecution = errors.New("tool execution error")
	ErrClient        = errors.New("client error")
	ErrLLM           = errors.New("llm error")
)

// Sentinel causes.
var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrTimeout     = errors.New("timed out")
	ErrClosed      = errors.New("session closed")
)

// Error is a classified failure with an optional cause and structured details.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(e.Cause.Error())) {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the marker for e's kind.
func (e *Error) Is(target error) bool {
	return target == marker(e.Kind)
}

// With attaches a detail and returns e for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func marker(k Kind) error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindToolExecution:
		return ErrToolExecution
	case KindClient:
		return ErrClient
	case KindLLM:
		return ErrLLM
	default:
		return ErrAgent
	}
}

// Configuration returns a ConfigurationError.
func Configuration(msg string, cause error) *Error {
	return &Error{Kind: KindConfiguration, Message: msg, Cause: cause}
}

// Configurationf returns a ConfigurationError with a formatted message.
func Configurationf(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// ToolExecution returns a ToolExecutionError.
func ToolExecution(msg string, cause error) *Error {
	return &Error{Kind: KindToolExecution, Message: msg, Cause: cause}
}

// Client returns a ClientError.
func Client(msg string, cause error) *Error {
	return &Error{Kind: KindClient, Message: msg, Cause: cause}
}

// LLM returns an LLMError.
func LLM(msg string, cause error) *Error {
	return &Error{Kind: KindLLM, Message: msg, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or KindAgent.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindAgent
}

// Classify returns err as an *Error. Errors that are already classified are
// returned unchanged; anything else is sorted by keywords in its message.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "config") || strings.Contains(msg, "api key"):
		return Configuration(err.Error(), err)
	case strings.Contains(msg, "tool") && (strings.Contains(msg, "execution") || strings.Contains(msg, "call")):
		return ToolExecution(err.Error(), err)
	case strings.Contains(msg, "client") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "mcp") || strings.Contains(msg, "subprocess"):
		return Client(err.Error(), err)
	case strings.Contains(msg, "openai") || strings.Contains(msg, "model") || strings.Contains(msg, "completion"):
		return LLM(err.Error(), err)
	}
	return &Error{Kind: KindAgent, Message: err.Error(), Cause: err}
}
