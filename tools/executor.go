// Tool Executor with Retry Logic.
//
// Information Hiding:
// - Retry strategy implementation hidden
// - Backoff algorithm hidden
// - Argument validation against server schemas hidden

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/richinex/toolweave/internal/errs"
	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/logging"
)

// ExecConfig holds tool execution configuration. The zero value runs each
// call once without validation.
type ExecConfig struct {
	// MaxRetries is the number of extra attempts after a transient failure.
	MaxRetries int
	// Validate checks arguments against the tool's input schema first.
	Validate bool

	Logger *zerolog.Logger
}

// SchemaSource resolves tool schemas by name. *Registry implements it.
type SchemaSource interface {
	Get(name string) (Schema, bool)
}

// Executor runs tool calls against an Invoker.
type Executor struct {
	invoker Invoker
	schemas SchemaSource
	config  ExecConfig
	logger  zerolog.Logger

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewExecutor creates an executor. schemas may be nil when validation is off.
func NewExecutor(invoker Invoker, schemas SchemaSource, config ExecConfig) *Executor {
	logger := logging.Component("executor")
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Executor{
		invoker:  invoker,
		schemas:  schemas,
		config:   config,
		logger:   logger,
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Execute runs one call. Failures are returned inside the Result as a
// ToolExecutionError so the caller can feed them back to the model.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) Result {
	res := Result{CallID: call.ID, Name: call.Name}

	if e.config.Validate {
		if err := e.validate(call); err != nil {
			res.Err = errs.ToolExecution(fmt.Sprintf("Failed to execute tool %s", call.Name),
				fmt.Errorf("validation failed: %w", err))
			return res
		}
	}

	var lastErr error
	attempts := e.config.MaxRetries + 1
retry:
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			case <-time.After(calculateBackoff(attempt)):
			}
		}

		e.logger.Debug().Str("tool", call.Name).Int("attempt", attempt+1).Msg("Calling tool")
		output, err := e.invoker.Call(ctx, call.Name, call.Arguments)
		if err == nil {
			res.Output = output
			return res
		}
		lastErr = err
		if !shouldRetry(err) {
			break retry
		}
		e.logger.Warn().Err(err).Str("tool", call.Name).Int("attempt", attempt+1).Msg("Transient tool failure")
	}

	res.Err = errs.ToolExecution(fmt.Sprintf("Failed to execute tool %s", call.Name), lastErr).
		With("tool", call.Name)
	return res
}

// calculateBackoff returns the backoff duration for the given attempt.
func calculateBackoff(attempt int) time.Duration {
	const (
		baseDelay = 100 * time.Millisecond
		maxDelay  = 5 * time.Second
	)

	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// shouldRetry determines if an error is transient.
func shouldRetry(err error) bool {
	switch {
	case errors.Is(err, errs.ErrUnknownTool), errors.Is(err, errs.ErrClosed),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, errs.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return true
	}

	errLower := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "broken pipe", "network"} {
		if strings.Contains(errLower, s) {
			return true
		}
	}
	// Errors reported by the tool itself are deterministic.
	return false
}

func (e *Executor) validate(call llm.ToolCall) error {
	if e.schemas == nil {
		return nil
	}
	schema, ok := e.schemas.Get(call.Name)
	if !ok || len(schema.InputSchema) == 0 {
		return nil
	}

	compiled, err := e.compile(call.Name, schema.InputSchema)
	if err != nil {
		// A schema we cannot compile should not block the call.
		e.logger.Warn().Err(err).Str("tool", call.Name).Msg("Skipping argument validation")
		return nil
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return compiled.Validate(instance)
}

func (e *Executor) compile(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.compiled[name]; ok {
		return s, nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	url := "tool://" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	e.compiled[name] = s
	return s, nil
}
