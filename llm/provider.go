// Package llm provides LLM provider abstractions.
//
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific error handling

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the default model being used.
	Model() string

	// Chat sends one chat completion request. Options override the
	// provider's defaults for this call only.
	Chat(ctx context.Context, messages []ChatMessage, opts ...CallOption) (LLMResponse, error)
}

// CallOptions are per-request overrides.
type CallOptions struct {
	Model       string
	Temperature *float32
	MaxTokens   int
	Format      *ResponseFormat
}

// CallOption mutates CallOptions.
type CallOption func(*CallOptions)

// WithModel overrides the model for one call.
func WithModel(model string) CallOption {
	return func(o *CallOptions) { o.Model = model }
}

// WithTemperature overrides the sampling temperature for one call.
func WithTemperature(t float32) CallOption {
	return func(o *CallOptions) { o.Temperature = &t }
}

// WithMaxTokens overrides the completion token limit for one call.
func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = n }
}

// WithResponseFormat requests a response format for one call.
func WithResponseFormat(f *ResponseFormat) CallOption {
	return func(o *CallOptions) { o.Format = f }
}

// resolve applies opts over the provider defaults.
func resolve(model string, maxTokens int, temperature float32, opts []CallOption) CallOptions {
	o := CallOptions{Model: model, MaxTokens: maxTokens, Temperature: &temperature}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Model == "" {
		o.Model = model
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = maxTokens
	}
	return o
}
