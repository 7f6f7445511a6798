// LLM Provider Factory - builder-first API for creating LLM providers.
//
// Quick Start:
//
//	// Defaults, API key from environment
//	deepseek, err := llm.ProviderDeepSeek.FromEnv()
//
//	// Full configuration
//	qwen, err := llm.ProviderQwen.
//	    Model("qwen-max").
//	    MaxTokens(8192).
//	    Temperature(0.3).
//	    FromEnv()
//
//	// From a capability record (what the config layer produces)
//	provider, err := llm.New(llm.Capabilities{Type: llm.ProviderOpenAI, APIKey: "sk-...", Model: "gpt-4"})

package llm

import (
	"fmt"
	"os"
	"strings"
)

// ProviderType represents supported LLM providers.
type ProviderType int

const (
	// ProviderOpenAI is the OpenAI provider (GPT models).
	ProviderOpenAI ProviderType = iota
	// ProviderAnthropic is the Anthropic provider (Claude models).
	ProviderAnthropic
	// ProviderDeepSeek is the DeepSeek provider.
	ProviderDeepSeek
	// ProviderGemini is the Google Gemini provider.
	ProviderGemini
	// ProviderQwen is Alibaba Qwen through the DashScope compatible endpoint.
	ProviderQwen
)

// Default endpoints for OpenAI-compatible providers.
const (
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"
	DefaultDeepSeekBaseURL = "https://api.deepseek.com/v1"
	DefaultQwenBaseURL     = "https://dashscope.aliyuncs.com/compatible-mode/v1"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderDeepSeek:
		return "deepseek"
	case ProviderGemini:
		return "gemini"
	case ProviderQwen:
		return "qwen"
	default:
		return "unknown"
	}
}

// EnvVar returns the environment variable name for this provider's API key.
func (p ProviderType) EnvVar() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderQwen:
		return "QWEN_API_KEY"
	default:
		return ""
	}
}

// DefaultModel returns the default model for this provider.
func (p ProviderType) DefaultModel() string {
	switch p {
	case ProviderOpenAI:
		return ModelOpenAIGPT4
	case ProviderAnthropic:
		return ModelAnthropicClaudeSonnet4
	case ProviderDeepSeek:
		return ModelDeepSeekChat
	case ProviderGemini:
		return ModelGeminiFlash25
	case ProviderQwen:
		return ModelQwenPlus
	default:
		return ""
	}
}

// DefaultBaseURL returns the endpoint for OpenAI-compatible providers and ""
// for providers with their own SDK.
func (p ProviderType) DefaultBaseURL() string {
	switch p {
	case ProviderOpenAI:
		return DefaultOpenAIBaseURL
	case ProviderDeepSeek:
		return DefaultDeepSeekBaseURL
	case ProviderQwen:
		return DefaultQwenBaseURL
	default:
		return ""
	}
}

// ParseProviderType parses a provider from string (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "deepseek":
		return ProviderDeepSeek, nil
	case "gemini", "google":
		return ProviderGemini, nil
	case "qwen", "dashscope":
		return ProviderQwen, nil
	default:
		return 0, fmt.Errorf("unknown provider: %s", s)
	}
}

// Capabilities is everything needed to talk to one model endpoint.
type Capabilities struct {
	Type        ProviderType
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   uint32
	Temperature float32
}

// New creates a provider from a capability record.
func New(c Capabilities) (Provider, error) {
	b := NewProviderBuilder(c.Type).Model(c.Model).MaxTokens(c.MaxTokens).Temperature(c.Temperature)
	b.baseURL = c.BaseURL
	if c.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is empty (set %s)", c.Type, c.Type.EnvVar())
	}
	return b.build(c.APIKey)
}

// FromEnv creates a provider with defaults, reading API key from environment.
func (p ProviderType) FromEnv() (Provider, error) {
	return NewProviderBuilder(p).FromEnv()
}

// Model starts configuring this provider with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(p).Model(model)
}

// APIKey creates a provider with an explicit API key (uses defaults for everything else).
func (p ProviderType) APIKey(key string) (Provider, error) {
	return NewProviderBuilder(p).APIKey(key)
}

// ProviderBuilder is a builder for configuring LLM providers.
type ProviderBuilder struct {
	providerType ProviderType
	baseURL      string
	model        string
	maxTokens    uint32
	temperature  *float32
}

// NewProviderBuilder creates a new builder for the given provider.
func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{
		providerType: providerType,
	}
}

// BaseURL overrides the endpoint of an OpenAI-compatible provider.
func (b *ProviderBuilder) BaseURL(url string) *ProviderBuilder {
	b.baseURL = url
	return b
}

// Model sets the model to use.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.model = model
	return b
}

// MaxTokens sets maximum tokens for responses.
func (b *ProviderBuilder) MaxTokens(tokens uint32) *ProviderBuilder {
	b.maxTokens = tokens
	return b
}

// Temperature sets temperature (0.0 = deterministic, 1.0 = creative).
func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.temperature = &temp
	return b
}

// FromEnv builds the provider, reading API key from environment.
func (b *ProviderBuilder) FromEnv() (Provider, error) {
	envVar := b.providerType.EnvVar()
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %s environment variable not set", b.providerType, envVar)
	}
	return b.build(apiKey)
}

// APIKey builds the provider with an explicit API key.
func (b *ProviderBuilder) APIKey(key string) (Provider, error) {
	return b.build(key)
}

func (b *ProviderBuilder) build(apiKey string) (Provider, error) {
	model := b.model
	if model == "" {
		model = b.providerType.DefaultModel()
	}

	maxTokens := b.maxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	temperature := float32(1.0)
	if b.temperature != nil {
		temperature = *b.temperature
	}

	baseURL := b.baseURL
	if baseURL == "" {
		baseURL = b.providerType.DefaultBaseURL()
	}

	switch b.providerType {
	case ProviderOpenAI, ProviderDeepSeek, ProviderQwen:
		return NewOpenAIProvider(b.providerType.String(), baseURL, apiKey, model, maxTokens, temperature), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(apiKey, model, maxTokens, temperature), nil
	case ProviderGemini:
		return NewGeminiProvider(apiKey, model, maxTokens, temperature), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}
}

// Model identifier constants.
const (
	ModelOpenAIGPT4      = "gpt-4"
	ModelOpenAIGPT4o     = "gpt-4o"
	ModelOpenAIGPT4oMini = "gpt-4o-mini"

	ModelAnthropicClaudeSonnet4 = "claude-sonnet-4-20250514"
	ModelAnthropicClaudeHaiku4  = "claude-haiku-4-20250514"

	ModelDeepSeekChat     = "deepseek-chat"
	ModelDeepSeekReasoner = "deepseek-reasoner"

	ModelGeminiFlash25 = "gemini-2.5-flash"
	ModelGeminiPro25   = "gemini-2.5-pro"

	ModelQwenPlus = "qwen-plus"
	ModelQwenMax  = "qwen-max"
)
