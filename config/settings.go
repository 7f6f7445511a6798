// Package config provides application settings.
//
// Settings are built by Load, in increasing precedence:
// - Defaults
// - A .toml or .json file
// - Environment variables
//
// Command-line flags are applied by the caller afterwards.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/richinex/toolweave/internal/errs"
	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/toolcall"
)

// Duration is a time.Duration written as "30s" or "2m" in files.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Settings holds all application configuration.
type Settings struct {
	Provider string `toml:"provider" json:"provider"`

	DeepSeek  ProviderConfig `toml:"deepseek" json:"deepseek"`
	OpenAI    ProviderConfig `toml:"openai" json:"openai"`
	Qwen      ProviderConfig `toml:"qwen" json:"qwen"`
	Anthropic ProviderConfig `toml:"anthropic" json:"anthropic"`
	Gemini    ProviderConfig `toml:"gemini" json:"gemini"`

	Agent       AgentConfig       `toml:"agent" json:"agent"`
	ToolCalling ToolCallingConfig `toml:"tool_calling" json:"tool_calling"`
	MCP         MCPConfig         `toml:"mcp" json:"mcp"`
	Logging     LoggingConfig     `toml:"logging" json:"logging"`
	Storage     StorageConfig     `toml:"storage" json:"storage"`
	Server      ServerConfig      `toml:"server" json:"server"`
}

// ProviderConfig holds one LLM provider's configuration.
type ProviderConfig struct {
	APIKey      string  `toml:"api_key" json:"api_key"`
	BaseURL     string  `toml:"base_url" json:"base_url"`
	Model       string  `toml:"model" json:"model"`
	MaxTokens   uint32  `toml:"max_tokens" json:"max_tokens"`
	Temperature float32 `toml:"temperature" json:"temperature"`
}

// AgentConfig holds query loop configuration.
type AgentConfig struct {
	MaxIterations      int    `toml:"max_iterations" json:"max_iterations"`
	CustomSystemPrompt string `toml:"custom_system_prompt" json:"custom_system_prompt"`
	ParallelToolCalls  bool   `toml:"parallel_tool_calls" json:"parallel_tool_calls"`
	// HistoryFormat is "text" or "native".
	HistoryFormat     string   `toml:"history_format" json:"history_format"`
	ToolTimeout       Duration `toml:"tool_timeout" json:"tool_timeout"`
	ToolRetries       int      `toml:"tool_retries" json:"tool_retries"`
	ValidateArguments bool     `toml:"validate_arguments" json:"validate_arguments"`
}

// ToolCallingConfig holds tool-call generation configuration.
type ToolCallingConfig struct {
	Version     string  `toml:"version" json:"version"`
	MaxRetries  int     `toml:"max_retries" json:"max_retries"`
	Model       string  `toml:"model" json:"model"`
	Temperature float32 `toml:"temperature" json:"temperature"`
}

// MCPConfig holds tool server configuration.
type MCPConfig struct {
	ToolsFile        string   `toml:"tools_file" json:"tools_file"`
	StrictToolNames  bool     `toml:"strict_tool_names" json:"strict_tool_names"`
	HandshakeTimeout Duration `toml:"handshake_timeout" json:"handshake_timeout"`
	Interpreter      string   `toml:"interpreter" json:"interpreter"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
}

// StorageConfig selects where chat transcripts are kept.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `toml:"driver" json:"driver"`
	Path   string `toml:"path" json:"path"`
}

// ServerConfig holds configuration for serving the agent, over HTTP or as
// an MCP tool on stdio.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`
	// ToolName and ToolDescription describe the single tool exposed by
	// serve --stdio.
	ToolName        string `toml:"tool_name" json:"tool_name"`
	ToolDescription string `toml:"tool_description" json:"tool_description"`
}

// DefaultToolDescription describes the agent tool to MCP clients.
const DefaultToolDescription = `Performs intelligent operations based on natural language requests, using the tools available to this agent.

Parameters:
    query: str
        A natural language description of the task.

Returns:
    str: The result of the operation.`

// providerInfo holds environment lookups for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
	fallbackEnv  string
	typ          llm.ProviderType
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY", "", llm.ProviderDeepSeek},
	"openai":    {"OPENAI_MODEL", "gpt-4", "OPENAI_API_KEY", "COMPLETION_API_KEY", llm.ProviderOpenAI},
	"qwen":      {"QWEN_MODEL", "qwen-plus", "QWEN_API_KEY", "", llm.ProviderQwen},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY", "", llm.ProviderAnthropic},
	"gemini":    {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY", "", llm.ProviderGemini},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude":    "anthropic",
	"google":    "gemini",
	"gpt":       "openai",
	"dashscope": "qwen",
}

// Default returns the built-in settings.
func Default() *Settings {
	provider := func(baseURL, model string) ProviderConfig {
		return ProviderConfig{BaseURL: baseURL, Model: model, MaxTokens: 4096, Temperature: 1.0}
	}
	return &Settings{
		Provider:  "deepseek",
		DeepSeek:  provider("https://api.deepseek.com", "deepseek-chat"),
		OpenAI:    provider("https://api.openai.com/v1", "gpt-4"),
		Qwen:      provider("https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen-plus"),
		Anthropic: provider("", "claude-sonnet-4-20250514"),
		Gemini:    provider("", "gemini-2.5-flash"),
		Agent: AgentConfig{
			MaxIterations:      10,
			CustomSystemPrompt: "You are an intelligent assistant. You carefully analyze user requests and determine if external tools are needed.",
			HistoryFormat:      "text",
			ToolTimeout:        Duration{2 * time.Minute},
			ToolRetries:        1,
		},
		ToolCalling: ToolCallingConfig{Version: "strict", MaxRetries: 5},
		MCP: MCPConfig{
			HandshakeTimeout: Duration{30 * time.Second},
			Interpreter:      "python3",
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Storage: StorageConfig{Driver: "memory"},
		Server: ServerConfig{
			Addr:            ":8080",
			ToolName:        "toolweave",
			ToolDescription: DefaultToolDescription,
		},
	}
}

// Load builds settings from defaults, the optional file at path, and the
// environment, then validates them.
func Load(path string) (*Settings, error) {
	s := Default()
	if path != "" {
		if err := s.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := s.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFile merges a .toml or .json file over s. Keys absent from the file
// keep their current values.
func (s *Settings) LoadFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, s); err != nil {
			return errs.Configuration("failed to load config file "+path, err)
		}
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return errs.Configuration("failed to read config file "+path, err)
		}
		if err := json.Unmarshal(data, s); err != nil {
			return errs.Configuration("failed to parse config file "+path, err)
		}
	default:
		return errs.Configurationf("unsupported config file type: %s", path)
	}
	return nil
}

// ApplyEnv overrides s from environment variables.
func (s *Settings) ApplyEnv() error {
	if v := os.Getenv("TOOLWEAVE_PROVIDER"); v != "" {
		s.Provider = v
	}

	for name, info := range providers {
		p := s.providerConfig(name)
		if key := os.Getenv(info.apiKeyEnv); key != "" {
			p.APIKey = key
		} else if info.fallbackEnv != "" && p.APIKey == "" {
			p.APIKey = os.Getenv(info.fallbackEnv)
		}
		if model := os.Getenv(info.modelEnv); model != "" {
			p.Model = model
		}
	}

	var err error
	if s.Agent.MaxIterations, err = getEnvInt("AGENT_MAX_ITERATIONS", s.Agent.MaxIterations); err != nil {
		return err
	}
	if v := os.Getenv("AGENT_CUSTOM_SYSTEM_PROMPT"); v != "" {
		s.Agent.CustomSystemPrompt = v
	}
	if s.Agent.ParallelToolCalls, err = getEnvBool("AGENT_PARALLEL_TOOL_CALLS", s.Agent.ParallelToolCalls); err != nil {
		return err
	}
	if v := os.Getenv("TOOL_CALLING_VERSION"); v != "" {
		s.ToolCalling.Version = v
	}
	if s.ToolCalling.MaxRetries, err = getEnvInt("TOOL_CALLING_MAX_RETRIES", s.ToolCalling.MaxRetries); err != nil {
		return err
	}
	if v := os.Getenv("TOOL_CALLING_MODEL"); v != "" {
		s.ToolCalling.Model = v
	}
	if s.ToolCalling.Temperature, err = getEnvFloat32("TOOL_CALLING_TEMPERATURE", s.ToolCalling.Temperature); err != nil {
		return err
	}
	if v := os.Getenv("TOOLWEAVE_TOOLS_FILE"); v != "" {
		s.MCP.ToolsFile = v
	}
	if v := os.Getenv("TOOLWEAVE_LOG_FORMAT"); v != "" {
		s.Logging.Format = v
	}
	if v := os.Getenv("TOOLWEAVE_TOOL_NAME"); v != "" {
		s.Server.ToolName = v
	}
	return nil
}

// Validate checks values that would otherwise fail later.
func (s *Settings) Validate() error {
	if _, err := getProviderInfo(normalizeProvider(s.Provider)); err != nil {
		return errs.Configuration("invalid provider", err)
	}
	if s.Agent.MaxIterations <= 0 {
		return errs.Configurationf("agent.max_iterations must be positive, got %d", s.Agent.MaxIterations)
	}
	if _, err := toolcall.ParseVersion(s.ToolCalling.Version); err != nil {
		return errs.Configurationf("unsupported tool_calling.version: %q", s.ToolCalling.Version)
	}
	if s.ToolCalling.MaxRetries < 0 {
		return errs.Configurationf("tool_calling.max_retries must not be negative, got %d", s.ToolCalling.MaxRetries)
	}
	if s.Agent.ToolRetries < 0 {
		return errs.Configurationf("agent.tool_retries must not be negative, got %d", s.Agent.ToolRetries)
	}
	switch s.Storage.Driver {
	case "", "memory", "sqlite":
	default:
		return errs.Configurationf("unsupported storage.driver: %q", s.Storage.Driver)
	}
	return nil
}

// ActiveProvider returns the canonical name and configuration of the
// selected provider.
func (s *Settings) ActiveProvider() (string, ProviderConfig, error) {
	name := normalizeProvider(s.Provider)
	if _, err := getProviderInfo(name); err != nil {
		return "", ProviderConfig{}, errs.Configuration("invalid provider", err)
	}
	return name, *s.providerConfig(name), nil
}

// ActiveConfig returns the mutable section of the active provider.
func (s *Settings) ActiveConfig() (*ProviderConfig, error) {
	name := normalizeProvider(s.Provider)
	if _, err := getProviderInfo(name); err != nil {
		return nil, errs.Configuration("invalid provider", err)
	}
	return s.providerConfig(name), nil
}

// Capabilities returns what the llm factory needs for the active provider.
func (s *Settings) Capabilities() (llm.Capabilities, error) {
	name, p, err := s.ActiveProvider()
	if err != nil {
		return llm.Capabilities{}, err
	}
	if p.APIKey == "" {
		return llm.Capabilities{}, errs.Configurationf("API key for %s is not set (%s)", name, providers[name].apiKeyEnv)
	}
	return llm.Capabilities{
		Type:        providers[name].typ,
		BaseURL:     p.BaseURL,
		APIKey:      p.APIKey,
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}, nil
}

func (s *Settings) providerConfig(name string) *ProviderConfig {
	switch name {
	case "openai":
		return &s.OpenAI
	case "qwen":
		return &s.Qwen
	case "anthropic":
		return &s.Anthropic
	case "gemini":
		return &s.Gemini
	default:
		return &s.DeepSeek
	}
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" && info.fallbackEnv != "" {
		key = os.Getenv(info.fallbackEnv)
	}
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the supported provider names, sorted.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, errs.Configuration(fmt.Sprintf("invalid value for %s: %q", key, val), err)
	}
	return i, nil
}

func getEnvFloat32(key string, defaultVal float32) (float32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 32)
	if err != nil {
		return 0, errs.Configuration(fmt.Sprintf("invalid value for %s: %q", key, val), err)
	}
	return float32(f), nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, errs.Configuration(fmt.Sprintf("invalid value for %s: %q", key, val), err)
	}
	return b, nil
}
