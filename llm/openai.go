// OpenAI-compatible provider using the go-openai library.
//
// One implementation serves every endpoint that speaks the Chat Completions
// API (OpenAI, DeepSeek, Qwen/DashScope); only the base URL differs.

package llm

import (
	"context"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider for any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	name        string
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIProvider creates a provider for the given endpoint. An empty
// baseURL uses the go-openai default (api.openai.com).
func NewOpenAIProvider(name, baseURL, apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIProvider{
		name:        name,
		client:      openai.NewClientWithConfig(config),
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the current model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []ChatMessage, opts ...CallOption) (LLMResponse, error) {
	o := resolve(p.model, p.maxTokens, p.temperature, opts)

	req := openai.ChatCompletionRequest{
		Model:       o.Model,
		Messages:    convertToOpenAIMessages(messages),
		MaxTokens:   o.MaxTokens,
		Temperature: wireTemperature(*o.Temperature),
	}
	if o.Format != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatType(o.Format.Type),
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return LLMResponse{}, fmt.Errorf("chat completion returned no choices")
	}

	msg := resp.Choices[0].Message
	return LLMResponse{
		Content:   msg.Content,
		Reasoning: msg.ReasoningContent,
		Usage: &TokenUsage{
			PromptTokens:     uint32(resp.Usage.PromptTokens),
			CompletionTokens: uint32(resp.Usage.CompletionTokens),
			TotalTokens:      uint32(resp.Usage.TotalTokens),
		},
	}, nil
}

// wireTemperature keeps an explicit zero from being dropped by omitempty.
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// convertToOpenAIMessages handles tool calls and tool responses.
func convertToOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}

		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.ArgumentsJSON(),
				},
			})
		}

		if msg.Role == RoleTool {
			oaiMsg.ToolCallID = msg.ToolCallID
			oaiMsg.Name = msg.Name
		}

		result[i] = oaiMsg
	}
	return result
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)
