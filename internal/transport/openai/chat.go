package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/ragmcp/internal/domain"
)

// ChatCompleter generates answers through the chat completions API.
type ChatCompleter struct {
	client      *openai.Client
	model       string
	temperature float32
}

// ChatConfig holds the chat completion settings.
type ChatConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// NewChatCompleter creates a chat completion client.
func NewChatCompleter(cfg *ChatConfig) *ChatCompleter {
	return &ChatCompleter{
		client:      newClient(cfg.APIKey, cfg.BaseURL),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Complete sends a system and a user message and returns the first choice.
func (c *ChatCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", upstreamError(err, domain.ErrCompletionUnavailable)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response: %w", domain.ErrCompletionUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// HealthCheck verifies the chat endpoint via ListModels.
func (c *ChatCompleter) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
