package classify

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/xerrors"
)

// ChatBackend talks to any OpenAI-compatible chat completion API: ChatGPT,
// the Llama API, or a self-hosted endpoint.
type ChatBackend struct {
	client *openai.Client
	model  string
}

func NewChatBackend(apiKey, baseURL, model string) *ChatBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &ChatBackend{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *ChatBackend) Model() string {
	return c.model
}

func (c *ChatBackend) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", withStatus(xerrors.Errorf("chat completion error: %w", err), chatStatus(err))
	}
	if len(resp.Choices) == 0 {
		return "", backoff.Permanent(xerrors.New("chat completion returned no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

func chatStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
