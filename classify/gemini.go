package classify

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
	"google.golang.org/genai"
)

// Harm filters are disabled: vulnerability descriptions routinely trip the
// dangerous content category.
var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

type GeminiBackend struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiBackend creates a client for the Gemini API. baseURL may be empty.
func NewGeminiBackend(ctx context.Context, apiKey, baseURL, model string, logger *zap.Logger) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, xerrors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, xerrors.Errorf("unable to create gemini client: %w", err)
	}
	return &GeminiBackend{
		client: client,
		model:  model,
		logger: logger.Named("gemini"),
	}, nil
}

func (g *GeminiBackend) Model() string {
	return g.model
}

func (g *GeminiBackend) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		SafetySettings:    safetySettings,
	})
	if err != nil {
		return "", withStatus(xerrors.Errorf("gemini API error: %w", err), geminiStatus(err))
	}
	if len(resp.Candidates) == 0 {
		return "", backoff.Permanent(xerrors.New("gemini returned no candidates"))
	}

	text := resp.Text()
	if text == "" {
		reason := resp.Candidates[0].FinishReason
		if reason == genai.FinishReasonSafety || reason == genai.FinishReasonBlocklist {
			return "", backoff.Permanent(xerrors.Errorf("gemini blocked the request (reason: %s)", reason))
		}
		return "", xerrors.Errorf("gemini response has no parts (reason: %s)", reason)
	}
	if resp.UsageMetadata != nil {
		g.logger.Debug("Generation complete",
			zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
			zap.Int32("total_tokens", resp.UsageMetadata.TotalTokenCount))
	}
	return text, nil
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
