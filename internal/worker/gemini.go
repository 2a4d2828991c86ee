package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiWorker runs iterations against the Gemini API through the official
// genai SDK.
type GeminiWorker struct {
	client *genai.Client
	model  string
}

func NewGeminiWorker(apiKey, model string) (*GeminiWorker, error) {
	if apiKey == "" {
		return nil, errors.New("gemini worker requires an API key")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiWorker{client: client, model: model}, nil
}

func (w *GeminiWorker) Name() string { return "gemini" }

// Invoke sends the prompt and returns the aggregated response text.
func (w *GeminiWorker) Invoke(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := w.client.Models.GenerateContent(ctx, w.model, contents, nil)
	if err != nil {
		if isRateLimitText(err.Error()) {
			return "", &RateLimitError{Provider: w.Name(), RawResponse: err.Error()}
		}
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("no text content in gemini response")
	}
	return text, nil
}
