// Package worker wraps the LLM backends that execute iterations. A worker is
// an opaque prompt-in, text-out call; everything else (parsing, validation,
// retries) lives in the loop.
package worker

import (
	"context"
	"fmt"
	"time"

	"ralphd/internal/config"
)

// Worker executes one prompt against an LLM backend and returns its raw text
// output.
type Worker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
	Name() string
}

// RateLimitError indicates the backend refused the request due to rate
// limiting. The loop detects it with errors.As and backs off instead of
// burning a retry.
type RateLimitError struct {
	Provider    string
	RetryAfter  time.Duration
	RawResponse string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %v", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}

// New builds the worker selected by the config.
func New(cfg *config.Config) (Worker, error) {
	switch cfg.Worker.Provider {
	case "claude-cli", "":
		return NewClaudeCLIWorker(cfg.Worker.Model, cfg.GetWorkerTimeout()), nil
	case "gemini":
		return NewGeminiWorker(cfg.Worker.APIKey, cfg.Worker.Model)
	default:
		return nil, fmt.Errorf("unknown worker provider %q", cfg.Worker.Provider)
	}
}
