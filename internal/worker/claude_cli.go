package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"ralphd/internal/logging"
)

// ClaudeCLIWorker runs iterations through the Claude Code CLI subprocess:
// `claude -p <prompt> --output-format json --model <model>`.
type ClaudeCLIWorker struct {
	model   string
	timeout time.Duration
}

// claudeCLIResponse is the JSON envelope `claude --output-format json` emits.
type claudeCLIResponse struct {
	Result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	IsRateLimited bool `json:"is_rate_limited,omitempty"`
}

func NewClaudeCLIWorker(model string, timeout time.Duration) *ClaudeCLIWorker {
	if model == "" {
		model = "sonnet"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &ClaudeCLIWorker{model: model, timeout: timeout}
}

func (w *ClaudeCLIWorker) Name() string { return "claude-cli" }

// Invoke runs the CLI with the prompt and returns the assistant text.
func (w *ClaudeCLIWorker) Invoke(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	args := []string{
		"-p", prompt,
		"--output-format", "json",
		"--model", w.model,
	}
	cmd := exec.CommandContext(ctx, "claude", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	timer := logging.StartTimer(logging.CategoryWorker, "claude invocation")
	err := cmd.Run()
	timer.Stop()

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("claude CLI timed out after %v: %w", w.timeout, ctx.Err())
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", fmt.Errorf("claude CLI canceled: %w", ctx.Err())
		}

		stderrStr := stderr.String()
		if isRateLimitText(stderrStr) {
			return "", &RateLimitError{Provider: w.Name(), RawResponse: stderrStr}
		}
		return "", fmt.Errorf("claude CLI failed: %w (stderr: %s)", err, truncate(stderrStr, 500))
	}

	return parseClaudeResponse(stdout.Bytes())
}

// parseClaudeResponse extracts the assistant text from the CLI JSON envelope.
func parseClaudeResponse(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty response from claude CLI")
	}

	var resp claudeCLIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to parse claude CLI response: %w (raw: %s)", err, truncate(string(data), 500))
	}

	if resp.IsRateLimited {
		return "", &RateLimitError{Provider: "claude-cli", RawResponse: string(data)}
	}
	if resp.Error != nil {
		if isRateLimitText(resp.Error.Message) || strings.Contains(resp.Error.Type, "rate_limit") {
			return "", &RateLimitError{Provider: "claude-cli", RawResponse: resp.Error.Message}
		}
		return "", fmt.Errorf("claude CLI error: %s (type: %s)", resp.Error.Message, resp.Error.Type)
	}

	var b strings.Builder
	for _, content := range resp.Result.Content {
		if content.Type == "text" {
			b.WriteString(content.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("no text content in claude CLI response")
	}
	return text, nil
}

func isRateLimitText(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "429") ||
		strings.Contains(lower, "overloaded")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
