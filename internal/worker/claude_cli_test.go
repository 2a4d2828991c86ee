package worker

import (
	"errors"
	"strings"
	"testing"
)

func TestParseClaudeResponseText(t *testing.T) {
	data := []byte(`{"result":{"content":[{"type":"text","text":"hello "},{"type":"tool_use","text":"skip"},{"type":"text","text":"world"}]}}`)
	text, err := parseClaudeResponse(data)
	if err != nil {
		t.Fatalf("parseClaudeResponse: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
}

func TestParseClaudeResponseRateLimited(t *testing.T) {
	cases := [][]byte{
		[]byte(`{"is_rate_limited":true}`),
		[]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`),
		[]byte(`{"error":{"type":"api_error","message":"Rate limit exceeded for model"}}`),
	}
	for _, data := range cases {
		_, err := parseClaudeResponse(data)
		var rle *RateLimitError
		if !errors.As(err, &rle) {
			t.Errorf("%s: got %v, want RateLimitError", data, err)
		}
	}
}

func TestParseClaudeResponseErrors(t *testing.T) {
	if _, err := parseClaudeResponse(nil); err == nil {
		t.Error("empty response accepted")
	}
	if _, err := parseClaudeResponse([]byte("not json")); err == nil {
		t.Error("malformed response accepted")
	}
	if _, err := parseClaudeResponse([]byte(`{"result":{"content":[]}}`)); err == nil {
		t.Error("contentless response accepted")
	}

	_, err := parseClaudeResponse([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("api error not surfaced: %v", err)
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		t.Error("plain api error classified as rate limit")
	}
}

func TestIsRateLimitText(t *testing.T) {
	for _, s := range []string{"Rate limit hit", "HTTP 429 Too Many Requests", "model overloaded", "rate_limit_error"} {
		if !isRateLimitText(s) {
			t.Errorf("%q not detected", s)
		}
	}
	if isRateLimitText("connection refused") {
		t.Error("false positive")
	}
}
