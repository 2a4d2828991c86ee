package loop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"ralphd/internal/logging"
)

// maxFailureDetail bounds the validation output carried into the next
// attempt's failure-context section.
const maxFailureDetail = 2000

// Validator decides whether a task attempt's changes are acceptable. The
// detail string is only meaningful when ok is false; err reports problems
// running the check itself, not a failed check.
type Validator interface {
	Validate(ctx context.Context) (ok bool, detail string, err error)
}

// CommandValidator runs a shell command and treats a zero exit as pass. An
// empty command passes every attempt, for plans validated by eye.
type CommandValidator struct {
	Command string
	WorkDir string
	Timeout time.Duration
}

func (v *CommandValidator) Validate(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(v.Command) == "" {
		return true, "", nil
	}

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", v.Command)
	cmd.Dir = v.WorkDir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	timer := logging.StartTimer(logging.CategoryLoop, "validation")
	err := cmd.Run()
	timer.Stop()

	if err == nil {
		return true, "", nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false, fmt.Sprintf("validation timed out after %v", timeout), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, boundDetail(fmt.Sprintf("exit %d: %s", exitErr.ExitCode(), output.String())), nil
	}
	return false, "", fmt.Errorf("failed to run validation command: %w", err)
}

// boundDetail truncates trailing output so the failure context never swamps
// the next prompt.
func boundDetail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxFailureDetail {
		return s
	}
	return truncateRunes(s, maxFailureDetail) + "\n[output truncated]"
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
