package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"ralphd/internal/logging"
)

// GitCheckpointer implements checkpoints with the repository's git binary.
// A snapshot token is the HEAD commit hash; restore is a hard reset plus a
// clean of untracked files.
type GitCheckpointer struct {
	workDir string
}

func NewGitCheckpointer(workDir string) *GitCheckpointer {
	return &GitCheckpointer{workDir: workDir}
}

// Available reports whether workDir is inside a git work tree with at least
// one commit.
func (g *GitCheckpointer) Available(ctx context.Context) bool {
	if _, err := g.run(ctx, "rev-parse", "--is-inside-work-tree"); err != nil {
		return false
	}
	_, err := g.run(ctx, "rev-parse", "HEAD")
	return err == nil
}

func (g *GitCheckpointer) Snapshot(ctx context.Context) (string, error) {
	// Stage everything first so the snapshot covers files added before this
	// attempt but never committed.
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return "", fmt.Errorf("git add before snapshot failed: %w", err)
	}
	status, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("git status failed: %w", err)
	}
	if strings.TrimSpace(status) != "" {
		if _, err := g.run(ctx, "commit", "-m", "ralphd: pre-attempt snapshot"); err != nil {
			return "", fmt.Errorf("git snapshot commit failed: %w", err)
		}
	}

	head, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD failed: %w", err)
	}
	token := strings.TrimSpace(head)
	logging.LoopDebug("Checkpoint snapshot %s", token[:min(12, len(token))])
	return token, nil
}

func (g *GitCheckpointer) Commit(ctx context.Context, token, message string) error {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}
	status, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("git status failed: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		// The worker produced no file changes. Nothing to commit is fine;
		// the handoff still records the iteration.
		return nil
	}
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("git commit failed: %w", err)
	}
	return nil
}

func (g *GitCheckpointer) Restore(ctx context.Context, token string) error {
	if _, err := g.run(ctx, "reset", "--hard", token); err != nil {
		return fmt.Errorf("git reset to %s failed: %w", token, err)
	}
	if _, err := g.run(ctx, "clean", "-fd"); err != nil {
		return fmt.Errorf("git clean failed: %w", err)
	}
	return nil
}

func (g *GitCheckpointer) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
