package checkpoint

import (
	"context"

	"github.com/google/uuid"

	"ralphd/internal/logging"
)

// NoopCheckpointer serves workspaces without git. Snapshots hand out fresh
// tokens, commit and restore do nothing, so failed attempts leave their file
// changes in place.
type NoopCheckpointer struct{}

func (NoopCheckpointer) Snapshot(ctx context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (NoopCheckpointer) Commit(ctx context.Context, token, message string) error {
	return nil
}

func (NoopCheckpointer) Restore(ctx context.Context, token string) error {
	logging.LoopWarn("No checkpointing backend; changes since %s were not rolled back", token)
	return nil
}

// Detect picks the git checkpointer when workDir is a usable repository and
// falls back to the no-op implementation otherwise.
func Detect(ctx context.Context, workDir string) Checkpointer {
	g := NewGitCheckpointer(workDir)
	if g.Available(ctx) {
		logging.Boot("Using git checkpoints in %s", workDir)
		return g
	}
	logging.Boot("No git repository detected in %s; rollback disabled", workDir)
	return NoopCheckpointer{}
}
