// Package checkpoint provides the snapshot/commit/restore boundary around a
// task attempt. The git implementation shells out to the repository's own git
// binary; a no-op implementation serves workspaces without version control.
package checkpoint

import "context"

// Checkpointer wraps one task attempt in three atomic operations: take a
// restore point, durably keep the working changes, or throw them away back to
// the restore point.
type Checkpointer interface {
	// Snapshot returns an opaque token identifying the current state.
	Snapshot(ctx context.Context) (string, error)
	// Commit durably applies everything changed since the snapshot.
	Commit(ctx context.Context, token, message string) error
	// Restore discards all changes made since the snapshot, including
	// untracked files created after it.
	Restore(ctx context.Context, token string) error
}
