package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"ralphd/internal/fsutil"
	"ralphd/internal/handoff"
	"ralphd/internal/logging"
	"ralphd/internal/plan"
)

// CatalogMaintainer produces a refreshed catalog text from the current
// catalog and a digest of recent handoffs. The loop's worker backend
// satisfies this with a dedicated maintenance prompt.
type CatalogMaintainer interface {
	MaintainCatalog(ctx context.Context, currentCatalog, handoffDigest string) (string, error)
}

// Controller owns the catalog, ledger, and compaction state files and runs
// the refresh procedure: snapshot, rewrite, verify, commit or roll back.
type Controller struct {
	catalogPath string
	ledgerPath  string
	statePath   string
	maintainer  CatalogMaintainer
	triggers    TriggerConfig

	state *CompactionState
}

// NewController loads the persisted compaction state and returns a controller
// rooted at the given state directory (conventionally .ralph).
func NewController(stateDir string, maintainer CatalogMaintainer, triggers TriggerConfig) (*Controller, error) {
	c := &Controller{
		catalogPath: filepath.Join(stateDir, "catalog.md"),
		ledgerPath:  filepath.Join(stateDir, "catalog_ledger.json"),
		statePath:   filepath.Join(stateDir, "compaction_state.json"),
		maintainer:  maintainer,
		triggers:    triggers,
	}
	state, err := LoadState(c.statePath)
	if err != nil {
		return nil, err
	}
	c.state = state
	return c, nil
}

// CatalogText returns the current catalog text, creating an empty catalog on
// first use.
func (c *Controller) CatalogText() (string, error) {
	data, err := os.ReadFile(c.catalogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return EmptyCatalog().Render(), nil
		}
		return "", fmt.Errorf("failed to read catalog: %w", err)
	}
	return string(data), nil
}

// State exposes the live compaction counters.
func (c *Controller) State() *CompactionState {
	return c.state
}

// RecordIteration accumulates one completed iteration's handoff into the
// compaction counters and persists them.
func (c *Controller) RecordIteration(h *handoff.Handoff) error {
	c.state.RecordHandoff(h.Bytes())
	return SaveState(c.statePath, c.state)
}

// CheckTrigger evaluates the refresh triggers for the upcoming task.
func (c *Controller) CheckTrigger(task *plan.Task, recent []*handoff.Handoff) TriggerReason {
	return ShouldRefresh(task, recent, c.state, c.triggers)
}

// Refresh runs one catalog refresh at the given iteration: it snapshots the
// catalog and ledger, asks the maintainer for a rewritten catalog, appends
// ledger rows for the digested handoffs, verifies the result, and either
// commits both files atomically or restores the snapshot. A failed refresh
// leaves the counters accumulating so the trigger fires again later.
func (c *Controller) Refresh(ctx context.Context, iteration int, recent []*handoff.Handoff, reason TriggerReason) error {
	logging.Compaction("Catalog refresh at iteration %d (trigger %s)", iteration, reason)

	prevText, err := c.CatalogText()
	if err != nil {
		return err
	}
	prevCatalog, err := ParseCatalog(prevText)
	if err != nil {
		return fmt.Errorf("current catalog is unreadable: %w", err)
	}
	prevLedger, err := LoadLedger(c.ledgerPath)
	if err != nil {
		return err
	}

	digest := handoff.Digest(recent)
	nextText, err := c.maintainer.MaintainCatalog(ctx, prevText, digest)
	if err != nil {
		return fmt.Errorf("catalog maintenance failed: %w", err)
	}

	nextLedger := appendLedgerRows(prevLedger, recent, nextText)

	if err := VerifyRefresh(prevCatalog, prevLedger, nextText, nextLedger); err != nil {
		logging.CompactionWarn("Refresh rejected, keeping previous catalog: %v", err)
		return err
	}

	if err := fsutil.WriteFileAtomic(c.catalogPath, []byte(nextText), 0644); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := SaveLedger(c.ledgerPath, nextLedger); err != nil {
		// The catalog is already committed; restore it so the two files
		// never diverge.
		if rerr := fsutil.WriteFileAtomic(c.catalogPath, []byte(prevText), 0644); rerr != nil {
			logging.CompactionWarn("Rollback of catalog after ledger failure also failed: %v", rerr)
		}
		return fmt.Errorf("failed to write ledger: %w", err)
	}

	c.state.ResetAfterRefresh(iteration)
	if err := SaveState(c.statePath, c.state); err != nil {
		return err
	}

	logging.Compaction("Catalog refresh committed: %d ledger rows, %d bytes of catalog",
		len(nextLedger), len(nextText))
	return nil
}

// appendLedgerRows extends the ledger with one row per digested handoff that
// is not already recorded, linking each row to the memory ids whose
// provenance names its iteration.
func appendLedgerRows(prev []LedgerRow, recent []*handoff.Handoff, catalogText string) []LedgerRow {
	recorded := make(map[int]bool, len(prev))
	for _, row := range prev {
		recorded[row.Iteration] = true
	}

	byIteration := make(map[int][]string)
	if catalog, err := ParseCatalog(catalogText); err == nil {
		for _, e := range catalog.Entries {
			for _, iter := range e.Provenance {
				byIteration[iter] = append(byIteration[iter], e.ID)
			}
		}
	}

	next := append([]LedgerRow(nil), prev...)
	for _, h := range recent {
		if recorded[h.Iteration] {
			continue
		}
		row := LedgerRow{
			Iteration: h.Iteration,
			TaskID:    h.TaskID,
			Summary:   summarize(h),
			MemoryIDs: byIteration[h.Iteration],
		}
		if h.Degraded {
			row.Tags = append(row.Tags, "degraded")
		}
		if h.Refusal {
			row.Tags = append(row.Tags, "refusal")
		}
		next = append(next, row)
		recorded[h.Iteration] = true
	}
	return next
}

const maxSummaryLen = 200

func summarize(h *handoff.Handoff) string {
	text := h.Narrative
	if text == "" {
		text = h.RawText
	}
	runes := []rune(text)
	if len(runes) > maxSummaryLen {
		return string(runes[:maxSummaryLen])
	}
	return text
}
