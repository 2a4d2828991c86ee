package memory

import (
	"encoding/json"
	"fmt"
	"os"

	"ralphd/internal/fsutil"
)

// LedgerRow is one row of the iteration-indexed ledger: the machine-indexed
// counterpart of the catalog text. The ledger is append-only: it never
// shrinks, previously recorded rows are never rewritten, and iteration
// numbers never repeat.
type LedgerRow struct {
	Iteration int      `json:"iteration"`
	TaskID    string   `json:"task_id"`
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags,omitempty"`
	MemoryIDs []string `json:"memory_ids,omitempty"`
}

// LoadLedger reads the ledger rows from a JSON array file. A missing file is
// an empty ledger.
func LoadLedger(path string) ([]LedgerRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	var rows []LedgerRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse ledger: %w", err)
	}
	return rows, nil
}

// SaveLedger persists the ledger with atomic replace.
func SaveLedger(path string, rows []LedgerRow) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0644)
}
