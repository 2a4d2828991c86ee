package memory

import (
	"encoding/json"
	"fmt"
	"os"

	"ralphd/internal/fsutil"
)

// CompactionState holds the refresh counters. It accumulates monotonically
// between successful catalog refreshes and is reset only after a verified
// refresh. Persisted with atomic replace so a restart resumes mid-window.
type CompactionState struct {
	BytesSinceRefresh      int `json:"bytes_since_refresh"`
	IterationsSinceRefresh int `json:"iterations_since_refresh"`
	LastRefreshIteration   int `json:"last_refresh_iteration"`
}

// RecordHandoff accumulates one iteration's handoff signal.
func (s *CompactionState) RecordHandoff(bytes int) {
	s.BytesSinceRefresh += bytes
	s.IterationsSinceRefresh++
}

// ResetAfterRefresh clears the counters after a verified refresh at the
// given iteration.
func (s *CompactionState) ResetAfterRefresh(iteration int) {
	s.BytesSinceRefresh = 0
	s.IterationsSinceRefresh = 0
	s.LastRefreshIteration = iteration
}

// LoadState reads the compaction state; a missing file yields zero state.
func LoadState(path string) (*CompactionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &CompactionState{}, nil
		}
		return nil, fmt.Errorf("failed to read compaction state: %w", err)
	}
	var s CompactionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse compaction state: %w", err)
	}
	return &s, nil
}

// SaveState persists the compaction state with atomic replace.
func SaveState(path string, s *CompactionState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal compaction state: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0644)
}
