package handoff

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"ralphd/internal/fsutil"
	"ralphd/internal/logging"
)

// Store persists handoffs under <workspace>/.ralph/handoffs/, one YAML file
// per iteration. Files are immutable once written.
type Store struct {
	dir string
}

// NewStore creates a handoff store rooted at the workspace.
func NewStore(workspace string) *Store {
	return &Store{dir: filepath.Join(workspace, ".ralph", "handoffs")}
}

func (s *Store) pathFor(iteration int) string {
	return filepath.Join(s.dir, fmt.Sprintf("iter-%04d.yaml", iteration))
}

// Put persists a handoff for the given iteration. Refuses to overwrite an
// existing handoff: they are immutable once persisted.
func (s *Store) Put(h *Handoff) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	path := s.pathFor(h.Iteration)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("handoff for iteration %d already exists", h.Iteration)
	}

	data, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal handoff: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("failed to persist handoff: %w", err)
	}

	logging.LoopDebug("Handoff persisted for iteration %d (task %s, %d narrative bytes, degraded=%v)",
		h.Iteration, h.TaskID, h.Bytes(), h.Degraded)
	return nil
}

// Get loads the handoff for one iteration, or nil if absent.
func (s *Store) Get(iteration int) (*Handoff, error) {
	data, err := os.ReadFile(s.pathFor(iteration))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read handoff %d: %w", iteration, err)
	}
	var h Handoff
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to parse handoff %d: %w", iteration, err)
	}
	return &h, nil
}

// Latest returns the most recent handoff, or nil if none exist.
func (s *Store) Latest() (*Handoff, error) {
	iters, err := s.iterations()
	if err != nil || len(iters) == 0 {
		return nil, err
	}
	return s.Get(iters[len(iters)-1])
}

// LastN returns up to n most recent handoffs, oldest first.
func (s *Store) LastN(n int) ([]*Handoff, error) {
	iters, err := s.iterations()
	if err != nil {
		return nil, err
	}
	if len(iters) > n {
		iters = iters[len(iters)-n:]
	}
	return s.load(iters)
}

// Since returns all handoffs with iteration strictly greater than after,
// oldest first.
func (s *Store) Since(after int) ([]*Handoff, error) {
	iters, err := s.iterations()
	if err != nil {
		return nil, err
	}
	var wanted []int
	for _, it := range iters {
		if it > after {
			wanted = append(wanted, it)
		}
	}
	return s.load(wanted)
}

func (s *Store) load(iters []int) ([]*Handoff, error) {
	out := make([]*Handoff, 0, len(iters))
	for _, it := range iters {
		h, err := s.Get(it)
		if err != nil {
			return nil, err
		}
		if h != nil {
			out = append(out, h)
		}
	}
	return out, nil
}

// iterations lists persisted iteration numbers in ascending order.
func (s *Store) iterations() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list handoffs: %w", err)
	}

	var iters []int
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "iter-%d.yaml", &n); err == nil {
			iters = append(iters, n)
		}
	}
	sort.Ints(iters)
	return iters, nil
}
