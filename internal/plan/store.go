package plan

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ralphd/internal/fsutil"
	"ralphd/internal/logging"
)

// Load reads a plan from a YAML file and normalizes task statuses.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	for _, t := range p.Tasks {
		t.normalizeStatus()
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	logging.Plan("Loaded plan %q: %d tasks from %s", p.Name, len(p.Tasks), path)
	return &p, nil
}

// Save persists the plan with atomic replace, so a reader never observes a
// half-written plan.
func Save(p *Plan, path string) error {
	p.UpdatedAt = time.Now().UTC()

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	return fsutil.WriteFileAtomic(path, data, 0644)
}

// Backup copies the current plan file next to itself with a .bak suffix.
// Called by the mutator before applying any amendment batch.
func Backup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read plan for backup: %w", err)
	}
	backupPath := path + ".bak"
	if err := fsutil.WriteFileAtomic(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write plan backup: %w", err)
	}
	logging.PlanDebug("Plan backed up to %s", backupPath)
	return backupPath, nil
}
