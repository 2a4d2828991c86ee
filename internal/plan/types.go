// Package plan implements the ralphd task plan: the dependency-ordered task
// list, its persistence, the scheduler that selects runnable tasks, and the
// guarded mutator that applies worker-proposed amendments.
package plan

import (
	"fmt"
	"time"
)

// TaskStatus represents the status of a plan task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// TaskMetadata carries optional hints attached to a task.
type TaskMetadata struct {
	Skills            []string `yaml:"skills,omitempty" json:"skills,omitempty"`                           // Skill file refs for prompt assembly
	NeedsExternalDocs bool     `yaml:"needs_external_docs,omitempty" json:"needs_external_docs,omitempty"` // Forces a catalog refresh before the task
	Libraries         []string `yaml:"libraries,omitempty" json:"libraries,omitempty"`                     // Referenced third-party libraries
}

// Task is an atomic unit of work in the plan.
type Task struct {
	ID                 string       `yaml:"id" json:"id"`
	Title              string       `yaml:"title" json:"title"`
	Description        string       `yaml:"description" json:"description"`
	Status             TaskStatus   `yaml:"status" json:"status"`
	DependsOn          []string     `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	RetryCount         int          `yaml:"retry_count" json:"retry_count"`
	MaxRetries         int          `yaml:"max_retries" json:"max_retries"`
	AcceptanceCriteria []string     `yaml:"acceptance_criteria,omitempty" json:"acceptance_criteria,omitempty"`
	Metadata           TaskMetadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// Transient failure context from the last rolled-back attempt.
	// Persisted so a restart resumes with the same retry hints.
	FailureContext string `yaml:"failure_context,omitempty" json:"failure_context,omitempty"`
}

// Settings holds plan-global execution settings.
type Settings struct {
	ValidationStrategy string `yaml:"validation_strategy,omitempty" json:"validation_strategy,omitempty"` // e.g. "command", "none"
	MaxIterations      int    `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`           // 0 = use config default
}

// Plan is an ordered sequence of tasks plus global settings.
// Task ids are unique; amendments never reorder existing ids.
type Plan struct {
	Name      string    `yaml:"name" json:"name"`
	Settings  Settings  `yaml:"settings,omitempty" json:"settings,omitempty"`
	Tasks     []*Task   `yaml:"tasks" json:"tasks"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// FindTask returns the task with the given id, or nil.
func (p *Plan) FindTask(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Counts returns the number of tasks per status.
func (p *Plan) Counts() map[TaskStatus]int {
	counts := make(map[TaskStatus]int, 5)
	for _, t := range p.Tasks {
		counts[t.Status]++
	}
	return counts
}

// Validate checks structural plan invariants: non-empty unique ids,
// resolvable dependencies, and sane retry budgets.
func (p *Plan) Validate() error {
	seen := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task %d has empty id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
		if t.MaxRetries < 0 {
			return fmt.Errorf("task %q has negative max_retries", t.ID)
		}
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	return nil
}

// normalizeStatus coerces an unset status to pending so hand-written plan
// files don't need to spell it out.
func (t *Task) normalizeStatus() {
	if t.Status == "" {
		t.Status = TaskPending
	}
}
