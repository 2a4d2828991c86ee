package plan

import (
	"fmt"

	"ralphd/internal/logging"
)

// MaxAmendmentsPerIteration is the hard cap on amendments a single handoff
// may propose. A larger batch is rejected wholesale.
const MaxAmendmentsPerIteration = 3

// AmendmentAction identifies the kind of plan change proposed.
type AmendmentAction string

const (
	AmendAdd    AmendmentAction = "add"
	AmendModify AmendmentAction = "modify"
	AmendRemove AmendmentAction = "remove"
)

// Amendment is one worker-proposed plan change.
type Amendment struct {
	Action AmendmentAction `yaml:"action" json:"action"`
	TaskID string          `yaml:"task_id" json:"task_id"`

	// For add: the full new task. For modify: only non-zero fields apply.
	Title              string     `yaml:"title,omitempty" json:"title,omitempty"`
	Description        string     `yaml:"description,omitempty" json:"description,omitempty"`
	Status             TaskStatus `yaml:"status,omitempty" json:"status,omitempty"`
	DependsOn          []string   `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	MaxRetries         int        `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	AcceptanceCriteria []string   `yaml:"acceptance_criteria,omitempty" json:"acceptance_criteria,omitempty"`
}

// AmendmentOutcome records the fate of one amendment for telemetry.
type AmendmentOutcome struct {
	Amendment Amendment `json:"amendment"`
	Applied   bool      `json:"applied"`
	Reason    string    `json:"reason"`
}

// Mutator applies bounded, guarded amendment batches to the plan.
type Mutator struct {
	plan              *Plan
	planPath          string
	defaultMaxRetries int
}

// NewMutator creates a mutator for the given plan. planPath is used for the
// pre-mutation backup; pass "" to skip backups (tests).
func NewMutator(p *Plan, planPath string, defaultMaxRetries int) *Mutator {
	return &Mutator{plan: p, planPath: planPath, defaultMaxRetries: defaultMaxRetries}
}

// Apply applies an amendment batch proposed by the iteration that completed
// originTaskID. Guardrails:
//   - at most MaxAmendmentsPerIteration amendments, else the whole batch is
//     rejected with a single outcome record
//   - a task may never change its own status via its own amendment
//   - a done task may never be removed
//   - individually invalid amendments are skipped, not fatal to the batch
//
// A backup of the pre-mutation plan file is taken before anything is applied.
func (m *Mutator) Apply(amendments []Amendment, originTaskID string) []AmendmentOutcome {
	if len(amendments) == 0 {
		return nil
	}

	if len(amendments) > MaxAmendmentsPerIteration {
		reason := fmt.Sprintf("exceeds per-iteration limit (%d > %d)", len(amendments), MaxAmendmentsPerIteration)
		logging.PlanWarn("Amendment batch rejected: %s", reason)
		return []AmendmentOutcome{{
			Amendment: Amendment{Action: "batch"},
			Applied:   false,
			Reason:    reason,
		}}
	}

	if m.planPath != "" {
		if _, err := Backup(m.planPath); err != nil {
			logging.PlanWarn("Plan backup failed, refusing to mutate: %v", err)
			return []AmendmentOutcome{{
				Amendment: Amendment{Action: "batch"},
				Applied:   false,
				Reason:    fmt.Sprintf("pre-mutation backup failed: %v", err),
			}}
		}
	}

	outcomes := make([]AmendmentOutcome, 0, len(amendments))
	for _, a := range amendments {
		outcome := m.applyOne(a, originTaskID)
		if outcome.Applied {
			logging.Plan("Amendment applied: %s %s (%s)", a.Action, a.TaskID, outcome.Reason)
		} else {
			logging.PlanWarn("Amendment skipped: %s %s: %s", a.Action, a.TaskID, outcome.Reason)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (m *Mutator) applyOne(a Amendment, originTaskID string) AmendmentOutcome {
	switch a.Action {
	case AmendAdd:
		return m.applyAdd(a)
	case AmendModify:
		return m.applyModify(a, originTaskID)
	case AmendRemove:
		return m.applyRemove(a)
	default:
		return AmendmentOutcome{Amendment: a, Applied: false,
			Reason: fmt.Sprintf("unknown action %q", a.Action)}
	}
}

func (m *Mutator) applyAdd(a Amendment) AmendmentOutcome {
	if a.TaskID == "" {
		return AmendmentOutcome{Amendment: a, Applied: false, Reason: "add requires a task_id"}
	}
	if m.plan.FindTask(a.TaskID) != nil {
		return AmendmentOutcome{Amendment: a, Applied: false,
			Reason: fmt.Sprintf("task %q already exists", a.TaskID)}
	}
	for _, dep := range a.DependsOn {
		if m.plan.FindTask(dep) == nil {
			return AmendmentOutcome{Amendment: a, Applied: false,
				Reason: fmt.Sprintf("dependency %q does not exist", dep)}
		}
	}

	maxRetries := a.MaxRetries
	if maxRetries <= 0 {
		maxRetries = m.defaultMaxRetries
	}

	// New tasks always append; existing task order is never disturbed.
	m.plan.Tasks = append(m.plan.Tasks, &Task{
		ID:                 a.TaskID,
		Title:              a.Title,
		Description:        a.Description,
		Status:             TaskPending,
		DependsOn:          a.DependsOn,
		MaxRetries:         maxRetries,
		AcceptanceCriteria: a.AcceptanceCriteria,
	})
	return AmendmentOutcome{Amendment: a, Applied: true, Reason: "task added"}
}

func (m *Mutator) applyModify(a Amendment, originTaskID string) AmendmentOutcome {
	t := m.plan.FindTask(a.TaskID)
	if t == nil {
		return AmendmentOutcome{Amendment: a, Applied: false,
			Reason: fmt.Sprintf("task %q does not exist", a.TaskID)}
	}
	if a.Status != "" && a.TaskID == originTaskID {
		return AmendmentOutcome{Amendment: a, Applied: false,
			Reason: "a task may not change its own status"}
	}
	if a.Status != "" && !validStatus(a.Status) {
		return AmendmentOutcome{Amendment: a, Applied: false,
			Reason: fmt.Sprintf("invalid status %q", a.Status)}
	}
	for _, dep := range a.DependsOn {
		if m.plan.FindTask(dep) == nil {
			return AmendmentOutcome{Amendment: a, Applied: false,
				Reason: fmt.Sprintf("dependency %q does not exist", dep)}
		}
	}

	if a.Title != "" {
		t.Title = a.Title
	}
	if a.Description != "" {
		t.Description = a.Description
	}
	if a.Status != "" {
		t.Status = a.Status
	}
	if a.DependsOn != nil {
		t.DependsOn = a.DependsOn
	}
	if a.MaxRetries > 0 {
		t.MaxRetries = a.MaxRetries
	}
	if a.AcceptanceCriteria != nil {
		t.AcceptanceCriteria = a.AcceptanceCriteria
	}
	return AmendmentOutcome{Amendment: a, Applied: true, Reason: "task modified"}
}

func (m *Mutator) applyRemove(a Amendment) AmendmentOutcome {
	t := m.plan.FindTask(a.TaskID)
	if t == nil {
		return AmendmentOutcome{Amendment: a, Applied: false,
			Reason: fmt.Sprintf("task %q does not exist", a.TaskID)}
	}
	if t.Status == TaskDone {
		return AmendmentOutcome{Amendment: a, Applied: false,
			Reason: "a done task may never be removed"}
	}
	for _, other := range m.plan.Tasks {
		if other.ID == a.TaskID {
			continue
		}
		for _, dep := range other.DependsOn {
			if dep == a.TaskID {
				return AmendmentOutcome{Amendment: a, Applied: false,
					Reason: fmt.Sprintf("task %q still depends on it", other.ID)}
			}
		}
	}

	kept := m.plan.Tasks[:0]
	for _, other := range m.plan.Tasks {
		if other.ID != a.TaskID {
			kept = append(kept, other)
		}
	}
	m.plan.Tasks = kept
	return AmendmentOutcome{Amendment: a, Applied: true, Reason: "task removed"}
}

func validStatus(s TaskStatus) bool {
	switch s {
	case TaskPending, TaskInProgress, TaskDone, TaskFailed, TaskSkipped:
		return true
	}
	return false
}
