package plan

import (
	"ralphd/internal/logging"
)

// ScheduleState describes the outer-loop state when no task is runnable.
type ScheduleState string

const (
	// StateRunnable means NextTask returned a task.
	StateRunnable ScheduleState = "runnable"
	// StateBlocked means pending or failed tasks remain but none can run:
	// a dependency cycle, a dependency on a failed/skipped task, or a
	// missing dependency. Terminal for the run; the loop must surface it.
	StateBlocked ScheduleState = "blocked"
	// StateComplete means every task is done or skipped.
	StateComplete ScheduleState = "complete"
)

// Scheduler selects the next runnable task from the plan.
// Selection is deterministic: the first task in plan order whose status is
// pending and whose every dependency is done. Repeated calls against an
// unchanged plan return the same task. No cycle detection is performed; an
// unresolvable cycle manifests as StateBlocked.
type Scheduler struct {
	plan *Plan
}

// NewScheduler creates a scheduler over the given plan.
func NewScheduler(p *Plan) *Scheduler {
	return &Scheduler{plan: p}
}

// NextTask returns the next runnable task, or nil with the terminal state.
func (s *Scheduler) NextTask() (*Task, ScheduleState) {
	for _, t := range s.plan.Tasks {
		if t.Status != TaskPending {
			continue
		}
		if s.depsSatisfied(t) {
			logging.SchedulerDebug("Selected task %s (%s)", t.ID, t.Title)
			return t, StateRunnable
		}
	}

	// Nothing runnable: distinguish blocked from complete.
	for _, t := range s.plan.Tasks {
		if t.Status == TaskPending || t.Status == TaskFailed {
			logging.Scheduler("No runnable task: plan blocked (first stuck task: %s)", t.ID)
			return nil, StateBlocked
		}
	}

	logging.Scheduler("No runnable task: plan complete")
	return nil, StateComplete
}

// depsSatisfied reports whether every dependency of t resolves to a done
// task. An unknown dependency id counts as unsatisfied, not as an error;
// the plan validator flags those at load time.
func (s *Scheduler) depsSatisfied(t *Task) bool {
	for _, depID := range t.DependsOn {
		dep := s.plan.FindTask(depID)
		if dep == nil || dep.Status != TaskDone {
			return false
		}
	}
	return true
}
