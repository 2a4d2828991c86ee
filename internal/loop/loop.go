// Package loop drives the sequential orchestration cycle: select a task,
// maybe refresh the catalog, assemble a prompt, run the checkpointed attempt,
// and fold the outcome back into the plan and the compaction counters.
package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ralphd/internal/checkpoint"
	"ralphd/internal/config"
	"ralphd/internal/control"
	"ralphd/internal/handoff"
	"ralphd/internal/logging"
	"ralphd/internal/memory"
	"ralphd/internal/plan"
	"ralphd/internal/prompt"
	"ralphd/internal/telemetry"
	"ralphd/internal/worker"
)

// RunState is the terminal state of a run. Every exit path maps to exactly
// one of these.
type RunState string

const (
	StateComplete     RunState = "complete"
	StateBlocked      RunState = "blocked"
	StateIterationCap RunState = "iteration_cap"
	StateInterrupted  RunState = "interrupted"
)

// RunResult summarizes a finished run.
type RunResult struct {
	State      RunState
	Iterations int
	Counts     map[plan.TaskStatus]int
}

// Loop owns all shared mutable state. It is single-threaded: the control
// plane and dashboard interact only through their own thread-safe surfaces.
type Loop struct {
	cfg      *config.Config
	plan     *plan.Plan
	planPath string
	sched    *plan.Scheduler

	worker      worker.Worker
	validator   Validator
	checkpoints checkpoint.Checkpointer
	handoffs    *handoff.Store
	memory      *memory.Controller
	control     *control.Controller
	events      *telemetry.Store
	assembler   *prompt.Assembler
	skills      string

	iteration        int
	rateLimitBackoff time.Duration
}

// Options wires the loop's collaborators.
type Options struct {
	Config      *config.Config
	Plan        *plan.Plan
	PlanPath    string
	Worker      worker.Worker
	Validator   Validator
	Checkpoints checkpoint.Checkpointer
	Handoffs    *handoff.Store
	Memory      *memory.Controller
	Control     *control.Controller
	Events      *telemetry.Store
	Skills      string
}

func New(opts Options) *Loop {
	l := &Loop{
		cfg:              opts.Config,
		plan:             opts.Plan,
		planPath:         opts.PlanPath,
		sched:            plan.NewScheduler(opts.Plan),
		worker:           opts.Worker,
		validator:        opts.Validator,
		checkpoints:      opts.Checkpoints,
		handoffs:         opts.Handoffs,
		memory:           opts.Memory,
		control:          opts.Control,
		events:           opts.Events,
		assembler:        prompt.NewAssembler(prompt.Mode(opts.Config.Context.Mode), opts.Config.ContextBudget()),
		skills:           opts.Skills,
		iteration:        1,
		rateLimitBackoff: 60 * time.Second,
	}
	if latest, err := opts.Handoffs.Latest(); err == nil && latest != nil {
		l.iteration = latest.Iteration + 1
	}
	return l
}

// Run executes iterations until a terminal state is reached. Cancellation is
// cooperative: the context and the shutdown flag are checked at the top of
// each iteration only.
func (l *Loop) Run(ctx context.Context) (RunResult, error) {
	l.recordEvent(0, "", telemetry.EventRunStarted, map[string]string{"plan": l.plan.Name})

	performed := 0
	for {
		if ctx.Err() != nil || l.control.ShutdownRequested() {
			return l.finish(StateInterrupted, performed), nil
		}

		if err := l.control.ProcessPending(); err != nil {
			logging.LoopWarn("Control queue drain failed: %v", err)
		}
		if l.control.Paused() {
			logging.Loop("Paused, waiting for resume")
			l.control.WaitWhilePaused(ctx)
			continue
		}

		if limit := l.cfg.Plan.MaxIterations; limit > 0 && performed >= limit {
			logging.Loop("Iteration cap %d reached", limit)
			return l.finish(StateIterationCap, performed), nil
		}

		task, state := l.sched.NextTask()
		switch state {
		case plan.StateComplete:
			return l.finish(StateComplete, performed), nil
		case plan.StateBlocked:
			logging.Loop("No runnable task remains; run is blocked")
			return l.finish(StateBlocked, performed), nil
		}

		if l.control.TakeSkip(task.ID) {
			logging.Loop("Task %s skipped by operator", task.ID)
			task.Status = plan.TaskSkipped
			l.savePlan()
			l.recordEvent(l.iteration, task.ID, telemetry.EventControlCommand, map[string]string{"command": "skip-task"})
			continue
		}

		l.maybeRefreshCatalog(ctx, task)

		rateLimited, err := l.runIteration(ctx, task)
		if err != nil {
			return l.finish(StateInterrupted, performed), err
		}
		if rateLimited {
			logging.LoopWarn("Rate limited; backing off %v before retrying", l.rateLimitBackoff)
			select {
			case <-ctx.Done():
				return l.finish(StateInterrupted, performed), nil
			case <-time.After(l.rateLimitBackoff):
			}
			continue
		}

		performed++
		l.iteration++
	}
}

// runIteration executes one checkpointed task attempt. The returned bool
// reports a rate-limited invocation, which burns neither the iteration
// counter nor a retry.
func (l *Loop) runIteration(ctx context.Context, task *plan.Task) (bool, error) {
	logging.Loop("Iteration %d: task %s (attempt %d/%d)",
		l.iteration, task.ID, task.RetryCount+1, l.effectiveMaxRetries(task))
	l.recordEvent(l.iteration, task.ID, telemetry.EventTaskSelected, map[string]string{"title": task.Title})

	task.Status = plan.TaskInProgress
	l.savePlan()

	token, err := l.checkpoints.Snapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("checkpoint snapshot failed: %w", err)
	}

	doc := l.buildPrompt(task)
	raw, err := l.worker.Invoke(ctx, doc.Text)
	if err != nil {
		var rle *worker.RateLimitError
		if errors.As(err, &rle) {
			l.recordEvent(l.iteration, task.ID, telemetry.EventRateLimited, map[string]string{"provider": rle.Provider})
			task.Status = plan.TaskPending
			l.savePlan()
			return true, nil
		}
		logging.LoopError("Worker invocation failed: %v", err)
		l.failAttempt(ctx, task, token, "worker invocation failed: "+err.Error())
		return false, nil
	}

	h := handoff.Parse(raw)
	h.Iteration = l.iteration
	h.TaskID = task.ID

	if h.Refusal {
		logging.Loop("Worker refused task %s", task.ID)
		l.failAttempt(ctx, task, token, "worker refused the task: "+firstLine(h.Narrative))
		return false, nil
	}
	if h.Degraded {
		logging.LoopWarn("Worker output unparseable for task %s", task.ID)
		l.failAttempt(ctx, task, token, "worker returned malformed output")
		return false, nil
	}

	ok, detail, err := l.validator.Validate(ctx)
	if err != nil {
		return false, fmt.Errorf("validation could not run: %w", err)
	}
	if !ok {
		logging.Loop("Validation failed for task %s", task.ID)
		l.recordEvent(l.iteration, task.ID, telemetry.EventValidationFailed, map[string]string{"detail": firstLine(detail)})
		l.failAttempt(ctx, task, token, detail)
		return false, nil
	}

	return false, l.commitAttempt(ctx, task, token, h)
}

// commitAttempt finishes a validated attempt: durable commit, handoff
// persistence, amendments, plan update, compaction signal.
func (l *Loop) commitAttempt(ctx context.Context, task *plan.Task, token string, h *handoff.Handoff) error {
	message := fmt.Sprintf("%s: %s (iteration %d)", task.ID, task.Title, l.iteration)
	if err := l.checkpoints.Commit(ctx, token, message); err != nil {
		return fmt.Errorf("checkpoint commit failed: %w", err)
	}
	if err := l.handoffs.Put(h); err != nil {
		return fmt.Errorf("failed to persist handoff: %w", err)
	}

	l.applyAmendments(h, task.ID)

	task.Status = plan.TaskDone
	task.FailureContext = ""
	l.savePlan()
	l.recordEvent(l.iteration, task.ID, telemetry.EventTaskDone, nil)

	if err := l.memory.RecordIteration(h); err != nil {
		logging.LoopWarn("Failed to persist compaction counters: %v", err)
	}
	return nil
}

// failAttempt rolls back to the checkpoint and either re-queues the task with
// failure context or marks it failed once the attempt budget is spent.
func (l *Loop) failAttempt(ctx context.Context, task *plan.Task, token, detail string) {
	if err := l.checkpoints.Restore(ctx, token); err != nil {
		logging.LoopError("Checkpoint restore failed: %v", err)
	}

	task.RetryCount++
	task.FailureContext = boundDetail(detail)

	if task.RetryCount >= l.effectiveMaxRetries(task) {
		task.Status = plan.TaskFailed
		logging.Loop("Task %s failed after %d attempts", task.ID, task.RetryCount)
		l.recordEvent(l.iteration, task.ID, telemetry.EventTaskFailed, map[string]string{"attempts": fmt.Sprint(task.RetryCount)})
	} else {
		task.Status = plan.TaskPending
		l.recordEvent(l.iteration, task.ID, telemetry.EventAttemptFailed, map[string]string{"detail": firstLine(detail)})
	}
	l.savePlan()
}

func (l *Loop) applyAmendments(h *handoff.Handoff, originTaskID string) {
	if len(h.Amendments) == 0 {
		return
	}
	mutator := plan.NewMutator(l.plan, l.planPath, l.cfg.Plan.DefaultMaxRetries)
	for _, outcome := range mutator.Apply(h.Amendments, originTaskID) {
		detail := map[string]string{
			"action":  string(outcome.Amendment.Action),
			"applied": fmt.Sprint(outcome.Applied),
		}
		if !outcome.Applied {
			detail["reason"] = outcome.Reason
			logging.PlanWarn("Amendment skipped: %s", outcome.Reason)
		}
		l.recordEvent(l.iteration, originTaskID, telemetry.EventAmendment, detail)
	}
}

func (l *Loop) buildPrompt(task *plan.Task) prompt.Result {
	prev, err := l.handoffs.Latest()
	if err != nil {
		logging.LoopWarn("Failed to load latest handoff: %v", err)
	}

	var catalogText string
	if l.cfg.Context.Mode == string(prompt.ModeRich) {
		catalogText, err = l.memory.CatalogText()
		if err != nil {
			logging.LoopWarn("Failed to load catalog: %v", err)
		}
	}

	res := l.assembler.Assemble(prompt.Input{
		Task:         task,
		PrevHandoff:  prev,
		CatalogText:  catalogText,
		OperatorNote: strings.Join(l.control.TakeNotes(), "\n"),
		SkillsText:   l.skills,
	})
	for _, name := range res.Removed {
		logging.Prompt("Budget pressure: dropped section %s", name)
	}
	if res.TaskTruncated {
		logging.LoopWarn("Task section truncated to fit context budget")
	}
	return res
}

// maybeRefreshCatalog runs the compaction decision for the upcoming task.
// Refresh failures are logged and retried on a later trigger, never fatal.
func (l *Loop) maybeRefreshCatalog(ctx context.Context, task *plan.Task) {
	recent, err := l.handoffs.Since(l.memory.State().LastRefreshIteration)
	if err != nil {
		logging.CompactionWarn("Failed to load handoffs for trigger check: %v", err)
		return
	}

	reason := l.memory.CheckTrigger(task, recent)
	if reason == memory.TriggerNone {
		return
	}

	if err := l.memory.Refresh(ctx, l.iteration, recent, reason); err != nil {
		l.recordEvent(l.iteration, task.ID, telemetry.EventCatalogRejected, map[string]string{
			"trigger": reason.String(),
			"error":   firstLine(err.Error()),
		})
		return
	}
	l.recordEvent(l.iteration, task.ID, telemetry.EventCatalogRefresh, map[string]string{"trigger": reason.String()})
}

func (l *Loop) effectiveMaxRetries(task *plan.Task) int {
	if task.MaxRetries > 0 {
		return task.MaxRetries
	}
	if l.cfg.Plan.DefaultMaxRetries > 0 {
		return l.cfg.Plan.DefaultMaxRetries
	}
	return 3
}

func (l *Loop) savePlan() {
	if err := plan.Save(l.plan, l.planPath); err != nil {
		logging.LoopError("Failed to persist plan: %v", err)
	}
}

func (l *Loop) finish(state RunState, performed int) RunResult {
	counts := l.plan.Counts()
	l.recordEvent(l.iteration, "", telemetry.EventRunFinished, map[string]string{
		"state":      string(state),
		"iterations": fmt.Sprint(performed),
	})
	logging.Loop("Run finished: %s after %d iterations", state, performed)
	return RunResult{State: state, Iterations: performed, Counts: counts}
}

func (l *Loop) recordEvent(iteration int, taskID string, typ telemetry.EventType, detail map[string]string) {
	if l.events == nil {
		return
	}
	if err := l.events.Record(iteration, taskID, typ, detail); err != nil {
		logging.TelemetryDebug("Failed to record event %s: %v", typ, err)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = truncateRunes(s, 200)
	}
	return s
}
