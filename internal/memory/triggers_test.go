package memory

import (
	"testing"

	"ralphd/internal/handoff"
	"ralphd/internal/plan"
)

func triggerCfg() TriggerConfig {
	return TriggerConfig{
		NoveltyThreshold: 0.25,
		NoveltyWindow:    3,
		ByteThreshold:    65536,
		PeriodicInterval: 10,
	}
}

func narrativeHandoff(iter int, text string) *handoff.Handoff {
	return &handoff.Handoff{Iteration: iter, TaskID: "t1", Narrative: text}
}

func TestExternalDocsTriggerHasHighestPriority(t *testing.T) {
	task := &plan.Task{
		ID:       "t9",
		Title:    "integrate payments",
		Metadata: plan.TaskMetadata{NeedsExternalDocs: true},
	}
	// Every other trigger would also fire; external_docs must win.
	state := &CompactionState{BytesSinceRefresh: 100000, IterationsSinceRefresh: 50}
	got := ShouldRefresh(task, nil, state, triggerCfg())
	if got != TriggerExternalDocs {
		t.Errorf("got %s, want external_docs", got)
	}
}

func TestLibrariesImplyExternalDocs(t *testing.T) {
	task := &plan.Task{
		ID:       "t2",
		Title:    "wire the cache",
		Metadata: plan.TaskMetadata{Libraries: []string{"redis"}},
	}
	got := ShouldRefresh(task, nil, &CompactionState{}, triggerCfg())
	if got != TriggerExternalDocs {
		t.Errorf("got %s, want external_docs", got)
	}
}

func TestNoveltyTriggerFiresOnDisjointTask(t *testing.T) {
	task := &plan.Task{
		ID:          "t3",
		Title:       "implement websocket transport",
		Description: "bidirectional streaming protocol upgrade handshake",
	}
	recent := []*handoff.Handoff{
		narrativeHandoff(1, "refactored the yaml plan loader and scheduler ordering"),
		narrativeHandoff(2, "fixed retry counter persistence in the plan store"),
	}
	got := ShouldRefresh(task, recent, &CompactionState{}, triggerCfg())
	if got != TriggerNovelty {
		t.Errorf("got %s, want novelty", got)
	}
}

func TestNoveltyTriggerQuietOnFamiliarTask(t *testing.T) {
	task := &plan.Task{
		ID:          "t4",
		Title:       "extend the plan scheduler",
		Description: "scheduler ordering for the yaml plan loader",
	}
	recent := []*handoff.Handoff{
		narrativeHandoff(1, "refactored the yaml plan loader and scheduler ordering"),
	}
	got := ShouldRefresh(task, recent, &CompactionState{}, triggerCfg())
	if got != TriggerNone {
		t.Errorf("got %s, want none", got)
	}
}

func TestNoveltySkippedWithNoHistory(t *testing.T) {
	task := &plan.Task{ID: "t5", Title: "anything completely unrelated whatsoever"}
	got := ShouldRefresh(task, nil, &CompactionState{}, triggerCfg())
	if got != TriggerNone {
		t.Errorf("got %s, want none on first iteration", got)
	}
}

func TestByteTriggerBeatsPeriodic(t *testing.T) {
	task := &plan.Task{ID: "t6", Title: "scheduler ordering"}
	recent := []*handoff.Handoff{narrativeHandoff(1, "scheduler ordering work")}
	state := &CompactionState{BytesSinceRefresh: 70000, IterationsSinceRefresh: 50}
	got := ShouldRefresh(task, recent, state, triggerCfg())
	if got != TriggerBytes {
		t.Errorf("got %s, want bytes", got)
	}
}

func TestPeriodicTrigger(t *testing.T) {
	task := &plan.Task{ID: "t7", Title: "scheduler ordering"}
	recent := []*handoff.Handoff{narrativeHandoff(1, "scheduler ordering work")}
	state := &CompactionState{IterationsSinceRefresh: 10}
	got := ShouldRefresh(task, recent, state, triggerCfg())
	if got != TriggerPeriodic {
		t.Errorf("got %s, want periodic", got)
	}
}

func TestTokenizeDropsShortAndNonAlnum(t *testing.T) {
	terms := tokenize("Fix the DB: db, a v2 API!")
	for _, want := range []string{"fix", "the", "api"} {
		if _, ok := terms[want]; !ok {
			t.Errorf("missing term %q", want)
		}
	}
	for _, absent := range []string{"db", "a", "v2", ""} {
		if _, ok := terms[absent]; ok {
			t.Errorf("term %q should have been dropped", absent)
		}
	}
}

func TestTermOverlapEmptyTaskIsFull(t *testing.T) {
	if got := termOverlap("a b", "whatever history"); got != 1.0 {
		t.Errorf("overlap = %v, want 1.0 for empty task term set", got)
	}
}

func TestNoveltyWindowLimitsHistory(t *testing.T) {
	task := &plan.Task{ID: "t8", Title: "telemetry database schema"}
	recent := []*handoff.Handoff{
		narrativeHandoff(1, "telemetry database schema groundwork"),
		narrativeHandoff(2, "plan loader"),
		narrativeHandoff(3, "scheduler ordering"),
		narrativeHandoff(4, "handoff parsing"),
		narrativeHandoff(5, "dashboard endpoints"),
	}
	// The matching narrative is outside the 3-iteration window, so the task
	// looks novel.
	got := ShouldRefresh(task, recent, &CompactionState{}, triggerCfg())
	if got != TriggerNovelty {
		t.Errorf("got %s, want novelty", got)
	}
}
