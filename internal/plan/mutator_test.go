package plan

import (
	"strings"
	"testing"
)

func mutatorPlan() *Plan {
	return &Plan{
		Name: "mut",
		Tasks: []*Task{
			{ID: "a", Title: "Task A", Status: TaskDone, MaxRetries: 3},
			{ID: "b", Title: "Task B", Status: TaskPending, MaxRetries: 3, DependsOn: []string{"a"}},
		},
	}
}

func TestMutator_BatchLimitRejectsWholeBatch(t *testing.T) {
	p := mutatorPlan()
	m := NewMutator(p, "", 3)

	batch := []Amendment{
		{Action: AmendAdd, TaskID: "c"},
		{Action: AmendAdd, TaskID: "d"},
		{Action: AmendAdd, TaskID: "e"},
		{Action: AmendAdd, TaskID: "f"},
	}
	outcomes := m.Apply(batch, "b")

	if len(outcomes) != 1 {
		t.Fatalf("Apply() outcomes = %d, want 1 batch rejection record", len(outcomes))
	}
	if outcomes[0].Applied {
		t.Fatalf("oversized batch was applied")
	}
	if !strings.Contains(outcomes[0].Reason, "exceeds per-iteration limit") {
		t.Fatalf("rejection reason = %q, want per-iteration limit", outcomes[0].Reason)
	}
	if len(p.Tasks) != 2 {
		t.Fatalf("plan mutated despite batch rejection: %d tasks", len(p.Tasks))
	}
}

func TestMutator_OwnStatusChangeRejected(t *testing.T) {
	p := mutatorPlan()
	m := NewMutator(p, "", 3)

	outcomes := m.Apply([]Amendment{
		{Action: AmendModify, TaskID: "b", Status: TaskDone},
	}, "b")

	if outcomes[0].Applied {
		t.Fatalf("task b changed its own status via its own amendment")
	}
	if p.FindTask("b").Status != TaskPending {
		t.Fatalf("task b status mutated to %s", p.FindTask("b").Status)
	}
}

func TestMutator_DoneTaskNeverRemoved(t *testing.T) {
	p := mutatorPlan()
	m := NewMutator(p, "", 3)

	outcomes := m.Apply([]Amendment{
		{Action: AmendRemove, TaskID: "a"},
	}, "b")

	if outcomes[0].Applied {
		t.Fatalf("done task was removed")
	}
	if p.FindTask("a") == nil {
		t.Fatalf("done task a missing from plan")
	}
}

func TestMutator_InvalidAmendmentSkippedNotFatal(t *testing.T) {
	p := mutatorPlan()
	m := NewMutator(p, "", 3)

	outcomes := m.Apply([]Amendment{
		{Action: AmendModify, TaskID: "ghost", Description: "nope"},
		{Action: AmendAdd, TaskID: "c", Title: "Task C", DependsOn: []string{"b"}},
	}, "b")

	if len(outcomes) != 2 {
		t.Fatalf("Apply() outcomes = %d, want 2", len(outcomes))
	}
	if outcomes[0].Applied {
		t.Fatalf("amendment for unknown task applied")
	}
	if !outcomes[1].Applied {
		t.Fatalf("valid amendment rejected: %s", outcomes[1].Reason)
	}
	if p.FindTask("c") == nil {
		t.Fatalf("added task c missing")
	}
}

func TestMutator_AddPreservesExistingOrder(t *testing.T) {
	p := mutatorPlan()
	m := NewMutator(p, "", 3)

	m.Apply([]Amendment{{Action: AmendAdd, TaskID: "c", Title: "Task C"}}, "b")

	want := []string{"a", "b", "c"}
	for i, id := range want {
		if p.Tasks[i].ID != id {
			t.Fatalf("task order after add = %v at index %d, want %s", p.Tasks[i].ID, i, id)
		}
	}
}

func TestMutator_AddDuplicateIDRejected(t *testing.T) {
	p := mutatorPlan()
	m := NewMutator(p, "", 3)

	outcomes := m.Apply([]Amendment{{Action: AmendAdd, TaskID: "b"}}, "a")
	if outcomes[0].Applied {
		t.Fatalf("duplicate task id accepted")
	}
}

func TestMutator_RemoveWithDependentsRejected(t *testing.T) {
	p := &Plan{
		Tasks: []*Task{
			{ID: "x", Status: TaskPending},
			{ID: "y", Status: TaskPending, DependsOn: []string{"x"}},
		},
	}
	m := NewMutator(p, "", 3)

	outcomes := m.Apply([]Amendment{{Action: AmendRemove, TaskID: "x"}}, "y")
	if outcomes[0].Applied {
		t.Fatalf("removed a task that another task depends on")
	}
}

func TestMutator_AddInheritsDefaultMaxRetries(t *testing.T) {
	p := mutatorPlan()
	m := NewMutator(p, "", 5)

	m.Apply([]Amendment{{Action: AmendAdd, TaskID: "c"}}, "b")
	if got := p.FindTask("c").MaxRetries; got != 5 {
		t.Fatalf("added task max_retries = %d, want 5", got)
	}
}
