package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"ralphd/internal/handoff"
	"ralphd/internal/plan"
)

func fullInput() Input {
	return Input{
		Task: &plan.Task{
			ID:                 "t3",
			Title:              "add retry persistence",
			Description:        "persist the retry counter so restarts resume mid-attempt",
			AcceptanceCriteria: []string{"counter survives restart", "failed task stays failed"},
			FailureContext:     "validation: TestRetryPersistence failed: counter reset to 0",
		},
		PrevHandoff: &handoff.Handoff{
			Iteration:   4,
			TaskID:      "t2",
			Narrative:   "Implemented the plan store with atomic replace and added round-trip tests covering status normalization.",
			Constraints: []string{"plan file writes must be atomic"},
			Decisions:   []string{"use yaml for the plan file"},
			Deviations:  []string{"renamed the backup suffix"},
		},
		CatalogText:  "# Ralph Knowledge Catalog\nLast updated at iteration 4\n\n## Constraints\n- [constraint-atomic] writes must be atomic\n",
		OperatorNote: "prioritize the restart path",
		SkillsText:   "### go-style\n\nkeep functions short",
	}
}

func TestAssembleUnderBudgetKeepsAllSections(t *testing.T) {
	a := NewAssembler(ModeRich, 24000)
	res := a.Assemble(fullInput())

	if len(res.Removed) != 0 {
		t.Fatalf("removed %v under budget", res.Removed)
	}
	if res.TaskTruncated {
		t.Fatal("task truncated under budget")
	}
	for _, heading := range []string{
		"## Skills and Conventions",
		"## Output Format",
		"## Previous Iteration",
		"## Knowledge Catalog",
		"## Recent Constraints and Decisions",
		"## Operator Note",
		"## Previous Attempt Failure",
		"## Current Task",
	} {
		if !strings.Contains(res.Text, heading) {
			t.Errorf("missing section %q", heading)
		}
	}

	// Canonical order: skills first, task last.
	if strings.Index(res.Text, "## Skills") > strings.Index(res.Text, "## Current Task") {
		t.Error("sections out of canonical order")
	}
}

func TestAssembleRemovesLowestPriorityFirst(t *testing.T) {
	in := fullInput()
	// Pad the catalog so something has to give.
	in.CatalogText += strings.Repeat("- [pattern-filler] padding entry with some words\n", 40)

	full := NewAssembler(ModeRich, 24000).Assemble(in)
	budget := EstimateTokens(full.Text) - 50

	res := NewAssembler(ModeRich, budget).Assemble(in)
	if len(res.Removed) == 0 {
		t.Fatal("nothing removed despite exceeding budget")
	}
	if res.Removed[0] != SectionSkills {
		t.Errorf("first removal = %s, want skills", res.Removed[0])
	}
	if EstimateTokens(res.Text) > budget {
		t.Errorf("result still over budget: %d > %d", EstimateTokens(res.Text), budget)
	}
	// Higher-priority sections survive when dropping skills sufficed.
	if len(res.Removed) == 1 && !strings.Contains(res.Text, "## Current Task") {
		t.Error("task section missing")
	}
	// The removal report stays out of the document itself.
	if strings.Contains(res.Text, "removed") || strings.Contains(res.Text, "Skills and Conventions") {
		t.Error("removal leaked into the document")
	}
}

func TestAssembleNeverDropsTask(t *testing.T) {
	in := fullInput()
	in.Task.Description = strings.Repeat("a very long task description that cannot possibly fit ", 200)

	res := NewAssembler(ModeMinimal, 100).Assemble(in)
	if !res.TaskTruncated {
		t.Fatal("oversized task not truncated")
	}
	if !strings.Contains(res.Text, "## Current Task") {
		t.Fatal("task section dropped")
	}
	if EstimateTokens(res.Text) > 100 {
		t.Errorf("truncated doc still over budget: %d", EstimateTokens(res.Text))
	}
	for _, name := range res.Removed {
		if name == SectionTask {
			t.Error("task reported as removed")
		}
	}
}

func TestBootstrapOnlyWithoutAnyHandoff(t *testing.T) {
	in := fullInput()
	in.PrevHandoff = nil
	res := NewAssembler(ModeMinimal, 24000).Assemble(in)
	if !strings.Contains(res.Text, "first iteration") {
		t.Error("bootstrap message missing on first iteration")
	}

	// A real handoff with an empty narrative must not fall back to the
	// bootstrap text.
	in.PrevHandoff = &handoff.Handoff{Iteration: 2, TaskID: "t1"}
	res = NewAssembler(ModeMinimal, 24000).Assemble(in)
	if strings.Contains(res.Text, "first iteration") {
		t.Error("bootstrap rendered despite existing history")
	}
	if !strings.Contains(res.Text, "left no narrative") {
		t.Error("empty narrative not surfaced")
	}
}

func TestMinimalModeOmitsCatalogAndExcerpt(t *testing.T) {
	in := fullInput()
	res := NewAssembler(ModeMinimal, 24000).Assemble(in)

	if strings.Contains(res.Text, "## Knowledge Catalog") {
		t.Error("catalog inlined in minimal mode")
	}
	if strings.Contains(res.Text, "Structured summary:") {
		t.Error("structured excerpt present in minimal mode")
	}
	if !strings.Contains(res.Text, "Iteration 4 narrative:") {
		t.Error("prior narrative missing in minimal mode")
	}
}

func TestRichModeInlinesCatalogAndExcerpt(t *testing.T) {
	in := fullInput()
	res := NewAssembler(ModeRich, 24000).Assemble(in)

	if !strings.Contains(res.Text, "## Knowledge Catalog") {
		t.Error("catalog not inlined in rich mode")
	}
	if !strings.Contains(res.Text, "Structured summary:") {
		t.Error("structured excerpt missing in rich mode")
	}
	if !strings.Contains(res.Text, "renamed the backup suffix") {
		t.Error("deviations missing from excerpt")
	}

	// No catalog on disk yet: section simply absent.
	in.CatalogText = ""
	res = NewAssembler(ModeRich, 24000).Assemble(in)
	if strings.Contains(res.Text, "## Knowledge Catalog") {
		t.Error("empty catalog still rendered a section")
	}
}

func TestFailureContextOnlyWhenRetrying(t *testing.T) {
	in := fullInput()
	in.Task.FailureContext = ""
	res := NewAssembler(ModeMinimal, 24000).Assemble(in)
	if strings.Contains(res.Text, "## Previous Attempt Failure") {
		t.Error("failure section rendered without failure context")
	}
}

func TestDegradedHandoffSkipsStructuredSections(t *testing.T) {
	in := fullInput()
	in.PrevHandoff.Degraded = true
	res := NewAssembler(ModeRich, 24000).Assemble(in)
	if strings.Contains(res.Text, "Structured summary:") {
		t.Error("structured excerpt built from degraded handoff")
	}
	if strings.Contains(res.Text, "## Recent Constraints and Decisions") {
		t.Error("constraints section built from degraded handoff")
	}
}

func TestLoadSkills(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b-testing.md": "table tests preferred",
		"a-style.md":   "short functions",
		"notes.txt":    "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	text, err := LoadSkills(dir)
	if err != nil {
		t.Fatalf("LoadSkills: %v", err)
	}
	if !strings.Contains(text, "short functions") || !strings.Contains(text, "table tests preferred") {
		t.Errorf("skill content missing:\n%s", text)
	}
	if strings.Contains(text, "ignored") {
		t.Error("non-markdown file included")
	}
	if strings.Index(text, "a-style") > strings.Index(text, "b-testing") {
		t.Error("skills not concatenated in name order")
	}

	empty, err := LoadSkills(filepath.Join(dir, "missing"))
	if err != nil || empty != "" {
		t.Errorf("missing dir: text=%q err=%v", empty, err)
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	// Multibyte content positioned so a naive byte cut would land mid-rune.
	doc := strings.Repeat("ведёт себя как надо ", 200)
	for budget := 10; budget < 40; budget++ {
		got := truncateToBudget(doc, budget)
		if !utf8.ValidString(got) {
			t.Fatalf("budget %d produced invalid UTF-8: %q", budget, got[len(got)-12:])
		}
		if len(got) > budget*4 {
			t.Errorf("budget %d: %d chars exceeds limit", budget, len(got))
		}
	}
	if got := truncateToBudget(doc, 100); !strings.HasSuffix(got, "\n[truncated]") {
		t.Error("truncation marker missing")
	}
}
