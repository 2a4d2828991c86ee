package memory

import (
	"errors"
	"strings"
	"testing"
)

func mustParse(t *testing.T, text string) *Catalog {
	t.Helper()
	c, err := ParseCatalog(text)
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	return c
}

func assertCheck(t *testing.T, err error, check string) {
	t.Helper()
	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *VerificationError", err)
	}
	if verr.Check != check {
		t.Errorf("check = %q, want %q", verr.Check, check)
	}
}

func TestVerifyHeader(t *testing.T) {
	good := "# Ralph Knowledge Catalog\nLast updated at iteration 3\n"
	if err := VerifyHeader(good); err != nil {
		t.Errorf("good header rejected: %v", err)
	}

	cases := map[string]string{
		"missing title":    "Last updated at iteration 3\n",
		"wrong title":      "# Notes\nLast updated at iteration 3\n",
		"missing fresh":    "# Ralph Knowledge Catalog\n\n## Constraints\n",
		"fresh line late":  "# Ralph Knowledge Catalog\na\nb\nc\nd\nLast updated at iteration 3\n",
		"malformed number": "# Ralph Knowledge Catalog\nLast updated at iteration x\n",
	}
	for name, text := range cases {
		if err := VerifyHeader(text); err == nil {
			t.Errorf("%s: header accepted", name)
		} else {
			assertCheck(t, err, "header")
		}
	}
}

func TestVerifyConstraintDroppedWithoutSupersession(t *testing.T) {
	prev := mustParse(t, `# Ralph Knowledge Catalog
Last updated at iteration 4

## Constraints
- [constraint-no-secrets] Config files must not contain credentials {iters: 2}
`)
	next := mustParse(t, `# Ralph Knowledge Catalog
Last updated at iteration 5

## Decisions
- [decision-env-config] Read credentials from the environment {iters: 5}
`)
	err := VerifyConstraintPreservation(prev, next)
	if err == nil {
		t.Fatal("dropped hard constraint accepted")
	}
	assertCheck(t, err, "constraint_preservation")
	if !strings.Contains(err.Error(), "constraint-no-secrets") {
		t.Errorf("error does not name the dropped id: %v", err)
	}
}

func TestVerifyConstraintSupersessionAllowed(t *testing.T) {
	prev := mustParse(t, `# Ralph Knowledge Catalog
Last updated at iteration 4

## Constraints
- [constraint-no-secrets] Config files must not contain credentials {iters: 2}
`)
	next := mustParse(t, `# Ralph Knowledge Catalog
Last updated at iteration 5

## Constraints
- [constraint-vault-only] Credentials must come from the vault only {iters: 5} {supersedes: constraint-no-secrets}
`)
	if err := VerifyConstraintPreservation(prev, next); err != nil {
		t.Errorf("superseded constraint rejected: %v", err)
	}
}

func TestVerifyConstraintVerbatimCarryOver(t *testing.T) {
	text := `# Ralph Knowledge Catalog
Last updated at iteration 4

## Constraints
- [constraint-append-only] The ledger must never shrink {iters: 1}
`
	prev := mustParse(t, text)
	next := mustParse(t, text)
	if err := VerifyConstraintPreservation(prev, next); err != nil {
		t.Errorf("verbatim carry-over rejected: %v", err)
	}

	// Rewording a hard constraint without a supersession entry is a drop.
	reworded := mustParse(t, `# Ralph Knowledge Catalog
Last updated at iteration 5

## Constraints
- [constraint-append-only] The ledger should generally grow {iters: 1}
`)
	if err := VerifyConstraintPreservation(prev, reworded); err == nil {
		t.Error("reworded hard constraint accepted")
	}
}

func TestVerifySoftEntriesMayBeDropped(t *testing.T) {
	prev := mustParse(t, `# Ralph Knowledge Catalog
Last updated at iteration 4

## Decisions
- [decision-old-layout] Keep handlers in one file {iters: 1}

## Constraints
- [constraint-style] Prefer small files where convenient {iters: 2}
`)
	next := mustParse(t, `# Ralph Knowledge Catalog
Last updated at iteration 5
`)
	// Neither entry carries an imperative marker, so both may be compacted
	// away.
	if err := VerifyConstraintPreservation(prev, next); err != nil {
		t.Errorf("soft entries protected: %v", err)
	}
}

func TestVerifyLedgerAppendOnly(t *testing.T) {
	prev := []LedgerRow{
		{Iteration: 1, TaskID: "t1", Summary: "a"},
		{Iteration: 2, TaskID: "t2", Summary: "b"},
	}

	grown := append(append([]LedgerRow(nil), prev...), LedgerRow{Iteration: 3, TaskID: "t3", Summary: "c"})
	if err := VerifyLedgerAppendOnly(prev, grown); err != nil {
		t.Errorf("grown ledger rejected: %v", err)
	}
	if err := VerifyLedgerAppendOnly(prev, prev); err != nil {
		t.Errorf("unchanged ledger rejected: %v", err)
	}

	shrunk := prev[:1]
	assertCheck(t, VerifyLedgerAppendOnly(prev, shrunk), "ledger_append_only")

	rewritten := []LedgerRow{
		{Iteration: 1, TaskID: "t1", Summary: "edited"},
		{Iteration: 2, TaskID: "t2", Summary: "b"},
	}
	assertCheck(t, VerifyLedgerAppendOnly(prev, rewritten), "ledger_append_only")

	duplicated := append(append([]LedgerRow(nil), prev...), LedgerRow{Iteration: 2, TaskID: "t9", Summary: "dup"})
	assertCheck(t, VerifyLedgerAppendOnly(prev, duplicated), "ledger_append_only")
}

func TestVerifyMemoryIDs(t *testing.T) {
	dup := mustParse(t, `# Ralph Knowledge Catalog
Last updated at iteration 3

## Decisions
- [decision-a] first
- [decision-a] second
`)
	assertCheck(t, VerifyMemoryIDs(dup), "memory_ids")

	dangling := mustParse(t, `# Ralph Knowledge Catalog
Last updated at iteration 3

## Decisions
- [decision-b] replacement {supersedes: decision-missing}
`)
	assertCheck(t, VerifyMemoryIDs(dangling), "memory_ids")

	ok := mustParse(t, `# Ralph Knowledge Catalog
Last updated at iteration 3

## Decisions
- [decision-c] replacement {supersedes: decision-d}
- [decision-d] original {superseded}
`)
	if err := VerifyMemoryIDs(ok); err != nil {
		t.Errorf("valid catalog rejected: %v", err)
	}
}

func TestVerifyRefreshRunsAllChecks(t *testing.T) {
	prev := mustParse(t, `# Ralph Knowledge Catalog
Last updated at iteration 2

## Constraints
- [constraint-atomic-writes] State files must be written with atomic replace {iters: 1}
`)
	prevLedger := []LedgerRow{{Iteration: 1, TaskID: "t1", Summary: "s"}}

	goodText := `# Ralph Knowledge Catalog
Last updated at iteration 3

## Constraints
- [constraint-atomic-writes] State files must be written with atomic replace {iters: 1}
`
	goodLedger := append(append([]LedgerRow(nil), prevLedger...), LedgerRow{Iteration: 2, TaskID: "t2", Summary: "s2"})
	if err := VerifyRefresh(prev, prevLedger, goodText, goodLedger); err != nil {
		t.Errorf("valid refresh rejected: %v", err)
	}

	if err := VerifyRefresh(prev, prevLedger, "no header at all", goodLedger); err == nil {
		t.Error("headerless refresh accepted")
	}

	droppedText := "# Ralph Knowledge Catalog\nLast updated at iteration 3\n"
	assertCheck(t, VerifyRefresh(prev, prevLedger, droppedText, goodLedger), "constraint_preservation")
}
