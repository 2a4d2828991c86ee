package memory

import (
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// VerificationError reports which safety invariant a proposed catalog
// refresh violated. A verification failure rolls the refresh back; it is
// never fatal to the run.
type VerificationError struct {
	Check  string
	Detail string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("catalog verification failed [%s]: %s", e.Check, e.Detail)
}

// imperativeMarkers identify hard constraints that must survive refreshes.
var imperativeMarkers = []string{"must not", "must", "never"}

// isHardConstraint reports whether an entry is a constraint carrying an
// imperative marker.
func isHardConstraint(e Entry) bool {
	if e.Type != TypeConstraint {
		return false
	}
	lower := strings.ToLower(e.Text)
	for _, marker := range imperativeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// VerifyHeader checks that the catalog text begins with a recognizable
// title line and declares its freshness within the first five lines.
func VerifyHeader(text string) error {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "# ") || !strings.Contains(lines[0], "Knowledge Catalog") {
		return &VerificationError{
			Check:  "header",
			Detail: "catalog must begin with a '# ... Knowledge Catalog' title line",
		}
	}

	limit := len(lines)
	if limit > 5 {
		limit = 5
	}
	for _, line := range lines[1:limit] {
		if lastUpdatedRe.MatchString(strings.TrimRight(line, " \t")) {
			return nil
		}
	}
	return &VerificationError{
		Check:  "header",
		Detail: "missing 'Last updated at iteration N' line in catalog header",
	}
}

// VerifyConstraintPreservation checks that every hard constraint active in
// the previous catalog either reappears verbatim or is explicitly superseded
// by an entry naming its memory id.
func VerifyConstraintPreservation(prev, next *Catalog) error {
	for _, old := range prev.ActiveEntries() {
		if !isHardConstraint(old) {
			continue
		}

		kept := next.Find(old.ID)
		if kept != nil && kept.Text == old.Text {
			continue
		}

		superseded := false
		for _, e := range next.Entries {
			if e.Supersedes == old.ID {
				superseded = true
				break
			}
		}
		if superseded {
			continue
		}

		return &VerificationError{
			Check: "constraint_preservation",
			Detail: fmt.Sprintf("hard constraint %q dropped without verbatim carry-over or supersession",
				old.ID),
		}
	}
	return nil
}

// VerifyLedgerAppendOnly checks that the new ledger is a strict extension of
// the old one: no shrink, previously recorded rows byte-identical, and no
// duplicate iteration numbers anywhere.
func VerifyLedgerAppendOnly(prev, next []LedgerRow) error {
	if len(next) < len(prev) {
		return &VerificationError{
			Check:  "ledger_append_only",
			Detail: fmt.Sprintf("ledger shrank from %d to %d rows", len(prev), len(next)),
		}
	}

	if diff := cmp.Diff(prev, next[:len(prev)], cmpopts.EquateEmpty()); diff != "" {
		return &VerificationError{
			Check:  "ledger_append_only",
			Detail: "previously recorded ledger rows were rewritten:\n" + diff,
		}
	}

	seen := make(map[int]bool, len(next))
	for _, row := range next {
		if seen[row.Iteration] {
			return &VerificationError{
				Check:  "ledger_append_only",
				Detail: fmt.Sprintf("duplicate ledger row for iteration %d", row.Iteration),
			}
		}
		seen[row.Iteration] = true
	}
	return nil
}

// VerifyMemoryIDs checks that no two active entries share a memory id and
// that every supersession pointer targets an entry that exists somewhere in
// the catalog.
func VerifyMemoryIDs(c *Catalog) error {
	activeSeen := make(map[string]bool)
	for _, e := range c.ActiveEntries() {
		if activeSeen[e.ID] {
			return &VerificationError{
				Check:  "memory_ids",
				Detail: fmt.Sprintf("two active entries share memory id %q", e.ID),
			}
		}
		activeSeen[e.ID] = true
	}

	for _, e := range c.Entries {
		if e.Supersedes == "" {
			continue
		}
		if c.Find(e.Supersedes) == nil {
			return &VerificationError{
				Check:  "memory_ids",
				Detail: fmt.Sprintf("entry %q supersedes %q, which does not exist in the catalog", e.ID, e.Supersedes),
			}
		}
	}
	return nil
}

// VerifyRefresh runs all four invariants against a proposed catalog text and
// ledger, returning the first violation.
func VerifyRefresh(prevCatalog *Catalog, prevLedger []LedgerRow, nextText string, nextLedger []LedgerRow) error {
	if err := VerifyHeader(nextText); err != nil {
		return err
	}

	next, err := ParseCatalog(nextText)
	if err != nil {
		return &VerificationError{Check: "header", Detail: err.Error()}
	}

	if err := VerifyConstraintPreservation(prevCatalog, next); err != nil {
		return err
	}
	if err := VerifyLedgerAppendOnly(prevLedger, nextLedger); err != nil {
		return err
	}
	if err := VerifyMemoryIDs(next); err != nil {
		return err
	}
	return nil
}
