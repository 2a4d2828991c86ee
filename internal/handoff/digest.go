package handoff

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Digest builds a compact per-iteration summary of decisions, constraints,
// deviations, and unfinished business from a run of handoffs. The compaction
// controller feeds this to the catalog-maintenance worker instead of the raw
// narratives.
func Digest(handoffs []*Handoff) string {
	var b strings.Builder
	for _, h := range handoffs {
		fmt.Fprintf(&b, "## Iteration %d (task %s)\n", h.Iteration, h.TaskID)
		if h.Degraded {
			b.WriteString("(degraded handoff; structured fields unavailable)\n")
			excerpt := truncateRunes(h.Narrative, 500)
			if excerpt != "" {
				fmt.Fprintf(&b, "Narrative excerpt: %s\n", excerpt)
			}
			b.WriteString("\n")
			continue
		}
		writeList(&b, "Decisions", h.Decisions)
		writeList(&b, "Constraints", h.Constraints)
		writeList(&b, "Deviations", h.Deviations)
		writeList(&b, "Unfinished", h.Unfinished)
		writeList(&b, "Notes", h.ArchitecturalNotes)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
