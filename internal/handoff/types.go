// Package handoff models the worker's per-iteration output: a free-text
// narrative plus structured fields, persisted once per completed invocation
// and read back by the context assembler and the compaction controller.
package handoff

import (
	"strings"
	"time"

	"ralphd/internal/plan"
)

// Handoff is the worker's output for one completed iteration. Immutable once
// persisted.
type Handoff struct {
	Iteration int       `yaml:"iteration" json:"iteration"`
	TaskID    string    `yaml:"task_id" json:"task_id"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`

	// Narrative is the primary memory artifact. It must be non-trivially
	// long for a handoff to be considered well-formed.
	Narrative string `yaml:"narrative" json:"narrative"`

	// Structured fields.
	Deviations         []string `yaml:"deviations,omitempty" json:"deviations,omitempty"`
	Constraints        []string `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Decisions          []string `yaml:"decisions,omitempty" json:"decisions,omitempty"`
	ArchitecturalNotes []string `yaml:"architectural_notes,omitempty" json:"architectural_notes,omitempty"`
	FilesTouched       []string `yaml:"files_touched,omitempty" json:"files_touched,omitempty"`
	TestsAdded         []string `yaml:"tests_added,omitempty" json:"tests_added,omitempty"`
	Unfinished         []string `yaml:"unfinished,omitempty" json:"unfinished,omitempty"`

	// Optional plan amendments proposed by this iteration.
	Amendments []plan.Amendment `yaml:"amendments,omitempty" json:"amendments,omitempty"`

	// Optional signal fields.
	ResearchRequests []string `yaml:"research_requests,omitempty" json:"research_requests,omitempty"`
	NeedsHumanReview bool     `yaml:"needs_human_review,omitempty" json:"needs_human_review,omitempty"`
	Confidence       float64  `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	Refusal          bool     `yaml:"refusal,omitempty" json:"refusal,omitempty"`

	// Degraded marks a synthetic handoff built from unparseable worker
	// output. Downstream consumers must branch on this rather than assume
	// the structured fields are populated.
	Degraded bool   `yaml:"degraded,omitempty" json:"degraded,omitempty"`
	RawText  string `yaml:"raw_text,omitempty" json:"raw_text,omitempty"`
}

// minNarrativeLen is the floor below which a narrative counts as trivial.
const minNarrativeLen = 40

// HasNarrative reports whether the handoff carries a non-trivial narrative.
func (h *Handoff) HasNarrative() bool {
	return len(strings.TrimSpace(h.Narrative)) >= minNarrativeLen
}

// Bytes returns the narrative byte length, the signal accumulated by the
// compaction controller.
func (h *Handoff) Bytes() int {
	if h.Degraded && h.Narrative == "" {
		return len(h.RawText)
	}
	return len(h.Narrative)
}
