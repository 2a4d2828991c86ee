// Package prompt assembles the bounded, section-structured document handed to
// the worker each iteration. Sections carry removal priorities; under budget
// pressure whole sections are dropped lowest priority first, and the task
// section is only ever truncated, never dropped.
package prompt

import (
	"fmt"
	"strings"
)

// Section is one named block of the assembled prompt. Priority orders removal
// under budget pressure: 1 is removed first, the highest priority section is
// kept (and at worst truncated).
type Section struct {
	Name     string
	Priority int
	Content  string
}

// Canonical section names and removal priorities, lowest removed first.
const (
	SectionSkills       = "skills"
	SectionOutputFormat = "output_format"
	SectionPriorHandoff = "prior_handoff"
	SectionCatalog      = "catalog"
	SectionConstraints  = "constraints"
	SectionOperatorNote = "operator_note"
	SectionFailure      = "failure_context"
	SectionTask         = "task"
)

const (
	prioritySkills       = 1
	priorityOutputFormat = 2
	priorityPriorHandoff = 3
	priorityCatalog      = 4
	priorityConstraints  = 5
	priorityOperatorNote = 6
	priorityFailure      = 7
	priorityTask         = 8
)

// sectionHeadings maps section names to the headings rendered into the
// document.
var sectionHeadings = map[string]string{
	SectionSkills:       "Skills and Conventions",
	SectionOutputFormat: "Output Format",
	SectionPriorHandoff: "Previous Iteration",
	SectionCatalog:      "Knowledge Catalog",
	SectionConstraints:  "Recent Constraints and Decisions",
	SectionOperatorNote: "Operator Note",
	SectionFailure:      "Previous Attempt Failure",
	SectionTask:         "Current Task",
}

func (s Section) render() string {
	return fmt.Sprintf("## %s\n\n%s", sectionHeadings[s.Name], strings.TrimSpace(s.Content))
}
