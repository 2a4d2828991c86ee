package prompt

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"ralphd/internal/handoff"
	"ralphd/internal/logging"
	"ralphd/internal/plan"
)

// Mode selects how much context the assembled prompt carries.
type Mode string

const (
	// ModeMinimal carries only the prior narrative; the catalog stays on disk.
	ModeMinimal Mode = "minimal"
	// ModeRich adds a structured excerpt of the prior handoff and inlines the
	// full catalog, under a roughly doubled budget.
	ModeRich Mode = "rich"
)

// bootstrapMessage seeds the prior-handoff section on the very first
// iteration only. Once any real handoff exists it is never rendered again,
// even when that handoff's narrative is empty or degraded.
const bootstrapMessage = `This is the first iteration of this run. There is no previous handoff.
Read the task carefully, inspect the repository state before changing it, and
record everything the next iteration will need in your handoff narrative.`

// Input carries everything one iteration contributes to the prompt.
type Input struct {
	Task         *plan.Task
	PrevHandoff  *handoff.Handoff // nil on the very first iteration
	CatalogText  string           // inlined verbatim in rich mode when non-empty
	OperatorNote string           // injected by the control plane, if any
	SkillsText   string           // concatenated skill files, if any
}

// Result is the assembled document plus the out-of-band removal report.
type Result struct {
	Text            string
	EstimatedTokens int
	Removed         []string // section names dropped to fit the budget
	TaskTruncated   bool
}

// Assembler builds prompts under a fixed token budget.
type Assembler struct {
	mode   Mode
	budget int
}

func NewAssembler(mode Mode, budgetTokens int) *Assembler {
	return &Assembler{mode: mode, budget: budgetTokens}
}

// EstimateTokens is the cheap sizing heuristic used against the budget.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Assemble produces the prompt document for one worker invocation. Sections
// are rendered in canonical order; if the document exceeds the budget, whole
// sections are removed lowest priority first and reported in the result. The
// task section is never removed, only hard-truncated as the last resort.
func (a *Assembler) Assemble(in Input) Result {
	sections := a.buildSections(in)

	doc := renderDocument(sections)
	if EstimateTokens(doc) <= a.budget {
		return Result{Text: doc, EstimatedTokens: EstimateTokens(doc)}
	}

	var res Result
	removable := make([]Section, len(sections))
	copy(removable, sections)

	// Drop candidates lowest priority first until the rest fits.
	order := make([]Section, len(sections))
	copy(order, sections)
	sort.SliceStable(order, func(i, j int) bool { return order[i].Priority < order[j].Priority })

	for _, victim := range order {
		if victim.Name == SectionTask {
			continue
		}
		removable = without(removable, victim.Name)
		res.Removed = append(res.Removed, victim.Name)
		logging.PromptDebug("Dropped section %s to fit budget %d", victim.Name, a.budget)

		doc = renderDocument(removable)
		if EstimateTokens(doc) <= a.budget {
			res.Text = doc
			res.EstimatedTokens = EstimateTokens(doc)
			return res
		}
	}

	// Only the task section remains and it still exceeds the budget.
	doc = truncateToBudget(renderDocument(removable), a.budget)
	res.Text = doc
	res.EstimatedTokens = EstimateTokens(doc)
	res.TaskTruncated = true
	logging.Prompt("Task section truncated to fit budget %d", a.budget)
	return res
}

func (a *Assembler) buildSections(in Input) []Section {
	var sections []Section

	if in.SkillsText != "" {
		sections = append(sections, Section{SectionSkills, prioritySkills, in.SkillsText})
	}

	sections = append(sections, Section{SectionOutputFormat, priorityOutputFormat, outputFormatInstructions})
	sections = append(sections, Section{SectionPriorHandoff, priorityPriorHandoff, a.priorHandoffContent(in.PrevHandoff)})

	if a.mode == ModeRich && strings.TrimSpace(in.CatalogText) != "" {
		sections = append(sections, Section{SectionCatalog, priorityCatalog, in.CatalogText})
	}

	if c := constraintsContent(in.PrevHandoff); c != "" {
		sections = append(sections, Section{SectionConstraints, priorityConstraints, c})
	}

	if in.OperatorNote != "" {
		sections = append(sections, Section{SectionOperatorNote, priorityOperatorNote, in.OperatorNote})
	}

	if in.Task.FailureContext != "" {
		content := fmt.Sprintf("The previous attempt at this task failed validation:\n\n%s\n\nFix the cause before repeating the work.", in.Task.FailureContext)
		sections = append(sections, Section{SectionFailure, priorityFailure, content})
	}

	sections = append(sections, Section{SectionTask, priorityTask, taskContent(in.Task)})
	return sections
}

// priorHandoffContent renders the prior-handoff section. The bootstrap
// message appears only when no handoff exists at all.
func (a *Assembler) priorHandoffContent(prev *handoff.Handoff) string {
	if prev == nil {
		return bootstrapMessage
	}

	var b strings.Builder
	narrative := strings.TrimSpace(prev.Narrative)
	if narrative == "" {
		fmt.Fprintf(&b, "Iteration %d completed but left no narrative.", prev.Iteration)
	} else {
		fmt.Fprintf(&b, "Iteration %d narrative:\n\n%s", prev.Iteration, narrative)
	}

	if a.mode == ModeRich && !prev.Degraded {
		excerpt := handoff.Digest([]*handoff.Handoff{prev})
		if excerpt != "" {
			b.WriteString("\n\nStructured summary:\n")
			b.WriteString(excerpt)
		}
	}
	return b.String()
}

// constraintsContent extracts the curated constraints and decisions from the
// most recent handoff only.
func constraintsContent(prev *handoff.Handoff) string {
	if prev == nil || prev.Degraded {
		return ""
	}
	if len(prev.Constraints) == 0 && len(prev.Decisions) == 0 {
		return ""
	}

	var b strings.Builder
	if len(prev.Constraints) > 0 {
		b.WriteString("Constraints discovered last iteration:\n")
		for _, c := range prev.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(prev.Decisions) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Decisions made last iteration:\n")
		for _, d := range prev.Decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	return b.String()
}

func taskContent(t *plan.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n", t.ID, t.Title)
	if t.Description != "" {
		b.WriteString("\n" + t.Description + "\n")
	}
	if len(t.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, c := range t.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if t.RetryCount > 0 {
		fmt.Fprintf(&b, "\nThis is attempt %d of %d.\n", t.RetryCount+1, t.MaxRetries)
	}
	return b.String()
}

func renderDocument(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, s.render())
	}
	return strings.Join(parts, "\n\n")
}

func without(sections []Section, name string) []Section {
	out := sections[:0:0]
	for _, s := range sections {
		if s.Name != name {
			out = append(out, s)
		}
	}
	return out
}

// truncateToBudget cuts trailing content so the estimate fits the budget.
// Cuts land on rune boundaries so the prompt stays valid UTF-8.
func truncateToBudget(doc string, budget int) string {
	maxChars := budget * 4
	if len(doc) <= maxChars {
		return doc
	}
	marker := "\n[truncated]"
	if maxChars <= len(marker) {
		return cutOnRuneBoundary(doc, maxChars)
	}
	return cutOnRuneBoundary(doc, maxChars-len(marker)) + marker
}

// cutOnRuneBoundary truncates s to at most max bytes without splitting a rune.
func cutOnRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
