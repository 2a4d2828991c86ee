package handoff

import (
	"encoding/json"
	"strings"

	"ralphd/internal/logging"
)

// envelope is the JSON shape the worker is asked to produce.
type envelope struct {
	Narrative          string              `json:"narrative"`
	Deviations         []string            `json:"deviations"`
	Constraints        []string            `json:"constraints"`
	Decisions          []string            `json:"decisions"`
	ArchitecturalNotes []string            `json:"architectural_notes"`
	FilesTouched       []string            `json:"files_touched"`
	TestsAdded         []string            `json:"tests_added"`
	Unfinished         []string            `json:"unfinished"`
	Amendments         []amendmentEnvelope `json:"plan_amendments"`
	ResearchRequests   []string            `json:"research_requests"`
	NeedsHumanReview   bool                `json:"needs_human_review"`
	Confidence         float64             `json:"confidence"`
	Refusal            bool                `json:"refusal"`
}

type amendmentEnvelope struct {
	Action             string   `json:"action"`
	TaskID             string   `json:"task_id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Status             string   `json:"status"`
	DependsOn          []string `json:"depends_on"`
	MaxRetries         int      `json:"max_retries"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// Parse converts raw worker output into a Handoff. It tries, in order:
// the whole text as JSON, a ```json fenced block, and the outermost
// {...} substring. If none parses, it returns a degraded synthetic handoff
// carrying the raw text. A degraded handoff marks the attempt failed; it
// exists so the raw output survives as failure evidence rather than being
// dropped.
func Parse(raw string) *Handoff {
	for _, candidate := range jsonCandidates(raw) {
		var env envelope
		if err := json.Unmarshal([]byte(candidate), &env); err != nil {
			continue
		}
		if strings.TrimSpace(env.Narrative) == "" && !env.Refusal {
			// Parsed but vacuous: keep trying other candidates.
			continue
		}
		return fromEnvelope(&env)
	}

	logging.WorkerDebug("Worker output unparseable, building degraded handoff (%d bytes)", len(raw))
	return &Handoff{
		Narrative: strings.TrimSpace(raw),
		Degraded:  true,
		RawText:   raw,
	}
}

// jsonCandidates yields substrings of raw worth attempting to parse.
func jsonCandidates(raw string) []string {
	candidates := []string{strings.TrimSpace(raw)}

	if fenced := extractFenced(raw); fenced != "" {
		candidates = append(candidates, fenced)
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		candidates = append(candidates, raw[start:end+1])
	}

	return candidates
}

// extractFenced pulls the body of the first ```json (or bare ```) fence.
func extractFenced(raw string) string {
	for _, marker := range []string{"```json", "```"} {
		idx := strings.Index(raw, marker)
		if idx < 0 {
			continue
		}
		rest := raw[idx+len(marker):]
		endIdx := strings.Index(rest, "```")
		if endIdx < 0 {
			continue
		}
		body := strings.TrimSpace(rest[:endIdx])
		if strings.HasPrefix(body, "{") {
			return body
		}
	}
	return ""
}

func fromEnvelope(env *envelope) *Handoff {
	h := &Handoff{
		Narrative:          strings.TrimSpace(env.Narrative),
		Deviations:         env.Deviations,
		Constraints:        env.Constraints,
		Decisions:          env.Decisions,
		ArchitecturalNotes: env.ArchitecturalNotes,
		FilesTouched:       env.FilesTouched,
		TestsAdded:         env.TestsAdded,
		Unfinished:         env.Unfinished,
		ResearchRequests:   env.ResearchRequests,
		NeedsHumanReview:   env.NeedsHumanReview,
		Confidence:         env.Confidence,
		Refusal:            env.Refusal,
	}
	for _, a := range env.Amendments {
		h.Amendments = append(h.Amendments, a.toAmendment())
	}
	return h
}
