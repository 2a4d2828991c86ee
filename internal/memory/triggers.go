package memory

import (
	"strings"
	"unicode"

	"ralphd/internal/handoff"
	"ralphd/internal/logging"
	"ralphd/internal/plan"
)

// TriggerReason names the refresh trigger that fired.
type TriggerReason string

const (
	TriggerNone         TriggerReason = ""
	TriggerExternalDocs TriggerReason = "external_docs"
	TriggerNovelty      TriggerReason = "novelty"
	TriggerBytes        TriggerReason = "bytes"
	TriggerPeriodic     TriggerReason = "periodic"
)

// TriggerConfig holds the refresh trigger thresholds.
type TriggerConfig struct {
	NoveltyThreshold float64 // overlap ratio below which novelty fires
	NoveltyWindow    int     // recent handoffs to compare against
	ByteThreshold    int     // accumulated handoff bytes
	PeriodicInterval int     // iterations since last refresh
}

// ShouldRefresh evaluates the triggers in fixed priority order and returns
// the first that fires, or TriggerNone.
func ShouldRefresh(task *plan.Task, recent []*handoff.Handoff, state *CompactionState, cfg TriggerConfig) TriggerReason {
	// 1. Task explicitly needs outside knowledge.
	if task.Metadata.NeedsExternalDocs || len(task.Metadata.Libraries) > 0 {
		logging.CompactionDebug("Trigger external_docs for task %s", task.ID)
		return TriggerExternalDocs
	}

	// 2. Novelty: the upcoming task is topically disjoint from recent work.
	if len(recent) > 0 {
		overlap := termOverlap(taskText(task), handoffText(recent, cfg.NoveltyWindow))
		logging.CompactionDebug("Novelty overlap for task %s: %.3f (threshold %.3f)",
			task.ID, overlap, cfg.NoveltyThreshold)
		if overlap < cfg.NoveltyThreshold {
			return TriggerNovelty
		}
	}

	// 3. Accumulated handoff bytes.
	if cfg.ByteThreshold > 0 && state.BytesSinceRefresh > cfg.ByteThreshold {
		logging.CompactionDebug("Trigger bytes: %d accumulated (threshold %d)",
			state.BytesSinceRefresh, cfg.ByteThreshold)
		return TriggerBytes
	}

	// 4. Periodic interval.
	if cfg.PeriodicInterval > 0 && state.IterationsSinceRefresh >= cfg.PeriodicInterval {
		logging.CompactionDebug("Trigger periodic: %d iterations since refresh (interval %d)",
			state.IterationsSinceRefresh, cfg.PeriodicInterval)
		return TriggerPeriodic
	}

	return TriggerNone
}

func taskText(t *plan.Task) string {
	parts := []string{t.Title, t.Description}
	parts = append(parts, t.AcceptanceCriteria...)
	return strings.Join(parts, " ")
}

func handoffText(recent []*handoff.Handoff, window int) string {
	if window > 0 && len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	var b strings.Builder
	for _, h := range recent {
		b.WriteString(h.Narrative)
		b.WriteString(" ")
	}
	return b.String()
}

// minTokenRunes drops very short tokens from the novelty term sets.
const minTokenRunes = 3

// tokenize lowercases, strips punctuation, and drops very short tokens,
// returning the term set.
func tokenize(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	var current []rune
	flush := func() {
		if len(current) >= minTokenRunes {
			terms[string(current)] = struct{}{}
		}
		current = current[:0]
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current = append(current, r)
		} else {
			flush()
		}
	}
	flush()
	return terms
}

// termOverlap computes |task terms ∩ history terms| / |task terms|.
// An empty task term set counts as full overlap (nothing novel to find).
func termOverlap(taskText, historyText string) float64 {
	taskTerms := tokenize(taskText)
	if len(taskTerms) == 0 {
		return 1.0
	}
	historyTerms := tokenize(historyText)

	matched := 0
	for term := range taskTerms {
		if _, ok := historyTerms[term]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(taskTerms))
}

// String makes trigger reasons readable in logs and events.
func (r TriggerReason) String() string {
	if r == TriggerNone {
		return "none"
	}
	return string(r)
}
