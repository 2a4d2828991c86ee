package handoff

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ralphd/internal/plan"
)

const wellFormed = `{
	"narrative": "Implemented the scheduler with dependency resolution and wrote table tests covering blocked and complete states.",
	"decisions": ["scheduler scans in plan order"],
	"constraints": ["task ids must stay unique"],
	"deviations": [],
	"files_touched": ["internal/plan/scheduler.go"],
	"tests_added": ["TestScheduler_DependencyOrder"],
	"plan_amendments": [{"action": "add", "task_id": "c", "title": "Follow-up"}],
	"confidence": 0.8
}`

func TestParse_WellFormedEnvelope(t *testing.T) {
	h := Parse(wellFormed)

	require.False(t, h.Degraded)
	assert.Contains(t, h.Narrative, "Implemented the scheduler")
	assert.Equal(t, []string{"scheduler scans in plan order"}, h.Decisions)
	assert.Equal(t, []string{"task ids must stay unique"}, h.Constraints)
	assert.Equal(t, 0.8, h.Confidence)
	require.Len(t, h.Amendments, 1)
	assert.Equal(t, plan.AmendAdd, h.Amendments[0].Action)
	assert.Equal(t, "c", h.Amendments[0].TaskID)
}

func TestParse_FencedEnvelope(t *testing.T) {
	raw := "Here is my handoff:\n```json\n" + wellFormed + "\n```\nDone."
	h := Parse(raw)

	require.False(t, h.Degraded)
	assert.Contains(t, h.Narrative, "Implemented the scheduler")
}

func TestParse_EmbeddedBraces(t *testing.T) {
	raw := "preamble text " + wellFormed + " trailing text"
	h := Parse(raw)

	require.False(t, h.Degraded)
	assert.Contains(t, h.Narrative, "Implemented the scheduler")
}

func TestParse_GarbageFallsBackToDegraded(t *testing.T) {
	raw := "I did some work on the scheduler but forgot the output format entirely."
	h := Parse(raw)

	require.True(t, h.Degraded)
	assert.Equal(t, raw, h.RawText)
	assert.Equal(t, raw, h.Narrative)
	assert.Empty(t, h.Decisions)
}

func TestParse_RefusalEnvelope(t *testing.T) {
	h := Parse(`{"narrative": "", "refusal": true}`)

	require.False(t, h.Degraded)
	assert.True(t, h.Refusal)
}

func TestHandoff_HasNarrative(t *testing.T) {
	short := &Handoff{Narrative: "too short"}
	assert.False(t, short.HasNarrative())

	long := &Handoff{Narrative: strings.Repeat("meaningful progress notes. ", 5)}
	assert.True(t, long.HasNarrative())
}

func TestDigest_SkipsEmptySections(t *testing.T) {
	d := Digest([]*Handoff{
		{Iteration: 1, TaskID: "a", Decisions: []string{"use yaml"}},
		{Iteration: 2, TaskID: "b", Degraded: true, Narrative: "raw text only"},
	})

	assert.Contains(t, d, "## Iteration 1 (task a)")
	assert.Contains(t, d, "- use yaml")
	assert.NotContains(t, d, "Constraints:")
	assert.Contains(t, d, "degraded handoff")
	assert.Contains(t, d, "raw text only")
}

func TestDigest_DegradedExcerptStaysValidUTF8(t *testing.T) {
	// A long multibyte narrative whose 500-byte mark falls inside a rune.
	narrative := strings.Repeat("катушка времени ", 60)
	d := Digest([]*Handoff{
		{Iteration: 3, TaskID: "c", Degraded: true, Narrative: narrative},
	})

	require.True(t, utf8.ValidString(d))
	assert.Contains(t, d, "Narrative excerpt:")
}
