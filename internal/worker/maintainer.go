package worker

import (
	"context"
	"fmt"
	"strings"
)

// maintenancePromptTemplate frames a catalog rewrite. The rules mirror the
// invariants the compaction controller verifies afterwards, so a cooperative
// model produces output that passes on the first try.
const maintenancePromptTemplate = `You maintain a project knowledge catalog. Rewrite it, folding in the new
iteration summaries below. Rules:

- Keep the first line exactly as it is and update the "Last updated at
  iteration N" line to the latest iteration you fold in.
- Entries are lines of the form "- [type-slug] text" where type is one of
  constraint, decision, pattern, gotcha, unresolved. Never reuse a memory id
  for different content.
- Never delete or reword a constraint containing "must", "must not", or
  "never". To replace one, add a new entry tagged {supersedes: old-id} and
  keep the old entry with a {superseded} tag.
- Merge duplicates, compact stale detail, and keep the catalog scannable.

Respond with the complete rewritten catalog text and nothing else.

=== CURRENT CATALOG ===
%s

=== NEW ITERATION SUMMARIES ===
%s`

// Maintainer adapts a Worker to the compaction controller's catalog
// maintenance call.
type Maintainer struct {
	worker Worker
}

func NewMaintainer(w Worker) *Maintainer {
	return &Maintainer{worker: w}
}

// MaintainCatalog asks the worker for a rewritten catalog and strips any
// markdown fence wrapping.
func (m *Maintainer) MaintainCatalog(ctx context.Context, currentCatalog, handoffDigest string) (string, error) {
	prompt := fmt.Sprintf(maintenancePromptTemplate, currentCatalog, handoffDigest)
	out, err := m.worker.Invoke(ctx, prompt)
	if err != nil {
		return "", err
	}
	return stripFence(out), nil
}

// stripFence unwraps output the model wrapped in a ``` fence.
func stripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return trimmed
}
