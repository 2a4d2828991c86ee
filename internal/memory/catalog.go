// Package memory implements the long-lived knowledge catalog: a categorized,
// invariant-checked set of entries with stable memory ids, a parallel
// append-only iteration ledger, and the compaction controller that decides
// when to refresh the catalog and verifies the result before accepting it.
package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// EntryType categorizes a catalog entry. It is the prefix of the entry's
// memory id.
type EntryType string

const (
	TypeConstraint EntryType = "constraint"
	TypeDecision   EntryType = "decision"
	TypePattern    EntryType = "pattern"
	TypeGotcha     EntryType = "gotcha"
	TypeUnresolved EntryType = "unresolved"
)

// entryTypes is the render order of catalog sections.
var entryTypes = []EntryType{TypeConstraint, TypeDecision, TypePattern, TypeGotcha, TypeUnresolved}

// sectionTitles maps entry types to their catalog section headings.
var sectionTitles = map[EntryType]string{
	TypeConstraint: "Constraints",
	TypeDecision:   "Decisions",
	TypePattern:    "Patterns",
	TypeGotcha:     "Gotchas",
	TypeUnresolved: "Unresolved",
}

// Entry is one catalog line.
type Entry struct {
	ID         string    // stable memory id: <type>-<slug>
	Type       EntryType
	Text       string
	Provenance []int  // originating iterations
	Supersedes string // older memory id this entry replaces, if any
	Superseded bool   // true once a newer entry supersedes this one
}

// Active reports whether the entry is current (not superseded).
func (e *Entry) Active() bool {
	return !e.Superseded
}

// Catalog is the parsed form of the human/LLM-scannable catalog text.
type Catalog struct {
	Title                string
	LastUpdatedIteration int
	Entries              []Entry
}

// CatalogTitle is the canonical first-line title.
const CatalogTitle = "# Ralph Knowledge Catalog"

// entryLineRe matches a catalog entry line:
//
//	- [constraint-no-shared-state] Text of the entry {iters: 1,3} {supersedes: decision-old} {superseded}
var entryLineRe = regexp.MustCompile(`^- \[([a-z]+-[a-z0-9][a-z0-9-]*)\] (.*)$`)

// lastUpdatedRe matches the catalog's freshness line.
var lastUpdatedRe = regexp.MustCompile(`^Last updated at iteration (\d+)\s*$`)

var tagRe = regexp.MustCompile(`\{(iters|supersedes|superseded)(?::\s*([^}]*))?\}`)

// ParseMemoryID splits a memory id into its type and slug, validating the
// type prefix.
func ParseMemoryID(id string) (EntryType, string, error) {
	idx := strings.Index(id, "-")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", fmt.Errorf("malformed memory id %q", id)
	}
	typ := EntryType(id[:idx])
	switch typ {
	case TypeConstraint, TypeDecision, TypePattern, TypeGotcha, TypeUnresolved:
		return typ, id[idx+1:], nil
	}
	return "", "", fmt.Errorf("unknown memory id type in %q", id)
}

// ParseCatalog parses catalog text into structured form. Unrecognized lines
// (prose, blank lines, section headings) are tolerated; only entry lines and
// the header are meaningful.
func ParseCatalog(text string) (*Catalog, error) {
	c := &Catalog{LastUpdatedIteration: -1}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t")

		if i == 0 {
			c.Title = trimmed
			continue
		}
		if c.LastUpdatedIteration < 0 {
			if m := lastUpdatedRe.FindStringSubmatch(trimmed); m != nil {
				n, err := strconv.Atoi(m[1])
				if err != nil {
					return nil, fmt.Errorf("bad iteration number in header: %w", err)
				}
				c.LastUpdatedIteration = n
				continue
			}
		}

		m := entryLineRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}

		id := m[1]
		typ, _, err := ParseMemoryID(id)
		if err != nil {
			// Tolerate: a malformed id line is prose, not an entry.
			continue
		}

		entry := Entry{ID: id, Type: typ}
		body := m[2]
		for _, tag := range tagRe.FindAllStringSubmatch(body, -1) {
			switch tag[1] {
			case "iters":
				for _, part := range strings.Split(tag[2], ",") {
					if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
						entry.Provenance = append(entry.Provenance, n)
					}
				}
			case "supersedes":
				entry.Supersedes = strings.TrimSpace(tag[2])
			case "superseded":
				entry.Superseded = true
			}
		}
		entry.Text = strings.TrimSpace(tagRe.ReplaceAllString(body, ""))
		c.Entries = append(c.Entries, entry)
	}

	// Any entry that is the target of a supersession pointer is inactive
	// regardless of its own tags.
	superseded := make(map[string]bool)
	for _, e := range c.Entries {
		if e.Supersedes != "" {
			superseded[e.Supersedes] = true
		}
	}
	for i := range c.Entries {
		if superseded[c.Entries[i].ID] {
			c.Entries[i].Superseded = true
		}
	}

	return c, nil
}

// Render produces the canonical catalog text: title, freshness line, then
// one section per entry type with active entries first.
func (c *Catalog) Render() string {
	var b strings.Builder
	title := c.Title
	if title == "" {
		title = CatalogTitle
	}
	b.WriteString(title + "\n")
	fmt.Fprintf(&b, "Last updated at iteration %d\n", c.LastUpdatedIteration)

	for _, typ := range entryTypes {
		entries := c.entriesOf(typ)
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", sectionTitles[typ])
		for _, e := range entries {
			b.WriteString(renderEntry(e) + "\n")
		}
	}
	return b.String()
}

func renderEntry(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- [%s] %s", e.ID, e.Text)
	if len(e.Provenance) > 0 {
		iters := make([]string, len(e.Provenance))
		sorted := append([]int(nil), e.Provenance...)
		sort.Ints(sorted)
		for i, n := range sorted {
			iters[i] = strconv.Itoa(n)
		}
		fmt.Fprintf(&b, " {iters: %s}", strings.Join(iters, ","))
	}
	if e.Supersedes != "" {
		fmt.Fprintf(&b, " {supersedes: %s}", e.Supersedes)
	}
	if e.Superseded {
		b.WriteString(" {superseded}")
	}
	return b.String()
}

func (c *Catalog) entriesOf(typ EntryType) []Entry {
	var active, inactive []Entry
	for _, e := range c.Entries {
		if e.Type != typ {
			continue
		}
		if e.Active() {
			active = append(active, e)
		} else {
			inactive = append(inactive, e)
		}
	}
	return append(active, inactive...)
}

// Find returns the entry with the given id, or nil.
func (c *Catalog) Find(id string) *Entry {
	for i := range c.Entries {
		if c.Entries[i].ID == id {
			return &c.Entries[i]
		}
	}
	return nil
}

// ActiveEntries returns all active entries, in catalog order.
func (c *Catalog) ActiveEntries() []Entry {
	var out []Entry
	for _, e := range c.Entries {
		if e.Active() {
			out = append(out, e)
		}
	}
	return out
}

// EmptyCatalog returns a fresh catalog for iteration 0.
func EmptyCatalog() *Catalog {
	return &Catalog{Title: CatalogTitle, LastUpdatedIteration: 0}
}
