package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ralphd/internal/logging"
)

// LoadSkills concatenates the markdown skill files under dir in name order.
// A missing directory is not an error; runs without skills are common.
func LoadSkills(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read skills dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("failed to read skill %s: %w", name, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n\n%s", strings.TrimSuffix(name, ".md"), strings.TrimSpace(string(data)))
	}

	if len(names) > 0 {
		logging.PromptDebug("Loaded %d skill files from %s", len(names), dir)
	}
	return b.String(), nil
}
