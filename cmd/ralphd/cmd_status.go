package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ralphd/internal/config"
	"ralphd/internal/handoff"
	"ralphd/internal/plan"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show plan progress and the latest handoff",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	planPath := resolvePath(cfg.Plan.Path)
	if cfg.Plan.Path == "" {
		planPath = filepath.Join(stateDir(), "plan.yaml")
	}
	p, err := plan.Load(planPath)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	fmt.Printf("Plan: %s (%d tasks)\n\n", p.Name, len(p.Tasks))
	for _, t := range p.Tasks {
		line := fmt.Sprintf("  [%-11s] %s  %s", t.Status, t.ID, t.Title)
		if t.RetryCount > 0 {
			line += fmt.Sprintf("  (attempts: %d)", t.RetryCount)
		}
		fmt.Println(line)
		if t.FailureContext != "" {
			fmt.Printf("      last failure: %s\n", firstStatusLine(t.FailureContext))
		}
	}

	fmt.Println()
	counts := p.Counts()
	for _, s := range []plan.TaskStatus{plan.TaskDone, plan.TaskPending, plan.TaskInProgress, plan.TaskFailed, plan.TaskSkipped} {
		if counts[s] > 0 {
			fmt.Printf("  %-12s %d\n", s, counts[s])
		}
	}

	latest, err := handoff.NewStore(workspace).Latest()
	if err == nil && latest != nil {
		fmt.Printf("\nLatest handoff: iteration %d (task %s)\n", latest.Iteration, latest.TaskID)
		if n := strings.TrimSpace(latest.Narrative); n != "" {
			fmt.Printf("  %s\n", firstStatusLine(n))
		}
	}
	return nil
}

func firstStatusLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
