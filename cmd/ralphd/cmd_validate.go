package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"ralphd/internal/config"
	"ralphd/internal/plan"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config and plan files without running anything",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	fmt.Println("config: ok")

	planPath := resolvePath(cfg.Plan.Path)
	if cfg.Plan.Path == "" {
		planPath = filepath.Join(stateDir(), "plan.yaml")
	}
	p, err := plan.Load(planPath)
	if err != nil {
		return fmt.Errorf("plan invalid: %w", err)
	}
	fmt.Printf("plan: ok (%d tasks)\n", len(p.Tasks))
	return nil
}
