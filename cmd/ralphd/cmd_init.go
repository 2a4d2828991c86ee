package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ralphd/internal/config"
	"ralphd/internal/plan"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold .ralph/ with a default config and a starter plan",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	for _, dir := range []string{
		stateDir(),
		filepath.Join(stateDir(), "skills"),
		filepath.Join(stateDir(), "handoffs"),
		filepath.Join(stateDir(), "control"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	if _, err := os.Stat(configPath()); os.IsNotExist(err) {
		if err := config.DefaultConfig().Save(configPath()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath())
	} else {
		fmt.Printf("%s already exists, leaving it alone\n", configPath())
	}

	planPath := filepath.Join(stateDir(), "plan.yaml")
	if _, err := os.Stat(planPath); os.IsNotExist(err) {
		starter := &plan.Plan{
			Name: "starter",
			Tasks: []*plan.Task{
				{
					ID:          "t1",
					Title:       "Describe the first task",
					Description: "Replace this with a concrete, self-contained unit of work.",
					Status:      plan.TaskPending,
					AcceptanceCriteria: []string{
						"Describe how the worker can tell it is finished",
					},
				},
			},
		}
		if err := plan.Save(starter, planPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", planPath)
	} else {
		fmt.Printf("%s already exists, leaving it alone\n", planPath)
	}

	fmt.Println("\nEdit the plan, then start a run with: ralphd run")
	return nil
}
