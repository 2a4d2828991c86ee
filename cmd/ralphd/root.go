package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ralphd/internal/logging"
)

var (
	workspace string
	debug     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ralphd",
	Short: "ralphd - LLM task-plan orchestrator",
	Long: `ralphd walks a dependency-ordered task plan, invokes an LLM worker once
per task, validates the result, and commits or rolls back. Between iterations
it maintains a narrative handoff and an invariant-checked knowledge catalog,
and injects a budget-limited slice of both into the next invocation.

State lives under <workspace>/.ralph/.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if debug {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return err
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		if debug {
			logging.SetDebugMode(true)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory (plan and state live under .ralph/)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func stateDir() string {
	return filepath.Join(workspace, ".ralph")
}

func configPath() string {
	return filepath.Join(stateDir(), "config.yaml")
}

// resolvePath anchors a workspace-relative config path at the workspace root.
func resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
