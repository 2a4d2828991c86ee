package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ralphd/internal/checkpoint"
	"ralphd/internal/config"
	"ralphd/internal/control"
	"ralphd/internal/dashboard"
	"ralphd/internal/handoff"
	"ralphd/internal/loop"
	"ralphd/internal/memory"
	"ralphd/internal/plan"
	"ralphd/internal/prompt"
	"ralphd/internal/telemetry"
	"ralphd/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the plan until complete, blocked, capped, or interrupted",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	planPath := resolvePath(cfg.Plan.Path)
	if cfg.Plan.Path == "" {
		planPath = filepath.Join(stateDir(), "plan.yaml")
	}
	p, err := plan.Load(planPath)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}
	logger.Info("plan loaded",
		zap.String("name", p.Name),
		zap.Int("tasks", len(p.Tasks)),
	)

	w, err := worker.New(cfg)
	if err != nil {
		return err
	}

	events, err := telemetry.Open(resolvePath(cfg.Telemetry.DatabasePath))
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer events.Close()

	mem, err := memory.NewController(stateDir(), worker.NewMaintainer(w), memory.TriggerConfig{
		NoveltyThreshold: cfg.Compaction.NoveltyThreshold,
		NoveltyWindow:    cfg.Compaction.NoveltyWindow,
		ByteThreshold:    cfg.Compaction.ByteThreshold,
		PeriodicInterval: cfg.Compaction.PeriodicInterval,
	})
	if err != nil {
		return err
	}

	skills, err := prompt.LoadSkills(resolvePath(cfg.Context.SkillsDir))
	if err != nil {
		logger.Warn("skills unavailable", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctrl := control.NewController(filepath.Join(stateDir(), "control"), cfg.GetControlPollInterval())

	l := loop.New(loop.Options{
		Config:   cfg,
		Plan:     p,
		PlanPath: planPath,
		Worker:   w,
		Validator: &loop.CommandValidator{
			Command: cfg.Plan.ValidationCommand,
			WorkDir: workspace,
			Timeout: cfg.GetValidationTimeout(),
		},
		Checkpoints: checkpoint.Detect(ctx, workspace),
		Handoffs:    handoff.NewStore(workspace),
		Memory:      mem,
		Control:     ctrl,
		Events:      events,
		Skills:      skills,
	})

	g, ctx := errgroup.WithContext(ctx)

	// First signal requests cooperative shutdown; a second one aborts.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			logger.Info("shutdown requested, finishing current iteration")
			ctrl.RequestShutdown()
		}
		select {
		case <-ctx.Done():
		case <-sigCh:
			logger.Warn("second signal, aborting")
			cancel()
		}
		return nil
	})

	g.Go(func() error {
		return ctrl.Watch(ctx)
	})

	var srv *dashboard.Server
	if cfg.Dashboard.Enabled {
		srv, err = dashboard.NewServer(logger, &dashboard.Config{
			Host: cfg.Dashboard.Host,
			Port: cfg.Dashboard.Port,
		}, dashboard.Deps{
			PlanPath:   planPath,
			ConfigPath: configPath(),
			Control:    ctrl,
			Events:     events,
		})
		if err != nil {
			return err
		}
		g.Go(srv.Start)
	}

	var result loop.RunResult
	g.Go(func() error {
		defer cancel()
		var runErr error
		result, runErr = l.Run(ctx)
		if srv != nil {
			_ = srv.Shutdown(context.Background())
		}
		return runErr
	})

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("Run %s after %d iterations\n", result.State, result.Iterations)
	for status, n := range result.Counts {
		fmt.Printf("  %-12s %d\n", status, n)
	}
	if result.State == loop.StateBlocked {
		os.Exit(2)
	}
	return nil
}
