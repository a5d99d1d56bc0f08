package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/config"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync cycle and exit",
	Long: `Pull new mail once, classify it, and exit.

Useful for cron-driven setups and for testing the pipeline without
leaving the daemon running. The checkpoint is shared with serve, so a
one-off cycle never reprocesses what the daemon already handled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		return runSync(ctx)
	},
}

func runSync(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zlog := logger.Underlying()

	p, err := buildPipeline(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	defer p.Close()

	if err := p.syncer.SyncOnce(ctx); err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}
	zlog.Info("sync cycle finished", zap.String("mode", "one-shot"))
	return nil
}
