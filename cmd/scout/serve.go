package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nugget/talentscout/internal/buildinfo"
	"github.com/nugget/talentscout/internal/connwatch"
	"github.com/nugget/talentscout/internal/recruiter"
	"github.com/nugget/talentscout/internal/scheduler"
)

// runServe handles "scout serve". It starts the tool processes, runs
// recruiting cycles on schedule while the model API is reachable, and
// blocks until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. The signal cancels the context
//  2. A running cycle stops after its current task and is marked interrupted
//  3. The scheduler returns
//  4. Every tool process is stopped and the database closed
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, cfg)
	logger.Info("starting scout",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)
	logger.Info("config loaded",
		"path", cfgPath,
		"model", cfg.Models.Agent,
		"servers", len(cfg.MCP.Servers),
		"data_dir", cfg.DataDir,
	)

	schedules, err := scheduler.FromConfig(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	st, err := startStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// Cycles left running belong to a process that died mid-cycle.
	if n, err := st.store.MarkInterrupted(ctx); err != nil {
		logger.Warn("failed to close out stale cycles", "error", err)
	} else if n > 0 {
		logger.Info("stale cycles marked interrupted", "count", n)
	}

	watch := connwatch.Start(ctx, connwatch.Config{
		Name:         "anthropic",
		Probe:        st.client.Ping,
		PollInterval: cfg.Anthropic.HealthCheck,
		Logger:       logger,
	})
	defer watch.Stop()

	sched := scheduler.New(scheduler.Config{
		Schedules:  schedules,
		Location:   cfg.Schedule.Location(),
		RunOnStart: cfg.Schedule.RunOnStart,
		Logger:     logger,
	}, func(ctx context.Context, trigger string) {
		if !watch.Ready() {
			logger.Warn("recruiting cycle skipped, model API unreachable",
				"trigger", trigger,
				"error", watch.Status().LastError,
			)
			return
		}
		if _, err := st.runner.RunCycle(ctx, trigger); err != nil && !errors.Is(err, recruiter.ErrCycleRunning) {
			logger.Error("recruiting cycle failed", "trigger", trigger, "error", err)
		}
	})

	err = sched.Run(ctx)
	logger.Info("shutting down", "uptime", buildinfo.Uptime())
	return err
}
