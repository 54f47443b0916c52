// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/jllopis/kaiba/pkg/config"
	"github.com/jllopis/kaiba/pkg/scheduler"
	"github.com/jllopis/kaiba/pkg/server"
	"github.com/jllopis/kaiba/pkg/telemetry"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the scheduler and the webhook sweeper",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	shutdownTelemetry, err := telemetry.Init("kaiba", version, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry.shutdown.error", slog.String("error", err.Error()))
		}
	}()
	metrics, err := telemetry.NewErrorMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.seed(ctx); err != nil {
		return err
	}

	watcher, err := config.NewWatcher(configOptions(), config.WithWatchLogger(logger))
	if err != nil {
		return err
	}
	watcher.OnChange(func(c *config.Config) {
		telemetry.SetLogLevel(c.Log.Level)
		logger.Info("config.reloaded", slog.String("log_level", c.Log.Level))
	})
	watcher.Start(ctx)
	defer watcher.Stop()

	interval := cfg.Scheduler.Interval
	if !cfg.Scheduler.Enabled {
		interval = 0
	}
	worker := scheduler.NewWorker(a.runner, interval)
	worker.Start(ctx)
	defer worker.Stop()

	a.sweeper.Start(ctx)
	defer a.sweeper.Stop()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.New(server.Deps{
		Reis:      a.reis,
		States:    a.states,
		Webhooks:  a.webhooks,
		Deliverer: a.deliverer,
		Cycler:    a.runner,
		Learner:   learnerOrNil(a),
		Notifier:  a.dispatcher,
		Health:    a.health,
		Metrics:   metrics,
		Logger:    logger,
	}, server.Config{APIKey: cfg.Server.APIKey, CORSOrigins: cfg.Server.CORSOrigins})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.start", slog.String("addr", cfg.Server.Addr), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
		}
	}

	logger.Info("server.shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func learnerOrNil(a *app) server.Learner {
	if a.learner == nil {
		return nil
	}
	return a.learner
}
