// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the kaiba command.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jllopis/kaiba/pkg/config"
	"github.com/jllopis/kaiba/pkg/errors"
	"github.com/jllopis/kaiba/pkg/telemetry"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	profile    string
	overrides  []string
	jsonOutput bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kaiba",
	Short: "Kaiba runs the autonomous learning cycle of Reis",
	Long: `Kaiba decides, once per cycle, whether each Rei should learn, digest
what it learned or rest, and notifies subscribed webhooks of what happened.

Configuration is read from defaults, --config (with an optional --profile
overlay), KAIBA_ environment variables and --set key=value overrides.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadWith(configOptions())
		if err != nil {
			return NewConfigError(err, configPath)
		}
		cfg = loaded
		logger = telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

func configOptions() config.Options {
	return config.Options{Path: configPath, Profile: profile, Set: overrides}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("KAIBA_CONFIG"), "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile overlay (e.g. dev loads config.dev.yaml)")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "override a configuration key, e.g. --set scheduler.interval=10m")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print errors as JSON")

	rootCmd.AddCommand(serveCmd, triggerCmd, webhookCmd, seedCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var (
			cliErr *CLIError
			ke     *errors.KaibaError
		)
		switch {
		case stderrors.As(err, &cliErr):
			cliErr.PrintError(jsonOutput)
		case stderrors.As(err, &ke):
			NewCLIError(ke, "").PrintError(jsonOutput)
		default:
			PrintSimpleError(err, jsonOutput)
		}
		stop()
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the kaiba version",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "kaiba %s\n", version)
		return err
	},
}
