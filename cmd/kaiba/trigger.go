// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/kaiba/pkg/errors"
)

var (
	triggerRemote  string
	triggerTimeout time.Duration
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run one decision cycle and print its report",
	Long: `Runs one cycle over every Rei and prints the report as JSON.

With --remote the cycle runs on a kaiba server instead, authenticated with
server.api_key.`,
	Args: cobra.NoArgs,
	RunE: runTrigger,
}

func init() {
	triggerCmd.Flags().StringVar(&triggerRemote, "remote", "", "base URL of a kaiba server, e.g. http://localhost:8080")
	triggerCmd.Flags().DurationVar(&triggerTimeout, "timeout", 30*time.Minute, "upper bound for the cycle")
}

func runTrigger(cmd *cobra.Command, _ []string) error {
	if triggerRemote != "" {
		return triggerRemoteCycle(cmd)
	}
	ctx, cancel := contextWithTimeout(cmd.Context(), triggerTimeout)
	defer cancel()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.seed(ctx); err != nil {
		return err
	}
	report, err := a.runner.RunCycle(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func triggerRemoteCycle(cmd *cobra.Command) error {
	base := strings.TrimRight(triggerRemote, "/")
	ctx, cancel := contextWithTimeout(cmd.Context(), triggerTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/kaiba/trigger", http.NoBody)
	if err != nil {
		return err
	}
	if cfg.Server.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Server.APIKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return WrapConnectionError(err, base)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var remote struct {
			Error struct {
				Code    errors.ErrorCode `json:"code"`
				Message string           `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &remote) != nil || remote.Error.Message == "" {
			remote.Error.Message = fmt.Sprintf("server answered %s", resp.Status)
		}
		return NewRemoteError(resp.StatusCode, remote.Error.Code, remote.Error.Message)
	}
	var report json.RawMessage = body
	return printJSON(cmd.OutOrStdout(), report)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func contextWithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
