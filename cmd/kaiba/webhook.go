// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jllopis/kaiba/pkg/errors"
	"github.com/jllopis/kaiba/pkg/webhook"
)

var signSecret string

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Webhook endpoint tools",
}

var webhookVerifyCmd = &cobra.Command{
	Use:   "verify <url>",
	Short: "Check that an endpoint answers a HEAD request",
	Long: `Sends a HEAD request to the endpoint. A 2xx or 405 answer counts as
reachable. The command fails when the endpoint is unreachable.`,
	Args: cobra.ExactArgs(1),
	RunE: runWebhookVerify,
}

var webhookSignCmd = &cobra.Command{
	Use:   "sign [file]",
	Short: "Print the signature header value for a payload",
	Long: `Reads a payload from file, or stdin when no file is given, and prints the
value kaiba sends in the X-Kaiba-Signature header for it. Receivers can use
it to check their verification code.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWebhookSign,
}

func init() {
	webhookSignCmd.Flags().StringVar(&signSecret, "secret", os.Getenv("KAIBA_WEBHOOK_SECRET"), "webhook secret")
	webhookCmd.AddCommand(webhookVerifyCmd, webhookSignCmd)
}

func runWebhookVerify(cmd *cobra.Command, args []string) error {
	d := webhook.NewDeliverer(webhook.NewHTTPTransport(nil, cfg.Webhook.UserAgent), webhook.DelivererConfig{Logger: logger})
	url := args[0]
	reachable := d.VerifyEndpoint(cmd.Context(), url)
	if err := printJSON(cmd.OutOrStdout(), map[string]any{"url": url, "reachable": reachable}); err != nil {
		return err
	}
	if !reachable {
		ke := errors.New(errors.CodeUnavailable, "endpoint unreachable", nil).WithContext("url", url)
		return NewCLIError(ke, "the endpoint must answer HEAD with 2xx or 405")
	}
	return nil
}

func runWebhookSign(cmd *cobra.Command, args []string) error {
	if signSecret == "" {
		return NewCLIError(errors.New(errors.CodeInvalidInput, "secret is required", nil),
			"pass --secret or set KAIBA_WEBHOOK_SECRET")
	}
	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	body, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), webhook.Sign(signSecret, body))
	return err
}
