// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load Reis from a YAML file into the configured store",
	Long: `Loads a YAML document of Reis, with optional state overrides, into the
configured store:

  reis:
    - name: Mika
      role: researcher
      manifest:
        interests: [rust, wasm]
      state:
        energy_level: 80`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	a := &app{cfg: cfg, log: logger, health: core.NewHealthRegistry()}
	defer a.Close()
	if err := a.openStores(); err != nil {
		return err
	}

	reis, err := store.Seed(ctx, f, a.reis, a.states)
	for _, r := range reis {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.ID, r.Name)
	}
	return err
}
