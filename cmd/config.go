// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/ampere/pkg/config"
	"github.com/spf13/cobra"
)

var configDefaults bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Load the configuration the way "ampere run" does, validate it and print
the result as YAML. The output can be saved and used as a starting point for
a configuration file.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configDefaults, "defaults", false, "Print the built-in defaults, ignoring files and environment")
}

func runConfig(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	if configDefaults {
		d := config.Default()
		cfg = &d
	} else {
		var err error
		if cfg, err = loadConfig(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return config.Dump(cfg, os.Stdout)
}
