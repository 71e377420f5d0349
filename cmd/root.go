// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/Thermoquad/ampere/pkg/config"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Device flags
	deviceAddress  uint8
	requestTimeout time.Duration

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "ampere",
	Short: "Battery management core and host-link tools",
	Long: `Ampere - A battery management control core with host-link tooling.

Runs the control loop against a simulated pack and talks to running
instances over the host-link register protocol.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/hostlink [--username user]

For WebSocket authentication, the password is read from the AMPERE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Configuration is read from --config, or ampere.yaml in the working directory
or $HOME/.config/ampere. Any key can be overridden with an AMPERE_ variable,
e.g. AMPERE_PACK_TICK_MS=20.`,
	Version:      "0.3.0",
	SilenceUsage: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().Uint8VarP(&deviceAddress, "address", "a", 0, "Device address")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 2*time.Second, "Request timeout")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file")
}

// loadConfig reads the configuration named by --config
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
