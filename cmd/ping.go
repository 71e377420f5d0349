// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/ampere/pkg/core"
	"github.com/spf13/cobra"
)

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure host-link round trips by reading the tick counter",
	Long: `Read the tick counter register repeatedly and report the round trip time.

This is useful for verifying:
  - The serial port or WebSocket connection is established
  - HTTP Basic authentication works
  - The device at --address answers requests
  - The control loop is running (the tick counter advances)

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	client, conn, connInfo, err := OpenClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Ampere - Host-Link Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Address: 0x%02X, timeout %v, count %d\n\n", deviceAddress, requestTimeout, pingCount)

	successCount := 0
	var lastTicks uint64
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		ctx, cancel := requestContext()
		v, err := client.ReadRegister(ctx, core.RegTicks)
		cancel()
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
		} else {
			ticks := v.Uint()
			stalled := ""
			if i > 1 && successCount > 0 && ticks <= lastTicks {
				stalled = " (control loop stalled)"
			}
			lastTicks = ticks
			successCount++
			fmt.Printf("ticks=%d rtt=%v%s\n", ticks, time.Since(start).Round(time.Microsecond), stalled)
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	failCount := pingCount - successCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
