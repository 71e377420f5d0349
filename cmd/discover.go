// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	discoverWait   time.Duration
	discoverAssign string
	discoverTo     uint8
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover devices and assign addresses",
	Long: `Broadcast DISCOVER and list every device that announces itself.

Devices answer with ANNOUNCE carrying their serial number and current
address. With --assign the device with that serial is given the address in
--to, and the command waits for it to announce itself there.

Examples:
  # List devices on a serial link
  ampere discover --port /dev/ttyUSB0

  # Move device 414D50 to address 3
  ampere discover --port /dev/ttyUSB0 --assign 0x414D50 --to 3

Exit codes:
  0 - Discovery successful (at least one device found)
  1 - Discovery failed (no devices, or assignment failed)
  2 - Connection error`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().DurationVar(&discoverWait, "wait", 2*time.Second, "How long to collect announces")
	discoverCmd.Flags().StringVar(&discoverAssign, "assign", "", "Serial of the device to readdress")
	discoverCmd.Flags().Uint8Var(&discoverTo, "to", 1, "Address to assign")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	client, conn, connInfo, err := OpenClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Ampere - Device Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Wait: %v\n\n", discoverWait)

	if discoverAssign != "" {
		serial, err := strconv.ParseUint(discoverAssign, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid serial %q", discoverAssign)
		}
		ctx, cancel := requestContext()
		defer cancel()
		fmt.Printf("Assigning address 0x%02X to %016X...\n", discoverTo, serial)
		if err := client.AssignAddress(ctx, serial, discoverTo); err != nil {
			fmt.Printf("ASSIGN FAILED: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Device %016X now at 0x%02X\n", serial, discoverTo)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), discoverWait)
	defer cancel()
	fmt.Printf("Sending DISCOVER...\n")
	devices, err := client.Discover(ctx)
	if err != nil {
		fmt.Printf("SEND FAILED: %v\n", err)
		os.Exit(2)
	}

	for _, d := range devices {
		fmt.Printf("\nDevice found:\n")
		fmt.Printf("  Serial: %016X\n", d.Serial)
		fmt.Printf("  Address: 0x%02X\n", d.Address)
	}

	// Summary
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Devices found: %d\n", len(devices))
	if len(devices) == 0 {
		fmt.Printf("No devices discovered. Check connection and device power.\n")
		os.Exit(1)
	}
	return nil
}
