// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/Thermoquad/ampere/pkg/core"
	"github.com/Thermoquad/ampere/pkg/events"
	"github.com/Thermoquad/ampere/pkg/hostlink"
	"github.com/spf13/cobra"
)

// maxCellsPerRead keeps a delta-coded cell response inside one payload
const maxCellsPerRead = 64

var (
	readCellsStart int
	readCellsCount int
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read registers, cell voltages or events from a device",
}

var readRegisterCmd = &cobra.Command{
	Use:   "register [name|id]...",
	Short: "Read registers by name or id (all known registers when none given)",
	RunE:  runReadRegister,
}

var readCellsCmd = &cobra.Command{
	Use:   "cells",
	Short: "Read cell voltages",
	RunE:  runReadCells,
}

var readEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Read the active event log",
	RunE:  runReadEvents,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.AddCommand(readRegisterCmd, readCellsCmd, readEventsCmd)
	readCellsCmd.Flags().IntVar(&readCellsStart, "start", 0, "First cell")
	readCellsCmd.Flags().IntVar(&readCellsCount, "count", 0, "Number of cells (0 reads to the last cell)")
}

// resolveRegister accepts a register name or a decimal or 0x-prefixed id
func resolveRegister(arg string) (uint16, error) {
	if id, ok := core.RegisterID(arg); ok {
		return id, nil
	}
	id, err := strconv.ParseUint(arg, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown register %q", arg)
	}
	return uint16(id), nil
}

func registerLabel(id uint16) string {
	if name, ok := core.RegisterName(id); ok {
		return fmt.Sprintf("0x%04X %s", id, name)
	}
	return fmt.Sprintf("0x%04X", id)
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func runReadRegister(cmd *cobra.Command, args []string) error {
	ids := make([]uint16, 0, len(args))
	for _, arg := range args {
		id, err := resolveRegister(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		for id := range core.RegisterNames() {
			ids = append(ids, id)
		}
		slices.Sort(ids)
	}

	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, id := range ids {
		ctx, cancel := requestContext()
		v, err := client.ReadRegister(ctx, id)
		cancel()
		if err != nil {
			fmt.Printf("%-32s ERROR: %v\n", registerLabel(id), err)
			continue
		}
		fmt.Printf("%-32s %s\n", registerLabel(id), hostlink.FormatValue(v))
	}
	return nil
}

func runReadCells(cmd *cobra.Command, args []string) error {
	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	count := readCellsCount
	if count == 0 {
		ctx, cancel := requestContext()
		v, err := client.ReadRegister(ctx, core.RegCellCount)
		cancel()
		if err != nil {
			return fmt.Errorf("reading cell count: %w", err)
		}
		count = int(v.Uint()) - readCellsStart
	}
	if readCellsStart < 0 || count <= 0 || readCellsStart+count > 255 {
		return fmt.Errorf("cell range %d+%d out of bounds", readCellsStart, count)
	}

	for start := readCellsStart; start < readCellsStart+count; start += maxCellsPerRead {
		n := min(maxCellsPerRead, readCellsStart+count-start)
		ctx, cancel := requestContext()
		mv, err := client.ReadCells(ctx, uint8(start), uint8(n))
		cancel()
		if err != nil {
			return fmt.Errorf("reading cells %d..%d: %w", start, start+n-1, err)
		}
		fmt.Print(hostlink.FormatCells(start, mv))
	}
	return nil
}

func runReadEvents(cmd *cobra.Command, args []string) error {
	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := requestContext()
	defer cancel()
	entries, err := client.ReadEvents(ctx)
	if err != nil {
		return err
	}
	defs := events.DefaultDefinitions()
	fmt.Printf("Active events: %d\n", len(entries))
	fmt.Print(hostlink.FormatEvents(entries, defs[:]))
	return nil
}
