// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/ampere/pkg/hostlink"
	"github.com/spf13/cobra"
)

var writeCmd = &cobra.Command{
	Use:   "write <name|id> <value>",
	Short: "Write a register",
	Long: `Write one register on a device.

The register is read first to learn its type, then the value is parsed as that
type and written. Integers accept 0x prefixes; flags accept true/false and
on/off as well as 0/1.

Examples:
  ampere write power_requested on --port /dev/ttyUSB0
  ampere write 0x0100 0 --url ws://bms.local/hostlink`,
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
}

// parseValue parses s as a value of type t
func parseValue(t hostlink.ValueType, s string) (hostlink.Value, error) {
	bits := t.Size() * 8
	switch {
	case bits == 0:
		return hostlink.Value{}, fmt.Errorf("unknown value type %d", t)

	case t == hostlink.TypeF32:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return hostlink.Value{}, fmt.Errorf("invalid %s %q", t, s)
		}
		return hostlink.F32(float32(f)), nil

	case t == hostlink.TypeF64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return hostlink.Value{}, fmt.Errorf("invalid %s %q", t, s)
		}
		return hostlink.F64(f), nil

	case t.Signed():
		i, err := strconv.ParseInt(s, 0, bits)
		if err != nil {
			return hostlink.Value{}, fmt.Errorf("invalid %s %q", t, s)
		}
		return hostlink.Value{Type: t, Bits: uint64(i)}, nil
	}

	if t == hostlink.TypeU8 {
		switch strings.ToLower(s) {
		case "true", "on":
			return hostlink.Bool(true), nil
		case "false", "off":
			return hostlink.Bool(false), nil
		}
	}
	u, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return hostlink.Value{}, fmt.Errorf("invalid %s %q", t, s)
	}
	return hostlink.Value{Type: t, Bits: u}, nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	id, err := resolveRegister(args[0])
	if err != nil {
		return err
	}

	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := requestContext()
	defer cancel()

	current, err := client.ReadRegister(ctx, id)
	if err != nil {
		return fmt.Errorf("reading %s: %w", registerLabel(id), err)
	}
	v, err := parseValue(current.Type, args[1])
	if err != nil {
		return err
	}
	if err := client.WriteRegister(ctx, id, v); err != nil {
		return fmt.Errorf("writing %s: %w", registerLabel(id), err)
	}
	fmt.Printf("%s: %s -> %s\n", registerLabel(id), hostlink.FormatValue(current), hostlink.FormatValue(v))
	return nil
}
