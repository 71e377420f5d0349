// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Ampere - Battery Management Control Core
//
// Runs the pack control loop against a simulated pack and provides
// host-link tools for talking to running instances.

package main

import (
	"os"

	"github.com/Thermoquad/ampere/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
