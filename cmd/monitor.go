// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Thermoquad/ampere/pkg/hostlink"
	"github.com/spf13/cobra"
)

var (
	monitorCount         int
	monitorWait          time.Duration
	monitorStatsInterval time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display host-link packets in human-readable format",
	Long: `Continuously decode and display host-link packets as they arrive.

Each packet is shown with timestamp, message type and decoded body. Frames
failing the CRC or carrying a bad length are counted and resynchronised on the
next sync byte; --stats-interval prints the running link statistics.

With --count the monitor exits once that many valid packets were seen. With
--wait it exits with status 1 if no valid packet arrives in time, which makes
it usable as a link check.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorCount, "count", 0, "Exit after this many packets (0 runs forever)")
	monitorCmd.Flags().DurationVar(&monitorWait, "wait", 0, "Fail if no packet arrives within this time")
	monitorCmd.Flags().DurationVar(&monitorStatsInterval, "stats-interval", 0, "Statistics interval (0 disables)")
}

type readResult struct {
	data []byte
	err  error
}

func runMonitor(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Ampere - Host-Link Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ring := hostlink.NewRing(hostlink.RingSize)
	decoder := hostlink.NewDecoder(ring)
	stats := decoder.Statistics()

	reads := make(chan readResult, 4)
	go func() {
		for {
			buf := make([]byte, 128)
			n, err := conn.Read(buf)
			reads <- readResult{data: buf[:n], err: err}
			if err != nil {
				return
			}
		}
	}()

	var waitC <-chan time.Time
	if monitorWait > 0 {
		waitC = time.After(monitorWait)
	}
	var statsC <-chan time.Time
	if monitorStatsInterval > 0 {
		t := time.NewTicker(monitorStatsInterval)
		defer t.Stop()
		statsC = t.C
	}

	var payload [hostlink.MaxPayloadSize]byte
	seen := 0
	for {
		select {
		case <-waitC:
			fmt.Printf("TIMEOUT: no valid packet within %v\n", monitorWait)
			fmt.Print(stats.String())
			os.Exit(1)

		case <-statsC:
			fmt.Printf("--- %s ---\n%s\n", time.Now().Format("15:04:05"), stats.String())

		case r := <-reads:
			for p := r.data; len(p) > 0; {
				w := ring.Write(p)
				p = p[w:]
				for {
					n, ok := decoder.Next(payload[:])
					if !ok {
						break
					}
					waitC = nil
					seen++
					fmt.Print(hostlink.FormatPacket(time.Now(), payload[:n]))
					if monitorCount > 0 && seen >= monitorCount {
						fmt.Printf("\n%s\n", stats.String())
						return nil
					}
				}
			}
			if r.err != nil {
				// A WebSocket read error means the connection is gone
				if r.err == ErrConnectionClosed {
					log.Printf("Connection closed")
				} else {
					log.Printf("Read error: %v", r.err)
				}
				fmt.Printf("\n%s\n", stats.String())
				return nil
			}
		}
	}
}
