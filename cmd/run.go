// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/ampere/pkg/calibration"
	"github.com/Thermoquad/ampere/pkg/core"
	"github.com/Thermoquad/ampere/pkg/logging"
	"github.com/Thermoquad/ampere/pkg/packsim"
	"github.com/Thermoquad/ampere/pkg/timebase"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runListenPort string
	runWSListen   string
	runDuration   time.Duration
	runPower      bool
	runStatus     time.Duration
	runFault      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control core against a simulated pack",
	Long: `Run the battery management control loop against a simulated pack.

The simulated pack provides the module chain, the contactor drivers and the
analog front end. The core serves the host-link register protocol on any
configured link:

  --listen-port /dev/ttyUSB1   serve over a serial port
  --ws-listen :8080            serve WebSocket clients on the configured path

WebSocket clients must use HTTP Basic auth when --username is given; the
password comes from AMPERE_PASSWORD or an interactive prompt.

Faults can be injected into the simulated pack with --fault:
  neg-stuck-closed, neg-stuck-open, pos-stuck-closed, pos-stuck-open,
  no-precharge, bus-down`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runListenPort, "listen-port", "", "Serve host-link on this serial port")
	runCmd.Flags().StringVar(&runWSListen, "ws-listen", "", "Serve host-link over WebSocket on this address")
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	runCmd.Flags().BoolVar(&runPower, "power", false, "Request power at startup")
	runCmd.Flags().DurationVar(&runStatus, "status-interval", time.Second, "Status line interval (0 disables)")
	runCmd.Flags().StringVar(&runFault, "fault", "", "Inject a simulated pack fault")
}

func parseFault(name string) (packsim.Faults, error) {
	var f packsim.Faults
	switch name {
	case "":
	case "neg-stuck-closed":
		f.NegStuckClosed = true
	case "neg-stuck-open":
		f.NegStuckOpen = true
	case "pos-stuck-closed":
		f.PosStuckClosed = true
	case "pos-stuck-open":
		f.PosStuckOpen = true
	case "no-precharge":
		f.NoPrecharge = true
	case "bus-down":
		f.BusDown = true
	default:
		return f, fmt.Errorf("unknown fault %q", name)
	}
	return f, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("listen-port") {
		runListenPort = cfg.HostLink.ListenPort
	}
	if !cmd.Flags().Changed("ws-listen") {
		runWSListen = cfg.HostLink.WSListen
	}
	if !cmd.Flags().Changed("baud") {
		baudRate = cfg.HostLink.Baud
	}
	faults, err := parseFault(runFault)
	if err != nil {
		return err
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	layout, err := cfg.Layout()
	if err != nil {
		return err
	}
	pack, err := packsim.New(cfg.Sim, layout)
	if err != nil {
		return err
	}
	pack.SetFaults(faults)

	coreCfg, err := cfg.Core()
	if err != nil {
		return err
	}
	var store calibration.Store
	if cfg.Calibration.Path != "" {
		store = &calibration.FileStore{Path: cfg.Calibration.Path}
	}
	c, err := core.New(coreCfg, core.Deps{
		Clock:  timebase.NewSystemClock(),
		Bus:    pack,
		Driver: pack,
		Analog: pack,
		Enable: pack,
		Store:  store,
		Log:    log,
	})
	if err != nil {
		return err
	}
	c.Model().PowerRequested = runPower

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	fmt.Printf("Ampere - Control Core\n")
	fmt.Printf("Pack: %d cells on %d modules, serial %016X\n", layout.CellCount(), pack.Modules(), coreCfg.Serial)
	fmt.Printf("Tick: %d ms, bus cycle: %d ms\n", coreCfg.TickMs, coreCfg.BusCycleMs)

	if runListenPort != "" {
		conn, err := OpenSerialConnection(runListenPort, baudRate)
		if err != nil {
			return err
		}
		defer conn.Close()
		srv := c.AttachLink(conn)
		srv.Announce()
		go func() {
			if err := srv.Pump(conn); err != nil {
				log.Warn("serial host-link stopped", zap.Error(err))
			}
		}()
		fmt.Printf("Serving host-link on %s @ %d baud\n", runListenPort, baudRate)
	}

	if runWSListen != "" {
		httpSrv, err := serveWebSocket(c, cfg.HostLink.WSPath, log.Named("ws"))
		if err != nil {
			return err
		}
		httpSrv.Addr = runWSListen
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("websocket server failed", zap.Error(err))
			}
		}()
		defer httpSrv.Close()
		fmt.Printf("Serving host-link on ws://%s%s\n", runWSListen, cfg.HostLink.WSPath)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	runner := core.NewRunner(c, log.Named("runner"))
	var lastStatus int64
	runner.Before(func(now int64) {
		pack.Step(now)
		if runStatus > 0 && now-lastStatus >= runStatus.Milliseconds() {
			lastStatus = now
			printStatus(c, now)
		}
	})

	err = runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	stats := c.BusStatistics()
	fmt.Printf("\n--- Run summary ---\n")
	fmt.Printf("Ticks: %d (overruns %d, average %v)\n", c.Ticks(), runner.Overruns(), runner.AverageTick())
	fmt.Printf("Bus: %d cycles, %d failed, %d CRC errors, %d resyncs\n", stats.Cycles, stats.Failed, stats.CRCErrors, stats.Resyncs)
	saved, _ := c.Maintenance().Saved()
	fmt.Printf("Calibrations saved: %d\n", saved)
	return nil
}

// printStatus runs on the control goroutine, between ticks
func printStatus(c *core.Core, now int64) {
	m := c.Model()
	fmt.Printf("[%8d] %-12s %-14s %-8s cells %4d..%4d mV  I=%7d mA  SoC %5.1f%%  limits +%d/-%d mA  %s\n",
		now, c.SystemState(), c.ContactorState(), c.BalancingState(),
		m.CellMinMV, m.CellMaxMV, m.PackCurrentMA, float64(m.SocPermille)/10,
		m.ChargeLimitMA, m.DischargeLimitMA, c.Events().HighestLevel())
}

// serveWebSocket builds an HTTP server that attaches every WebSocket
// client as its own host-link
func serveWebSocket(c *core.Core, path string, log *zap.Logger) (*http.Server, error) {
	password := ""
	if wsUsername != "" {
		var err error
		password, err = GetPassword()
		if err != nil {
			return nil, err
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if wsUsername != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(wsUsername)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="ampere"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		conn := NewWebSocketConnection(ws)
		defer conn.Close()

		srv := c.AttachLink(conn)
		log.Info("host-link client connected", zap.String("remote", r.RemoteAddr))
		err = srv.Pump(conn)
		c.DetachLink(srv)
		log.Info("host-link client disconnected", zap.String("remote", r.RemoteAddr), zap.Error(err))
	})

	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}
