// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/sidecar/internal/clock"
	"github.com/Thermoquad/sidecar/internal/metrics"
	"github.com/Thermoquad/sidecar/internal/power"
	"github.com/Thermoquad/sidecar/internal/report"
	"github.com/Thermoquad/sidecar/internal/session"
	"github.com/Thermoquad/sidecar/internal/transfer"
)

var (
	runTUI         bool
	runNoGPIO      bool
	runStoreDir    string
	runReportDir   string
	runMetricsFile string
)

var runCmd = &cobra.Command{
	Use:   "run [startup-file]",
	Short: "Run one payload session",
	Long: `Run one bounded session with the payload.

The optional argument names a file whose contents select the startup script
(default ./sbtest02.json). When it cannot be read the configured startup
selection is sent instead.

The payload is always told to power down and its rails are always switched
off at the end, including after Ctrl+C. The command exits non-zero when the
session was aborted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the session monitor")
	runCmd.Flags().BoolVar(&runNoGPIO, "no-gpio", false, "Do not switch power rails (bench)")
	runCmd.Flags().StringVar(&runStoreDir, "store", "", "Directory for received files")
	runCmd.Flags().StringVar(&runReportDir, "report-dir", "", "Directory for the CBOR session report")
	runCmd.Flags().StringVar(&runMetricsFile, "metrics-textfile", "", "Write metrics here at session end (node-exporter textfile)")
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		settings.StartupFile = args[0]
	}
	if runStoreDir != "" {
		settings.StoreDir = runStoreDir
	}
	if runReportDir != "" {
		settings.ReportDir = runReportDir
	}
	if runMetricsFile != "" {
		settings.MetricsTextfile = runMetricsFile
	}

	cfg := settings.Session
	startup, err := settings.ResolveStartup()
	if err != nil {
		logger.Warn().Err(err).Str("startup", startup).Msg("using configured startup selection")
	}
	cfg.Startup = startup

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.RegisterMetrics()

	sessionLog := logger
	if runTUI {
		// The monitor owns the terminal
		sessionLog = zerolog.Nop()
	}

	opts := session.Options{
		Port:    conn,
		Store:   transfer.DirStore{Dir: settings.StoreDir},
		Battery: settings.BatteryReader(),
		Power:   powerController(sessionLog),
		Clock:   clock.Real{},
		Logger:  sessionLog,
	}

	var result session.Report
	if runTUI {
		result, err = runWithMonitor(ctx, cfg, opts, connInfo)
	} else {
		logger.Info().Str("connection", connInfo).Str("startup", cfg.Startup).Msg("starting session")
		var orch *session.Orchestrator
		if orch, err = session.New(cfg, opts); err == nil {
			result = orch.Run(ctx)
		}
	}
	if err != nil {
		return err
	}

	persist(result)
	if err := report.Format(os.Stdout, result); err != nil {
		return err
	}
	if result.Exit.Aborted() {
		return fmt.Errorf("session aborted: %s", result.Exit)
	}
	return nil
}

// runWithMonitor runs the session in the background and the monitor in
// the foreground until the session finishes.
func runWithMonitor(ctx context.Context, cfg session.Config, opts session.Options, connInfo string) (session.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(initialMonitorModel(connInfo, cfg, cancel))
	opts.Observer = func(e session.Event) {
		p.Send(sessionEventMsg(e))
	}

	orch, err := session.New(cfg, opts)
	if err != nil {
		return session.Report{}, err
	}

	done := make(chan session.Report, 1)
	go func() {
		r := orch.Run(ctx)
		done <- r
		p.Send(sessionDoneMsg(r))
	}()

	if _, err := p.Run(); err != nil {
		// The session keeps running; wait so power is removed
		cancel()
		r := <-done
		return r, fmt.Errorf("TUI error: %w", err)
	}
	return <-done, nil
}

func powerController(log zerolog.Logger) power.Controller {
	if runNoGPIO {
		return power.Nop{Log: log}
	}
	return power.Sysfs{
		Logic:   power.GPIOPin{Root: settings.GPIORoot, Number: settings.LogicPin},
		Payload: power.GPIOPin{Root: settings.GPIORoot, Number: settings.PayloadPin},
		Log:     log,
	}
}

// persist writes the report and metrics where configured. Failures are
// logged; the session outcome stands.
func persist(r session.Report) {
	if settings.ReportDir != "" {
		path, err := report.Write(settings.ReportDir, r)
		if err != nil {
			logger.Error().Err(err).Msg("writing session report failed")
		} else {
			logger.Info().Str("path", path).Msg("session report written")
		}
	}
	if settings.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(settings.MetricsTextfile); err != nil {
			logger.Error().Err(err).Msg("writing metrics failed")
		}
	}
}
