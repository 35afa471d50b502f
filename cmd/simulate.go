// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sidecar/internal/clock"
	"github.com/Thermoquad/sidecar/internal/peer"
	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

var (
	simFiles           []string
	simCorrupt         int
	simIgnorePowerDown bool
	simBootDelay       time.Duration
	simOfferDelay      time.Duration
	simNoise           bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play the payload side of a session",
	Long: `Act as the payload computer so a controller can be exercised on the bench.

Sends INITIALISED, acknowledges TIME and STARTUP_COMMAND, offers each --file
in turn until one is accepted, then acknowledges the shutdown command.
Without --file a small built-in patch file is offered.

Connect two serial adapters back to back, or point both ends at the bridge.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringArrayVar(&simFiles, "file", nil, "File to offer (repeatable)")
	simulateCmd.Flags().IntVar(&simCorrupt, "corrupt", 0, "Send a wrong digest for the first N offers")
	simulateCmd.Flags().BoolVar(&simIgnorePowerDown, "ignore-power-down", false, "Do not acknowledge the shutdown command")
	simulateCmd.Flags().DurationVar(&simBootDelay, "boot-delay", 2*time.Second, "Delay before sending INITIALISED")
	simulateCmd.Flags().DurationVar(&simOfferDelay, "offer-delay", time.Second, "Delay before each file offer")
	simulateCmd.Flags().BoolVar(&simNoise, "noise", false, "Send line noise before INITIALISED")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg := peer.DefaultConfig()
	cfg.BootDelay = simBootDelay
	cfg.OfferDelay = simOfferDelay
	cfg.IgnorePowerDown = simIgnorePowerDown
	cfg.StepTimeout = settings.Session.PowerUpAllowance + settings.Session.Duration
	cfg.ChunkSize = settings.Session.Transfer.ChunkSize
	if simNoise {
		cfg.Noise = []byte{0xFF, 0x13, 0x7E, 0xA5}
	}

	if len(simFiles) > 0 {
		cfg.Files = nil
		for _, path := range simFiles {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			cfg.Files = append(cfg.Files, peer.File{Name: filepath.Base(path), Data: data})
		}
	}
	// Corrupted offers go first and are followed by a clean copy
	if simCorrupt > 0 && len(cfg.Files) > 0 {
		bad := cfg.Files[0]
		bad.CorruptDigest = true
		var files []peer.File
		for i := 0; i < simCorrupt; i++ {
			files = append(files, bad)
		}
		cfg.Files = append(files, cfg.Files...)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fmt.Printf("Sidecar - Payload Simulator\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Offering %d file(s)\n\n", len(cfg.Files))

	res, err := peer.New(conn, clock.Real{}, cfg, logger).Run(ctx)

	if !res.Time.IsZero() {
		fmt.Printf("Time:      %s\n", res.Time.UTC().Format(time.RFC3339))
	}
	if res.Startup != "" {
		fmt.Printf("Startup:   %s\n", res.Startup)
	}
	for i, outcome := range res.Outcomes {
		fmt.Printf("Offer %d:   %s\n", i+1, outcome)
	}
	if res.PowerDown != nil {
		fmt.Printf("Shutdown:  %s", sbproto.FormatKind(res.PowerDown.Kind))
		if secs, ok := res.PowerDown.RemainingSeconds(); ok {
			fmt.Printf(" (%ds remaining)", secs)
		}
		fmt.Println()
	}
	return err
}
