// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/sidecar/internal/config"
	"github.com/Thermoquad/sidecar/internal/logging"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	configPath string
	logLevel   string

	// Resolved in PersistentPreRunE
	settings config.Settings
	logger   zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sidecar",
	Short: "Auxiliary payload session controller",
	Long: `Sidecar - runs a bounded session with the auxiliary payload computer.

Powers the payload up, waits for it to initialise, synchronises time, hands
off the startup script, receives one verified file and shuts the payload
down before the session deadline.

Connection modes:
  Serial:    --port /dev/ttyS1 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]   (bench bridge)

Settings are read from --config (TOML or YAML); flags override the file.
For WebSocket authentication, the password is read from the SIDECAR_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Settings file (.toml, .yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); default from "+logging.EnvLevel)
}

// setup builds the logger and resolves settings. Flags given on the
// command line win over the settings file.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	logger, err = logging.Init("sidecar", logging.FromEnv(logging.Options{Level: logLevel}))
	if err != nil {
		return err
	}

	settings, err = config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		settings.SerialPort = portName
	}
	if flags.Changed("baud") {
		settings.Baud = baudRate
	}
	if flags.Changed("url") {
		settings.BridgeURL = wsURL
	}
	if flags.Changed("username") {
		settings.BridgeUsername = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		settings.BridgeNoSSLVerify = wsNoSSLVerify
	}
	if configPath != "" {
		logger.Debug().Str("path", configPath).Msg("loaded settings")
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
