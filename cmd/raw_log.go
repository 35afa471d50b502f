// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display command frames in human-readable format",
	Long: `Continuously decode and display command frames as they arrive.

Each frame is shown with timestamp, command kind and decoded payload.
Undecodable frames are reported with their raw bytes. File transfer traffic
is not framed and shows up as decode errors.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Sidecar - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	return logFrames(conn, os.Stdout)
}

// logFrames prints every frame read from r until r fails
func logFrames(r io.Reader, w io.Writer) error {
	decoder := sbproto.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := r.Read(buf)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				logger.Info().Msg("connection closed")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		for i := 0; i < n; i++ {
			command, err := decoder.DecodeByte(buf[i])
			if err != nil {
				fmt.Fprintf(w, "[ERROR] %v\n", err)
				continue
			}
			if command != nil {
				fmt.Fprint(w, sbproto.FormatCommand(time.Now(), *command))
				for _, problem := range sbproto.ValidateCommand(*command) {
					fmt.Fprintf(w, "  [WARN] %s\n", problem.Message)
				}
			}
		}
	}
}
