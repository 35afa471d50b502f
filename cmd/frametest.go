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

var (
	frameTestTimeout int
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for a valid command frame",
	Long: `Wait for a valid command frame on the connection until timeout.

Invalid bytes are ignored until a complete frame decodes. Power the payload
and it will send INITIALISED once booted.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

// errFrameTimeout is returned by waitForFrame when the deadline passes
var errFrameTimeout = errors.New("no valid frame before timeout")

func runFrameTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Sidecar - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid command frame...\n\n")

	command, skipped, err := waitForFrame(conn, time.Duration(frameTestTimeout)*time.Second)
	switch {
	case err == nil:
		if skipped > 0 {
			fmt.Printf("(skipped %d invalid frames before sync)\n", skipped)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Kind: %s (0x%02X)\n", sbproto.FormatKind(command.Kind), byte(command.Kind))
		fmt.Printf("  Payload: %d bytes\n", len(command.Payload))
		os.Exit(0)
	case errors.Is(err, errFrameTimeout):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)
	}
	return nil
}

// waitForFrame reads until a frame decodes, counting frames that do not.
// Reads are expected to return periodically even when idle.
func waitForFrame(r io.Reader, timeout time.Duration) (sbproto.Command, int, error) {
	deadline := time.Now().Add(timeout)
	decoder := sbproto.NewDecoder()
	buf := make([]byte, 128)
	skipped := 0

	for time.Now().Before(deadline) {
		n, err := r.Read(buf)
		if err != nil {
			return sbproto.Command{}, skipped, err
		}
		for i := 0; i < n; i++ {
			command, err := decoder.DecodeByte(buf[i])
			if err != nil {
				skipped++
				continue
			}
			if command != nil {
				return *command, skipped, nil
			}
		}
	}
	return sbproto.Command{}, skipped, errFrameTimeout
}
