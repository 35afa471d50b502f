// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sidecar/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report FILE...",
	Short: "Print stored session reports",
	Long: `Decode CBOR session reports written by 'sidecar run --report-dir' and
print them in human-readable form.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	for i, path := range args {
		r, err := report.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if i > 0 {
			fmt.Println()
		}
		if err := report.Format(os.Stdout, r); err != nil {
			return err
		}
	}
	return nil
}
