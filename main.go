// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Sidecar - auxiliary payload session controller
//
// Runs a bounded session with the payload computer over its serial link:
// power-up, handshake, time sync, startup hand-off, one verified file
// transfer and an orderly shutdown.

package main

import (
	"os"

	"github.com/Thermoquad/sidecar/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
