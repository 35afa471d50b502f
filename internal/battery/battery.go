// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package battery decides whether the power bus can sustain the session.
package battery

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/sidecar/internal/clock"
)

// DefaultThresholdMillivolts is the flight abort threshold
const DefaultThresholdMillivolts = 13500

// ErrTelemetry means the bus voltage could not be read
var ErrTelemetry = errors.New("telemetry unavailable")

// TelemetryError wraps a failed voltage read
type TelemetryError struct {
	Err error
}

func (e *TelemetryError) Error() string {
	return fmt.Sprintf("read bus voltage: %v", e.Err)
}

func (e *TelemetryError) Unwrap() error {
	return e.Err
}

func (e *TelemetryError) Is(target error) bool {
	return target == ErrTelemetry
}

// VoltageReader is the power subsystem's housekeeping query
type VoltageReader interface {
	ReadBusVoltage() (int, error)
}

// Reading is one bus voltage sample. It is never cached.
type Reading struct {
	BusVoltageMillivolts int
	At                   time.Time
}

// IsLow reports whether the reading is below the threshold
func IsLow(r Reading, thresholdMillivolts int) bool {
	return r.BusVoltageMillivolts < thresholdMillivolts
}

// Guard samples the bus voltage against a fixed threshold
type Guard struct {
	reader    VoltageReader
	threshold int
	clock     clock.Clock
}

// NewGuard creates a guard
func NewGuard(reader VoltageReader, thresholdMillivolts int, clk clock.Clock) *Guard {
	return &Guard{reader: reader, threshold: thresholdMillivolts, clock: clk}
}

// Threshold returns the abort threshold in millivolts
func (g *Guard) Threshold() int {
	return g.threshold
}

// Sample reads the bus voltage now
func (g *Guard) Sample() (Reading, error) {
	mv, err := g.reader.ReadBusVoltage()
	if err != nil {
		return Reading{}, &TelemetryError{Err: err}
	}
	return Reading{BusVoltageMillivolts: mv, At: g.clock.Now()}, nil
}

// Check samples and compares. It fails open: when telemetry is unavailable
// the bus is reported as not low, with the error for the caller to log.
func (g *Guard) Check() (bool, Reading, error) {
	r, err := g.Sample()
	if err != nil {
		return false, Reading{}, err
	}
	return IsLow(r, g.threshold), r, nil
}
