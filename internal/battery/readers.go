// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package battery

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// FileReader reads an integer voltage from a file, such as a hwmon
// inN_input node or a value the EPS housekeeping service exports.
// The value is multiplied by Scale (1 when zero) to get millivolts.
type FileReader struct {
	Path  string
	Scale float64
}

func (f FileReader) ReadBusVoltage() (int, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", f.Path, err)
	}
	scale := f.Scale
	if scale == 0 {
		scale = 1
	}
	return int(math.Round(v * scale)), nil
}

// Fixed always reports the same voltage
type Fixed int

func (f Fixed) ReadBusVoltage() (int, error) {
	return int(f), nil
}

// Func adapts a function to VoltageReader
type Func func() (int, error)

func (f Func) ReadBusVoltage() (int, error) {
	return f()
}
