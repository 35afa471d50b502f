// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package power switches the payload's supply rails.
package power

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

// Controller is the power collaborator the session drives.
// PowerOn/PowerOff switch the payload logic rail; InitializePayload and
// Shutdown switch its main supply.
type Controller interface {
	PowerOn() error
	PowerOff() error
	InitializePayload() error
	Shutdown() error
}

// DefaultGPIORoot is the sysfs GPIO class directory
const DefaultGPIORoot = "/sys/class/gpio"

// GPIOPin is a sysfs GPIO line driven as an output
type GPIOPin struct {
	Root   string
	Number int
}

// Set drives the pin, exporting it first if needed
func (p GPIOPin) Set(high bool) error {
	root := p.Root
	if root == "" {
		root = DefaultGPIORoot
	}
	dir := filepath.Join(root, "gpio"+strconv.Itoa(p.Number))

	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(filepath.Join(root, "export"), []byte(strconv.Itoa(p.Number)), 0o200); err != nil {
			return fmt.Errorf("export gpio %d: %w", p.Number, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte("out"), 0o200); err != nil {
		return fmt.Errorf("gpio %d direction: %w", p.Number, err)
	}

	value := "0"
	if high {
		value = "1"
	}
	if err := os.WriteFile(filepath.Join(dir, "value"), []byte(value), 0o200); err != nil {
		return fmt.Errorf("gpio %d value: %w", p.Number, err)
	}
	return nil
}

// Sysfs drives both rails through GPIO lines. A rail with a negative pin
// number is managed elsewhere and left alone.
type Sysfs struct {
	Logic   GPIOPin
	Payload GPIOPin
	Log     zerolog.Logger
}

func (s Sysfs) set(rail string, pin GPIOPin, high bool) error {
	if pin.Number < 0 {
		return nil
	}
	s.Log.Info().Str("rail", rail).Int("gpio", pin.Number).Bool("on", high).Msg("switching rail")
	return pin.Set(high)
}

func (s Sysfs) PowerOn() error           { return s.set("logic", s.Logic, true) }
func (s Sysfs) PowerOff() error          { return s.set("logic", s.Logic, false) }
func (s Sysfs) InitializePayload() error { return s.set("payload", s.Payload, true) }
func (s Sysfs) Shutdown() error          { return s.set("payload", s.Payload, false) }

// Nop only logs. Used on the bench and with the simulator.
type Nop struct {
	Log zerolog.Logger
}

func (n Nop) PowerOn() error {
	n.Log.Info().Msg("power on (no-op)")
	return nil
}

func (n Nop) PowerOff() error {
	n.Log.Info().Msg("power off (no-op)")
	return nil
}

func (n Nop) InitializePayload() error {
	n.Log.Info().Msg("initialize payload (no-op)")
	return nil
}

func (n Nop) Shutdown() error {
	n.Log.Info().Msg("payload shutdown (no-op)")
	return nil
}
