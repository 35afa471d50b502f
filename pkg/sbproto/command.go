// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"
)

// Command is one unit of protocol exchange. Commands are values and are
// never mutated after construction.
type Command struct {
	Kind    Kind
	Payload []byte
}

// NewSimple creates a command with no payload
func NewSimple(kind Kind) Command {
	return Command{Kind: kind}
}

// NewTime creates a TIME command carrying t as decimal Unix seconds (UTC).
// ASCII digits are used so the payload never contains the terminator.
func NewTime(t time.Time) Command {
	return Command{
		Kind:    KindTime,
		Payload: []byte(strconv.FormatInt(t.UTC().Unix(), 10)),
	}
}

// NewStartupCommand creates a STARTUP_COMMAND carrying the script name.
// The name is treated as opaque bytes.
func NewStartupCommand(name []byte) Command {
	return Command{
		Kind:    KindStartupCommand,
		Payload: bytes.Clone(name),
	}
}

// NewPowerDownWithTime creates a POWER_DOWN carrying the remaining session
// time in seconds (big-endian). Values whose encoding contains a zero byte
// break framing; check with ValidateCommand before sending.
func NewPowerDownWithTime(seconds uint16) Command {
	payload := make([]byte, RemainingTimeSize)
	binary.BigEndian.PutUint16(payload, seconds)
	return Command{Kind: KindPowerDownWithTime, Payload: payload}
}

// Time parses the timestamp carried by a TIME command
func (c Command) Time() (time.Time, error) {
	if c.Kind != KindTime {
		return time.Time{}, fmt.Errorf("%s carries no timestamp", FormatKind(c.Kind))
	}
	secs, err := parseUnixSeconds(c.Payload)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

// RemainingSeconds returns the count carried by POWER_DOWN_WITH_TIME
func (c Command) RemainingSeconds() (uint16, bool) {
	if c.Kind != KindPowerDownWithTime || len(c.Payload) != RemainingTimeSize {
		return 0, false
	}
	return binary.BigEndian.Uint16(c.Payload), true
}

// Equal reports whether two commands have the same kind and payload.
// A nil payload equals an empty one.
func (c Command) Equal(other Command) bool {
	return c.Kind == other.Kind && bytes.Equal(c.Payload, other.Payload)
}

func (c Command) String() string {
	if len(c.Payload) == 0 {
		return FormatKind(c.Kind)
	}
	return fmt.Sprintf("%s(%d bytes)", FormatKind(c.Kind), len(c.Payload))
}

func parseUnixSeconds(payload []byte) (int64, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("empty timestamp")
	}
	for _, b := range payload {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("invalid timestamp byte 0x%02X", b)
		}
	}
	secs, err := strconv.ParseInt(string(payload), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp: %w", err)
	}
	return secs, nil
}
