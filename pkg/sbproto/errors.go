// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbproto

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame means the bytes do not map to any known frame layout
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownCommand means a length-consistent frame carried an
	// unrecognised tag. It also matches ErrMalformedFrame.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrShortFrame means a terminator arrived before a minimum-size frame
	ErrShortFrame = errors.New("short frame")
)

// DecodeError describes a frame that failed to decode
type DecodeError struct {
	Err    error
	Tag    byte
	Detail string
	Raw    []byte
}

func (e *DecodeError) Error() string {
	msg := e.Err.Error()
	if e.Err == ErrUnknownCommand {
		msg = fmt.Sprintf("%s 0x%02X", msg, e.Tag)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("%s (raw % X)", msg, e.Raw)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is lets an unknown command also match ErrMalformedFrame
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformedFrame && e.Err == ErrUnknownCommand
}
