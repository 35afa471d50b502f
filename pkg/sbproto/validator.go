// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbproto

import (
	"bytes"
	"fmt"
)

// AnomalyType represents different types of command anomalies
type AnomalyType int

const (
	AnomalyUnknownKind AnomalyType = iota
	AnomalyPayloadTooLarge
	AnomalyTerminatorInPayload
	AnomalyInvalidPayload
)

// ValidationError represents a command that cannot be framed safely
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateCommand checks that a command survives encoding and decoding.
// Returns a slice of validation errors (empty if the command is valid)
func ValidateCommand(c Command) []ValidationError {
	errors := []ValidationError{}

	if !c.Kind.Known() {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownKind,
			Message: fmt.Sprintf("Unknown command kind 0x%02X", byte(c.Kind)),
			Details: map[string]interface{}{"kind": byte(c.Kind)},
		})
	}

	if len(c.Payload) > MaxPayloadSize {
		errors = append(errors, ValidationError{
			Type:    AnomalyPayloadTooLarge,
			Message: fmt.Sprintf("Payload too large: %d bytes (max %d)", len(c.Payload), MaxPayloadSize),
			Details: map[string]interface{}{"length": len(c.Payload), "max": MaxPayloadSize},
		})
	}

	if i := bytes.IndexByte(c.Payload, Terminator); i >= 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyTerminatorInPayload,
			Message: fmt.Sprintf("Payload contains terminator byte at offset %d", i),
			Details: map[string]interface{}{"offset": i},
		})
	}

	if c.Kind.Known() {
		if err := checkPayload(c.Kind, c.Payload); err != nil {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidPayload,
				Message: fmt.Sprintf("%s: %v", FormatKind(c.Kind), err),
				Details: map[string]interface{}{"kind": byte(c.Kind)},
			})
		}
	}

	return errors
}
