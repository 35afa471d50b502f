// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"time"

	"github.com/Thermoquad/sidecar/internal/battery"
	"github.com/Thermoquad/sidecar/internal/link"
	"github.com/Thermoquad/sidecar/internal/transfer"
	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

// Report summarises a finished session
type Report struct {
	ID                string
	Startup           string
	StartedAt         time.Time
	OperatingSince    time.Time // zero if the operating phase never began
	FinishedAt        time.Time
	States            []State
	Exit              ExitReason
	Error             string
	Files             []transfer.Result
	Attempts          int
	IntegrityFailures int
	TelemetryErrors   int
	// Battery is the last successful reading, zero if none succeeded
	Battery              battery.Reading
	ShutdownCommand      sbproto.Kind
	RemainingAtShutdown  time.Duration
	ShutdownAcknowledged bool
	Link                 link.Statistics
}

// EventType identifies what an Event carries
type EventType int

const (
	EventState EventType = iota
	EventBattery
	EventTransfer
	EventError
)

// Event is published to the Observer as the session progresses
type Event struct {
	Type      EventType
	At        time.Time
	State     State
	Remaining time.Duration // zero before the operating phase
	Battery   battery.Reading
	File      *transfer.Result
	Err       error
}

// Observer receives session events on the session goroutine. It must not
// block for long.
type Observer func(Event)
