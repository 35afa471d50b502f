// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import "fmt"

// State is a phase of the session
type State int

const (
	PoweringUp State = iota
	AwaitingInit
	SyncingTime
	SendingStartup
	Transferring
	ShuttingDown
	Done
	Aborted
)

var stateNames = [...]string{
	PoweringUp:     "POWERING_UP",
	AwaitingInit:   "AWAITING_INIT",
	SyncingTime:    "SYNCING_TIME",
	SendingStartup: "SENDING_STARTUP",
	Transferring:   "TRANSFERRING",
	ShuttingDown:   "SHUTTING_DOWN",
	Done:           "DONE",
	Aborted:        "ABORTED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// ExitReason records why the session stopped operating
type ExitReason int

const (
	ExitNone ExitReason = iota
	// ExitDelivered means the expected file arrived and verified
	ExitDelivered
	// ExitTimeBudget means remaining time fell below the shutdown allowance
	ExitTimeBudget
	ExitLowBattery
	ExitIntegrityFailures
	ExitTransferFault
	ExitHandshakeFailed
	ExitPowerFault
	ExitCancelled
)

var exitNames = [...]string{
	ExitNone:              "none",
	ExitDelivered:         "delivered",
	ExitTimeBudget:        "time_budget",
	ExitLowBattery:        "low_battery",
	ExitIntegrityFailures: "integrity_failures",
	ExitTransferFault:     "transfer_fault",
	ExitHandshakeFailed:   "handshake_failed",
	ExitPowerFault:        "power_fault",
	ExitCancelled:         "cancelled",
}

func (r ExitReason) String() string {
	if r >= 0 && int(r) < len(exitNames) {
		return exitNames[r]
	}
	return fmt.Sprintf("exit(%d)", int(r))
}

// Aborted reports whether the reason is a failure rather than a normal
// end. Running out of time or battery ends the loop normally.
func (r ExitReason) Aborted() bool {
	switch r {
	case ExitDelivered, ExitTimeBudget, ExitLowBattery, ExitNone:
		return false
	}
	return true
}

// Action is what the transfer loop does after one step
type Action int

const (
	Continue Action = iota
	Abort
	Complete
)

// Outcome is the result of one transfer loop step
type Outcome struct {
	Action Action
	Reason ExitReason
	Err    error
}

func continueLoop() Outcome { return Outcome{Action: Continue} }

func complete(reason ExitReason) Outcome {
	return Outcome{Action: Complete, Reason: reason}
}

func abort(reason ExitReason, err error) Outcome {
	return Outcome{Action: Abort, Reason: reason, Err: err}
}
