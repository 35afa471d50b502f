// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session runs one bounded payload session: power-up, handshake,
// time sync, startup hand-off, the transfer loop and an orderly shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/sidecar/internal/battery"
	"github.com/Thermoquad/sidecar/internal/clock"
	"github.com/Thermoquad/sidecar/internal/link"
	"github.com/Thermoquad/sidecar/internal/metrics"
	"github.com/Thermoquad/sidecar/internal/power"
	"github.com/Thermoquad/sidecar/internal/transfer"
	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

// Options are the collaborators of a session
type Options struct {
	Port     link.Port
	Store    transfer.Store
	Battery  battery.VoltageReader
	Power    power.Controller
	Clock    clock.Clock
	Observer Observer
	Logger   zerolog.Logger
}

// Orchestrator drives a single session. It is not reusable.
type Orchestrator struct {
	cfg      Config
	link     *link.Link
	engine   *transfer.Engine
	guard    *battery.Guard
	power    power.Controller
	clock    clock.Clock
	observer Observer
	log      zerolog.Logger

	state     State
	operating bool
	start     time.Time
	report    Report
}

// New validates cfg and wires the session components onto one port
func New(cfg Config, opts Options) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Port == nil || opts.Store == nil || opts.Battery == nil || opts.Power == nil {
		return nil, errors.New("session needs a port, store, battery reader and power controller")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	id := uuid.NewString()
	log := opts.Logger.With().Str("component", "session").Str("session", id).Logger()

	return &Orchestrator{
		cfg:      cfg,
		link:     link.New(opts.Port, clk, opts.Logger),
		engine:   transfer.New(opts.Port, clk, opts.Store, cfg.Transfer, opts.Logger),
		guard:    battery.NewGuard(opts.Battery, cfg.BatteryThresholdMillivolts, clk),
		power:    opts.Power,
		clock:    clk,
		observer: opts.Observer,
		log:      log,
		report:   Report{ID: id, Startup: cfg.Startup},
	}, nil
}

// Run executes the session. Shutdown always runs, whatever happened
// before it; a cancelled ctx ends the operating phase early but not the
// shutdown sequence.
func (o *Orchestrator) Run(ctx context.Context) Report {
	o.report.StartedAt = o.clock.Now()
	o.log.Info().Str("startup", o.cfg.Startup).Dur("duration", o.cfg.Duration).Msg("session starting")

	outcome := o.bringUp(ctx)
	if outcome.Action == Continue {
		outcome = o.transferLoop(ctx)
	}

	o.report.Exit = outcome.Reason
	if outcome.Err != nil {
		o.report.Error = outcome.Err.Error()
	}
	if outcome.Action == Abort {
		o.enter(Aborted)
		o.log.Error().Err(outcome.Err).Str("reason", outcome.Reason.String()).Msg("session aborted")
	} else {
		o.log.Info().Str("reason", outcome.Reason.String()).Msg("operating phase complete")
	}

	o.shutdown()
	o.enter(Done)

	o.report.FinishedAt = o.clock.Now()
	o.report.Link = o.link.Stats()
	o.log.Info().
		Str("exit", o.report.Exit.String()).
		Int("files", len(o.report.Files)).
		Int("attempts", o.report.Attempts).
		Bool("shutdown_ack", o.report.ShutdownAcknowledged).
		Msg("session finished")
	return o.report
}

// bringUp runs the non-repeating phases. Continue means the payload is
// operating; anything else ends the session.
func (o *Orchestrator) bringUp(ctx context.Context) Outcome {
	o.enter(PoweringUp)
	if err := o.power.PowerOn(); err != nil {
		return abort(ExitPowerFault, fmt.Errorf("power on: %w", err))
	}
	o.clock.Sleep(o.cfg.PowerUpSettle)
	if err := o.power.InitializePayload(); err != nil {
		return abort(ExitPowerFault, fmt.Errorf("initialize payload: %w", err))
	}
	if ctx.Err() != nil {
		return abort(ExitCancelled, ctx.Err())
	}

	o.enter(AwaitingInit)
	if _, err := o.link.Expect(sbproto.KindInitialised, o.cfg.PowerUpAllowance); err != nil {
		return o.handshakeFailed("awaiting initialisation", err)
	}

	o.enter(SyncingTime)
	if err := o.syncTime(); err != nil {
		return o.handshakeFailed("time sync", err)
	}
	if ctx.Err() != nil {
		return abort(ExitCancelled, ctx.Err())
	}

	o.enter(SendingStartup)
	startup := sbproto.NewStartupCommand([]byte(o.cfg.Startup))
	if _, err := o.link.SendAndAwait(startup, sbproto.KindStartupCommandAcknowledge, o.cfg.AckTimeout); err != nil {
		return o.handshakeFailed("startup command", err)
	}
	return continueLoop()
}

// syncTime sends the current time, resending on timeout up to the
// configured number of attempts. A rejection is not retried.
func (o *Orchestrator) syncTime() error {
	var err error
	for attempt := 1; attempt <= o.cfg.TimeSyncAttempts; attempt++ {
		now := o.clock.Now().UTC()
		_, err = o.link.SendAndAwait(sbproto.NewTime(now), sbproto.KindTimeAcknowledge, o.cfg.AckTimeout)
		if err == nil {
			o.log.Info().Time("time", now).Int("attempt", attempt).Msg("time synchronised")
			return nil
		}
		if !errors.Is(err, link.ErrTimedOut) {
			return err
		}
		o.log.Warn().Int("attempt", attempt).Int("attempts", o.cfg.TimeSyncAttempts).Msg("time sync unacknowledged")
	}
	return err
}

func (o *Orchestrator) handshakeFailed(phase string, err error) Outcome {
	o.publish(Event{Type: EventError, Err: err})
	return abort(ExitHandshakeFailed, fmt.Errorf("%s: %w", phase, err))
}

func (o *Orchestrator) transferLoop(ctx context.Context) Outcome {
	o.start = o.clock.Now()
	o.operating = true
	o.report.OperatingSince = o.start
	o.enter(Transferring)

	for {
		if ctx.Err() != nil {
			return abort(ExitCancelled, ctx.Err())
		}
		if out := o.step(); out.Action != Continue {
			return out
		}
	}
}

// step is one iteration of the transfer loop
func (o *Orchestrator) step() Outcome {
	remaining := o.remaining()
	metrics.RecordSessionState(int(o.state), remaining.Seconds())
	if remaining < o.cfg.ShutdownAllowance {
		o.log.Info().Dur("remaining", remaining).Msg("session time budget exhausted")
		return complete(ExitTimeBudget)
	}

	low, reading, err := o.guard.Check()
	switch {
	case err != nil:
		o.report.TelemetryErrors++
		metrics.RecordTelemetryError()
		o.log.Warn().Err(err).Msg("battery telemetry unavailable, continuing")
		o.publish(Event{Type: EventError, Err: err})
	default:
		o.report.Battery = reading
		metrics.RecordBusVoltage(reading.BusVoltageMillivolts)
		o.publish(Event{Type: EventBattery, Battery: reading})
		if low {
			o.log.Warn().
				Int("bus_mv", reading.BusVoltageMillivolts).
				Int("threshold_mv", o.guard.Threshold()).
				Msg("battery low, ending session")
			return complete(ExitLowBattery)
		}
	}

	// No part of a transfer runs into the shutdown allowance
	limit := o.start.Add(o.cfg.Duration - o.cfg.ShutdownAllowance)
	o.report.Attempts++
	res, err := o.engine.Receive(o.clock.Now().Add(o.cfg.OfferTimeout), limit)
	switch {
	case err == nil:
		o.report.Files = append(o.report.Files, res)
		o.publish(Event{Type: EventTransfer, File: &res})
		return complete(ExitDelivered)
	case errors.Is(err, transfer.ErrIntegrityMismatch):
		o.report.IntegrityFailures++
		o.publish(Event{Type: EventError, Err: err})
		if o.report.IntegrityFailures >= o.cfg.MaxIntegrityFailures {
			return abort(ExitIntegrityFailures, err)
		}
		return continueLoop()
	case errors.Is(err, link.ErrTimedOut):
		o.log.Debug().Err(err).Msg("no file this window")
		return continueLoop()
	default:
		o.publish(Event{Type: EventError, Err: err})
		return abort(ExitTransferFault, err)
	}
}

// shutdown tells the payload to power down and removes power. The
// acknowledgment is best effort.
func (o *Orchestrator) shutdown() {
	o.enter(ShuttingDown)

	cmd := o.shutdownCommand()
	o.report.ShutdownCommand = cmd.Kind
	if err := o.link.Send(cmd); err != nil {
		o.log.Error().Err(err).Msg("sending shutdown command failed")
	} else if _, err := o.link.Expect(sbproto.KindPowerDownAcknowledge, o.cfg.ShutdownAckTimeout); err != nil {
		o.log.Warn().Err(err).Msg("shutdown not acknowledged, removing power anyway")
	} else {
		o.report.ShutdownAcknowledged = true
	}

	o.clock.Sleep(o.cfg.SettleDelay)
	if err := o.power.Shutdown(); err != nil {
		o.log.Error().Err(err).Msg("payload shutdown failed")
	}
	if err := o.power.PowerOff(); err != nil {
		o.log.Error().Err(err).Msg("power off failed")
	}
}

func (o *Orchestrator) shutdownCommand() sbproto.Command {
	if !o.operating || !o.cfg.ReportRemainingTime {
		return sbproto.NewSimple(sbproto.KindPowerDown)
	}
	remaining := o.remaining()
	o.report.RemainingAtShutdown = remaining
	cmd := sbproto.NewPowerDownWithTime(clampSeconds(remaining))
	if problems := sbproto.ValidateCommand(cmd); len(problems) > 0 {
		// A remaining time whose encoding contains the terminator cannot
		// be framed; the plain command carries the same instruction.
		o.log.Debug().Str("problem", problems[0].Message).Msg("falling back to plain power down")
		return sbproto.NewSimple(sbproto.KindPowerDown)
	}
	return cmd
}

// remaining is the operating time left, zero before the operating phase
func (o *Orchestrator) remaining() time.Duration {
	if !o.operating {
		return 0
	}
	left := o.start.Add(o.cfg.Duration).Sub(o.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

func clampSeconds(d time.Duration) uint16 {
	s := int64(d / time.Second)
	switch {
	case s < 0:
		return 0
	case s > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(s)
}

func (o *Orchestrator) enter(s State) {
	o.state = s
	o.report.States = append(o.report.States, s)
	metrics.RecordSessionState(int(s), o.remaining().Seconds())
	o.log.Info().Str("state", s.String()).Msg("state")
	o.publish(Event{Type: EventState})
}

func (o *Orchestrator) publish(e Event) {
	if o.observer == nil {
		return
	}
	e.At = o.clock.Now()
	e.State = o.state
	e.Remaining = o.remaining()
	o.observer(e)
}
