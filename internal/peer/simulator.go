// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package peer simulates the payload computer's side of a session for
// bench runs and tests.
package peer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/sidecar/internal/clock"
	"github.com/Thermoquad/sidecar/internal/link"
	"github.com/Thermoquad/sidecar/internal/transfer"
	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

// File is one file the simulator offers
type File struct {
	// Name is sent as is; it may carry a path and trailing terminators
	Name string
	Data []byte
	// CorruptDigest sends a digest that does not match Data
	CorruptDigest bool
}

// Config shapes the simulated payload's behaviour
type Config struct {
	BootDelay time.Duration
	// Noise is written before Initialised
	Noise           []byte
	SkipInitialised bool
	// TimeAckKind replaces TimeAcknowledge when set, to provoke a rejection
	TimeAckKind     sbproto.Kind
	Files           []File
	OfferDelay      time.Duration
	IgnorePowerDown bool
	// StepTimeout bounds every wait on the controller
	StepTimeout time.Duration
	ChunkSize   int
}

// DefaultConfig offers one small file and acknowledges everything
func DefaultConfig() Config {
	return Config{
		Files:       []File{{Name: "/opt/payload/out/patch01.json\x00\x00", Data: []byte(`{"patch":1}`)}},
		StepTimeout: 30 * time.Second,
		ChunkSize:   transfer.DefaultChunkSize,
	}
}

// Result records what the simulator saw from the controller
type Result struct {
	Time      time.Time
	Startup   string
	Outcomes  []string // final token of each offered file
	PowerDown *sbproto.Command
}

// Simulator plays the payload
type Simulator struct {
	cfg   Config
	port  link.Port
	link  *link.Link
	clock clock.Clock
	log   zerolog.Logger
}

// New creates a simulator on port
func New(port link.Port, clk clock.Clock, cfg Config, logger zerolog.Logger) *Simulator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = transfer.DefaultChunkSize
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	log := logger.With().Str("component", "peer").Logger()
	return &Simulator{
		cfg:   cfg,
		port:  port,
		link:  link.New(port, clk, log),
		clock: clk,
		log:   log,
	}
}

// Run plays one session. It returns after the shutdown command arrives,
// or with the first error. ctx is checked between steps.
func (s *Simulator) Run(ctx context.Context) (Result, error) {
	var res Result

	s.clock.Sleep(s.cfg.BootDelay)
	if len(s.cfg.Noise) > 0 {
		if _, err := s.port.Write(s.cfg.Noise); err != nil {
			return res, fmt.Errorf("write noise: %w", err)
		}
	}
	if !s.cfg.SkipInitialised {
		if err := s.link.Send(sbproto.NewSimple(sbproto.KindInitialised)); err != nil {
			return res, err
		}
	}

	cmd, err := s.link.Expect(sbproto.KindTime, s.cfg.StepTimeout)
	if err != nil {
		return res, fmt.Errorf("waiting for time: %w", err)
	}
	if res.Time, err = cmd.Time(); err != nil {
		return res, err
	}
	s.log.Info().Time("time", res.Time).Msg("time received")
	ack := sbproto.KindTimeAcknowledge
	if s.cfg.TimeAckKind != 0 {
		ack = s.cfg.TimeAckKind
	}
	if err := s.link.Send(sbproto.NewSimple(ack)); err != nil {
		return res, err
	}
	if ack != sbproto.KindTimeAcknowledge {
		return res, nil
	}

	cmd, err = s.link.Expect(sbproto.KindStartupCommand, s.cfg.StepTimeout)
	if err != nil {
		return res, fmt.Errorf("waiting for startup command: %w", err)
	}
	res.Startup = string(cmd.Payload)
	s.log.Info().Str("startup", res.Startup).Msg("startup command received")
	if err := s.link.Send(sbproto.NewSimple(sbproto.KindStartupCommandAcknowledge)); err != nil {
		return res, err
	}

	for _, f := range s.cfg.Files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s.clock.Sleep(s.cfg.OfferDelay)
		outcome, err := s.offer(f)
		if err != nil {
			return res, fmt.Errorf("offering %s: %w", f.Name, err)
		}
		res.Outcomes = append(res.Outcomes, outcome)
		if outcome == transfer.TokenReceiveFileSuccess {
			break
		}
	}

	cmd, err = s.awaitShutdown()
	if err != nil {
		return res, err
	}
	res.PowerDown = &cmd
	if s.cfg.IgnorePowerDown {
		s.log.Info().Msg("ignoring shutdown command")
		return res, nil
	}
	return res, s.link.Send(sbproto.NewSimple(sbproto.KindPowerDownAcknowledge))
}

// offer runs the sending side of one transfer and returns the final token
func (s *Simulator) offer(f File) (string, error) {
	deadline := func() time.Time { return s.clock.Now().Add(s.cfg.StepTimeout) }

	if err := transfer.WriteToken(s.port, f.Name); err != nil {
		return "", err
	}
	if err := transfer.ExpectToken(s.port, s.clock, s.cfg.ChunkSize, transfer.TokenReadyReceiveFile, deadline()); err != nil {
		return "", err
	}
	if _, err := s.port.Write(f.Data); err != nil {
		return "", fmt.Errorf("write body: %w", err)
	}
	if err := transfer.ExpectToken(s.port, s.clock, s.cfg.ChunkSize, transfer.TokenReceivedFileData, deadline()); err != nil {
		return "", err
	}
	if err := transfer.ExpectToken(s.port, s.clock, s.cfg.ChunkSize, transfer.TokenSendFileHash, deadline()); err != nil {
		return "", err
	}

	digest := sha256.Sum256(f.Data)
	if f.CorruptDigest {
		digest[0] ^= 0xFF
	}
	if _, err := s.port.Write(digest[:]); err != nil {
		return "", fmt.Errorf("write digest: %w", err)
	}

	final, err := transfer.ReadField(s.port, s.clock, s.cfg.ChunkSize, deadline())
	if err != nil {
		return "", fmt.Errorf("waiting for verdict: %w", err)
	}
	s.log.Info().Str("file", f.Name).Str("verdict", string(final)).Msg("file offered")
	return string(final), nil
}

// awaitShutdown accepts either form of the shutdown command
func (s *Simulator) awaitShutdown() (sbproto.Command, error) {
	deadline := s.clock.Now().Add(s.cfg.StepTimeout)
	for {
		cmd, err := s.link.ReadFrame(deadline)
		switch {
		case err == nil:
		case errors.Is(err, sbproto.ErrShortFrame):
			continue
		default:
			return sbproto.Command{}, fmt.Errorf("waiting for shutdown: %w", err)
		}
		switch cmd.Kind {
		case sbproto.KindPowerDown, sbproto.KindPowerDownWithTime:
			s.log.Info().Str("command", sbproto.FormatKind(cmd.Kind)).Msg("shutdown received")
			return cmd, nil
		}
		s.log.Warn().Str("received", sbproto.FormatKind(cmd.Kind)).Msg("ignoring frame while waiting for shutdown")
	}
}
