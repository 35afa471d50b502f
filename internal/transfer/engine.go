// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transfer

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/sidecar/internal/clock"
	"github.com/Thermoquad/sidecar/internal/link"
	"github.com/Thermoquad/sidecar/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrIntegrityMismatch means the payload's digest disagreed with ours
var ErrIntegrityMismatch = errors.New("integrity mismatch")

// IntegrityError carries both digests of a rejected file
type IntegrityError struct {
	Name     string
	Computed [DigestSize]byte
	Declared [DigestSize]byte
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: computed %s, declared %s", e.Name,
		hex.EncodeToString(e.Computed[:]), hex.EncodeToString(e.Declared[:]))
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrityMismatch
}

// Config controls field framing and timeouts
type Config struct {
	// ChunkSize is the read buffer size; a shorter read ends a field
	ChunkSize int
	// FieldTimeout bounds every wait after the filename has arrived
	FieldTimeout time.Duration
}

// DefaultConfig returns the flight defaults
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		FieldTimeout: 10 * time.Second,
	}
}

// Result describes a verified and persisted file
type Result struct {
	Name   string
	Size   int
	Digest [DigestSize]byte
}

// Engine runs inbound transfers over a port it shares with the command
// link. The two are never used at the same time.
type Engine struct {
	port  link.Port
	clock clock.Clock
	store Store
	cfg   Config
	log   zerolog.Logger
}

// New creates a transfer engine
func New(port link.Port, clk clock.Clock, store Store, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Engine{
		port:  port,
		clock: clk,
		store: store,
		cfg:   cfg,
		log:   logger.With().Str("component", "transfer").Logger(),
	}
}

// Receive runs one transfer. If no filename arrives by offerDeadline the
// result is link.ErrTimedOut, meaning nothing was offered. On digest
// mismatch the payload is told to retry and an *IntegrityError is
// returned; nothing is persisted. Transport errors propagate unchanged.
//
// A non-zero limit caps every wait of the transfer, including the body
// and digest; a transfer still running at limit fails with
// link.ErrTimedOut. The zero limit leaves only FieldTimeout.
func (e *Engine) Receive(offerDeadline, limit time.Time) (Result, error) {
	if !limit.IsZero() && offerDeadline.After(limit) {
		offerDeadline = limit
	}
	rawName, err := ReadField(e.port, e.clock, e.cfg.ChunkSize, offerDeadline)
	if err != nil {
		if errors.Is(err, link.ErrTimedOut) {
			metrics.RecordTransfer("no_offer", 0)
			return Result{}, fmt.Errorf("waiting for filename: %w", err)
		}
		return Result{}, e.fault(fmt.Errorf("read filename: %w", err))
	}

	name, err := SanitizeFilename(rawName)
	if err != nil {
		return Result{}, e.fault(fmt.Errorf("filename %q: %w", rawName, err))
	}
	log := e.log.With().Str("file", name).Logger()
	log.Info().Msg("file offered")

	if err := WriteToken(e.port, TokenReadyReceiveFile); err != nil {
		return Result{}, e.fault(err)
	}

	body, err := ReadField(e.port, e.clock, e.cfg.ChunkSize, e.fieldDeadline(limit))
	if err != nil {
		return Result{}, e.fault(fmt.Errorf("read body of %s: %w", name, err))
	}
	log.Debug().Int("bytes", len(body)).Msg("file body received")

	if err := WriteToken(e.port, TokenReceivedFileData); err != nil {
		return Result{}, e.fault(err)
	}

	computed := sha256.Sum256(body)
	if err := WriteToken(e.port, TokenSendFileHash); err != nil {
		return Result{}, e.fault(err)
	}
	declared, err := ReadExact(e.port, e.clock, DigestSize, e.fieldDeadline(limit))
	if err != nil {
		return Result{}, e.fault(fmt.Errorf("read digest of %s: %w", name, err))
	}

	if subtle.ConstantTimeCompare(computed[:], declared) != 1 {
		mismatch := &IntegrityError{Name: name, Computed: computed}
		copy(mismatch.Declared[:], declared)
		log.Warn().Str("computed", hex.EncodeToString(computed[:])).Str("declared", hex.EncodeToString(declared)).Msg("digest mismatch")
		metrics.RecordTransfer("integrity_mismatch", 0)
		if err := WriteToken(e.port, TokenReceiveFileErrorRetry); err != nil {
			return Result{}, e.fault(err)
		}
		return Result{}, mismatch
	}

	if err := WriteToken(e.port, TokenReceiveFileSuccess); err != nil {
		return Result{}, e.fault(err)
	}
	if err := e.store.Put(name, body); err != nil {
		return Result{}, e.fault(err)
	}

	metrics.RecordTransfer("delivered", len(body))
	log.Info().Int("bytes", len(body)).Str("sha256", hex.EncodeToString(computed[:])).Msg("file verified and stored")
	return Result{Name: name, Size: len(body), Digest: computed}, nil
}

// fieldDeadline is FieldTimeout from now, never later than limit
func (e *Engine) fieldDeadline(limit time.Time) time.Time {
	deadline := e.clock.Now().Add(e.cfg.FieldTimeout)
	if !limit.IsZero() && deadline.After(limit) {
		return limit
	}
	return deadline
}

func (e *Engine) fault(err error) error {
	metrics.RecordTransfer("fault", 0)
	e.log.Error().Err(err).Msg("transfer failed")
	return err
}
