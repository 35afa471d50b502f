// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/sidecar/internal/battery"
	"github.com/Thermoquad/sidecar/internal/transfer"
	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

// DefaultStartup is sent when no startup selection is configured
const DefaultStartup = "Upsbtest02.json"

// Config holds the timing and policy of one session. It is treated as
// immutable once a session starts.
type Config struct {
	// Duration is the hard ceiling of the operating phase
	Duration time.Duration
	// ShutdownAllowance is reserved at the end of Duration for power-down
	ShutdownAllowance time.Duration

	PowerUpSettle      time.Duration
	PowerUpAllowance   time.Duration
	AckTimeout         time.Duration
	ShutdownAckTimeout time.Duration
	SettleDelay        time.Duration
	// OfferTimeout bounds one wait for a file offer
	OfferTimeout time.Duration

	Transfer transfer.Config

	BatteryThresholdMillivolts int
	TimeSyncAttempts           int
	MaxIntegrityFailures       int
	// ReportRemainingTime sends PowerDownWithTime instead of PowerDown
	ReportRemainingTime bool

	// Startup is the script identifier handed to the payload
	Startup string
}

// DefaultConfig returns the flight configuration
func DefaultConfig() Config {
	return Config{
		Duration:                   15 * time.Minute,
		ShutdownAllowance:          45 * time.Second,
		PowerUpSettle:              5 * time.Second,
		PowerUpAllowance:           3 * time.Minute,
		AckTimeout:                 10 * time.Second,
		ShutdownAckTimeout:         5 * time.Second,
		SettleDelay:                10 * time.Second,
		OfferTimeout:               60 * time.Second,
		Transfer:                   transfer.DefaultConfig(),
		BatteryThresholdMillivolts: battery.DefaultThresholdMillivolts,
		TimeSyncAttempts:           1,
		MaxIntegrityFailures:       3,
		ReportRemainingTime:        false,
		Startup:                    DefaultStartup,
	}
}

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid session config")

// Validate checks the configuration is usable
func (c Config) Validate() error {
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"duration", c.Duration},
		{"shutdown_allowance", c.ShutdownAllowance},
		{"power_up_allowance", c.PowerUpAllowance},
		{"ack_timeout", c.AckTimeout},
		{"shutdown_ack_timeout", c.ShutdownAckTimeout},
		{"offer_timeout", c.OfferTimeout},
		{"field_timeout", c.Transfer.FieldTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, p.name)
		}
	}
	if c.PowerUpSettle < 0 || c.SettleDelay < 0 {
		return fmt.Errorf("%w: settle delays must not be negative", ErrInvalidConfig)
	}
	if c.ShutdownAllowance >= c.Duration {
		return fmt.Errorf("%w: shutdown_allowance %s leaves no operating time in %s", ErrInvalidConfig, c.ShutdownAllowance, c.Duration)
	}
	if c.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	}
	if c.BatteryThresholdMillivolts <= 0 {
		return fmt.Errorf("%w: battery threshold must be positive", ErrInvalidConfig)
	}
	if c.TimeSyncAttempts < 1 {
		return fmt.Errorf("%w: time_sync_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.MaxIntegrityFailures < 1 {
		return fmt.Errorf("%w: max_integrity_failures must be at least 1", ErrInvalidConfig)
	}
	if c.Startup == "" {
		return fmt.Errorf("%w: startup selection is empty", ErrInvalidConfig)
	}
	if problems := sbproto.ValidateCommand(sbproto.NewStartupCommand([]byte(c.Startup))); len(problems) > 0 {
		return fmt.Errorf("%w: startup selection %q: %s", ErrInvalidConfig, c.Startup, problems[0].Message)
	}
	return nil
}
