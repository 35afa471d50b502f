// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging sets up the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment overrides
const (
	EnvLevel   = "SIDECAR_LOG_LEVEL"
	EnvJSON    = "SIDECAR_LOG_JSON"
	EnvNoColor = "SIDECAR_LOG_NOCOLOR"
)

// Options control the logger output
type Options struct {
	Level   string
	JSON    bool
	NoColor bool
	// Out defaults to stderr so frame dumps on stdout stay clean
	Out io.Writer
}

// FromEnv fills unset options from the environment
func FromEnv(opts Options) Options {
	if opts.Level == "" {
		opts.Level = os.Getenv(EnvLevel)
	}
	if v, err := strconv.ParseBool(os.Getenv(EnvJSON)); err == nil && v {
		opts.JSON = true
	}
	if v, err := strconv.ParseBool(os.Getenv(EnvNoColor)); err == nil && v {
		opts.NoColor = true
	}
	return opts
}

// ParseLevel accepts zerolog level names; empty means info
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}

// Init builds the logger for app and installs it as the global logger
func Init(app string, opts Options) (zerolog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger, nil
}
