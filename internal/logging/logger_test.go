// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{"WARN", zerolog.WarnLevel, false},
		{"loud", zerolog.NoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestInit_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Init("sidecar", Options{Level: "info", JSON: true, Out: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug().Msg("hidden")
	logger.Info().Str("state", "DONE").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["app"] != "sidecar" || entry["state"] != "DONE" {
		t.Errorf("entry = %v", entry)
	}
}

func TestInit_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Init("sidecar", Options{NoColor: true, Out: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") || strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("console output = %q", buf.String())
	}
}

func TestInit_BadLevel(t *testing.T) {
	if _, err := Init("sidecar", Options{Level: "chatty"}); err == nil {
		t.Error("expected error")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "debug")
	t.Setenv(EnvJSON, "1")
	t.Setenv(EnvNoColor, "true")

	opts := FromEnv(Options{})
	if opts.Level != "debug" || !opts.JSON || !opts.NoColor {
		t.Errorf("opts = %+v", opts)
	}

	// Explicit level wins
	if got := FromEnv(Options{Level: "error"}).Level; got != "error" {
		t.Errorf("Level = %s, want error", got)
	}
}
