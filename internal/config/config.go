// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads sidecar settings from a TOML or YAML file.
//
// Every key is optional; anything absent keeps its default. Durations are
// Go duration strings ("45s", "15m"). ${VAR} and ${VAR:-default} are
// expanded from the environment before parsing.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/sidecar/internal/battery"
	"github.com/Thermoquad/sidecar/internal/session"
	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

// ErrStartupUnusable means the startup file exists but its contents
// cannot be sent as a startup command
var ErrStartupUnusable = errors.New("startup file unusable")

// Duration is a time.Duration read from a duration string
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML decoder
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// UnmarshalYAML parses a duration scalar
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Settings is the resolved configuration of a sidecar run
type Settings struct {
	Session     session.Config
	StartupFile string

	SerialPort string
	Baud       int

	BridgeURL         string
	BridgeUsername    string
	BridgeNoSSLVerify bool

	StoreDir string

	// BatteryPath is a file holding the bus voltage; empty means no
	// telemetry, which the battery guard treats as not low.
	BatteryPath  string
	BatteryScale float64

	GPIORoot   string
	LogicPin   int
	PayloadPin int

	ReportDir       string
	MetricsTextfile string
}

// Defaults returns the flight settings
func Defaults() Settings {
	return Settings{
		Session:      session.DefaultConfig(),
		StartupFile:  "./sbtest02.json",
		SerialPort:   "/dev/ttyS1",
		Baud:         115200,
		StoreDir:     ".",
		BatteryScale: 1,
		GPIORoot:     "/sys/class/gpio",
		LogicPin:     117,
		PayloadPin:   -1,
	}
}

type fileConfig struct {
	Session sessionSection `toml:"session" yaml:"session"`
	Serial  struct {
		Port *string `toml:"port" yaml:"port"`
		Baud *int    `toml:"baud" yaml:"baud"`
	} `toml:"serial" yaml:"serial"`
	Bridge struct {
		URL         *string `toml:"url" yaml:"url"`
		Username    *string `toml:"username" yaml:"username"`
		NoSSLVerify *bool   `toml:"no_ssl_verify" yaml:"no_ssl_verify"`
	} `toml:"bridge" yaml:"bridge"`
	Store struct {
		Dir *string `toml:"dir" yaml:"dir"`
	} `toml:"store" yaml:"store"`
	Battery struct {
		Path                *string  `toml:"path" yaml:"path"`
		Scale               *float64 `toml:"scale" yaml:"scale"`
		ThresholdMillivolts *int     `toml:"threshold_mv" yaml:"threshold_mv"`
	} `toml:"battery" yaml:"battery"`
	GPIO struct {
		Root       *string `toml:"root" yaml:"root"`
		LogicPin   *int    `toml:"logic_pin" yaml:"logic_pin"`
		PayloadPin *int    `toml:"payload_pin" yaml:"payload_pin"`
	} `toml:"gpio" yaml:"gpio"`
	Report struct {
		Dir *string `toml:"dir" yaml:"dir"`
	} `toml:"report" yaml:"report"`
	Metrics struct {
		Textfile *string `toml:"textfile" yaml:"textfile"`
	} `toml:"metrics" yaml:"metrics"`
}

type sessionSection struct {
	Duration             *Duration `toml:"duration" yaml:"duration"`
	ShutdownAllowance    *Duration `toml:"shutdown_allowance" yaml:"shutdown_allowance"`
	PowerUpSettle        *Duration `toml:"power_up_settle" yaml:"power_up_settle"`
	PowerUpAllowance     *Duration `toml:"power_up_allowance" yaml:"power_up_allowance"`
	AckTimeout           *Duration `toml:"ack_timeout" yaml:"ack_timeout"`
	ShutdownAckTimeout   *Duration `toml:"shutdown_ack_timeout" yaml:"shutdown_ack_timeout"`
	SettleDelay          *Duration `toml:"settle_delay" yaml:"settle_delay"`
	OfferTimeout         *Duration `toml:"offer_timeout" yaml:"offer_timeout"`
	FieldTimeout         *Duration `toml:"field_timeout" yaml:"field_timeout"`
	ChunkSize            *int      `toml:"chunk_size" yaml:"chunk_size"`
	TimeSyncAttempts     *int      `toml:"time_sync_attempts" yaml:"time_sync_attempts"`
	MaxIntegrityFailures *int      `toml:"max_integrity_failures" yaml:"max_integrity_failures"`
	ReportRemainingTime  *bool     `toml:"report_remaining_time" yaml:"report_remaining_time"`
	Startup              *string   `toml:"startup" yaml:"startup"`
	StartupFile          *string   `toml:"startup_file" yaml:"startup_file"`
}

// ErrUnsupportedFormat is returned for files that are neither TOML nor YAML
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Settings, error) {
	settings := Defaults()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	expanded := ExpandEnv(string(data))

	var raw fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(expanded, &raw)
		if err != nil {
			return Settings{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Settings{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return Settings{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return Settings{}, fmt.Errorf("config %s: %w", path, ErrUnsupportedFormat)
	}

	raw.apply(&settings)
	if err := settings.Session.Validate(); err != nil {
		return Settings{}, fmt.Errorf("config %s: %w", path, err)
	}
	return settings, nil
}

func (f fileConfig) apply(s *Settings) {
	f.Session.apply(&s.Session, &s.StartupFile)

	setString(&s.SerialPort, f.Serial.Port)
	setInt(&s.Baud, f.Serial.Baud)
	setString(&s.BridgeURL, f.Bridge.URL)
	setString(&s.BridgeUsername, f.Bridge.Username)
	if f.Bridge.NoSSLVerify != nil {
		s.BridgeNoSSLVerify = *f.Bridge.NoSSLVerify
	}
	setString(&s.StoreDir, f.Store.Dir)
	setString(&s.BatteryPath, f.Battery.Path)
	if f.Battery.Scale != nil {
		s.BatteryScale = *f.Battery.Scale
	}
	setInt(&s.Session.BatteryThresholdMillivolts, f.Battery.ThresholdMillivolts)
	setString(&s.GPIORoot, f.GPIO.Root)
	setInt(&s.LogicPin, f.GPIO.LogicPin)
	setInt(&s.PayloadPin, f.GPIO.PayloadPin)
	setString(&s.ReportDir, f.Report.Dir)
	setString(&s.MetricsTextfile, f.Metrics.Textfile)
}

func (f sessionSection) apply(c *session.Config, startupFile *string) {
	setDuration(&c.Duration, f.Duration)
	setDuration(&c.ShutdownAllowance, f.ShutdownAllowance)
	setDuration(&c.PowerUpSettle, f.PowerUpSettle)
	setDuration(&c.PowerUpAllowance, f.PowerUpAllowance)
	setDuration(&c.AckTimeout, f.AckTimeout)
	setDuration(&c.ShutdownAckTimeout, f.ShutdownAckTimeout)
	setDuration(&c.SettleDelay, f.SettleDelay)
	setDuration(&c.OfferTimeout, f.OfferTimeout)
	setDuration(&c.Transfer.FieldTimeout, f.FieldTimeout)
	setInt(&c.Transfer.ChunkSize, f.ChunkSize)
	setInt(&c.TimeSyncAttempts, f.TimeSyncAttempts)
	setInt(&c.MaxIntegrityFailures, f.MaxIntegrityFailures)
	if f.ReportRemainingTime != nil {
		c.ReportRemainingTime = *f.ReportRemainingTime
	}
	setString(&c.Startup, f.Startup)
	setString(startupFile, f.StartupFile)
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = v.Duration
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

// ResolveStartup returns the startup selection: the contents of the
// startup file when it can be read, else the configured selection. A
// missing file falls back silently. A file that is unreadable, too long
// or contains a zero byte also falls back, and the reason is returned
// (wrapping ErrStartupUnusable) so the caller can warn about it.
func (s Settings) ResolveStartup() (string, error) {
	if s.StartupFile == "" {
		return s.Session.Startup, nil
	}
	data, err := os.ReadFile(s.StartupFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s.Session.Startup, nil
	case err != nil:
		return s.Session.Startup, fmt.Errorf("%w: %v", ErrStartupUnusable, err)
	}

	name := strings.TrimSpace(string(data))
	if name == "" {
		return s.Session.Startup, nil
	}
	if problems := sbproto.ValidateCommand(sbproto.NewStartupCommand([]byte(name))); len(problems) > 0 {
		return s.Session.Startup, fmt.Errorf("%w: %s: %s", ErrStartupUnusable, s.StartupFile, problems[0].Message)
	}
	return name, nil
}

// BatteryReader returns the bus voltage source for the settings
func (s Settings) BatteryReader() battery.VoltageReader {
	if s.BatteryPath == "" {
		return battery.Func(func() (int, error) {
			return 0, errors.New("no battery telemetry configured")
		})
	}
	return battery.FileReader{Path: s.BatteryPath, Scale: s.BatteryScale}
}
