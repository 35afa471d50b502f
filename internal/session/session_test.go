// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/sidecar/internal/battery"
	"github.com/Thermoquad/sidecar/internal/clock"
	"github.com/Thermoquad/sidecar/internal/link"
	"github.com/Thermoquad/sidecar/internal/peer"
	"github.com/Thermoquad/sidecar/internal/transfer"
	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

const testReadTimeout = 5 * time.Millisecond

// fastConfig keeps real-clock sessions under a few seconds
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Duration = 5 * time.Second
	cfg.ShutdownAllowance = time.Second
	cfg.PowerUpSettle = 0
	cfg.PowerUpAllowance = time.Second
	cfg.AckTimeout = 500 * time.Millisecond
	cfg.ShutdownAckTimeout = 200 * time.Millisecond
	cfg.SettleDelay = 0
	cfg.OfferTimeout = 500 * time.Millisecond
	cfg.Transfer = transfer.Config{ChunkSize: 64, FieldTimeout: 500 * time.Millisecond}
	cfg.Startup = "patch01.json"
	return cfg
}

func peerConfig(files ...peer.File) peer.Config {
	return peer.Config{
		Files:       files,
		StepTimeout: 2 * time.Second,
		ChunkSize:   64,
	}
}

var patchFile = peer.File{Name: "/a/b/c/patch01.json\x00\x00", Data: []byte(`{"patch":1,"target":"adcs"}`)}

type recordingPower struct {
	calls  []string
	failOn string
}

func (p *recordingPower) call(name string) error {
	p.calls = append(p.calls, name)
	if name == p.failOn {
		return errors.New("rail fault")
	}
	return nil
}

func (p *recordingPower) PowerOn() error           { return p.call("on") }
func (p *recordingPower) PowerOff() error          { return p.call("off") }
func (p *recordingPower) InitializePayload() error { return p.call("init") }
func (p *recordingPower) Shutdown() error          { return p.call("shutdown") }

type peerRun struct {
	res peer.Result
	err error
}

type harness struct {
	orch   *Orchestrator
	power  *recordingPower
	store  string
	remote *link.MemPort
	peer   <-chan peerRun
}

type harnessOptions struct {
	cfg      Config
	clock    clock.Clock
	battery  battery.VoltageReader
	peer     *peer.Config
	observer Observer
	power    *recordingPower
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	local, remote := link.Pipe(testReadTimeout)
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})

	if opts.clock == nil {
		opts.clock = clock.Real{}
	}
	if opts.battery == nil {
		opts.battery = battery.Fixed(14000)
	}
	if opts.power == nil {
		opts.power = &recordingPower{}
	}
	logger := zerolog.New(zerolog.NewTestWriter(t))

	h := &harness{power: opts.power, store: t.TempDir(), remote: remote}
	orch, err := New(opts.cfg, Options{
		Port:     local,
		Store:    transfer.DirStore{Dir: h.store},
		Battery:  opts.battery,
		Power:    opts.power,
		Clock:    opts.clock,
		Observer: opts.observer,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch

	if opts.peer != nil {
		done := make(chan peerRun, 1)
		sim := peer.New(remote, clock.Real{}, *opts.peer, logger)
		go func() {
			res, err := sim.Run(context.Background())
			done <- peerRun{res, err}
		}()
		h.peer = done
	}
	return h
}

func (h *harness) peerResult(t *testing.T) peerRun {
	t.Helper()
	select {
	case r := <-h.peer:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("peer did not finish")
		return peerRun{}
	}
}

func TestRun_EndToEnd(t *testing.T) {
	pc := peerConfig(patchFile)
	pc.Noise = []byte{0xFF, 0x13, 0x7E}
	h := newHarness(t, harnessOptions{cfg: fastConfig(), peer: &pc})

	report := h.orch.Run(context.Background())

	if report.Exit != ExitDelivered {
		t.Fatalf("Exit = %s (%s), want delivered", report.Exit, report.Error)
	}
	wantStates := []State{PoweringUp, AwaitingInit, SyncingTime, SendingStartup, Transferring, ShuttingDown, Done}
	if !slices.Equal(report.States, wantStates) {
		t.Errorf("States = %v, want %v", report.States, wantStates)
	}
	if len(report.Files) != 1 || report.Files[0].Name != "patch01.json" {
		t.Fatalf("Files = %+v", report.Files)
	}
	stored, err := os.ReadFile(filepath.Join(h.store, "patch01.json"))
	if err != nil || string(stored) != string(patchFile.Data) {
		t.Errorf("stored file = %q, %v", stored, err)
	}
	if !report.ShutdownAcknowledged {
		t.Error("shutdown should be acknowledged")
	}
	if report.ShutdownCommand != sbproto.KindPowerDown {
		t.Errorf("ShutdownCommand = %s", sbproto.FormatKind(report.ShutdownCommand))
	}
	if want := []string{"on", "init", "shutdown", "off"}; !slices.Equal(h.power.calls, want) {
		t.Errorf("power calls = %v, want %v", h.power.calls, want)
	}
	if report.Battery.BusVoltageMillivolts != 14000 {
		t.Errorf("Battery = %+v", report.Battery)
	}
	if report.ID == "" {
		t.Error("report has no session ID")
	}

	pr := h.peerResult(t)
	if pr.err != nil {
		t.Fatalf("peer: %v", pr.err)
	}
	if pr.res.Startup != "patch01.json" {
		t.Errorf("peer startup = %q", pr.res.Startup)
	}
	if pr.res.Time.IsZero() {
		t.Error("peer received no time")
	}
	if pr.res.PowerDown == nil || pr.res.PowerDown.Kind != sbproto.KindPowerDown {
		t.Errorf("peer shutdown = %v", pr.res.PowerDown)
	}
}

func TestRun_ShutdownProceedsWithoutAck(t *testing.T) {
	pc := peerConfig(patchFile)
	pc.IgnorePowerDown = true
	h := newHarness(t, harnessOptions{cfg: fastConfig(), peer: &pc})

	report := h.orch.Run(context.Background())

	if report.Exit != ExitDelivered {
		t.Fatalf("Exit = %s (%s)", report.Exit, report.Error)
	}
	if report.ShutdownAcknowledged {
		t.Error("shutdown should not be acknowledged")
	}
	if want := []string{"on", "init", "shutdown", "off"}; !slices.Equal(h.power.calls, want) {
		t.Errorf("power calls = %v, want %v", h.power.calls, want)
	}
	if report.Link.Timeouts != 1 {
		t.Errorf("link timeouts = %d, want 1", report.Link.Timeouts)
	}
}

func TestRun_TimeBudget(t *testing.T) {
	for _, reportRemaining := range []bool{false, true} {
		name := "PowerDown"
		if reportRemaining {
			name = "RemainingTimeUnframeable"
		}
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Startup = "patch01.json"
			cfg.ReportRemainingTime = reportRemaining

			clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
			pc := peerConfig()

			// Leave 40s of the 15m session once the operating phase starts
			observer := func(e Event) {
				if e.Type == EventState && e.State == Transferring {
					clk.Advance(cfg.Duration - 40*time.Second)
				}
			}
			h := newHarness(t, harnessOptions{cfg: cfg, clock: clk, peer: &pc, observer: observer})

			report := h.orch.Run(context.Background())

			if report.Exit != ExitTimeBudget {
				t.Fatalf("Exit = %s (%s), want time_budget", report.Exit, report.Error)
			}
			if report.Attempts != 0 {
				t.Errorf("Attempts = %d, want 0", report.Attempts)
			}
			if reportRemaining && report.RemainingAtShutdown != 40*time.Second {
				t.Errorf("RemainingAtShutdown = %s, want 40s", report.RemainingAtShutdown)
			}
			// 40s encodes with a zero high byte, which cannot be framed
			if report.ShutdownCommand != sbproto.KindPowerDown {
				t.Errorf("ShutdownCommand = %s", sbproto.FormatKind(report.ShutdownCommand))
			}
			if pr := h.peerResult(t); pr.err != nil {
				t.Errorf("peer: %v", pr.err)
			}
		})
	}
}

func TestRun_ReportsRemainingTime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Startup = "patch01.json"
	cfg.ReportRemainingTime = true
	cfg.Transfer.ChunkSize = 64

	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	pc := peerConfig(patchFile)
	h := newHarness(t, harnessOptions{cfg: cfg, clock: clk, peer: &pc})

	report := h.orch.Run(context.Background())

	if report.Exit != ExitDelivered {
		t.Fatalf("Exit = %s (%s)", report.Exit, report.Error)
	}
	if report.ShutdownCommand != sbproto.KindPowerDownWithTime {
		t.Fatalf("ShutdownCommand = %s", sbproto.FormatKind(report.ShutdownCommand))
	}
	pr := h.peerResult(t)
	if pr.err != nil {
		t.Fatalf("peer: %v", pr.err)
	}
	secs, ok := pr.res.PowerDown.RemainingSeconds()
	if !ok || secs != 900 {
		t.Errorf("remaining seconds = %d (%v), want 900", secs, ok)
	}
}

func TestRun_LowBatteryEndsLoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Startup = "patch01.json"
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	pc := peerConfig()
	h := newHarness(t, harnessOptions{cfg: cfg, clock: clk, peer: &pc, battery: battery.Fixed(13000)})
	report := h.orch.Run(context.Background())

	if report.Exit != ExitLowBattery {
		t.Fatalf("Exit = %s (%s), want low_battery", report.Exit, report.Error)
	}
	want := []State{PoweringUp, AwaitingInit, SyncingTime, SendingStartup, Transferring, ShuttingDown, Done}
	if !slices.Equal(report.States, want) {
		t.Errorf("States = %v, want %v", report.States, want)
	}
	if report.Error != "" {
		t.Errorf("Error = %q, want none", report.Error)
	}
	if report.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", report.Attempts)
	}
	if report.Battery.BusVoltageMillivolts != 13000 {
		t.Errorf("Battery = %+v", report.Battery)
	}
	if !report.ShutdownAcknowledged {
		t.Error("shutdown should be acknowledged")
	}
}

func TestRun_TelemetryErrorContinues(t *testing.T) {
	pc := peerConfig(patchFile)
	reader := battery.Func(func() (int, error) { return 0, errors.New("i2c bus busy") })
	h := newHarness(t, harnessOptions{cfg: fastConfig(), peer: &pc, battery: reader})

	report := h.orch.Run(context.Background())

	if report.Exit != ExitDelivered {
		t.Fatalf("Exit = %s (%s), want delivered", report.Exit, report.Error)
	}
	if report.TelemetryErrors == 0 {
		t.Error("telemetry error not counted")
	}
}

func TestRun_InitialisationTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.PowerUpAllowance = 100 * time.Millisecond
	pc := peerConfig(patchFile)
	pc.SkipInitialised = true
	h := newHarness(t, harnessOptions{cfg: cfg, peer: &pc})

	report := h.orch.Run(context.Background())

	if report.Exit != ExitHandshakeFailed {
		t.Fatalf("Exit = %s, want handshake_failed", report.Exit)
	}
	if !strings.Contains(report.Error, "awaiting initialisation") {
		t.Errorf("Error = %q", report.Error)
	}
	if slices.Contains(report.States, Transferring) {
		t.Error("should never reach Transferring")
	}
	if report.ShutdownCommand != sbproto.KindPowerDown {
		t.Errorf("ShutdownCommand = %s", sbproto.FormatKind(report.ShutdownCommand))
	}
	if want := []string{"on", "init", "shutdown", "off"}; !slices.Equal(h.power.calls, want) {
		t.Errorf("power calls = %v", h.power.calls)
	}
}

func TestRun_TimeSyncRejected(t *testing.T) {
	pc := peerConfig(patchFile)
	pc.TimeAckKind = sbproto.KindStartupCommandAcknowledge
	h := newHarness(t, harnessOptions{cfg: fastConfig(), peer: &pc})

	report := h.orch.Run(context.Background())

	if report.Exit != ExitHandshakeFailed {
		t.Fatalf("Exit = %s, want handshake_failed", report.Exit)
	}
	if slices.Contains(report.States, SendingStartup) {
		t.Error("startup must not be sent after a rejection")
	}
	if report.Link.Rejections != 1 {
		t.Errorf("Rejections = %d, want 1", report.Link.Rejections)
	}
}

func TestRun_TimeSyncRetried(t *testing.T) {
	cfg := fastConfig()
	cfg.AckTimeout = 100 * time.Millisecond
	cfg.TimeSyncAttempts = 3
	h := newHarness(t, harnessOptions{cfg: cfg})

	// Hand-driven payload that only acknowledges the second time frame
	logger := zerolog.New(zerolog.NewTestWriter(t))
	remote := link.New(h.remote, clock.Real{}, logger)
	done := make(chan error, 1)
	go func() {
		if err := remote.Send(sbproto.NewSimple(sbproto.KindInitialised)); err != nil {
			done <- err
			return
		}
		for i := 0; i < 2; i++ {
			if _, err := remote.Expect(sbproto.KindTime, time.Second); err != nil {
				done <- err
				return
			}
		}
		done <- remote.Send(sbproto.NewSimple(sbproto.KindTimeAcknowledge))
	}()

	report := h.orch.Run(context.Background())
	if err := <-done; err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !slices.Contains(report.States, SendingStartup) {
		t.Errorf("States = %v, want SendingStartup after retry", report.States)
	}
	if report.Link.Timeouts < 1 {
		t.Errorf("Timeouts = %d, want at least 1", report.Link.Timeouts)
	}
}

func TestRun_IntegrityMismatchRetried(t *testing.T) {
	bad := patchFile
	bad.CorruptDigest = true
	pc := peerConfig(bad, patchFile)
	h := newHarness(t, harnessOptions{cfg: fastConfig(), peer: &pc})

	report := h.orch.Run(context.Background())

	if report.Exit != ExitDelivered {
		t.Fatalf("Exit = %s (%s)", report.Exit, report.Error)
	}
	if report.IntegrityFailures != 1 || report.Attempts != 2 {
		t.Errorf("IntegrityFailures = %d, Attempts = %d", report.IntegrityFailures, report.Attempts)
	}
	pr := h.peerResult(t)
	want := []string{transfer.TokenReceiveFileErrorRetry, transfer.TokenReceiveFileSuccess}
	if !slices.Equal(pr.res.Outcomes, want) {
		t.Errorf("peer outcomes = %v, want %v", pr.res.Outcomes, want)
	}
}

func TestRun_IntegrityFailuresAbort(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxIntegrityFailures = 2
	bad := patchFile
	bad.CorruptDigest = true
	pc := peerConfig(bad, bad, patchFile)
	h := newHarness(t, harnessOptions{cfg: cfg, peer: &pc})

	report := h.orch.Run(context.Background())

	if report.Exit != ExitIntegrityFailures {
		t.Fatalf("Exit = %s (%s)", report.Exit, report.Error)
	}
	if len(report.Files) != 0 {
		t.Errorf("Files = %+v, want none", report.Files)
	}
	if _, err := os.Stat(filepath.Join(h.store, "patch01.json")); !os.IsNotExist(err) {
		t.Error("unverified file must not be stored")
	}
}

func TestRun_NoOfferStopsAtAllowance(t *testing.T) {
	cfg := fastConfig()
	cfg.Duration = 1500 * time.Millisecond
	cfg.ShutdownAllowance = time.Second
	cfg.OfferTimeout = 200 * time.Millisecond
	pc := peerConfig()
	h := newHarness(t, harnessOptions{cfg: cfg, peer: &pc})

	report := h.orch.Run(context.Background())

	if report.Exit != ExitTimeBudget {
		t.Fatalf("Exit = %s (%s)", report.Exit, report.Error)
	}
	if report.Attempts < 1 {
		t.Errorf("Attempts = %d, want at least 1", report.Attempts)
	}
	if ceiling := report.OperatingSince.Add(cfg.Duration); report.FinishedAt.After(ceiling) {
		t.Errorf("session finished %s after its ceiling", report.FinishedAt.Sub(ceiling))
	}
}

func TestRun_LateOfferKeepsAllowance(t *testing.T) {
	cfg := fastConfig()
	cfg.Duration = 2 * time.Second
	cfg.ShutdownAllowance = time.Second
	cfg.OfferTimeout = 2 * time.Second
	cfg.Transfer.FieldTimeout = 3 * time.Second
	cfg.ShutdownAckTimeout = time.Second
	h := newHarness(t, harnessOptions{cfg: cfg})

	// Hand-driven payload that offers a file just before the limit and
	// never sends its body
	logger := zerolog.New(zerolog.NewTestWriter(t))
	remote := link.New(h.remote, clock.Real{}, logger)
	done := make(chan error, 1)
	go func() {
		if err := remote.Send(sbproto.NewSimple(sbproto.KindInitialised)); err != nil {
			done <- err
			return
		}
		if _, err := remote.Expect(sbproto.KindTime, time.Second); err != nil {
			done <- err
			return
		}
		remote.Send(sbproto.NewSimple(sbproto.KindTimeAcknowledge))
		if _, err := remote.Expect(sbproto.KindStartupCommand, time.Second); err != nil {
			done <- err
			return
		}
		remote.Send(sbproto.NewSimple(sbproto.KindStartupCommandAcknowledge))

		time.Sleep(900 * time.Millisecond)
		h.remote.Write([]byte("patch01.json"))

		if _, err := remote.Expect(sbproto.KindPowerDown, 3*time.Second); err != nil {
			done <- err
			return
		}
		done <- remote.Send(sbproto.NewSimple(sbproto.KindPowerDownAcknowledge))
	}()

	report := h.orch.Run(context.Background())
	if err := <-done; err != nil {
		t.Fatalf("payload: %v", err)
	}

	if report.Exit != ExitTimeBudget {
		t.Fatalf("Exit = %s (%s)", report.Exit, report.Error)
	}
	if len(report.Files) != 0 {
		t.Errorf("Files = %v, want none", report.Files)
	}
	if !report.ShutdownAcknowledged {
		t.Error("shutdown not acknowledged")
	}
	if ceiling := report.OperatingSince.Add(cfg.Duration); report.FinishedAt.After(ceiling) {
		t.Errorf("session finished %s after its ceiling", report.FinishedAt.Sub(ceiling))
	}
}

func TestRun_PowerFault(t *testing.T) {
	pwr := &recordingPower{failOn: "on"}
	h := newHarness(t, harnessOptions{cfg: fastConfig(), power: pwr})

	report := h.orch.Run(context.Background())

	if report.Exit != ExitPowerFault {
		t.Fatalf("Exit = %s", report.Exit)
	}
	if want := []string{"on", "shutdown", "off"}; !slices.Equal(pwr.calls, want) {
		t.Errorf("power calls = %v, want %v", pwr.calls, want)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHarness(t, harnessOptions{cfg: fastConfig()})

	report := h.orch.Run(ctx)

	if report.Exit != ExitCancelled {
		t.Fatalf("Exit = %s", report.Exit)
	}
	if !report.Exit.Aborted() {
		t.Error("cancelled should count as aborted")
	}
	if !slices.Contains(report.States, ShuttingDown) {
		t.Error("shutdown must run after cancellation")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"default", func(*Config) {}, true},
		{"zero duration", func(c *Config) { c.Duration = 0 }, false},
		{"allowance exceeds duration", func(c *Config) { c.ShutdownAllowance = c.Duration }, false},
		{"negative settle", func(c *Config) { c.SettleDelay = -time.Second }, false},
		{"no chunk size", func(c *Config) { c.Transfer.ChunkSize = 0 }, false},
		{"no time sync attempts", func(c *Config) { c.TimeSyncAttempts = 0 }, false},
		{"no integrity budget", func(c *Config) { c.MaxIntegrityFailures = 0 }, false},
		{"empty startup", func(c *Config) { c.Startup = "" }, false},
		{"startup too long", func(c *Config) { c.Startup = strings.Repeat("x", sbproto.MaxPayloadSize+1) }, false},
		{"startup with terminator", func(c *Config) { c.Startup = "a\x00b" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestClampSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want uint16
	}{
		{-time.Second, 0},
		{1500 * time.Millisecond, 1},
		{15 * time.Minute, 900},
		{48 * time.Hour, 65535},
	}
	for _, tt := range tests {
		if got := clampSeconds(tt.in); got != tt.want {
			t.Errorf("clampSeconds(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStateAndExitNames(t *testing.T) {
	if Transferring.String() != "TRANSFERRING" {
		t.Errorf("Transferring = %s", Transferring)
	}
	if State(42).String() != "STATE(42)" {
		t.Errorf("unknown state = %s", State(42))
	}
	if ExitTimeBudget.String() != "time_budget" || ExitTimeBudget.Aborted() {
		t.Error("time budget is a normal exit")
	}
	if ExitLowBattery.Aborted() {
		t.Error("low battery is a normal exit")
	}
	if !ExitHandshakeFailed.Aborted() {
		t.Error("handshake failure is an abort")
	}
}
