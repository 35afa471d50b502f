// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package peer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/sidecar/internal/clock"
	"github.com/Thermoquad/sidecar/internal/link"
	"github.com/Thermoquad/sidecar/internal/transfer"
	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

type memStore map[string][]byte

func (m memStore) Put(name string, data []byte) error {
	m[name] = data
	return nil
}

// TestSimulator_Session drives the simulator by hand from the controller side
func TestSimulator_Session(t *testing.T) {
	local, remote := link.Pipe(5 * time.Millisecond)
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	logger := zerolog.New(zerolog.NewTestWriter(t))

	cfg := DefaultConfig()
	cfg.StepTimeout = 2 * time.Second
	cfg.ChunkSize = 64
	sim := New(remote, clock.Real{}, cfg, logger)

	done := make(chan Result, 1)
	errs := make(chan error, 1)
	go func() {
		res, err := sim.Run(context.Background())
		errs <- err
		done <- res
	}()

	ctl := link.New(local, clock.Real{}, logger)
	if _, err := ctl.Expect(sbproto.KindInitialised, time.Second); err != nil {
		t.Fatalf("Initialised: %v", err)
	}
	now := time.Unix(1748779200, 0)
	if _, err := ctl.SendAndAwait(sbproto.NewTime(now), sbproto.KindTimeAcknowledge, time.Second); err != nil {
		t.Fatalf("Time: %v", err)
	}
	if _, err := ctl.SendAndAwait(sbproto.NewStartupCommand([]byte("sbtest02.json")), sbproto.KindStartupCommandAcknowledge, time.Second); err != nil {
		t.Fatalf("Startup: %v", err)
	}

	store := memStore{}
	engine := transfer.New(local, clock.Real{}, store, transfer.Config{ChunkSize: 64, FieldTimeout: time.Second}, logger)
	res, err := engine.Receive(time.Now().Add(time.Second), time.Time{})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if res.Name != "patch01.json" || string(store["patch01.json"]) != `{"patch":1}` {
		t.Errorf("received %+v, store %v", res, store)
	}

	if _, err := ctl.SendAndAwait(sbproto.NewSimple(sbproto.KindPowerDown), sbproto.KindPowerDownAcknowledge, time.Second); err != nil {
		t.Fatalf("PowerDown: %v", err)
	}

	if err := <-errs; err != nil {
		t.Fatalf("simulator: %v", err)
	}
	got := <-done
	if !got.Time.Equal(now) {
		t.Errorf("Time = %s, want %s", got.Time, now)
	}
	if got.Startup != "sbtest02.json" {
		t.Errorf("Startup = %q", got.Startup)
	}
	if len(got.Outcomes) != 1 || got.Outcomes[0] != transfer.TokenReceiveFileSuccess {
		t.Errorf("Outcomes = %v", got.Outcomes)
	}
	if got.PowerDown == nil || got.PowerDown.Kind != sbproto.KindPowerDown {
		t.Errorf("PowerDown = %v", got.PowerDown)
	}
}

func TestSimulator_NoShutdown(t *testing.T) {
	local, remote := link.Pipe(5 * time.Millisecond)
	t.Cleanup(func() { local.Close() })

	cfg := DefaultConfig()
	cfg.StepTimeout = 100 * time.Millisecond
	sim := New(remote, clock.Real{}, cfg, zerolog.Nop())

	// Nobody answers the simulator
	if _, err := sim.Run(context.Background()); err == nil {
		t.Error("expected a timeout waiting for time")
	}
}
