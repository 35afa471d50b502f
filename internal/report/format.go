// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package report

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Thermoquad/sidecar/internal/session"
	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

// Format writes a human-readable summary of r
func Format(w io.Writer, r session.Report) error {
	states := make([]string, len(r.States))
	for i, s := range r.States {
		states[i] = s.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", r.ID)
	fmt.Fprintf(&b, "  Startup:    %s\n", r.Startup)
	fmt.Fprintf(&b, "  Started:    %s\n", formatTime(r.StartedAt))
	fmt.Fprintf(&b, "  Operating:  %s\n", formatTime(r.OperatingSince))
	fmt.Fprintf(&b, "  Finished:   %s (%s)\n", formatTime(r.FinishedAt), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "  States:     %s\n", strings.Join(states, " -> "))
	fmt.Fprintf(&b, "  Exit:       %s\n", r.Exit)
	if r.Error != "" {
		fmt.Fprintf(&b, "  Error:      %s\n", r.Error)
	}
	fmt.Fprintf(&b, "  Attempts:   %d (integrity failures %d)\n", r.Attempts, r.IntegrityFailures)
	for _, f := range r.Files {
		fmt.Fprintf(&b, "  File:       %s %d bytes sha256 %s\n", f.Name, f.Size, hex.EncodeToString(f.Digest[:]))
	}
	if r.Battery.At.IsZero() {
		fmt.Fprintf(&b, "  Battery:    no reading (telemetry errors %d)\n", r.TelemetryErrors)
	} else {
		fmt.Fprintf(&b, "  Battery:    %d mV at %s\n", r.Battery.BusVoltageMillivolts, formatTime(r.Battery.At))
	}

	ack := "not acknowledged"
	if r.ShutdownAcknowledged {
		ack = "acknowledged"
	}
	fmt.Fprintf(&b, "  Shutdown:   %s %s\n", sbproto.FormatKind(r.ShutdownCommand), ack)

	l := r.Link
	fmt.Fprintf(&b, "  Link:       tx %d frames/%d bytes, rx %d frames/%d bytes\n", l.FramesSent, l.BytesSent, l.FramesReceived, l.BytesReceived)
	fmt.Fprintf(&b, "              decode errors %d, short %d, rejected %d, timeouts %d, io %d\n",
		l.DecodeErrors, l.ShortFrames, l.Rejections, l.Timeouts, l.IOErrors)

	_, err := io.WriteString(w, b.String())
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
