// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package report persists session reports as CBOR.
//
// Records are maps with small integer keys so they stay compact enough to
// downlink. Times are Unix milliseconds, zero when unset.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/Thermoquad/sidecar/internal/battery"
	"github.com/Thermoquad/sidecar/internal/link"
	"github.com/Thermoquad/sidecar/internal/session"
	"github.com/Thermoquad/sidecar/internal/transfer"
	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

// FormatVersion is bumped when record keys change meaning
const FormatVersion = 1

// ErrVersion is returned for records written by an incompatible version
var ErrVersion = errors.New("unsupported report version")

type record struct {
	Version              int          `cbor:"1,keyasint"`
	ID                   []byte       `cbor:"2,keyasint"`
	Startup              string       `cbor:"3,keyasint"`
	StartedAt            int64        `cbor:"4,keyasint"`
	OperatingSince       int64        `cbor:"5,keyasint,omitempty"`
	FinishedAt           int64        `cbor:"6,keyasint"`
	States               []uint8      `cbor:"7,keyasint"`
	Exit                 uint8        `cbor:"8,keyasint"`
	Error                string       `cbor:"9,keyasint,omitempty"`
	Files                []fileRecord `cbor:"10,keyasint,omitempty"`
	Attempts             int          `cbor:"11,keyasint"`
	IntegrityFailures    int          `cbor:"12,keyasint,omitempty"`
	TelemetryErrors      int          `cbor:"13,keyasint,omitempty"`
	BatteryMillivolts    int          `cbor:"14,keyasint,omitempty"`
	BatteryAt            int64        `cbor:"15,keyasint,omitempty"`
	ShutdownCommand      uint8        `cbor:"16,keyasint"`
	RemainingAtShutdown  int64        `cbor:"17,keyasint,omitempty"`
	ShutdownAcknowledged bool         `cbor:"18,keyasint"`
	Link                 linkRecord   `cbor:"19,keyasint"`
}

type fileRecord struct {
	Name   string `cbor:"1,keyasint"`
	Size   int    `cbor:"2,keyasint"`
	Digest []byte `cbor:"3,keyasint"`
}

type linkRecord struct {
	BytesSent      uint64 `cbor:"1,keyasint"`
	BytesReceived  uint64 `cbor:"2,keyasint"`
	FramesSent     uint64 `cbor:"3,keyasint"`
	FramesReceived uint64 `cbor:"4,keyasint"`
	DecodeErrors   uint64 `cbor:"5,keyasint,omitempty"`
	ShortFrames    uint64 `cbor:"6,keyasint,omitempty"`
	Rejections     uint64 `cbor:"7,keyasint,omitempty"`
	Timeouts       uint64 `cbor:"8,keyasint,omitempty"`
	IOErrors       uint64 `cbor:"9,keyasint,omitempty"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("report: cbor encoder: %v", err))
	}
	return em
}()

// Marshal encodes a report
func Marshal(r session.Report) ([]byte, error) {
	rec, err := toRecord(r)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(rec)
}

// Unmarshal decodes a report
func Unmarshal(data []byte) (session.Report, error) {
	var rec record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return session.Report{}, fmt.Errorf("decode report: %w", err)
	}
	if rec.Version != FormatVersion {
		return session.Report{}, fmt.Errorf("%w: %d", ErrVersion, rec.Version)
	}
	return fromRecord(rec)
}

// Path is where Write stores the report for a session
func Path(dir, id string) string {
	return filepath.Join(dir, "session-"+id+".cbor")
}

// Write stores r in dir and returns the file path
func Write(dir string, r session.Report) (string, error) {
	data, err := Marshal(r)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := Path(dir, r.ID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// ReadFile loads a report written by Write
func ReadFile(path string) (session.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Report{}, err
	}
	return Unmarshal(data)
}

func toRecord(r session.Report) (record, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return record{}, fmt.Errorf("session id %q: %w", r.ID, err)
	}

	rec := record{
		Version:              FormatVersion,
		ID:                   id[:],
		Startup:              r.Startup,
		StartedAt:            millis(r.StartedAt),
		OperatingSince:       millis(r.OperatingSince),
		FinishedAt:           millis(r.FinishedAt),
		Exit:                 uint8(r.Exit),
		Error:                r.Error,
		Attempts:             r.Attempts,
		IntegrityFailures:    r.IntegrityFailures,
		TelemetryErrors:      r.TelemetryErrors,
		BatteryMillivolts:    r.Battery.BusVoltageMillivolts,
		BatteryAt:            millis(r.Battery.At),
		ShutdownCommand:      uint8(r.ShutdownCommand),
		RemainingAtShutdown:  r.RemainingAtShutdown.Milliseconds(),
		ShutdownAcknowledged: r.ShutdownAcknowledged,
		Link: linkRecord{
			BytesSent:      r.Link.BytesSent,
			BytesReceived:  r.Link.BytesReceived,
			FramesSent:     r.Link.FramesSent,
			FramesReceived: r.Link.FramesReceived,
			DecodeErrors:   r.Link.DecodeErrors,
			ShortFrames:    r.Link.ShortFrames,
			Rejections:     r.Link.Rejections,
			Timeouts:       r.Link.Timeouts,
			IOErrors:       r.Link.IOErrors,
		},
	}
	for _, s := range r.States {
		rec.States = append(rec.States, uint8(s))
	}
	for _, f := range r.Files {
		rec.Files = append(rec.Files, fileRecord{Name: f.Name, Size: f.Size, Digest: f.Digest[:]})
	}
	return rec, nil
}

func fromRecord(rec record) (session.Report, error) {
	id, err := uuid.FromBytes(rec.ID)
	if err != nil {
		return session.Report{}, fmt.Errorf("session id: %w", err)
	}

	r := session.Report{
		ID:                id.String(),
		Startup:           rec.Startup,
		StartedAt:         fromMillis(rec.StartedAt),
		OperatingSince:    fromMillis(rec.OperatingSince),
		FinishedAt:        fromMillis(rec.FinishedAt),
		Exit:              session.ExitReason(rec.Exit),
		Error:             rec.Error,
		Attempts:          rec.Attempts,
		IntegrityFailures: rec.IntegrityFailures,
		TelemetryErrors:   rec.TelemetryErrors,
		Battery: battery.Reading{
			BusVoltageMillivolts: rec.BatteryMillivolts,
			At:                   fromMillis(rec.BatteryAt),
		},
		ShutdownCommand:      sbproto.Kind(rec.ShutdownCommand),
		RemainingAtShutdown:  time.Duration(rec.RemainingAtShutdown) * time.Millisecond,
		ShutdownAcknowledged: rec.ShutdownAcknowledged,
		Link: link.Statistics{
			BytesSent:      rec.Link.BytesSent,
			BytesReceived:  rec.Link.BytesReceived,
			FramesSent:     rec.Link.FramesSent,
			FramesReceived: rec.Link.FramesReceived,
			DecodeErrors:   rec.Link.DecodeErrors,
			ShortFrames:    rec.Link.ShortFrames,
			Rejections:     rec.Link.Rejections,
			Timeouts:       rec.Link.Timeouts,
			IOErrors:       rec.Link.IOErrors,
		},
	}
	for _, s := range rec.States {
		r.States = append(r.States, session.State(s))
	}
	for _, f := range rec.Files {
		if len(f.Digest) != transfer.DigestSize {
			return session.Report{}, fmt.Errorf("file %s: digest is %d bytes", f.Name, len(f.Digest))
		}
		res := transfer.Result{Name: f.Name, Size: f.Size}
		copy(res.Digest[:], f.Digest)
		r.Files = append(r.Files, res)
	}
	return r, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
