// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link runs command handshakes over a half-duplex byte stream.
//
// Reads are one byte at a time so that a completed frame never consumes
// bytes that belong to the raw file-transfer stream that follows it.
// Timeouts are enforced by polling the clock between reads; the transport
// is expected to return zero bytes after its own short read timeout.
package link

import (
	"errors"
	"io"
	"time"

	"github.com/Thermoquad/sidecar/internal/clock"
	"github.com/Thermoquad/sidecar/internal/metrics"
	"github.com/Thermoquad/sidecar/pkg/sbproto"
	"github.com/rs/zerolog"
)

// Port is the byte stream to the payload
type Port interface {
	io.Reader
	io.Writer
}

// Statistics tracks link traffic and errors
type Statistics struct {
	BytesSent      uint64
	BytesReceived  uint64
	FramesSent     uint64
	FramesReceived uint64
	DecodeErrors   uint64
	ShortFrames    uint64
	Rejections     uint64
	Timeouts       uint64
	IOErrors       uint64
}

// Link owns the port for the duration of a session. Only one expectation
// may be outstanding at a time.
type Link struct {
	port    Port
	clock   clock.Clock
	decoder *sbproto.Decoder
	log     zerolog.Logger
	stats   Statistics
	buf     [1]byte
}

// New creates a link over port
func New(port Port, clk clock.Clock, logger zerolog.Logger) *Link {
	return &Link{
		port:    port,
		clock:   clk,
		decoder: sbproto.NewDecoder(),
		log:     logger.With().Str("component", "link").Logger(),
	}
}

// Stats returns a snapshot of the link statistics
func (l *Link) Stats() Statistics {
	return l.stats
}

// Send encodes and writes one command
func (l *Link) Send(c sbproto.Command) error {
	wire := sbproto.Encode(c)
	n, err := l.port.Write(wire)
	if err == nil && n != len(wire) {
		err = io.ErrShortWrite
	}
	if err != nil {
		l.stats.IOErrors++
		metrics.RecordLinkError("io")
		return &IOError{Op: "write", Err: err}
	}

	l.stats.BytesSent += uint64(n)
	l.stats.FramesSent++
	metrics.RecordFrame("tx", sbproto.FormatKind(c.Kind))
	l.log.Debug().Str("kind", sbproto.FormatKind(c.Kind)).Int("bytes", n).Msg("frame sent")
	return nil
}

// ReadFrame reads until a terminator completes a frame or deadline passes.
// Returns ErrTimedOut on deadline, decode errors as returned by the
// decoder, or an *IOError.
func (l *Link) ReadFrame(deadline time.Time) (sbproto.Command, error) {
	for {
		if l.clock.Now().After(deadline) {
			l.decoder.Reset()
			return sbproto.Command{}, ErrTimedOut
		}

		n, err := l.port.Read(l.buf[:])
		if err != nil {
			l.stats.IOErrors++
			metrics.RecordLinkError("io")
			return sbproto.Command{}, &IOError{Op: "read", Err: err}
		}
		if n == 0 {
			continue
		}
		l.stats.BytesReceived++

		cmd, err := l.decoder.DecodeByte(l.buf[0])
		if err != nil {
			if errors.Is(err, sbproto.ErrShortFrame) {
				l.stats.ShortFrames++
				metrics.RecordLinkError("short")
			} else {
				l.stats.DecodeErrors++
				metrics.RecordLinkError("decode")
			}
			return sbproto.Command{}, err
		}
		if cmd != nil {
			l.stats.FramesReceived++
			metrics.RecordFrame("rx", sbproto.FormatKind(cmd.Kind))
			return *cmd, nil
		}
	}
}

// Expect waits for a frame of the given kind.
//
// Returns the frame on match. The first well-formed frame of another kind,
// or a frame that fails to decode, ends the wait with a *RejectedError.
// Frames shorter than the minimum are line noise and are skipped. When
// timeout elapses a *TimeoutError is returned, whatever is buffered.
func (l *Link) Expect(kind sbproto.Kind, timeout time.Duration) (sbproto.Command, error) {
	deadline := l.clock.Now().Add(timeout)
	expected := sbproto.FormatKind(kind)

	for {
		cmd, err := l.ReadFrame(deadline)
		switch {
		case err == nil:
		case errors.Is(err, ErrTimedOut):
			l.stats.Timeouts++
			metrics.RecordLinkError("timeout")
			l.log.Warn().Str("expected", expected).Dur("timeout", timeout).Msg("handshake timed out")
			return sbproto.Command{}, &TimeoutError{Expected: kind, Timeout: timeout}
		case errors.Is(err, sbproto.ErrShortFrame):
			l.log.Debug().Hex("raw", l.decoder.RawBytes()).Msg("discarding short frame")
			continue
		case errors.Is(err, sbproto.ErrMalformedFrame):
			l.stats.Rejections++
			metrics.RecordLinkError("rejected")
			l.log.Error().Err(err).Str("expected", expected).Hex("raw", l.decoder.RawBytes()).Msg("undecodable frame")
			return sbproto.Command{}, &RejectedError{Expected: kind, Err: err}
		default:
			return sbproto.Command{}, err
		}

		if cmd.Kind != kind {
			l.stats.Rejections++
			metrics.RecordLinkError("rejected")
			l.log.Error().
				Str("expected", expected).
				Str("received", sbproto.FormatKind(cmd.Kind)).
				Hex("raw", l.decoder.RawBytes()).
				Msg("unexpected frame")
			return cmd, &RejectedError{Expected: kind, Received: &cmd}
		}

		l.log.Debug().Str("kind", expected).Msg("frame acknowledged")
		return cmd, nil
	}
}

// SendAndAwait transmits c and then waits for ack. There is no
// retransmission; callers loop on ErrTimedOut if they want retries.
func (l *Link) SendAndAwait(c sbproto.Command, ack sbproto.Kind, timeout time.Duration) (sbproto.Command, error) {
	if err := l.Send(c); err != nil {
		return sbproto.Command{}, err
	}
	return l.Expect(ack, timeout)
}
