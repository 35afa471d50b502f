// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbproto

import (
	"bytes"
	"fmt"
)

// Decode parses one frame. The trailing terminator is optional.
//
// Leading noise is tolerated. Candidate starts are tried from the longest
// window that fits MaxFrameSize downward, and the first one whose length
// byte matches the window, whose tag is known and whose payload fits the
// kind wins. The tail of a payload can itself look like a shorter frame,
// so the longest consistent candidate is the real one. Anything before an
// interior terminator belongs to an earlier frame and is ignored.
func Decode(frame []byte) (Command, error) {
	body := frame
	if n := len(body); n > 0 && body[n-1] == Terminator {
		body = body[:n-1]
	}
	if i := bytes.LastIndexByte(body, Terminator); i >= 0 {
		body = body[i+1:]
	}
	if len(body) < MinFrameSize-1 {
		return Command{}, &DecodeError{Err: ErrShortFrame, Raw: bytes.Clone(frame)}
	}

	minStart := len(body) - (MaxFrameSize - 1)
	if minStart < 0 {
		minStart = 0
	}

	var s scan
	for start := minStart; start <= len(body)-2; start++ {
		if cmd, ok := s.try(body, start); ok {
			return cmd, nil
		}
	}

	switch {
	case s.payloadErr != nil:
		return Command{}, &DecodeError{
			Err:    ErrMalformedFrame,
			Tag:    byte(s.payloadKind),
			Detail: fmt.Sprintf("%s: %v", FormatKind(s.payloadKind), s.payloadErr),
			Raw:    bytes.Clone(frame),
		}
	case s.sawUnknown:
		return Command{}, &DecodeError{Err: ErrUnknownCommand, Tag: s.unknownTag, Raw: bytes.Clone(frame)}
	default:
		return Command{}, &DecodeError{Err: ErrMalformedFrame, Detail: "no length-consistent frame", Raw: bytes.Clone(frame)}
	}
}

// scan remembers the first rejection of each kind while candidate frame
// starts are tried
type scan struct {
	unknownTag  byte
	sawUnknown  bool
	payloadErr  error
	payloadKind Kind
}

func (s *scan) try(body []byte, start int) (Command, bool) {
	payloadLen := int(body[start+1]) - 1
	if payloadLen != len(body)-start-2 {
		return Command{}, false
	}

	kind := Kind(body[start])
	if !kind.Known() {
		if !s.sawUnknown {
			s.unknownTag = body[start]
			s.sawUnknown = true
		}
		return Command{}, false
	}

	payload := body[start+2:]
	if err := checkPayload(kind, payload); err != nil {
		if s.payloadErr == nil {
			s.payloadErr = err
			s.payloadKind = kind
		}
		return Command{}, false
	}

	cmd := Command{Kind: kind}
	if len(payload) > 0 {
		cmd.Payload = bytes.Clone(payload)
	}
	return cmd, true
}

// checkPayload verifies the payload shape required by a kind
func checkPayload(kind Kind, payload []byte) error {
	switch kind {
	case KindTime:
		_, err := parseUnixSeconds(payload)
		return err
	case KindStartupCommand:
		if len(payload) == 0 {
			return fmt.Errorf("empty startup command")
		}
	case KindPowerDownWithTime:
		if len(payload) != RemainingTimeSize {
			return fmt.Errorf("remaining time must be %d bytes, got %d", RemainingTimeSize, len(payload))
		}
	default:
		if len(payload) != 0 {
			return fmt.Errorf("unexpected %d byte payload", len(payload))
		}
	}
	return nil
}

// Decoder accumulates a byte stream and decodes a command at every
// terminator.
type Decoder struct {
	acc []byte
	raw []byte
}

// NewDecoder creates a new stream decoder
func NewDecoder() *Decoder {
	return &Decoder{
		acc: make([]byte, 0, MaxAccumulate),
		raw: make([]byte, 0, MaxAccumulate+1),
	}
}

// Reset discards any partially accumulated frame
func (d *Decoder) Reset() {
	d.acc = d.acc[:0]
}

// Pending returns the number of bytes buffered since the last terminator
func (d *Decoder) Pending() int {
	return len(d.acc)
}

// RawBytes returns the bytes of the last completed frame, terminator
// included. The slice is reused by the next completed frame.
func (d *Decoder) RawBytes() []byte {
	return d.raw
}

// DecodeByte processes a single byte.
// Returns a command when b completes a valid frame, nil while a frame is
// incomplete, and an error when a completed frame fails to decode.
func (d *Decoder) DecodeByte(b byte) (*Command, error) {
	if b != Terminator {
		if len(d.acc) >= MaxAccumulate {
			// Keep the tail; a valid frame can only be in the last
			// MaxFrameSize bytes.
			d.acc = append(d.acc[:0], d.acc[len(d.acc)-MaxFrameSize:]...)
		}
		d.acc = append(d.acc, b)
		return nil, nil
	}

	d.raw = append(d.raw[:0], d.acc...)
	d.raw = append(d.raw, Terminator)
	d.acc = d.acc[:0]

	if len(d.raw) < MinFrameSize {
		return nil, &DecodeError{Err: ErrShortFrame, Raw: bytes.Clone(d.raw)}
	}

	cmd, err := Decode(d.raw)
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}
