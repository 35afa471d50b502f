// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transfer

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/sidecar/internal/clock"
	"github.com/Thermoquad/sidecar/internal/link"
)

// ErrUnexpectedToken means a token other than the expected one arrived
var ErrUnexpectedToken = errors.New("unexpected token")

// ReadField reads one field. The field ends at the first read shorter
// than chunkSize, or at an empty read once data has arrived. Returns
// link.ErrTimedOut if the field is not complete by deadline. Transport
// errors are returned unchanged.
func ReadField(r io.Reader, clk clock.Clock, chunkSize int, deadline time.Time) ([]byte, error) {
	buf := make([]byte, chunkSize)
	var field []byte

	for {
		if clk.Now().After(deadline) {
			return nil, link.ErrTimedOut
		}

		n, err := r.Read(buf)
		if err != nil {
			return nil, err
		}
		field = append(field, buf[:n]...)

		switch {
		case n == 0 && len(field) > 0:
			return field, nil
		case n == 0:
			continue
		case n < len(buf):
			return field, nil
		}
	}
}

// ReadExact reads exactly n bytes, or fails with link.ErrTimedOut
func ReadExact(r io.Reader, clk clock.Clock, n int, deadline time.Time) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		if clk.Now().After(deadline) {
			return nil, link.ErrTimedOut
		}
		m, err := r.Read(buf[got:])
		if err != nil {
			return nil, err
		}
		got += m
	}
	return buf, nil
}

// WriteToken writes a bare token
func WriteToken(w io.Writer, token string) error {
	n, err := io.WriteString(w, token)
	if err == nil && n != len(token) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", token, err)
	}
	return nil
}

// ExpectToken reads one field and checks it equals token
func ExpectToken(r io.Reader, clk clock.Clock, chunkSize int, token string, deadline time.Time) error {
	field, err := ReadField(r, clk, chunkSize, deadline)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", token, err)
	}
	if string(field) != token {
		return fmt.Errorf("expected %s, received %q: %w", token, field, ErrUnexpectedToken)
	}
	return nil
}
