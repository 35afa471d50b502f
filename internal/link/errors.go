// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

var (
	// ErrTimedOut means the expected frame did not arrive in time
	ErrTimedOut = errors.New("timed out")
	// ErrRejected means a frame other than the expected one arrived
	ErrRejected = errors.New("rejected")
	// ErrIO means the underlying transport failed
	ErrIO = errors.New("link i/o error")
)

// TimeoutError is returned by Expect when the deadline passes
type TimeoutError struct {
	Expected sbproto.Kind
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, sbproto.FormatKind(e.Expected))
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimedOut
}

// RejectedError is returned by Expect on the first frame that is not the
// expected one. Received is nil when the frame failed to decode.
type RejectedError struct {
	Expected sbproto.Kind
	Received *sbproto.Command
	Err      error
}

func (e *RejectedError) Error() string {
	if e.Received != nil {
		return fmt.Sprintf("expected %s, received %s", sbproto.FormatKind(e.Expected), e.Received)
	}
	return fmt.Sprintf("expected %s: %v", sbproto.FormatKind(e.Expected), e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// IOError wraps a transport fault
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("link %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func (e *IOError) Is(target error) bool {
	return target == ErrIO
}
