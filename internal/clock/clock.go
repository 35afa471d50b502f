// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package clock abstracts the monotonic clock used for protocol timeouts
// and session budgets.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and blocking sleeps
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Real is the wall clock. time.Now carries a monotonic reading, so
// durations between two Now calls are immune to clock steps.
type Real struct{}

func (Real) Now() time.Time        { return time.Now() }
func (Real) Sleep(d time.Duration) { time.Sleep(d) }

// Since returns the time elapsed since t according to c
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Manual is a clock that only moves when told to. Sleep advances it
// immediately. Safe for use from several goroutines.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock starting at start
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Sleep(d time.Duration) {
	m.Advance(d)
}

// Advance moves the clock forward by d
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
