// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// MemPort is one end of an in-memory duplex link. Each Write is delivered
// as a separate chunk so reads see the same boundaries a paced serial peer
// produces. A Read with nothing to deliver returns zero bytes after the
// read timeout, like a serial port.
type MemPort struct {
	in          <-chan []byte
	out         chan<- []byte
	pending     []byte
	readTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// Pipe returns two connected ports
func Pipe(readTimeout time.Duration) (*MemPort, *MemPort) {
	ab := make(chan []byte, 1024)
	ba := make(chan []byte, 1024)
	a := &MemPort{in: ba, out: ab, readTimeout: readTimeout}
	b := &MemPort{in: ab, out: ba, readTimeout: readTimeout}
	return a, b
}

func (m *MemPort) Read(p []byte) (int, error) {
	if len(m.pending) > 0 {
		n := copy(p, m.pending)
		m.pending = m.pending[n:]
		return n, nil
	}

	timer := time.NewTimer(m.readTimeout)
	defer timer.Stop()

	select {
	case chunk, ok := <-m.in:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, chunk)
		m.pending = chunk[n:]
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

func (m *MemPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) == 0 {
		return 0, nil
	}
	m.out <- bytes.Clone(p)
	return len(p), nil
}

// Close ends this side's output; the other side reads io.EOF once it has
// drained what was written.
func (m *MemPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.out)
	}
	return nil
}
