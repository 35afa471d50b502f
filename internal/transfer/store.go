// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transfer

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store persists verified files
type Store interface {
	Put(name string, data []byte) error
}

// DirStore writes files into a directory, replacing existing files of the
// same name.
type DirStore struct {
	Dir string
}

func (s DirStore) Put(name string, data []byte) error {
	if name != filepath.Base(name) {
		return fmt.Errorf("store %q: %w", name, ErrInvalidFilename)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, ".incoming-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, name)); err != nil {
		return fmt.Errorf("persist %s: %w", name, err)
	}
	return nil
}
