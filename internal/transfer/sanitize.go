// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transfer

import (
	"bytes"
	"errors"
	"path"
	"strings"
)

// ErrInvalidFilename means nothing usable was left after sanitizing
var ErrInvalidFilename = errors.New("invalid filename")

// SanitizeFilename strips trailing terminator bytes and any directory
// prefix, keeping only the final path component.
func SanitizeFilename(raw []byte) (string, error) {
	name := string(bytes.TrimRight(raw, "\x00"))
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))

	switch name {
	case ".", "..", "/":
		return "", ErrInvalidFilename
	}
	if strings.IndexByte(name, 0) >= 0 {
		return "", ErrInvalidFilename
	}
	return name, nil
}
