// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbproto

// Encode serializes a command to wire format, terminator included.
// Encoding never fails; payloads that cannot be framed (oversized, or
// containing the terminator) are reported by ValidateCommand.
func Encode(c Command) []byte {
	frame := make([]byte, 0, len(c.Payload)+MinFrameSize)
	frame = append(frame, byte(c.Kind), byte(len(c.Payload)+1))
	frame = append(frame, c.Payload...)
	return append(frame, Terminator)
}
