// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sbproto implements the command framing used between the flight
// computer and the auxiliary payload board.
//
// A frame is [kind][payload length + 1][payload...][terminator]. The
// terminator is a single zero byte and is never escaped, so payload bytes
// must not be zero. The length byte is offset by one so that it can never
// collide with the terminator.
package sbproto

// Framing
const (
	Terminator = 0x00

	// MinFrameSize counts kind, length and terminator.
	MinFrameSize   = 3
	MaxPayloadSize = 250
	MaxFrameSize   = MaxPayloadSize + MinFrameSize

	// MaxAccumulate bounds the receive accumulator. Older bytes are
	// dropped, which only ever discards line noise.
	MaxAccumulate = MaxFrameSize * 2
)

// Kind is the command tag byte.
type Kind uint8

// Command kinds. Tags are control characters so that printable payloads
// (filenames, timestamps) can never be mistaken for a frame start.
const (
	KindInitialised               Kind = 0x01
	KindInitialisedAcknowledge    Kind = 0x02
	KindTime                      Kind = 0x03
	KindTimeAcknowledge           Kind = 0x04
	KindStartupCommand            Kind = 0x05
	KindStartupCommandAcknowledge Kind = 0x06
	KindPowerDown                 Kind = 0x07
	KindPowerDownAcknowledge      Kind = 0x08
	KindPowerDownWithTime         Kind = 0x09
)

// RemainingTimeSize is the payload size of PowerDownWithTime.
const RemainingTimeSize = 2

// Known reports whether k is a recognised command tag.
func (k Kind) Known() bool {
	return k >= KindInitialised && k <= KindPowerDownWithTime
}

// KindAck returns the acknowledgment kind for a request kind, or false
// when the kind is itself an acknowledgment.
func KindAck(k Kind) (Kind, bool) {
	switch k {
	case KindInitialised:
		return KindInitialisedAcknowledge, true
	case KindTime:
		return KindTimeAcknowledge, true
	case KindStartupCommand:
		return KindStartupCommandAcknowledge, true
	case KindPowerDown, KindPowerDownWithTime:
		return KindPowerDownAcknowledge, true
	}
	return 0, false
}
