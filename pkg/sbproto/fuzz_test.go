// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbproto

import (
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomCommand builds a random command whose payload is printable, the
// way filenames and timestamps are on the real link, or a remaining time
// without zero bytes
func randomCommand(rng *rand.Rand) Command {
	switch rng.Intn(5) {
	case 0:
		return NewTime(time.Unix(rng.Int63n(1<<40), 0))
	case 1:
		name := make([]byte, 1+rng.Intn(MaxPayloadSize))
		for i := range name {
			name[i] = byte(0x20 + rng.Intn(0x5F))
		}
		return NewStartupCommand(name)
	case 2:
		// Both bytes non-zero so the frame stays valid
		hi, lo := 1+rng.Intn(0xFF), 1+rng.Intn(0xFF)
		return NewPowerDownWithTime(uint16(hi<<8 | lo))
	default:
		simple := []Kind{
			KindInitialised, KindInitialisedAcknowledge, KindTimeAcknowledge,
			KindStartupCommandAcknowledge, KindPowerDown, KindPowerDownAcknowledge,
		}
		return NewSimple(simple[rng.Intn(len(simple))])
	}
}

// randomNoise returns up to maxLen bytes that contain neither the
// terminator nor a command tag
func randomNoise(rng *rand.Rand, maxLen int) []byte {
	noise := make([]byte, rng.Intn(maxLen+1))
	for i := range noise {
		noise[i] = byte(0x0A + rng.Intn(0xF6))
	}
	return noise
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

func TestFuzz_RoundTripWithNoise(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		c := randomCommand(rng)
		noise := randomNoise(rng, 16)
		frame := append(noise, Encode(c)...)

		got, err := Decode(frame)
		if err != nil {
			t.Fatalf("round %d: %v with noise % X: %v", i, c, noise, err)
		}
		if !got.Equal(c) {
			t.Fatalf("round %d: got %v, want %v (noise % X)", i, got, c, noise)
		}
	}
}

func TestFuzz_RandomBytesNeverPanic(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	d := NewDecoder()

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(MaxAccumulate))
		rng.Read(data)
		for _, b := range data {
			c, err := d.DecodeByte(b)
			if err != nil {
				var decErr *DecodeError
				if !errors.As(err, &decErr) {
					t.Fatalf("round %d: unexpected error type %T", i, err)
				}
				continue
			}
			if c != nil && !c.Kind.Known() {
				t.Fatalf("round %d: decoded unknown kind 0x%02X", i, byte(c.Kind))
			}
		}
		if d.Pending() > MaxAccumulate {
			t.Fatalf("round %d: accumulator grew to %d", i, d.Pending())
		}
	}
}

func TestFuzz_StreamResync(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds() / 10
	if rounds == 0 {
		rounds = 1
	}

	for i := 0; i < rounds; i++ {
		d := NewDecoder()
		want := make([]Command, 0, 8)
		var stream []byte
		for j := 0; j < 8; j++ {
			c := randomCommand(rng)
			want = append(want, c)
			stream = append(stream, randomNoise(rng, 8)...)
			stream = append(stream, Encode(c)...)
		}

		cmds, errs := feed(d, stream)
		if len(errs) != 0 {
			t.Fatalf("round %d: unexpected errors %v", i, errs)
		}
		if len(cmds) != len(want) {
			t.Fatalf("round %d: decoded %d commands, want %d", i, len(cmds), len(want))
		}
		for j := range want {
			if !cmds[j].Equal(want[j]) {
				t.Fatalf("round %d: command %d = %v, want %v", i, j, cmds[j], want[j])
			}
		}
	}
}
