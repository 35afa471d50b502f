// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sbproto

import (
	"fmt"
	"time"
)

// FormatKind returns the human-readable name for a command kind
func FormatKind(k Kind) string {
	switch k {
	case KindInitialised:
		return "INITIALISED"
	case KindInitialisedAcknowledge:
		return "INITIALISED_ACK"
	case KindTime:
		return "TIME"
	case KindTimeAcknowledge:
		return "TIME_ACK"
	case KindStartupCommand:
		return "STARTUP_COMMAND"
	case KindStartupCommandAcknowledge:
		return "STARTUP_COMMAND_ACK"
	case KindPowerDown:
		return "POWER_DOWN"
	case KindPowerDownAcknowledge:
		return "POWER_DOWN_ACK"
	case KindPowerDownWithTime:
		return "POWER_DOWN_WITH_TIME"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(k))
	}
}

// FormatCommand formats a received command into a human-readable line
func FormatCommand(at time.Time, c Command) string {
	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n", at.Format("15:04:05.000"), FormatKind(c.Kind), byte(c.Kind), len(c.Payload))
	if detail := formatPayload(c); detail != "" {
		result += detail
	}
	return result
}

func formatPayload(c Command) string {
	switch c.Kind {
	case KindTime:
		if t, err := c.Time(); err == nil {
			return fmt.Sprintf("  Time: %s\n", t.Format(time.RFC3339))
		}
	case KindStartupCommand:
		return fmt.Sprintf("  Startup: %q\n", c.Payload)
	case KindPowerDownWithTime:
		if secs, ok := c.RemainingSeconds(); ok {
			return fmt.Sprintf("  Remaining: %d s\n", secs)
		}
	}

	if len(c.Payload) == 0 {
		return ""
	}

	// Default: hex dump
	result := "  Payload: "
	for i, b := range c.Payload {
		if i > 0 && i%16 == 0 {
			result += "\n           "
		}
		result += fmt.Sprintf("%02X ", b)
	}
	return result + "\n"
}
