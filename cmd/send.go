// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sidecar/internal/clock"
	"github.com/Thermoquad/sidecar/internal/link"
	"github.com/Thermoquad/sidecar/pkg/sbproto"
)

var (
	sendTimeout time.Duration
	sendNoWait  bool
)

var sendCmd = &cobra.Command{
	Use:   "send KIND [ARG]",
	Short: "Send one command frame and wait for its acknowledgment",
	Long: `Send a single command to the payload, for bench work and recovery.

KIND is a command name such as POWER_DOWN or TIME (case-insensitive).
  time [UNIX_SECONDS]          defaults to now
  startup_command NAME
  power_down_with_time SECONDS
Other kinds take no argument.

Commands that have an acknowledgment are awaited unless --no-wait is given.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "How long to wait for the acknowledgment")
	sendCmd.Flags().BoolVar(&sendNoWait, "no-wait", false, "Do not wait for an acknowledgment")
}

func runSend(cmd *cobra.Command, args []string) error {
	command, err := parseCommandArgs(args, time.Now())
	if err != nil {
		return err
	}
	if problems := sbproto.ValidateCommand(command); len(problems) > 0 {
		return fmt.Errorf("cannot send %s: %s", sbproto.FormatKind(command.Kind), problems[0].Message)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info().Str("connection", connInfo).Msg("connected")

	l := link.New(conn, clock.Real{}, logger)
	ack, hasAck := sbproto.KindAck(command.Kind)
	if sendNoWait || !hasAck {
		if err := l.Send(command); err != nil {
			return err
		}
		fmt.Printf("Sent %s\n", sbproto.FormatKind(command.Kind))
		return nil
	}

	reply, err := l.SendAndAwait(command, ack, sendTimeout)
	if err != nil {
		return err
	}
	fmt.Print(sbproto.FormatCommand(time.Now(), reply))
	return nil
}

// parseKind accepts a command name as printed by FormatKind
func parseKind(name string) (sbproto.Kind, error) {
	for k := sbproto.KindInitialised; k.Known(); k++ {
		if strings.EqualFold(sbproto.FormatKind(k), name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", name)
}

func parseCommandArgs(args []string, now time.Time) (sbproto.Command, error) {
	kind, err := parseKind(args[0])
	if err != nil {
		return sbproto.Command{}, err
	}
	arg := ""
	if len(args) > 1 {
		arg = args[1]
	}

	switch kind {
	case sbproto.KindTime:
		if arg == "" {
			return sbproto.NewTime(now), nil
		}
		secs, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return sbproto.Command{}, fmt.Errorf("time %q: %w", arg, err)
		}
		return sbproto.NewTime(time.Unix(secs, 0)), nil
	case sbproto.KindStartupCommand:
		if arg == "" {
			return sbproto.Command{}, fmt.Errorf("%s needs a script name", args[0])
		}
		return sbproto.NewStartupCommand([]byte(arg)), nil
	case sbproto.KindPowerDownWithTime:
		secs, err := strconv.ParseUint(arg, 10, 16)
		if err != nil {
			return sbproto.Command{}, fmt.Errorf("remaining seconds %q: %w", arg, err)
		}
		return sbproto.NewPowerDownWithTime(uint16(secs)), nil
	}
	if arg != "" {
		return sbproto.Command{}, fmt.Errorf("%s takes no argument", sbproto.FormatKind(kind))
	}
	return sbproto.NewSimple(kind), nil
}
