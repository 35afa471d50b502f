// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/sidecar/internal/battery"
	"github.com/Thermoquad/sidecar/internal/session"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// Session monitor model
type monitorModel struct {
	connInfo  string
	startup   string
	cfg       session.Config
	cancel    context.CancelFunc
	state     session.State
	remaining time.Duration
	sampledAt time.Time
	battery   *battery.Reading
	eventLog  []eventLogEntry
	maxLog    int
	spinner   spinner.Model
	progress  progress.Model
	width     int
	height    int
	stopping  bool
	report    *session.Report
}

// Messages
type tickMsg time.Time
type sessionEventMsg session.Event
type sessionDoneMsg session.Report

func initialMonitorModel(connInfo string, cfg session.Config, cancel context.CancelFunc) monitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	return monitorModel{
		connInfo: connInfo,
		startup:  cfg.Startup,
		cfg:      cfg,
		cancel:   cancel,
		maxLog:   100,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient()),
		width:    80,
		height:   24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// The session still shuts the payload down before exiting
			if !m.stopping && m.cancel != nil {
				m.stopping = true
				m.cancel()
				m.addLogEntry("Stop requested, shutting payload down", true)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = max(msg.Width-30, 10)

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case sessionEventMsg:
		m.applyEvent(session.Event(msg))

	case sessionDoneMsg:
		r := session.Report(msg)
		m.report = &r
		return m, tea.Quit
	}

	return m, nil
}

func (m *monitorModel) applyEvent(e session.Event) {
	if e.State != m.state {
		m.addLogEntry("State "+e.State.String(), false)
	}
	m.state = e.State
	m.remaining = e.Remaining
	m.sampledAt = e.At

	switch e.Type {
	case session.EventBattery:
		reading := e.Battery
		m.battery = &reading
	case session.EventTransfer:
		if e.File != nil {
			m.addLogEntry(fmt.Sprintf("Received %s (%d bytes, verified)", e.File.Name, e.File.Size), false)
		}
	case session.EventError:
		if e.Err != nil {
			m.addLogEntry(e.Err.Error(), true)
		}
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLog {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLog:]
	}
}

// liveRemaining extrapolates the last sampled remaining time
func (m monitorModel) liveRemaining() time.Duration {
	if m.remaining <= 0 || m.sampledAt.IsZero() {
		return m.remaining
	}
	left := m.remaining - time.Since(m.sampledAt)
	if left < 0 {
		return 0
	}
	return left
}

func (m monitorModel) View() string {
	if m.report != nil {
		return fmt.Sprintf("Session finished: %s\n", m.report.Exit)
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	infoStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("SIDECAR - PAYLOAD SESSION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Startup: %s | Press 'q' to stop", m.connInfo, m.startup)))
	s.WriteString("\n\n")

	status := strings.Builder{}
	status.WriteString(fmt.Sprintf("%s %s %s\n", m.spinner.View(), labelStyle.Render("State:"), valueStyle.Render(m.state.String())))

	if m.state >= session.Transferring && m.remaining > 0 {
		left := m.liveRemaining()
		status.WriteString(fmt.Sprintf("%s %s  %s\n",
			labelStyle.Render("Remaining:"),
			m.progress.ViewAs(float64(left)/float64(m.cfg.Duration)),
			valueStyle.Render(left.Round(time.Second).String()),
		))
		status.WriteString(headerStyle.Render(fmt.Sprintf("  shutdown allowance %s", m.cfg.ShutdownAllowance)))
		status.WriteString("\n")
	}

	if m.battery != nil {
		style := valueStyle
		if battery.IsLow(*m.battery, m.cfg.BatteryThresholdMillivolts) {
			style = errorStyle
		}
		status.WriteString(fmt.Sprintf("%s %s %s",
			labelStyle.Render("Bus voltage:"),
			style.Render(fmt.Sprintf("%d mV", m.battery.BusVoltageMillivolts)),
			headerStyle.Render(fmt.Sprintf("(threshold %d mV)", m.cfg.BatteryThresholdMillivolts)),
		))
	} else {
		status.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Bus voltage:"), headerStyle.Render("no reading")))
	}

	s.WriteString(boxStyle.Render(status.String()))
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := max(m.height-14, 5)
	startIdx := max(len(m.eventLog)-logHeight, 0)

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), infoStyle.Render("ℹ "+entry.message)))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))
	return s.String()
}
