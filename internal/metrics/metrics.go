// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes session counters for the node exporter textfile
// collector. The flight computer has no scrape endpoint, so metrics are
// written to a file when a session ends.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	linkFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Command frames exchanged with the payload.",
		},
		[]string{"direction", "kind"},
	)
	linkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "link",
			Name:      "errors_total",
			Help:      "Link errors by type (decode, short, rejected, timeout, io).",
		},
		[]string{"type"},
	)
	transferResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "transfer",
			Name:      "results_total",
			Help:      "File transfer attempts by result.",
		},
		[]string{"result"},
	)
	transferBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Bytes of verified files persisted.",
		},
	)
	busVoltage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sidecar",
			Subsystem: "battery",
			Name:      "bus_voltage_millivolts",
			Help:      "Last sampled power bus voltage.",
		},
	)
	telemetryErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "battery",
			Name:      "telemetry_errors_total",
			Help:      "Failed bus voltage reads.",
		},
	)
	sessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sidecar",
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session state as its numeric value.",
		},
	)
	sessionRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sidecar",
			Subsystem: "session",
			Name:      "remaining_seconds",
			Help:      "Session time left when last sampled.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			linkFrames, linkErrors,
			transferResults, transferBytes,
			busVoltage, telemetryErrors,
			sessionState, sessionRemaining,
		)
	})
}

func RecordFrame(direction, kind string) {
	RegisterMetrics()
	linkFrames.WithLabelValues(direction, kind).Inc()
}

func RecordLinkError(errType string) {
	RegisterMetrics()
	linkErrors.WithLabelValues(errType).Inc()
}

func RecordTransfer(result string, size int) {
	RegisterMetrics()
	transferResults.WithLabelValues(result).Inc()
	if size > 0 {
		transferBytes.Add(float64(size))
	}
}

func RecordBusVoltage(millivolts int) {
	RegisterMetrics()
	busVoltage.Set(float64(millivolts))
}

func RecordTelemetryError() {
	RegisterMetrics()
	telemetryErrors.Inc()
}

func RecordSessionState(state int, remainingSeconds float64) {
	RegisterMetrics()
	sessionState.Set(float64(state))
	sessionRemaining.Set(remainingSeconds)
}

// WriteTextfile writes every registered metric to path in the text
// exposition format
func WriteTextfile(path string) error {
	RegisterMetrics()
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
