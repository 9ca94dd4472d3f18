// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Handshake results.
const (
	HandshakeAccepted     = "accepted"
	HandshakeMissingToken = "missing_token"
	HandshakeInvalidToken = "invalid_token"
)

// Emit targets and results.
const (
	TargetUser = "user"
	TargetAll  = "all"

	EmitSent           = "sent"
	EmitNotInitialized = "not_initialized"
	EmitFailed         = "failed"
)

// Connections is the gauge of admitted connections currently open.
// Use RegisterMetrics to register this with a Prometheus registry.
var Connections = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "taskhub_realtime_connections",
		Help: "Number of admitted real-time connections currently open",
	},
)

// Handshakes is the counter for handshake outcomes.
// Use RegisterMetrics to register this with a Prometheus registry.
var Handshakes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskhub_realtime_handshakes_total",
		Help: "Total number of socket handshakes by result",
	},
	[]string{"result"},
)

// Emits is the counter for emitter calls.
// Use RegisterMetrics to register this with a Prometheus registry.
var Emits = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskhub_realtime_emits_total",
		Help: "Total number of emit calls by target and result",
	},
	[]string{"target", "result"},
)

// Notifications is the counter for notifications produced by the bridge.
// Use RegisterMetrics to register this with a Prometheus registry.
var Notifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskhub_realtime_notifications_total",
		Help: "Total number of notifications pushed by the bridge, by emitted event",
	},
	[]string{"event"},
)

// RegisterMetrics registers realtime package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Connections)
	reg.MustRegister(Handshakes)
	reg.MustRegister(Emits)
	reg.MustRegister(Notifications)
}

// RecordHandshake increments the handshake counter.
func RecordHandshake(result string) {
	Handshakes.WithLabelValues(result).Inc()
}

// RecordEmit increments the emit counter.
func RecordEmit(target, result string) {
	Emits.WithLabelValues(target, result).Inc()
}

// RecordNotification increments the notification counter for an emitted event name.
func RecordNotification(event string) {
	Notifications.WithLabelValues(event).Inc()
}
