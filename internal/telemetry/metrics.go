// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package telemetry exposes the master's external bridge (spec SPEC_FULL
// §4.9, §6.5): Prometheus metrics and a NATS publish/subscribe feed of
// feedback vectors and control commands. Connection loss on either side
// must never block the control loop.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the closed set of Prometheus collectors the master exposes.
type Metrics struct {
	ConnectedSlaves   prometheus.Gauge
	FeedbackPublished prometheus.Counter
	ControlReceived   prometheus.Counter
	QueueOverflows    prometheus.Counter
	ControllerErrors  prometheus.Counter
	BridgeConnected   prometheus.Gauge
}

// NewMetrics constructs and registers the master's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedSlaves: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fanclub", Subsystem: "master", Name: "connected_slaves",
			Help: "Number of slaves currently in the Connected state.",
		}),
		FeedbackPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fanclub", Subsystem: "master", Name: "feedback_published_total",
			Help: "Feedback vectors published to the telemetry bridge.",
		}),
		ControlReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fanclub", Subsystem: "master", Name: "control_received_total",
			Help: "Control commands received through the HTTP API or the telemetry bridge.",
		}),
		QueueOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fanclub", Subsystem: "master", Name: "queue_overflows_total",
			Help: "Acquisition or processor queue drops (spec §4.4).",
		}),
		ControllerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fanclub", Subsystem: "master", Name: "controller_errors_total",
			Help: "Errors raised while applying controller output.",
		}),
		BridgeConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fanclub", Subsystem: "master", Name: "bridge_connected",
			Help: "1 if the NATS bridge connection is up, else 0.",
		}),
	}
	reg.MustRegister(
		m.ConnectedSlaves, m.FeedbackPublished, m.ControlReceived,
		m.QueueOverflows, m.ControllerErrors, m.BridgeConnected,
	)
	return m
}
