// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"fmt"
	"sync"

	"github.com/fanclub/master/pkg/log"
	"github.com/nats-io/nats.go"
)

// Config configures the optional NATS bridge.
type Config struct {
	Address       string
	Username      string
	Password      string
	CredsFilePath string
}

// FeedbackSubject and ControlSubject are the fixed subjects the bridge
// uses (spec §6.5): no other subjects are published or subscribed.
const (
	FeedbackSubject = "fanclub.feedback"
	ControlSubject  = "fanclub.control"
)

// ControlHandler processes one inbound control message's raw line-protocol
// payload.
type ControlHandler func(data []byte)

// Bridge wraps a NATS connection. A Bridge with no configured address is
// inert: Publish is a no-op and metrics.BridgeConnected stays at 0, so the
// rest of the master runs identically with or without a telemetry bridge.
type Bridge struct {
	mu      sync.Mutex
	conn    *nats.Conn
	sub     *nats.Subscription
	metrics *Metrics
}

// Connect dials the configured NATS server. A zero Config is valid and
// yields an inert bridge.
func Connect(cfg Config, metrics *Metrics) (*Bridge, error) {
	b := &Bridge{metrics: metrics}
	if cfg.Address == "" {
		log.Infof("telemetry: no bridge address configured, running without NATS")
		return b, nil
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if metrics != nil {
			metrics.BridgeConnected.Set(0)
		}
		if err != nil {
			log.Warnf("telemetry: bridge disconnected: %v", err)
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		if metrics != nil {
			metrics.BridgeConnected.Set(1)
		}
		log.Infof("telemetry: bridge reconnected to %s", nc.ConnectedUrl())
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: connect: %w", err)
	}
	b.conn = nc
	if metrics != nil {
		metrics.BridgeConnected.Set(1)
	}
	log.Infof("telemetry: bridge connected to %s", cfg.Address)
	return b, nil
}

// Publish sends a line-protocol-encoded payload on FeedbackSubject. It
// never blocks and is best-effort: a connection error is logged, not
// returned, because the control loop must not stall on telemetry.
func (b *Bridge) Publish(data []byte) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Publish(FeedbackSubject, data); err != nil {
		log.Warnf("telemetry: publish failed: %v", err)
		return
	}
	if b.metrics != nil {
		b.metrics.FeedbackPublished.Inc()
	}
}

// SubscribeControl registers handler for ControlSubject. A no-op when the
// bridge is inert.
func (b *Bridge) SubscribeControl(handler ControlHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	sub, err := b.conn.Subscribe(ControlSubject, func(msg *nats.Msg) {
		if b.metrics != nil {
			b.metrics.ControlReceived.Inc()
		}
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("telemetry: subscribe: %w", err)
	}
	b.sub = sub
	return nil
}

// Close releases the subscription and connection, if any.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
		b.sub = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}
