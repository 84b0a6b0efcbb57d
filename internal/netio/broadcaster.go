// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package netio

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fanclub/master/pkg/log"
)

// Mode selects how the Broadcaster addresses the network (spec §4.3).
type Mode int32

const (
	ModeBroadcast Mode = iota
	ModeTargetted
)

// Broadcaster emits the periodic heartbeat frame that lets slaves
// discover (or re-discover) the master. Mode changes are atomic (spec
// §4.3): a reader goroutine may switch modes concurrently with the send
// loop without any observed torn state.
type Broadcaster struct {
	conn         *net.UDPConn
	passcode     string
	listenerPort int
	broadcastIP  string
	port         int

	mode    atomic.Int32
	mu      sync.Mutex
	targets []*net.UDPAddr

	indexDelta atomic.Int64
}

// NewBroadcaster opens the UDP socket used to send heartbeats. It does
// not start sending until Run is called.
func NewBroadcaster(broadcastIP string, port, listenerPort int, passcode string) (*Broadcaster, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("netio: broadcaster: %w", err)
	}
	conn.SetWriteBuffer(1 << 16)

	b := &Broadcaster{
		conn:         conn,
		passcode:     passcode,
		listenerPort: listenerPort,
		broadcastIP:  broadcastIP,
		port:         port,
	}
	return b, nil
}

// SetMode atomically switches between Broadcast and Targetted addressing.
func (b *Broadcaster) SetMode(m Mode) { b.mode.Store(int32(m)) }

// Mode reports the current addressing mode.
func (b *Broadcaster) Mode() Mode { return Mode(b.mode.Load()) }

// SetTargets replaces the unicast sweep list used in Targetted mode.
func (b *Broadcaster) SetTargets(addrs []*net.UDPAddr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets = addrs
}

// SetIndexDelta sets the index_delta field advertised in the next
// heartbeat (used by slaves to detect they've missed index reassignment).
func (b *Broadcaster) SetIndexDelta(delta int) { b.indexDelta.Store(int64(delta)) }

// Close releases the underlying socket.
func (b *Broadcaster) Close() error { return b.conn.Close() }

// Run sends a heartbeat every period until ctx is cancelled, returning
// when the context is done (spec §4.3, §5: cancellable, joins cleanly).
func (b *Broadcaster) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sendOnce()
		}
	}
}

func (b *Broadcaster) sendOnce() {
	payload := []byte(EncodeBroadcast(b.passcode, b.listenerPort, int(b.indexDelta.Load())))

	switch b.Mode() {
	case ModeBroadcast:
		addr := &net.UDPAddr{IP: net.IPv4bcast, Port: b.port}
		if b.broadcastIP != "<broadcast>" && b.broadcastIP != "" {
			if ip := net.ParseIP(b.broadcastIP); ip != nil {
				addr.IP = ip
			}
		}
		if _, err := b.conn.WriteToUDP(payload, addr); err != nil {
			log.Warnf("netio: broadcaster: send failed: %v", err)
		}
	case ModeTargetted:
		b.mu.Lock()
		targets := b.targets
		b.mu.Unlock()
		for _, addr := range targets {
			if _, err := b.conn.WriteToUDP(payload, addr); err != nil {
				log.Warnf("netio: broadcaster: targetted send to %s failed: %v", addr, err)
			}
		}
	}
}
