// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package netio

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fanclub/master/pkg/log"
)

// TimeoutFunc is invoked when a SlaveLink exhausts its retransmit budget
// (spec §4.3: "on exhaustion, raises a timeout event to the slave
// manager").
type TimeoutFunc func(mac string)

// SlaveLink is the per-slave outbound command channel: it owns the
// sequence counter for commands sent to one slave and retransmits an
// unacknowledged command until maxTimeouts is reached.
type SlaveLink struct {
	mac         string
	passcode    string
	conn        *net.UDPConn
	addr        *net.UDPAddr
	seq         atomic.Uint32
	maxTimeouts int
	retryPeriod time.Duration
	onTimeout   TimeoutFunc

	mu      sync.Mutex
	pending map[uint32]int // seq -> retransmit count so far
}

// NewSlaveLink creates a command channel to one slave's endpoint, sharing
// the given UDP socket (commands are small and infrequent enough that all
// slaves can share one outbound socket).
func NewSlaveLink(conn *net.UDPConn, mac, passcode string, addr *net.UDPAddr, maxTimeouts int, retryPeriod time.Duration, onTimeout TimeoutFunc) *SlaveLink {
	return &SlaveLink{
		mac: mac, passcode: passcode, conn: conn, addr: addr,
		maxTimeouts: maxTimeouts, retryPeriod: retryPeriod, onTimeout: onTimeout,
		pending: make(map[uint32]int),
	}
}

// Send transmits one command frame, assigning the next sequence number,
// and schedules retransmission until Ack is called for that sequence.
func (l *SlaveLink) Send(cmd Command, args ...string) (uint32, error) {
	seq := l.seq.Add(1)
	l.mu.Lock()
	l.pending[seq] = 0
	l.mu.Unlock()

	if err := l.transmit(seq, cmd, args...); err != nil {
		return seq, err
	}
	go l.retransmitLoop(seq, cmd, args)
	return seq, nil
}

func (l *SlaveLink) transmit(seq uint32, cmd Command, args ...string) error {
	payload := []byte(EncodeCommand(seq, l.passcode, cmd, args...))
	if _, err := l.conn.WriteToUDP(payload, l.addr); err != nil {
		return fmt.Errorf("netio: slavelink: send to %s: %w", l.mac, err)
	}
	return nil
}

func (l *SlaveLink) retransmitLoop(seq uint32, cmd Command, args []string) {
	ticker := time.NewTicker(l.retryPeriod)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		count, still := l.pending[seq]
		l.mu.Unlock()
		if !still {
			return // acked
		}
		if count >= l.maxTimeouts {
			l.mu.Lock()
			delete(l.pending, seq)
			l.mu.Unlock()
			log.Warnf("netio: slavelink: %s exhausted retransmits for seq %d", l.mac, seq)
			if l.onTimeout != nil {
				l.onTimeout(l.mac)
			}
			return
		}
		l.mu.Lock()
		l.pending[seq] = count + 1
		l.mu.Unlock()
		if err := l.transmit(seq, cmd, args...); err != nil {
			log.Warnf("netio: slavelink: retransmit to %s failed: %v", l.mac, err)
		}
	}
}

// Ack marks a sequence number as acknowledged, stopping retransmission.
func (l *SlaveLink) Ack(seq uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, seq)
}
