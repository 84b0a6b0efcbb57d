// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fanclub/master/pkg/log"
	"golang.org/x/time/rate"
)

// Inbound is a successfully parsed frame plus the peer it arrived from.
type Inbound struct {
	Frame *Frame
	From  *net.UDPAddr
}

// Listener owns the single UDP socket the master receives slave traffic
// on (spec §4.3). Malformed frames are dropped and logged at a bounded
// rate rather than per-occurrence, so a misbehaving or hostile peer
// cannot flood the log (spec §7: "rate-limit log").
type Listener struct {
	conn *net.UDPConn
	out  chan Inbound

	mu          sync.Mutex
	errorLimits map[string]*rate.Limiter

	protocolErrors atomic.Int64
}

// NewListener binds the listener socket on port. A bind failure here is
// the spec §6.2 exit-code-3 condition; callers should treat it as fatal.
func NewListener(port int) (*Listener, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("netio: listener: bind :%d: %w", port, err)
	}
	return &Listener{
		conn:        conn,
		out:         make(chan Inbound, 256),
		errorLimits: make(map[string]*rate.Limiter),
	}, nil
}

// Inbound returns the channel of successfully parsed frames.
func (l *Listener) Inbound() <-chan Inbound { return l.out }

// ProtocolErrors returns the lifetime count of dropped malformed frames.
func (l *Listener) ProtocolErrors() int64 { return l.protocolErrors.Load() }

// Close releases the underlying socket.
func (l *Listener) Close() error { return l.conn.Close() }

// Conn returns the underlying socket so per-slave command links can send
// through the same bound port the listener reads on.
func (l *Listener) Conn() *net.UDPConn { return l.conn }

// Run reads datagrams until ctx is cancelled. The socket uses a short
// read deadline (spec §5: "small receive timeouts so tasks check
// cancellation promptly") so Run notices cancellation within ~100ms.
func (l *Listener) Run(ctx context.Context) {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Warnf("netio: listener: read error: %v", err)
			continue
		}

		frame, err := ParseInbound(string(buf[:n]))
		if err != nil {
			l.protocolErrors.Add(1)
			l.logRateLimited(addr.IP.String(), err)
			continue
		}

		select {
		case l.out <- Inbound{Frame: frame, From: addr}:
		default:
			log.Warnf("netio: listener: inbound queue full, dropping frame from %s", addr)
		}
	}
}

func (l *Listener) logRateLimited(peer string, err error) {
	l.mu.Lock()
	lim, ok := l.errorLimits[peer]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 1)
		l.errorLimits[peer] = lim
	}
	l.mu.Unlock()

	if lim.Allow() {
		log.Warnf("netio: listener: dropping malformed frame from %s: %v", peer, err)
	}
}
