// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package slave implements the SlaveManager: the authoritative, in-memory
// registry of fan-driver modules and their per-MAC lifecycle state machine
// (spec §3.2, §4.2).
package slave

import (
	"sync"
	"time"

	"github.com/fanclub/master/pkg/log"
	"github.com/fanclub/master/pkg/schema"
)

// Event is a demultiplexed wire event fed to Observe.
type Event int

const (
	// EventDiscover is fired the first time a slave answers a broadcast:
	// Available -> Known (spec.md §8 Scenario Test #1). It never by
	// itself reaches Connected; that requires a subsequent re-contact.
	EventDiscover Event = iota
	EventConnectReply
	EventHeartbeat
	EventFeedback
	EventRebootAck
	EventUpdateStart
	EventUpdateDone
)

// WireMessage is the demultiplexed shape Observe consumes; netio.Listener
// is responsible for parsing raw frames into this form.
type WireMessage struct {
	MAC      string
	Event    Event
	Endpoint *schema.Endpoint
	FanCount int
	Version  string
	RPM      []int
	DC       []int
}

// DisconnectionEvent is emitted (spec §4.2, §7: "standardized disconnection
// event") whenever a slave transitions into Disconnected.
type DisconnectionEvent struct {
	Index int
	MAC   string
	At    time.Time
}

// Manager owns the Slave set keyed by MAC and implements the transition
// table in spec §4.2. All exported methods are safe for concurrent use;
// state is protected by a single mutex rather than an actor goroutine
// because every operation here completes in O(1)-ish time with no
// blocking I/O, unlike the Archive's validate-and-persist path.
type Manager struct {
	mu          sync.Mutex
	byMAC       map[string]*schema.Slave
	order       []string // MAC in first-seen order; index_for stability
	maxFans     int
	decimals    int
	maxTimeouts int

	disconnected chan DisconnectionEvent
	onControl    func(mac string, fan int, duty int) error
}

// New creates an empty Manager. maxFans/decimals size the feedback vector;
// maxTimeouts is the consecutive-miss threshold for disconnection.
func New(maxFans, decimals, maxTimeouts int) *Manager {
	return &Manager{
		byMAC:        make(map[string]*schema.Slave),
		maxFans:      maxFans,
		decimals:     decimals,
		maxTimeouts:  maxTimeouts,
		disconnected: make(chan DisconnectionEvent, 64),
	}
}

// Disconnections returns the channel disconnection events are published
// on; the orchestrator's disconnection consumer drains it.
func (m *Manager) Disconnections() <-chan DisconnectionEvent { return m.disconnected }

// IndexFor returns the stable, dense index assigned to mac, allocating a
// new Available entry on first contact (spec §4.2: "first-seen order").
func (m *Manager) IndexFor(mac string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexForLocked(mac)
}

func (m *Manager) indexForLocked(mac string) int {
	if s, ok := m.byMAC[mac]; ok {
		return s.Index
	}
	idx := len(m.order)
	m.byMAC[mac] = &schema.Slave{
		Index:  idx,
		MAC:    mac,
		Status: schema.Available,
	}
	m.order = append(m.order, mac)
	return idx
}

// Observe demultiplexes one wire event into the appropriate slave's state
// machine transition (spec §4.2 table).
func (m *Manager) Observe(msg WireMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.indexForLocked(msg.MAC)
	s := m.byMAC[msg.MAC]
	now := time.Now()

	switch msg.Event {
	case EventDiscover:
		// First answer to a broadcast: allocate the endpoint and land on
		// Known, never Connected directly (spec.md §8 Scenario Test #1).
		if s.Status == schema.Available {
			s.Endpoint = msg.Endpoint
			if msg.FanCount > 0 {
				s.FanCount = msg.FanCount
			}
			if msg.Version != "" {
				s.Version = msg.Version
			}
			s.Misses = 0
			s.Status = schema.Known
		}
	case EventConnectReply:
		if s.Status == schema.Known {
			s.Endpoint = msg.Endpoint
			s.Misses = 0
			s.Status = schema.Connected
		}
	case EventHeartbeat:
		if s.Status == schema.Known || s.Status == schema.Disconnected {
			s.Endpoint = msg.Endpoint
			s.Misses = 0
			s.Status = schema.Connected
		}
		s.LastHeard = now
	case EventFeedback:
		// Tie-break (spec §4.2): an observed feedback message while
		// Disconnected promotes to Connected before tick's timeout scan
		// can run again.
		if s.Status == schema.Disconnected {
			s.Status = schema.Connected
			s.Misses = 0
		}
		if s.Status == schema.Connected {
			s.LastHeard = now
			s.Misses = 0
			if msg.FanCount > 0 {
				s.FanCount = msg.FanCount
			}
			if msg.Version != "" {
				s.Version = msg.Version
			}
			if len(msg.RPM) > 0 {
				s.LastRPM = msg.RPM
			}
			if len(msg.DC) > 0 {
				s.LastDC = msg.DC
			}
		}
	case EventRebootAck:
		if s.Status == schema.Connected {
			m.disconnectLocked(s, now)
		}
	case EventUpdateStart:
		s.Status = schema.Updating
	case EventUpdateDone:
		if s.Status == schema.Updating {
			s.Status = schema.Known
		}
	}
}

func (m *Manager) disconnectLocked(s *schema.Slave, now time.Time) {
	s.Status = schema.Disconnected
	s.LastRPM = nil
	s.LastDC = nil
	select {
	case m.disconnected <- DisconnectionEvent{Index: s.Index, MAC: s.MAC, At: now}:
	default:
		log.Warnf("slave: disconnection event channel full, dropping event for %s", s.MAC)
	}
}

// Tick runs the per-period timeout scan (spec §4.2): every Connected
// slave not heard from since the last tick accumulates a miss; exceeding
// maxTimeouts transitions it to Disconnected.
func (m *Manager) Tick(now time.Time, period time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mac := range m.order {
		s := m.byMAC[mac]
		if s.Status != schema.Connected {
			continue
		}
		if now.Sub(s.LastHeard) <= period {
			continue
		}
		s.Misses++
		if s.Misses > m.maxTimeouts {
			m.disconnectLocked(s, now)
		}
	}
}

// Slave returns a copy of the named slave, if known.
func (m *Manager) Slave(mac string) (schema.Slave, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byMAC[mac]
	if !ok {
		return schema.Slave{}, false
	}
	return *s, true
}

// Count returns the number of known slaves (the N dimension of vectors).
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// SlavesVector renders the slaves vector S (spec §3.3).
func (m *Manager) SlavesVector() schema.SlavesVector {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(schema.SlavesVector, len(m.order))
	for i, mac := range m.order {
		out[i] = *m.byMAC[mac]
	}
	return out
}

// FeedbackVector renders the feedback vector F (spec §3.3, §8): RIP for
// slots belonging to a non-Connected slave, PAD beyond a slave's fan
// count, otherwise the last observed RPM/DC.
func (m *Manager) FeedbackVector() *schema.FeedbackVector {
	m.mu.Lock()
	defer m.mu.Unlock()

	fv := schema.NewFeedbackVector(len(m.order), m.maxFans, m.decimals)
	for i, mac := range m.order {
		s := m.byMAC[mac]
		if s.Status != schema.Connected {
			fv.MarkRIP(i)
			continue
		}
		for fan := 0; fan < m.maxFans; fan++ {
			if fan >= s.FanCount {
				continue // left as PAD by MarkPad below
			}
			if fan < len(s.LastRPM) {
				fv.SetRPM(i, fan, s.LastRPM[fan])
			} else {
				fv.SetRPM(i, fan, schema.RIP)
			}
			if fan < len(s.LastDC) {
				fv.SetDC(i, fan, s.LastDC[fan])
			} else {
				fv.SetDC(i, fan, schema.RIP)
			}
		}
		fv.MarkPad(i, s.FanCount)
	}
	return fv
}

// SetControlSink registers the function Control uses to actually deliver a
// duty command to one fan of one slave (normally netio.SlaveLink.Send).
func (m *Manager) SetControlSink(sink func(mac string, fan int, duty int) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onControl = sink
}

// Control routes a control vector to each targeted slave's command
// channel (spec §4.2: "routes to each target's command socket"). Only
// Connected slaves receive commands; others are silently skipped since
// they have no live endpoint to address.
func (m *Manager) Control(cv schema.ControlVector) error {
	m.mu.Lock()
	targets := m.resolveTargetsLocked(cv.Target)
	sink := m.onControl
	m.mu.Unlock()

	if sink == nil {
		return nil
	}

	for _, mac := range targets {
		switch cv.Code {
		case schema.SingleDC:
			for fan := 0; fan < m.maxFans; fan++ {
				if err := sink(mac, fan, cv.Duty); err != nil {
					log.Warnf("slave: control: send to %s fan %d failed: %v", mac, fan, err)
				}
			}
		case schema.VectorDC:
			idx := m.IndexFor(mac)
			for fan := 0; fan < m.maxFans; fan++ {
				pos := idx*m.maxFans + fan
				if pos >= len(cv.Duties) {
					continue
				}
				if err := sink(mac, fan, cv.Duties[pos]); err != nil {
					log.Warnf("slave: control: send to %s fan %d failed: %v", mac, fan, err)
				}
			}
		}
	}
	return nil
}

func (m *Manager) resolveTargetsLocked(sel schema.TargetSelector) []string {
	if sel.All {
		out := make([]string, 0, len(m.order))
		for _, mac := range m.order {
			if m.byMAC[mac].Status == schema.Connected {
				out = append(out, mac)
			}
		}
		return out
	}
	out := make([]string, 0, len(sel.Indices))
	for _, idx := range sel.Indices {
		if idx < 0 || idx >= len(m.order) {
			continue
		}
		mac := m.order[idx]
		if m.byMAC[mac].Status == schema.Connected {
			out = append(out, mac)
		}
	}
	return out
}

// NetworkVector renders the network vector N (spec §3.3).
func (m *Manager) NetworkVector(connected bool, localIP, broadcastIP string, broadcastPort, listenerPort int) schema.NetworkVector {
	return schema.NetworkVector{
		Connected:     connected,
		LocalIP:       localIP,
		BroadcastIP:   broadcastIP,
		BroadcastPort: broadcastPort,
		ListenerPort:  listenerPort,
	}
}
