// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "time"

// Status is a slave's lifecycle state. See internal/slave for the state
// machine that drives transitions between these values.
type Status int

const (
	Available Status = iota
	Known
	Connected
	Disconnected
	Updating
)

func (s Status) String() string {
	switch s {
	case Available:
		return "AVAILABLE"
	case Known:
		return "KNOWN"
	case Connected:
		return "CONNECTED"
	case Disconnected:
		return "DISCONNECTED"
	case Updating:
		return "UPDATING"
	default:
		return "UNKNOWN"
	}
}

// Code returns the integer status_code carried in the slave vector S.
func (s Status) Code() int { return int(s) }

// Endpoint is a slave's network address: its IP plus the per-slave ports
// used for the command (SlaveLink) and feedback channels.
type Endpoint struct {
	IP         string
	ListenPort int // port the slave listens for commands on
	FeedPort   int // port the slave sends feedback from
}

// Slave represents one remote fan-driver module.
type Slave struct {
	Index       int // dense, assigned on first contact, never reused in-session
	Name        string
	MAC         string // wire identity, stable across sessions
	Status      Status
	FanCount    int
	Version     string // firmware version string
	Endpoint    *Endpoint
	LastHeard   time.Time
	Misses      int // consecutive expected-but-missed keepalives
	LastRPM     []int
	LastDC      []int
}

// HasEndpoint reports whether the slave has a usable network endpoint.
// Invariant (spec §3.2): status == Connected implies this is true.
func (s *Slave) HasEndpoint() bool {
	return s.Endpoint != nil
}

// Tuple returns the 6-tuple (index, name, mac, status_code, fan_count,
// version) this slave contributes to the slaves vector S.
func (s *Slave) Tuple() [6]any {
	return [6]any{s.Index, s.Name, s.MAC, s.Status.Code(), s.FanCount, s.Version}
}
