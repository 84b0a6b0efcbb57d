// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package history

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// EventKind is the closed set of connection events this package records.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventReconnected  EventKind = "reconnected"
	EventUpdating     EventKind = "updating"
)

// Event is one recorded connection transition for a slave.
type Event struct {
	ID         int64
	MAC        string
	SlaveIndex int
	Kind       EventKind
	At         time.Time
	IP         string
	FanCount   int
	Version    string
}

var columns = []string{"id", "mac", "slave_index", "event", "at", "ip", "fan_count", "version"}

// Record appends one connection event. Failures are the caller's to decide
// how to handle; this package never retries and never blocks the control
// loop itself (callers should record from a maintenance goroutine, not the
// real-time path).
func (s *Store) Record(ev Event) error {
	_, err := sq.Insert("connection_event").
		Columns("mac", "slave_index", "event", "at", "ip", "fan_count", "version").
		Values(ev.MAC, ev.SlaveIndex, string(ev.Kind), ev.At.UTC(), ev.IP, ev.FanCount, ev.Version).
		RunWith(s.stmtCache).Exec()
	if err != nil {
		return fmt.Errorf("history: record event: %w", err)
	}
	return nil
}

// EventsForMAC returns the most recent events for one slave MAC, newest
// first, bounded to limit rows.
func (s *Store) EventsForMAC(mac string, limit int) ([]Event, error) {
	rows, err := sq.Select(columns...).From("connection_event").
		Where(sq.Eq{"mac": mac}).OrderBy("at DESC").Limit(uint64(limit)).
		RunWith(s.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("history: query events for %s: %w", mac, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentEvents returns the most recent events across all slaves, newest
// first, bounded to limit rows.
func (s *Store) RecentEvents(limit int) ([]Event, error) {
	rows, err := sq.Select(columns...).From("connection_event").
		OrderBy("at DESC").Limit(uint64(limit)).
		RunWith(s.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("history: query recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Prune deletes events older than cutoff, returning the number removed.
// Intended to run periodically from the maintenance scheduler.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	res, err := sq.Delete("connection_event").
		Where(sq.Lt{"at": cutoff.UTC()}).
		RunWith(s.stmtCache).Exec()
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows scanner) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&e.ID, &e.MAC, &e.SlaveIndex, &kind, &e.At, &e.IP, &e.FanCount, &e.Version); err != nil {
			return nil, fmt.Errorf("history: scan event: %w", err)
		}
		e.Kind = EventKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
