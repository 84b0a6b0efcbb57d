// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndEventsForMAC(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.Record(Event{MAC: "AA:BB", SlaveIndex: 0, Kind: EventConnected, At: now}))
	require.NoError(t, s.Record(Event{MAC: "AA:BB", SlaveIndex: 0, Kind: EventDisconnected, At: now.Add(time.Minute)}))
	require.NoError(t, s.Record(Event{MAC: "CC:DD", SlaveIndex: 1, Kind: EventConnected, At: now}))

	events, err := s.EventsForMAC("AA:BB", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventDisconnected, events[0].Kind)
	assert.Equal(t, EventConnected, events[1].Kind)
}

func TestRecentEventsAcrossSlaves(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	require.NoError(t, s.Record(Event{MAC: "A", At: now}))
	require.NoError(t, s.Record(Event{MAC: "B", At: now.Add(time.Second)}))

	events, err := s.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "B", events[0].MAC)
}

func TestPruneRemovesOldEvents(t *testing.T) {
	s := openTestStore(t)
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()
	require.NoError(t, s.Record(Event{MAC: "A", At: old}))
	require.NoError(t, s.Record(Event{MAC: "A", At: recent}))

	n, err := s.Prune(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	events, err := s.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRunDisconnectionRecorderRecordsEvents(t *testing.T) {
	s := openTestStore(t)
	ch := make(chan DisconnectionRecord, 1)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		s.RunDisconnectionRecorder(ch, stop)
		close(done)
	}()

	ch <- DisconnectionRecord{Index: 3, MAC: "EE:FF", At: time.Now()}
	close(ch)
	<-done
	_ = stop

	events, err := s.EventsForMAC("EE:FF", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnected, events[0].Kind)
}
