// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package history

import (
	"time"

	"github.com/fanclub/master/pkg/log"
)

// DisconnectionRecord mirrors slave.DisconnectionEvent without importing
// the slave package, so this diagnostic store never becomes a dependency
// of the control path.
type DisconnectionRecord struct {
	Index int
	MAC   string
	At    time.Time
}

// RunDisconnectionRecorder drains disconnection events and records them.
// Intended to run on the maintenance scheduler, never the real-time path.
func (s *Store) RunDisconnectionRecorder(events <-chan DisconnectionRecord, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.Record(Event{
				MAC:        ev.MAC,
				SlaveIndex: ev.Index,
				Kind:       EventDisconnected,
				At:         ev.At,
			}); err != nil {
				log.Warnf("history: failed to record disconnection for %s: %v", ev.MAC, err)
			}
		}
	}
}
