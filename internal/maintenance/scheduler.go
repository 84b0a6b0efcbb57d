// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package maintenance runs the master's background jobs on a scheduler
// wholly separate from the hard-real-time control/acquisition/filter path
// (spec §5, SPEC_FULL §4.11): checkpoint flush, history pruning, and
// archive auto-backup all live here, never on the control loop's
// goroutines or queues.
package maintenance

import (
	"context"
	"time"

	"github.com/fanclub/master/pkg/log"
	"github.com/go-co-op/gocron/v2"
)

// CheckpointFlusher is satisfied by checkpoint.Store.
type CheckpointFlusher interface {
	Flush() error
}

// HistoryPruner is satisfied by history.Store.
type HistoryPruner interface {
	Prune(cutoff time.Time) (int64, error)
}

// ArchiveBackupper is satisfied by config.Archive.
type ArchiveBackupper interface {
	Backup(ctx context.Context) (string, error)
}

// Config sets the cadence of every maintenance job. A zero duration
// disables that job.
type Config struct {
	CheckpointFlushEvery time.Duration
	HistoryPruneEvery    time.Duration
	HistoryRetention     time.Duration
	ArchiveBackupEvery   time.Duration
}

// Scheduler wraps a gocron scheduler configured with the master's
// maintenance jobs.
type Scheduler struct {
	sched gocron.Scheduler
}

// New builds and starts a scheduler for the configured jobs. Any
// component left nil in its Config slot is simply not scheduled.
func New(cfg Config, checkpoints CheckpointFlusher, hist HistoryPruner, archive ArchiveBackupper) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if cfg.CheckpointFlushEvery > 0 && checkpoints != nil {
		if _, err := s.NewJob(
			gocron.DurationJob(cfg.CheckpointFlushEvery),
			gocron.NewTask(func() {
				if err := checkpoints.Flush(); err != nil {
					log.Warnf("maintenance: checkpoint flush failed: %v", err)
				}
			}),
		); err != nil {
			return nil, err
		}
	}

	if cfg.HistoryPruneEvery > 0 && hist != nil {
		retention := cfg.HistoryRetention
		if retention <= 0 {
			retention = 30 * 24 * time.Hour
		}
		if _, err := s.NewJob(
			gocron.DurationJob(cfg.HistoryPruneEvery),
			gocron.NewTask(func() {
				n, err := hist.Prune(time.Now().Add(-retention))
				if err != nil {
					log.Warnf("maintenance: history prune failed: %v", err)
					return
				}
				log.Infof("maintenance: pruned %d stale connection-history rows", n)
			}),
		); err != nil {
			return nil, err
		}
	}

	if cfg.ArchiveBackupEvery > 0 && archive != nil {
		if _, err := s.NewJob(
			gocron.DurationJob(cfg.ArchiveBackupEvery),
			gocron.NewTask(func() {
				id, err := archive.Backup(context.Background())
				if err != nil {
					log.Warnf("maintenance: archive auto-backup failed: %v", err)
					return
				}
				log.Infof("maintenance: archive auto-backup stored as %s", id)
			}),
		); err != nil {
			return nil, err
		}
	}

	s.Start()
	return &Scheduler{sched: s}, nil
}

// Shutdown stops the scheduler, waiting for in-flight jobs to finish.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
