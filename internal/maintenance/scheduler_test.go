// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package maintenance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFlusher struct{ n atomic.Int64 }

func (c *countingFlusher) Flush() error { c.n.Add(1); return nil }

type countingPruner struct{ n atomic.Int64 }

func (c *countingPruner) Prune(cutoff time.Time) (int64, error) {
	c.n.Add(1)
	return 0, nil
}

type countingBackupper struct{ n atomic.Int64 }

func (c *countingBackupper) Backup(ctx context.Context) (string, error) {
	c.n.Add(1)
	return "archive.bak.0", nil
}

func TestSchedulerRunsConfiguredJobs(t *testing.T) {
	flusher := &countingFlusher{}
	pruner := &countingPruner{}
	backupper := &countingBackupper{}

	s, err := New(Config{
		CheckpointFlushEvery: 20 * time.Millisecond,
		HistoryPruneEvery:    20 * time.Millisecond,
		ArchiveBackupEvery:   20 * time.Millisecond,
	}, flusher, pruner, backupper)
	require.NoError(t, err)
	defer s.Shutdown()

	time.Sleep(80 * time.Millisecond)

	assert.True(t, flusher.n.Load() > 0)
	assert.True(t, pruner.n.Load() > 0)
	assert.True(t, backupper.n.Load() > 0)
}

func TestSchedulerSkipsUnconfiguredJobs(t *testing.T) {
	flusher := &countingFlusher{}

	s, err := New(Config{CheckpointFlushEvery: 20 * time.Millisecond}, flusher, nil, nil)
	require.NoError(t, err)
	defer s.Shutdown()

	time.Sleep(60 * time.Millisecond)
	assert.True(t, flusher.n.Load() > 0)
}
