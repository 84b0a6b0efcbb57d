// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package filter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fanclub/master/pkg/log"
	"github.com/fanclub/master/pkg/schema"
)

// Batch is one scheduling quantum's worth of filtered samples.
type Batch []schema.FilteredSample

// BatchCallback processes one batch; an error increments the processor's
// error count but never stops the loop (spec §4.5).
type BatchCallback func(Batch) error

// Source supplies raw samples to the processor; acquisition.Acquirer
// satisfies this via its Read method.
type Source interface {
	Read(n int) []schema.Sample
}

// Processor is the real-time batching scheduler (spec §4.5): a
// cooperative loop that pulls from the Acquirer's output in small
// batches, runs each channel's filter chain, and pushes results to a
// bounded output queue, dropping the oldest batch on backpressure.
type Processor struct {
	source    Source
	chains    map[int]*Chain // channel_id -> chain
	batchSize int
	out       chan Batch
	callbacks []BatchCallback

	errorCount atomic.Int64
	dropped    atomic.Int64
}

// NewProcessor constructs a Processor over per-channel filter chains.
func NewProcessor(source Source, chains map[int]*Chain, batchSize, queueDepth int) *Processor {
	return &Processor{
		source:    source,
		chains:    chains,
		batchSize: batchSize,
		out:       make(chan Batch, queueDepth),
	}
}

// OnBatch registers a callback invoked for every batch processed.
func (p *Processor) OnBatch(cb BatchCallback) { p.callbacks = append(p.callbacks, cb) }

// Output returns the processor's output queue.
func (p *Processor) Output() <-chan Batch { return p.out }

// ErrorCount returns the lifetime count of callback errors.
func (p *Processor) ErrorCount() int64 { return p.errorCount.Load() }

// Run pulls, filters, and dispatches batches until ctx is cancelled.
func (p *Processor) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce()
		}
	}
}

func (p *Processor) runOnce() {
	samples := p.source.Read(p.batchSize)
	if len(samples) == 0 {
		return
	}

	batch := make(Batch, 0, len(samples))
	for _, s := range samples {
		chain, ok := p.chains[s.ChannelID]
		if !ok {
			batch = append(batch, schema.FilteredSample{Sample: s, FilteredValue: s.Value, Gain: 1})
			continue
		}
		batch = append(batch, chain.Process(s))
	}

	select {
	case p.out <- batch:
	default:
		// Drop the oldest queued batch to make room (spec §4.5).
		select {
		case <-p.out:
			p.dropped.Add(1)
		default:
		}
		select {
		case p.out <- batch:
		default:
			log.Warnf("filter: processor: output queue still full after drop, discarding batch")
		}
	}

	for _, cb := range p.callbacks {
		if err := cb(batch); err != nil {
			p.errorCount.Add(1)
			log.Warnf("filter: processor: batch callback error: %v", err)
		}
	}
}
