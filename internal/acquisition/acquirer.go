// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package acquisition implements the Acquirer: produces Samples from a
// configured set of channels at a fixed rate into a bounded queue (spec
// §4.4).
package acquisition

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fanclub/master/pkg/log"
	"github.com/fanclub/master/pkg/schema"
)

// HardwareInterface abstracts the actual sampling backend, letting the
// Acquirer run against real ADC hardware or a simulator identically.
type HardwareInterface interface {
	// Init prepares the backend; a real backend failing here triggers the
	// prefer_real fallback policy.
	Init(cfg Config) error
	// Sample produces one reading per configured channel.
	Sample(now time.Time) []schema.Sample
	// Close releases any backend resources.
	Close() error
}

// Config is the validated acquisition configuration (spec §4.4).
type Config struct {
	SamplingRateHz int
	ResolutionBits int
	Channels       int
	PreferReal     bool
}

var validResolutions = map[int]bool{8: true, 12: true, 16: true, 24: true}

// Validate enforces the constraints from spec §4.4.
func (c Config) Validate() error {
	if c.SamplingRateHz < 1 || c.SamplingRateHz > 100_000 {
		return fmt.Errorf("acquisition: sampling_rate %d out of range [1,100000]", c.SamplingRateHz)
	}
	if !validResolutions[c.ResolutionBits] {
		return fmt.Errorf("acquisition: resolution %d not one of {8,12,16,24}", c.ResolutionBits)
	}
	if c.Channels < 1 || c.Channels > 32 {
		return fmt.Errorf("acquisition: channels %d out of range [1,32]", c.Channels)
	}
	return nil
}

// Stats are the Acquirer's running counters.
type Stats struct {
	Produced       int64
	QueueOverflows int64
}

// Acquirer owns a HardwareInterface and pumps Samples into a bounded
// queue at the configured rate, dropping newest samples on backpressure
// (spec §4.4).
type Acquirer struct {
	cfg     Config
	backend HardwareInterface
	queue   chan schema.Sample

	produced  atomic.Int64
	overflows atomic.Int64
}

// New constructs an Acquirer. If real fails to initialize, it falls back
// to simulated unless cfg.PreferReal is true, per spec §4.4.
func New(cfg Config, real, simulated HardwareInterface, queueDepth int) (*Acquirer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend := real
	if err := backend.Init(cfg); err != nil {
		if cfg.PreferReal {
			return nil, fmt.Errorf("acquisition: real backend init failed and prefer_real is set: %w", err)
		}
		log.Warnf("acquisition: real backend init failed (%v), falling back to simulated", err)
		backend = simulated
		if err := backend.Init(cfg); err != nil {
			return nil, fmt.Errorf("acquisition: simulated backend init failed: %w", err)
		}
	}

	return &Acquirer{
		cfg:     cfg,
		backend: backend,
		queue:   make(chan schema.Sample, queueDepth),
	}, nil
}

// Run samples at the configured rate until ctx is cancelled.
func (a *Acquirer) Run(ctx context.Context) {
	period := time.Second / time.Duration(a.cfg.SamplingRateHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.backend.Close()
			return
		case now := <-ticker.C:
			for _, s := range a.backend.Sample(now) {
				a.produced.Add(1)
				select {
				case a.queue <- s:
				default:
					a.overflows.Add(1)
				}
			}
		}
	}
}

// Read drains up to n samples without blocking, returning fewer if the
// queue is starved (spec §4.4).
func (a *Acquirer) Read(n int) []schema.Sample {
	out := make([]schema.Sample, 0, n)
	for i := 0; i < n; i++ {
		select {
		case s := <-a.queue:
			out = append(out, s)
		default:
			return out
		}
	}
	return out
}

// Stats returns a snapshot of the running counters.
func (a *Acquirer) Stats() Stats {
	return Stats{Produced: a.produced.Load(), QueueOverflows: a.overflows.Load()}
}
