// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package filter implements the closed set of stateful signal filters
// (spec §4.5) and the real-time batching processor that runs them.
package filter

import (
	"time"

	"github.com/fanclub/master/pkg/schema"
)

// Stats are the statistics every filter exposes (spec §4.5).
type Stats struct {
	SamplesProcessed int64
	TotalProcessing  time.Duration
	Extra            map[string]float64 // variant-specific scalars
}

// Filter is the interface every filter variant implements. Reset clears
// state but not configuration (spec §4.5).
type Filter interface {
	Process(s schema.Sample) schema.FilteredSample
	Reset()
	Stats() Stats
}

// Chain runs a sequence of filters over one channel's samples, feeding
// each filter's output value back in as the next filter's input Value.
type Chain struct {
	filters []Filter
}

// NewChain builds a chain from an ordered filter list.
func NewChain(filters ...Filter) *Chain { return &Chain{filters: filters} }

// Process runs s through every filter in order.
func (c *Chain) Process(s schema.Sample) schema.FilteredSample {
	fs := schema.FilteredSample{Sample: s, FilteredValue: s.Value, Gain: 1}
	for _, f := range c.filters {
		in := fs.Sample
		in.Value = fs.FilteredValue
		fs = f.Process(in)
	}
	return fs
}

// Reset resets every filter in the chain.
func (c *Chain) Reset() {
	for _, f := range c.filters {
		f.Reset()
	}
}
