// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package acquisition

import (
	"math"
	"time"

	"github.com/fanclub/master/pkg/schema"
)

// Simulated is a deterministic HardwareInterface used when no real ADC
// backend is available (spec §4.4: "simulated" backend).
type Simulated struct {
	cfg   Config
	phase float64
}

// NewSimulated constructs a Simulated backend.
func NewSimulated() *Simulated { return &Simulated{} }

func (s *Simulated) Init(cfg Config) error {
	s.cfg = cfg
	return nil
}

// Sample synthesizes one reading per channel: a slowly drifting sine
// plus a per-channel offset, scaled to the configured resolution.
func (s *Simulated) Sample(now time.Time) []schema.Sample {
	full := float64(int(1) << uint(s.cfg.ResolutionBits))
	s.phase += 0.01
	out := make([]schema.Sample, s.cfg.Channels)
	for ch := 0; ch < s.cfg.Channels; ch++ {
		raw := (math.Sin(s.phase+float64(ch)) + 1) / 2 * full
		out[ch] = schema.Sample{
			Timestamp: now,
			ChannelID: ch,
			Value:     raw / full,
			RawValue:  raw,
			Quality:   1.0,
		}
	}
	return out
}

func (s *Simulated) Close() error { return nil }
