// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package acquisition

import (
	"context"
	"testing"
	"time"

	"github.com/fanclub/master/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateRejectsOutOfRangeSamplingRate(t *testing.T) {
	c := Config{SamplingRateHz: 0, ResolutionBits: 12, Channels: 4}
	assert.Error(t, c.Validate())
}

func TestConfigValidateRejectsBadResolution(t *testing.T) {
	c := Config{SamplingRateHz: 100, ResolutionBits: 10, Channels: 4}
	assert.Error(t, c.Validate())
}

func TestNewFallsBackToSimulatedOnRealFailure(t *testing.T) {
	cfg := Config{SamplingRateHz: 1000, ResolutionBits: 12, Channels: 2, PreferReal: false}
	a, err := New(cfg, &alwaysFailsInit{}, NewSimulated(), 16)
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestNewReturnsErrorWhenPreferRealAndRealFails(t *testing.T) {
	cfg := Config{SamplingRateHz: 1000, ResolutionBits: 12, Channels: 2, PreferReal: true}
	_, err := New(cfg, &alwaysFailsInit{}, NewSimulated(), 16)
	assert.Error(t, err)
}

func TestRunProducesSamplesAndReadDrains(t *testing.T) {
	cfg := Config{SamplingRateHz: 1000, ResolutionBits: 12, Channels: 2, PreferReal: false}
	a, err := New(cfg, NewSimulated(), NewSimulated(), 64)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	a.Run(ctx)

	samples := a.Read(1000)
	assert.NotEmpty(t, samples)
	assert.Equal(t, int64(len(samples))+a.Stats().QueueOverflows, a.Stats().Produced)
}

func TestReadReturnsFewerWhenStarved(t *testing.T) {
	cfg := Config{SamplingRateHz: 1, ResolutionBits: 12, Channels: 1, PreferReal: false}
	a, err := New(cfg, NewSimulated(), NewSimulated(), 16)
	require.NoError(t, err)

	samples := a.Read(10)
	assert.Len(t, samples, 0)
}

type alwaysFailsInit struct{}

func (a *alwaysFailsInit) Init(cfg Config) error            { return &initErr{} }
func (a *alwaysFailsInit) Sample(now time.Time) []schema.Sample { return nil }
func (a *alwaysFailsInit) Close() error                     { return nil }

type initErr struct{}

func (e *initErr) Error() string { return "simulated init failure" }
