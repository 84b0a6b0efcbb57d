// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ConnectedSlaves.Set(3)
	m.FeedbackPublished.Inc()

	assert.Equal(t, float64(3), testutil.ToFloat64(m.ConnectedSlaves))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FeedbackPublished))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestInertBridgeWithNoAddressIsNoOp(t *testing.T) {
	b, err := Connect(Config{}, nil)
	require.NoError(t, err)
	b.Publish([]byte("fan_feedback,slave=0 rpm0=1200"))
	require.NoError(t, b.SubscribeControl(func([]byte) {}))
	b.Close()
}
