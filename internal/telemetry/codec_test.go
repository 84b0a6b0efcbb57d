// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"testing"
	"time"

	"github.com/fanclub/master/pkg/schema"
	influx "github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFeedbackProducesOneLinePerSlave(t *testing.T) {
	fv := schema.NewFeedbackVector(2, 1, 0)
	require.NoError(t, fv.SetRPM(0, 0, 1200))
	require.NoError(t, fv.SetDC(0, 0, 50))
	require.NoError(t, fv.SetRPM(1, 0, 900))
	require.NoError(t, fv.SetDC(1, 0, 40))

	data, err := EncodeFeedback(fv, time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(data), "fan_feedback,slave=0")
	assert.Contains(t, string(data), "fan_feedback,slave=1")
}

func TestEncodeDecodeControlRoundTrip(t *testing.T) {
	var enc influx.Encoder
	enc.SetPrecision(influx.Nanosecond)
	enc.StartLine("fan_control")
	enc.AddTag("slave", "3")
	enc.AddField("dc0", influx.MustNewValue(0.75))
	enc.EndLine(time.Now())
	require.NoError(t, enc.Err())

	points, err := DecodeControl(enc.Bytes())
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 3, points[0].SlaveIndex)
	assert.Equal(t, 0, points[0].Fan)
	assert.InDelta(t, 0.75, points[0].DutyCycle, 1e-9)
}
