// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package netio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnnounceFrame(t *testing.T) {
	f, err := ParseInbound("A|CT|AA:BB:CC:DD:EE:FF|21|1.2.3|1235\n")
	require.NoError(t, err)
	assert.Equal(t, FrameAnnounce, f.Kind)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", f.MAC)
	assert.Equal(t, 21, f.FanCount)
	assert.Equal(t, "1.2.3", f.Version)
	assert.Equal(t, 1235, f.ListenPort)
}

func TestParseFeedbackFrame(t *testing.T) {
	f, err := ParseInbound("F|7|1000|1100|500|500\n")
	require.NoError(t, err)
	assert.Equal(t, FrameFeedback, f.Kind)
	assert.Equal(t, uint32(7), f.Seq)
	assert.Equal(t, []int{1000, 1100}, f.RPM)
	assert.Equal(t, []int{500, 500}, f.DC)
}

func TestParseRejectsUnknownCode(t *testing.T) {
	_, err := ParseInbound("Z|CT|garbage\n")
	assert.Error(t, err)
}

func TestParseRejectsMismatchedFeedbackCounts(t *testing.T) {
	_, err := ParseInbound("F|1|1000|500|500\n")
	assert.Error(t, err)
}

func TestEncodeBroadcastRoundTripsFields(t *testing.T) {
	s := EncodeBroadcast("CT", 1235, 0)
	assert.Equal(t, "B|CT|1235|0\n", s)
}

func TestEncodeCommandFormatsArgs(t *testing.T) {
	s := EncodeCommand(3, "CT", CmdPISet, "0.01", "0.001")
	assert.Equal(t, "3|CT|PISET|0.01|0.001\n", s)
}
