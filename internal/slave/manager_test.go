// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package slave

import (
	"testing"
	"time"

	"github.com/fanclub/master/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexForIsStableAndDense(t *testing.T) {
	m := New(4, 0, 3)
	a := m.IndexFor("AA:AA:AA:AA:AA:AA")
	b := m.IndexFor("BB:BB:BB:BB:BB:BB")
	again := m.IndexFor("AA:AA:AA:AA:AA:AA")

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, a, again)
}

func TestDiscoverFromAvailableReachesKnown(t *testing.T) {
	// spec.md §8 Scenario Test #1: three discovery replies on an empty
	// table must leave each slave Known, never Connected.
	m := New(4, 0, 3)
	macs := []string{"AA:AA:AA:AA:AA:01", "AA:AA:AA:AA:AA:02", "AA:AA:AA:AA:AA:03"}
	for i, mac := range macs {
		m.IndexFor(mac)
		m.Observe(WireMessage{MAC: mac, Event: EventDiscover, Endpoint: &schema.Endpoint{IP: "10.0.0.1"}})

		s, ok := m.Slave(mac)
		require.True(t, ok)
		assert.Equal(t, schema.Known, s.Status)
		assert.Equal(t, i, s.Index)
		assert.True(t, s.HasEndpoint())
	}
}

func TestConnectReplyFromKnownReachesConnected(t *testing.T) {
	m := New(4, 0, 3)
	mac := "AA:AA:AA:AA:AA:AA"
	m.IndexFor(mac)
	m.Observe(WireMessage{MAC: mac, Event: EventDiscover, Endpoint: &schema.Endpoint{IP: "10.0.0.1"}})

	m.Observe(WireMessage{MAC: mac, Event: EventConnectReply, Endpoint: &schema.Endpoint{IP: "10.0.0.1"}})

	s, ok := m.Slave(mac)
	require.True(t, ok)
	assert.Equal(t, schema.Connected, s.Status)
	assert.Equal(t, 0, s.Misses)
	assert.True(t, s.HasEndpoint())
}

func TestConnectReplyIgnoredFromAvailable(t *testing.T) {
	m := New(4, 0, 3)
	mac := "AA:AA:AA:AA:AA:AA"
	m.IndexFor(mac)

	m.Observe(WireMessage{MAC: mac, Event: EventConnectReply, Endpoint: &schema.Endpoint{IP: "10.0.0.1"}})

	s, ok := m.Slave(mac)
	require.True(t, ok)
	assert.Equal(t, schema.Available, s.Status, "connect reply must not skip the Known discovery step")
}

func TestTimeoutDisconnectsAndPreservesEndpoint(t *testing.T) {
	m := New(4, 0, 3)
	mac := "AA:AA:AA:AA:AA:AA"
	m.IndexFor(mac)
	m.Observe(WireMessage{MAC: mac, Event: EventDiscover, Endpoint: &schema.Endpoint{IP: "10.0.0.1"}})
	m.Observe(WireMessage{MAC: mac, Event: EventConnectReply, Endpoint: &schema.Endpoint{IP: "10.0.0.1"}})

	period := 10 * time.Millisecond
	base := time.Now()
	for i := 0; i < 3; i++ {
		m.Tick(base.Add(time.Duration(i+1)*period), period)
	}

	s, ok := m.Slave(mac)
	require.True(t, ok)
	assert.Equal(t, schema.Disconnected, s.Status)
	assert.True(t, s.HasEndpoint(), "endpoint must be preserved across disconnection")
}

func TestFeedbackVectorMarksRIPForNonConnected(t *testing.T) {
	m := New(4, 0, 3)
	mac := "AA:AA:AA:AA:AA:AA"
	m.IndexFor(mac)

	fv := m.FeedbackVector()
	rpm, err := fv.RPMAt(0, 0)
	require.NoError(t, err)
	assert.Equal(t, schema.RIP, rpm)
}

func TestFeedbackPreservesInjectedValuesForConnectedSlave(t *testing.T) {
	m := New(4, 0, 3)
	mac := "AA:AA:AA:AA:AA:AA"
	m.IndexFor(mac)
	m.Observe(WireMessage{MAC: mac, Event: EventDiscover, Endpoint: &schema.Endpoint{}})
	m.Observe(WireMessage{MAC: mac, Event: EventConnectReply, Endpoint: &schema.Endpoint{}})
	m.Observe(WireMessage{
		MAC: mac, Event: EventFeedback, FanCount: 4,
		RPM: []int{1000, 1100, 1200, 1300},
		DC:  []int{500, 500, 500, 500},
	})

	fv := m.FeedbackVector()
	rpm, err := fv.RPMAt(0, 2)
	require.NoError(t, err)
	assert.Equal(t, 1200, rpm)
}

func TestFeedbackFromDisconnectedPromotesToConnected(t *testing.T) {
	m := New(4, 0, 3)
	mac := "AA:AA:AA:AA:AA:AA"
	m.IndexFor(mac)
	m.Observe(WireMessage{MAC: mac, Event: EventDiscover, Endpoint: &schema.Endpoint{}})
	m.Observe(WireMessage{MAC: mac, Event: EventConnectReply, Endpoint: &schema.Endpoint{}})
	m.Observe(WireMessage{MAC: mac, Event: EventRebootAck})

	s, _ := m.Slave(mac)
	require.Equal(t, schema.Disconnected, s.Status)

	m.Observe(WireMessage{MAC: mac, Event: EventFeedback, FanCount: 1, RPM: []int{900}, DC: []int{400}})
	s, _ = m.Slave(mac)
	assert.Equal(t, schema.Connected, s.Status)
}

func TestUpdateLifecycle(t *testing.T) {
	m := New(4, 0, 3)
	mac := "AA:AA:AA:AA:AA:AA"
	m.IndexFor(mac)
	m.Observe(WireMessage{MAC: mac, Event: EventUpdateStart})
	s, _ := m.Slave(mac)
	assert.Equal(t, schema.Updating, s.Status)

	m.Observe(WireMessage{MAC: mac, Event: EventUpdateDone})
	s, _ = m.Slave(mac)
	assert.Equal(t, schema.Known, s.Status)
}

func TestControlRoutesOnlyToConnectedSlaves(t *testing.T) {
	m := New(2, 0, 3)
	mac1, mac2 := "AA:AA:AA:AA:AA:AA", "BB:BB:BB:BB:BB:BB"
	m.IndexFor(mac1)
	m.IndexFor(mac2)
	m.Observe(WireMessage{MAC: mac1, Event: EventDiscover, Endpoint: &schema.Endpoint{}})
	m.Observe(WireMessage{MAC: mac1, Event: EventConnectReply, Endpoint: &schema.Endpoint{}})

	var sent []string
	m.SetControlSink(func(mac string, fan, duty int) error {
		sent = append(sent, mac)
		return nil
	})

	err := m.Control(schema.ControlVector{Code: schema.SingleDC, Target: schema.TargetSelector{All: true}, Duty: 500})
	require.NoError(t, err)
	for _, mac := range sent {
		assert.Equal(t, mac1, mac)
	}
	assert.NotEmpty(t, sent)
}
