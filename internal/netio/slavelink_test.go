// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package netio

import (
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlaveLinkSendTransmitsOnce(t *testing.T) {
	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer rx.Close()

	tx, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	require.NoError(t, err)
	defer tx.Close()

	link := NewSlaveLink(tx, "AA:BB:CC:DD:EE:FF", "CT", rx.LocalAddr().(*net.UDPAddr), 3, 20*time.Millisecond, nil)
	seq, err := link.Send(CmdDCSingle, "0", "500")
	require.NoError(t, err)

	buf := make([]byte, 256)
	rx.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := rx.ReadFromUDP(buf)
	require.NoError(t, err)

	fields := strings.Split(strings.TrimRight(string(buf[:n]), "\n"), "|")
	assert.Equal(t, "1", fields[0])
	assert.Equal(t, "CT", fields[1])
	assert.Equal(t, string(CmdDCSingle), fields[2])

	link.Ack(seq)
}

func TestSlaveLinkRetransmitsUntilAcked(t *testing.T) {
	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer rx.Close()

	tx, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	require.NoError(t, err)
	defer tx.Close()

	link := NewSlaveLink(tx, "AA:BB:CC:DD:EE:01", "CT", rx.LocalAddr().(*net.UDPAddr), 3, 10*time.Millisecond, nil)
	_, err = link.Send(CmdDCSingle, "0", "500")
	require.NoError(t, err)

	buf := make([]byte, 256)
	received := 0
	rx.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		_, _, err := rx.ReadFromUDP(buf)
		if err != nil {
			break
		}
		received++
	}
	assert.GreaterOrEqual(t, received, 2)
}

func TestSlaveLinkCallsTimeoutAfterExhaustingRetries(t *testing.T) {
	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer rx.Close()

	tx, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	require.NoError(t, err)
	defer tx.Close()

	var timedOut atomic.Bool
	link := NewSlaveLink(tx, "AA:BB:CC:DD:EE:02", "CT", rx.LocalAddr().(*net.UDPAddr), 2, 10*time.Millisecond, func(mac string) {
		timedOut.Store(true)
	})
	_, err = link.Send(CmdDCSingle, "0", "500")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return timedOut.Load() }, time.Second, 10*time.Millisecond)
}
