// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package netio

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerParsesInboundFrames(t *testing.T) {
	l, err := NewListener(0)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go l.Run(ctx)

	conn, err := net.DialUDP("udp4", nil, l.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("A|CT|AA:BB:CC:DD:EE:FF|2|1.0.0|9000\n"))
	require.NoError(t, err)

	select {
	case in := <-l.Inbound():
		assert.Equal(t, FrameAnnounce, in.Frame.Kind)
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", in.Frame.MAC)
	case <-time.After(time.Second):
		t.Fatal("listener did not deliver the inbound frame")
	}
}

func TestListenerCountsMalformedFrames(t *testing.T) {
	l, err := NewListener(0)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go l.Run(ctx)

	conn, err := net.DialUDP("udp4", nil, l.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("garbage\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return l.ProtocolErrors() > 0
	}, time.Second, 10*time.Millisecond)
}
