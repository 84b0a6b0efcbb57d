// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package netio

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterSendsHeartbeat(t *testing.T) {
	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer rx.Close()
	port := rx.LocalAddr().(*net.UDPAddr).Port

	b, err := NewBroadcaster("127.0.0.1", port, 1235, "CT")
	require.NoError(t, err)
	defer b.Close()
	b.SetMode(ModeBroadcast)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go b.Run(ctx, 10*time.Millisecond)

	buf := make([]byte, 256)
	rx.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := rx.ReadFromUDP(buf)
	require.NoError(t, err)

	fields := strings.Split(strings.TrimRight(string(buf[:n]), "\n"), "|")
	require.Len(t, fields, 4)
	assert.Equal(t, "B", fields[0])
	assert.Equal(t, "CT", fields[1])
	port2, err := strconv.Atoi(fields[2])
	require.NoError(t, err)
	assert.Equal(t, 1235, port2)
}

func TestBroadcasterTargettedModeSendsOnlyToTargets(t *testing.T) {
	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer rx.Close()

	b, err := NewBroadcaster("127.0.0.1", 0, 1235, "CT")
	require.NoError(t, err)
	defer b.Close()
	b.SetMode(ModeTargetted)
	b.SetTargets([]*net.UDPAddr{rx.LocalAddr().(*net.UDPAddr)})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go b.Run(ctx, 10*time.Millisecond)

	buf := make([]byte, 256)
	rx.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := rx.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "CT")
}
