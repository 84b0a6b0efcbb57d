// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveGetDefaults(t *testing.T) {
	a := New(t.TempDir())
	defer a.Close()

	assert.Equal(t, 1235, a.Get("listenerPort"))
	assert.Equal(t, "<broadcast>", a.Get("broadcastIP"))
}

func TestArchiveSetSuccessReflectsInGet(t *testing.T) {
	a := New(t.TempDir())
	defer a.Close()

	require.NoError(t, a.Set("listenerPort", 1400))
	assert.Equal(t, 1400, a.Get("listenerPort"))
	assert.True(t, a.Dirty())
}

func TestArchiveSetFailurePreservesPriorValue(t *testing.T) {
	a := New(t.TempDir())
	defer a.Close()

	require.NoError(t, a.Set("listenerPort", 1400))
	err := a.Set("listenerPort", -1)
	require.Error(t, err)
	assert.Equal(t, 1400, a.Get("listenerPort"))
}

func TestArchiveSetRejectsUnknownKey(t *testing.T) {
	a := New(t.TempDir())
	defer a.Close()

	err := a.Set("doesNotExist", 1)
	assert.Error(t, err)
}

func TestArchiveCrossFieldRejectsDuplicatePorts(t *testing.T) {
	a := New(t.TempDir())
	defer a.Close()

	require.NoError(t, a.Set("broadcastPort", 1300))
	err := a.Set("listenerPort", 1300)
	assert.Error(t, err)
}

func TestArchiveSaveLoadRoundTrip(t *testing.T) {
	a := New(t.TempDir())
	defer a.Close()

	require.NoError(t, a.Set("listenerPort", 1400))
	require.NoError(t, a.Set("decimals", 2))

	path := filepath.Join(t.TempDir(), "archive.fca")
	body, err := a.Save(path)
	require.NoError(t, err)
	assert.False(t, a.Dirty())

	b := New(t.TempDir())
	defer b.Close()
	result, err := b.Load(body)
	require.NoError(t, err)
	assert.Empty(t, result.RescuedFields)
	assert.Equal(t, 1400, b.Get("listenerPort"))
	assert.Equal(t, 2, b.Get("decimals"))
}

func TestArchiveLoadRescuesInvalidField(t *testing.T) {
	a := New(t.TempDir())
	defer a.Close()
	body, err := a.Save(filepath.Join(t.TempDir(), "archive.fca"))
	require.NoError(t, err)

	doc, err := deserialize(body)
	require.NoError(t, err)
	doc["maxTimeouts"] = -5
	corrupted, err := serialize(doc)
	require.NoError(t, err)

	b := New(t.TempDir())
	defer b.Close()
	result, err := b.Load(corrupted)
	require.NoError(t, err)
	assert.Contains(t, result.RescuedFields, "maxTimeouts")
	assert.Equal(t, 3, b.Get("maxTimeouts"))
}

func TestArchiveLoadRejectsCorruptHeader(t *testing.T) {
	a := New(t.TempDir())
	defer a.Close()
	_, err := a.Load([]byte("not an archive"))
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, Corrupted, cerr.Kind)
}

func TestArchiveBackupRestore(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)
	defer a.Close()

	require.NoError(t, a.Set("listenerPort", 1500))
	name, err := a.Backup(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.Set("listenerPort", 1600))
	assert.Equal(t, 1600, a.Get("listenerPort"))

	require.NoError(t, a.Restore(context.Background(), name))
	assert.Equal(t, 1500, a.Get("listenerPort"))
	assert.False(t, a.Dirty())
}

func TestArchiveAddValidatesListElements(t *testing.T) {
	a := New(t.TempDir())
	defer a.Close()

	valid := map[string]any{
		"mac": "AA:BB:CC:DD:EE:FF", "fanMode": "single", "fanCount": 21,
		"pulsesPerRev": 2, "targetRPM": 1500, "minDC": 0.1, "maxDC": 1.0,
		"pinout": "standard",
	}
	require.NoError(t, a.Add("savedSlaves", valid))

	invalid := map[string]any{"mac": "bad"}
	assert.Error(t, a.Add("savedSlaves", invalid))
}

func TestArchiveSubscribeNotifiesOnCommit(t *testing.T) {
	a := New(t.TempDir())
	defer a.Close()

	notified := make(chan struct{}, 1)
	a.Subscribe(func() { notified <- struct{}{} })

	require.NoError(t, a.Set("listenerPort", 1400))
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}
}
