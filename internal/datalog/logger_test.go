// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package datalog

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fanclub/master/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesHeaderAndRowsWithCorrectColumnCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	info := HeaderInfo{
		Version:   "1.0.0",
		Modules:   []ModuleEntry{{Index: 0, Name: "fan0", MAC: "AA:AA:AA:AA:AA:AA"}},
		MaxFans:   2,
		NumSlaves: 1,
	}
	l, err := Start(path, info, 8)
	require.NoError(t, err)

	fv := schema.NewFeedbackVector(1, 2, 0)
	fv.SetRPM(0, 0, 1000)
	fv.SetRPM(0, 1, schema.RIP)
	fv.SetDC(0, 0, 50)
	fv.SetDC(0, 1, schema.PAD)
	l.Log(fv)

	l.Stop(time.Second)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	var dataRow string
	for _, line := range lines {
		if !strings.HasPrefix(line, "#") && line != "time,s0rpm0,s0rpm1,s0dc0,s0dc1" {
			dataRow = line
		}
	}
	require.NotEmpty(t, dataRow)
	fields := strings.Split(dataRow, ",")
	assert.Len(t, fields, 5) // time + 2 rpm + 2 dc
	assert.Contains(t, dataRow, "NaN")
	assert.Contains(t, dataRow, strings.TrimSpace(schemaPadLiteral()))
}

func schemaPadLiteral() string {
	return "-69"
}

func TestHeaderContainsColumnHeaderLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	info := HeaderInfo{Version: "1.0.0", MaxFans: 1, NumSlaves: 1}
	l, err := Start(path, info, 4)
	require.NoError(t, err)
	l.Stop(time.Second)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	found := false
	for scanner.Scan() {
		if scanner.Text() == "time,s0rpm0,s0dc0" {
			found = true
		}
	}
	assert.True(t, found)
}
