// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scripting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileAndEvalSimpleExpression(t *testing.T) {
	fn, err := Compile("dc + rpm / maxRPM")
	require.NoError(t, err)

	out, err := fn.Eval(Vars{DC: 0.5, RPM: 1000, MaxRPM: 2000})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out, 1e-9)
}

func TestCompileRejectsSyntaxError(t *testing.T) {
	_, err := Compile("dc +")
	assert.Error(t, err)
}

func TestCacheReusesCompiledProgram(t *testing.T) {
	c := NewCache(2)
	fn1, err := c.Get("row + col")
	require.NoError(t, err)
	fn2, err := c.Get("row + col")
	require.NoError(t, err)
	assert.Same(t, fn1, fn2)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(1)
	_, err := c.Get("row")
	require.NoError(t, err)
	_, err = c.Get("col")
	require.NoError(t, err)

	assert.Len(t, c.entries, 1)
	_, ok := c.entries["col"]
	assert.True(t, ok)
	_, stillThere := c.entries["row"]
	assert.False(t, stillThere)
}
