// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scripting re-architects the original per-fan-index dynamic
// Python expression as a sandboxed, compiled function of fan coordinates
// (spec §4.10, REDESIGN FLAGS): no source evaluation runs inside the
// control loop.
package scripting

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Vars is the closed set of variables exposed to a duty-cycle script
// (spec §4.10): row, col, layer, slave, fan, dc, rpm, R, C, L, S, F,
// maxRPM, t, step.
type Vars struct {
	Row, Col, Layer int
	Slave, Fan      int
	DC, RPM         float64
	R, C, L         int
	S, F            int
	MaxRPM          float64
	T               float64
	Step            int
}

func (v Vars) toEnv() map[string]any {
	return map[string]any{
		"row": v.Row, "col": v.Col, "layer": v.Layer,
		"slave": v.Slave, "fan": v.Fan,
		"dc": v.DC, "rpm": v.RPM,
		"R": v.R, "C": v.C, "L": v.L, "S": v.S, "F": v.F,
		"maxRPM": v.MaxRPM, "t": v.T, "step": v.Step,
	}
}

// ScriptFunction is a compiled, side-effect-free function of fan
// coordinates (spec §4.10). It is safe for concurrent use.
type ScriptFunction struct {
	source   string
	program  *vm.Program
}

// Compile parses and compiles a duty-cycle expression. Compilation is
// sandboxed to the Vars environment: the script cannot reference
// anything outside it and has no access to I/O or host functions beyond
// the standard expr-lang builtins.
func Compile(source string) (*ScriptFunction, error) {
	program, err := expr.Compile(source, expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("scripting: compile: %w", err)
	}
	return &ScriptFunction{source: source, program: program}, nil
}

// Eval runs the compiled function over one set of fan coordinates,
// returning the resulting duty cycle.
func (s *ScriptFunction) Eval(v Vars) (float64, error) {
	out, err := expr.Run(s.program, v.toEnv())
	if err != nil {
		return 0, fmt.Errorf("scripting: eval %q: %w", s.source, err)
	}
	f, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("scripting: eval %q: result is not numeric (%T)", s.source, out)
	}
	return f, nil
}

// Source returns the original expression text.
func (s *ScriptFunction) Source() string { return s.source }

// Cache is an LRU cache of compiled scripts keyed by expression text
// (spec §4.10), so re-applying an unchanged duty-cycle script across
// ticks never re-compiles it.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	entries  map[string]*ScriptFunction
}

// NewCache constructs an LRU cache with the given capacity.
func NewCache(capacity int) *Cache {
	return &Cache{capacity: capacity, entries: make(map[string]*ScriptFunction)}
}

// Get compiles (or returns the cached compilation of) source.
func (c *Cache) Get(source string) (*ScriptFunction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fn, ok := c.entries[source]; ok {
		c.touch(source)
		return fn, nil
	}

	fn, err := Compile(source)
	if err != nil {
		return nil, err
	}

	c.entries[source] = fn
	c.order = append(c.order, source)
	if len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	return fn, nil
}

func (c *Cache) touch(source string) {
	for i, s := range c.order {
		if s == source {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, source)
}
