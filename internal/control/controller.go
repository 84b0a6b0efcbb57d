// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package control implements the Controller: the PI feedback loop that
// is the heart of the hard real-time path (spec §4.6).
package control

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/fanclub/master/pkg/schema"
)

// Mode is the controller's operating mode (spec §4.6).
type Mode int

const (
	Off Mode = iota
	OpenLoop
	ClosedLoop
)

// Selection picks which fans of the targeted slaves are under control.
type Selection struct {
	All  bool
	Mask []bool // per-fan bitmask, used when All is false
}

func (s Selection) includes(fan int) bool {
	if s.All {
		return true
	}
	return fan < len(s.Mask) && s.Mask[fan]
}

// Gains is a PI gain pair.
type Gains struct {
	Kp, Ki float64
}

// SelectGains implements the default gain-scheduling table (spec §4.6),
// scaled by a load factor derived from the target RPM and clamped to the
// auto-tune path's limits.
func SelectGains(targetRPM float64) Gains {
	var g Gains
	switch {
	case targetRPM < 1000:
		g = Gains{Kp: 0.02, Ki: 0.002}
	case targetRPM < 3000:
		g = Gains{Kp: 0.015, Ki: 0.0015}
	default:
		g = Gains{Kp: 0.01, Ki: 0.001}
	}
	l := math.Min(targetRPM/5000, 1)
	g.Kp *= 1 + 0.5*l
	g.Ki *= 1 + 0.3*l
	return clampAuto(g)
}

func clampAuto(g Gains) Gains {
	return Gains{
		Kp: clamp(g.Kp, 0.005, 0.05),
		Ki: clamp(g.Ki, 0.0001, 0.01),
	}
}

// ClampApply enforces the user-facing "apply" path's limits (spec §4.6):
// these values are broadcast verbatim to slaves via PISET, unlike the
// auto-path gains which never leave the master.
func ClampApply(g Gains) Gains {
	return Gains{
		Kp: clamp(g.Kp, 0.1, 2.0),
		Ki: clamp(g.Ki, 0.01, 0.5),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type fanState struct {
	integral float64
	duty     float64
	errHist  []float64 // last 20 errors, for auto-tune
}

// Target describes one closed-loop setpoint applied to a set of slave
// fans.
type Target struct {
	SlaveIndex int
	TargetRPM  float64
	Selection  Selection
}

// Sink is how the Controller emits a computed duty for one fan of one
// slave; slave.Manager.Control satisfies a similar shape but the
// Controller works at the (slaveIndex, fan) granularity required to only
// touch fans it owns (spec §4.6 step 3).
type Sink func(slaveIndex, fan int, dutyScaled int)

// Controller is the PI feedback loop (spec §4.6).
type Controller struct {
	mu         sync.Mutex
	mode       Mode
	targets    []Target
	gains      map[int]Gains // per slave index
	states     map[[2]int]*fanState
	autoTune   bool
	decimals   int
	lastPeriod time.Duration
}

// New constructs a Controller. decimals sizes the wire duty-cycle scale
// (spec §3.3: DC is scaled by 10^(decimals+2)).
func New(decimals int) *Controller {
	return &Controller{
		mode:     Off,
		gains:    make(map[int]Gains),
		states:   make(map[[2]int]*fanState),
		decimals: decimals,
	}
}

// SetMode switches the controller's mode.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

// Mode reports the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetTargets replaces the closed-loop targets, seeding default gains for
// any newly targeted slave.
func (c *Controller) SetTargets(targets []Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = targets
	for _, t := range targets {
		if _, ok := c.gains[t.SlaveIndex]; !ok {
			c.gains[t.SlaveIndex] = SelectGains(t.TargetRPM)
		}
	}
}

// SetAutoTune toggles the auto-tune loop (spec §4.6, off by default).
func (c *Controller) SetAutoTune(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoTune = enabled
}

// Stop resets all integrators and commands DC=0 to owned fans (spec
// §4.6): cancellation takes effect no later than one control period.
func (c *Controller) Stop(sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = Off
	for key, st := range c.states {
		st.integral = 0
		st.duty = 0
		sink(key[0], key[1], 0)
	}
	c.states = make(map[[2]int]*fanState)
}

const (
	deadZoneFraction   = 0.02
	antiWindupFraction = 0.1
	minDuty            = 0.1
	maxDuty            = 1.0
)

// Step runs one control period (spec §4.6): samples the feedback vector,
// computes per-fan duty adjustments for every targeted, validly-reporting
// fan, and emits updated duties through sink. Fans not under control are
// left untouched by the caller (the controller only calls sink for fans
// it owns).
func (c *Controller) Step(fv *schema.FeedbackVector, sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ClosedLoop {
		return
	}

	for _, target := range c.targets {
		gains := c.gains[target.SlaveIndex]
		for fan := 0; fan < fv.MaxFans; fan++ {
			if !target.Selection.includes(fan) {
				continue
			}
			rpm, err := fv.RPMAt(target.SlaveIndex, fan)
			if err != nil || rpm == schema.RIP || rpm == schema.PAD {
				continue
			}

			key := [2]int{target.SlaveIndex, fan}
			st, ok := c.states[key]
			if !ok {
				dcRaw, _ := fv.DCAt(target.SlaveIndex, fan)
				st = &fanState{duty: scaledToFraction(dcRaw, c.decimals)}
				c.states[key] = st
			}

			errVal := target.TargetRPM - float64(rpm)
			if math.Abs(errVal) < deadZoneFraction*target.TargetRPM {
				errVal = 0
			}

			bound := antiWindupFraction * target.TargetRPM
			st.integral = clamp(st.integral+errVal, -bound, bound)

			delta := gains.Kp*errVal + gains.Ki*st.integral
			st.duty = clamp(st.duty+delta, minDuty, maxDuty)

			st.errHist = append(st.errHist, errVal)
			if len(st.errHist) > 20 {
				st.errHist = st.errHist[len(st.errHist)-20:]
			}

			sink(target.SlaveIndex, fan, fractionToScaled(st.duty, c.decimals))
		}
	}
}

func scaledToFraction(v, decimals int) float64 {
	return float64(v) / math.Pow(10, float64(decimals+2))
}

func fractionToScaled(f float64, decimals int) int {
	return int(math.Round(f * math.Pow(10, float64(decimals+2))))
}

// Run drives Step on a fixed period until ctx is cancelled (spec §4.6:
// default 100ms).
func (c *Controller) Run(ctx context.Context, period time.Duration, feed func() *schema.FeedbackVector, sink Sink) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Stop(sink)
			return
		case <-ticker.C:
			c.Step(feed(), sink)
		}
	}
}

// AutoTune runs the 30s auto-tune pass (spec §4.6) over the last 20
// samples' error history for every actively controlled fan.
func (c *Controller) AutoTune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.autoTune {
		return
	}

	for _, target := range c.targets {
		gains, ok := c.gains[target.SlaveIndex]
		if !ok {
			continue
		}
		updated := gains
		for key, st := range c.states {
			if key[0] != target.SlaveIndex || len(st.errHist) == 0 {
				continue
			}
			meanAbs, variance := errorStats(st.errHist)
			threshold := 0.1 * target.TargetRPM
			varThreshold := math.Pow(0.05*target.TargetRPM, 2)
			tightThreshold := 0.02 * target.TargetRPM
			tightVar := math.Pow(0.02*target.TargetRPM, 2)

			switch {
			case meanAbs > threshold:
				updated.Ki *= 1.2
			case variance > varThreshold:
				updated.Kp *= 0.9
				updated.Ki *= 0.9
			case meanAbs < tightThreshold && variance < tightVar:
				updated.Kp *= 1.05
			}
		}
		c.gains[target.SlaveIndex] = clampAuto(updated)
	}
}

func errorStats(errs []float64) (meanAbs, variance float64) {
	if len(errs) == 0 {
		return 0, 0
	}
	var sumAbs, sum float64
	for _, e := range errs {
		sumAbs += math.Abs(e)
		sum += e
	}
	n := float64(len(errs))
	meanAbs = sumAbs / n
	mean := sum / n
	var sqDiff float64
	for _, e := range errs {
		sqDiff += (e - mean) * (e - mean)
	}
	variance = sqDiff / n
	return meanAbs, variance
}

// RunAutoTune drives AutoTune every 30 seconds until ctx is cancelled.
func (c *Controller) RunAutoTune(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.AutoTune()
		}
	}
}
