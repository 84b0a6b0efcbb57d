// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package control

import (
	"math"
	"testing"

	"github.com/fanclub/master/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestSelectGainsTableLowTarget(t *testing.T) {
	g := SelectGains(500)
	assert.InDelta(t, 0.02, g.Kp, 0.015)
	assert.GreaterOrEqual(t, g.Kp, 0.005)
	assert.LessOrEqual(t, g.Kp, 0.05)
}

func TestSelectGainsClampedToAutoRange(t *testing.T) {
	g := SelectGains(10000)
	assert.GreaterOrEqual(t, g.Ki, 0.0001)
	assert.LessOrEqual(t, g.Ki, 0.01)
}

func TestClampApplyEnforcesUserRange(t *testing.T) {
	g := ClampApply(Gains{Kp: 5, Ki: 1})
	assert.Equal(t, 2.0, g.Kp)
	assert.Equal(t, 0.5, g.Ki)
}

func TestStepSkipsRIPAndPADFans(t *testing.T) {
	c := New(0)
	c.SetMode(ClosedLoop)
	c.SetTargets([]Target{{SlaveIndex: 0, TargetRPM: 1500, Selection: Selection{All: true}}})

	fv := schema.NewFeedbackVector(1, 2, 0)
	fv.SetRPM(0, 0, schema.RIP)
	fv.SetRPM(0, 1, 1400)
	fv.SetDC(0, 1, 5000)

	var sunk []int
	c.Step(fv, func(slaveIndex, fan, dutyScaled int) {
		sunk = append(sunk, fan)
	})

	assert.Equal(t, []int{1}, sunk)
}

func TestStopResetsIntegratorsAndZeroesDuty(t *testing.T) {
	c := New(0)
	c.SetMode(ClosedLoop)
	c.SetTargets([]Target{{SlaveIndex: 0, TargetRPM: 1500, Selection: Selection{All: true}}})

	fv := schema.NewFeedbackVector(1, 1, 0)
	fv.SetRPM(0, 0, 1000)
	c.Step(fv, func(slaveIndex, fan, dutyScaled int) {})

	var zeroed []int
	c.Stop(func(slaveIndex, fan, dutyScaled int) { zeroed = append(zeroed, dutyScaled) })
	assert.Equal(t, Off, c.Mode())
	for _, d := range zeroed {
		assert.Equal(t, 0, d)
	}
}

// TestStepConvergesOnSimulatedPlant drives Step against a simulated plant
// (rpm[t+1] = 0.9*rpm[t] + gain*dc[t] + noise) for a PI-convergence check
// (spec.md §8 Scenario Test #3). The scenario's literal plant gain of
// 12000 would require a steady-state duty of target/120000 = 0.0125 for
// a 1500rpm target, below the controller's own minDuty=0.1 floor, so no
// gain/target pair obeying that floor can reach 12000's exact numbers.
// This uses a gain (300) whose steady-state duty for the same 1500rpm
// target and Kp/Ki sits inside [0.1, 1.0], keeping the same decay,
// target and gains the scenario specifies.
func TestStepConvergesOnSimulatedPlant(t *testing.T) {
	c := New(0)
	c.SetMode(ClosedLoop)
	const target = 1500.0
	c.SetTargets([]Target{{SlaveIndex: 0, TargetRPM: target, Selection: Selection{All: true}}})
	c.gains[0] = Gains{Kp: 0.015, Ki: 0.0015}

	const decay = 0.9
	const gain = 300.0
	noise := []float64{2, -3, 1, -1, 4, -2, 0, 3, -4, 1}

	rpm := 0.0
	dutyFraction := 0.5
	fv := schema.NewFeedbackVector(1, 1, 0)
	fv.SetDC(0, 0, fractionToScaled(dutyFraction, 0))

	const steps = 200
	const window = 50
	maxErrFirst, maxErrLast := 0.0, 0.0
	for i := 0; i < steps; i++ {
		fv.SetRPM(0, 0, int(rpm))
		c.Step(fv, func(slaveIndex, fan, dutyScaled int) {
			dutyFraction = scaledToFraction(dutyScaled, 0)
		})
		rpm = decay*rpm + gain*dutyFraction + noise[i%len(noise)]

		e := math.Abs(target - rpm)
		if i < window && e > maxErrFirst {
			maxErrFirst = e
		}
		if i >= steps-window && e > maxErrLast {
			maxErrLast = e
		}
	}

	assert.Less(t, maxErrLast, maxErrFirst, "settled error should be well below the initial transient")
	assert.Less(t, maxErrLast, 300.0, "PI loop should have pulled rpm close to target by the end of the run")
}

func TestDeadZoneTreatsSmallErrorAsZero(t *testing.T) {
	c := New(0)
	c.SetMode(ClosedLoop)
	c.SetTargets([]Target{{SlaveIndex: 0, TargetRPM: 1000, Selection: Selection{All: true}}})

	fv := schema.NewFeedbackVector(1, 1, 0)
	fv.SetRPM(0, 0, 995) // within 2% dead zone of 1000
	fv.SetDC(0, 0, 50)  // duty 0.5, scaled by 10^(decimals+2)=100

	var duty int
	c.Step(fv, func(slaveIndex, fan, dutyScaled int) { duty = dutyScaled })
	assert.Equal(t, 50, duty)
}
