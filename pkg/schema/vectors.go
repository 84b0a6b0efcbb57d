// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "fmt"

// NetworkVector is the fixed-shape network summary (spec §3.3): whether
// the master is bound, its local address, and the broadcast/listener
// endpoints it is using.
type NetworkVector struct {
	Connected     bool
	LocalIP       string
	BroadcastIP   string
	BroadcastPort int
	ListenerPort  int
}

// Slice renders the network vector as the 5-element positional form used
// on the wire contract described in spec §3.3.
func (n NetworkVector) Slice() [5]any {
	return [5]any{n.Connected, n.LocalIP, n.BroadcastIP, n.BroadcastPort, n.ListenerPort}
}

// SlavesVector is the concatenation of per-slave 6-tuples (spec §3.3).
type SlavesVector []Slave

// Tuples flattens the slave set into its wire-facing tuple form.
func (s SlavesVector) Tuples() [][6]any {
	out := make([][6]any, len(s))
	for i, sl := range s {
		out[i] = sl.Tuple()
	}
	return out
}

// FeedbackVector holds RPM and duty-cycle readings for every fan slot of
// every slave. Its length is always 2*N*maxFans (spec invariant §8):
// the first N*maxFans entries are RPMs, the second half are duty cycles
// scaled by 10^(decimals+2).
type FeedbackVector struct {
	NumSlaves int
	MaxFans   int
	Decimals  int
	RPM       []int
	DC        []int
}

// NewFeedbackVector allocates a feedback vector of the given shape, with
// every slot initialized to RIP (no slave known yet in that slot).
func NewFeedbackVector(numSlaves, maxFans, decimals int) *FeedbackVector {
	fv := &FeedbackVector{
		NumSlaves: numSlaves,
		MaxFans:   maxFans,
		Decimals:  decimals,
		RPM:       make([]int, numSlaves*maxFans),
		DC:        make([]int, numSlaves*maxFans),
	}
	for i := range fv.RPM {
		fv.RPM[i] = RIP
		fv.DC[i] = RIP
	}
	return fv
}

// Len returns 2*N*maxFans, the full vector length per spec §3.3/§8.
func (f *FeedbackVector) Len() int {
	return 2 * f.NumSlaves * f.MaxFans
}

func (f *FeedbackVector) rpmIndex(slaveIdx, fan int) (int, error) {
	if slaveIdx < 0 || slaveIdx >= f.NumSlaves || fan < 0 || fan >= f.MaxFans {
		return 0, fmt.Errorf("schema: slave/fan index out of range (%d,%d) for shape (%d,%d)", slaveIdx, fan, f.NumSlaves, f.MaxFans)
	}
	return slaveIdx*f.MaxFans + fan, nil
}

// RPMAt returns the RPM reading for a given slave index and fan offset.
func (f *FeedbackVector) RPMAt(slaveIdx, fan int) (int, error) {
	i, err := f.rpmIndex(slaveIdx, fan)
	if err != nil {
		return 0, err
	}
	return f.RPM[i], nil
}

// DCAt returns the duty-cycle reading (scaled integer) for a slave/fan.
func (f *FeedbackVector) DCAt(slaveIdx, fan int) (int, error) {
	i, err := f.rpmIndex(slaveIdx, fan)
	if err != nil {
		return 0, err
	}
	return f.DC[i], nil
}

// SetRPM writes an RPM reading for a slave/fan slot.
func (f *FeedbackVector) SetRPM(slaveIdx, fan, value int) error {
	i, err := f.rpmIndex(slaveIdx, fan)
	if err != nil {
		return err
	}
	f.RPM[i] = value
	return nil
}

// SetDC writes a duty-cycle slot (scaled integer, see DutyScale).
func (f *FeedbackVector) SetDC(slaveIdx, fan, value int) error {
	i, err := f.rpmIndex(slaveIdx, fan)
	if err != nil {
		return err
	}
	f.DC[i] = value
	return nil
}

// MarkRIP sets every fan slot of a slave to the RIP sentinel, used when a
// slave disconnects or is never seen in a slot (spec §3.2 side effect:
// "preserve last RPM/DC as RIP").
func (f *FeedbackVector) MarkRIP(slaveIdx int) {
	for fan := 0; fan < f.MaxFans; fan++ {
		i, _ := f.rpmIndex(slaveIdx, fan)
		f.RPM[i] = RIP
		f.DC[i] = RIP
	}
}

// MarkPad sets fan slots beyond fanCount (but within maxFans) to PAD.
func (f *FeedbackVector) MarkPad(slaveIdx, fanCount int) {
	for fan := fanCount; fan < f.MaxFans; fan++ {
		i, _ := f.rpmIndex(slaveIdx, fan)
		f.RPM[i] = PAD
		f.DC[i] = PAD
	}
}

// Clone returns an independent deep copy, used so published vectors are
// immutable-once-published (spec §5 shared-resource policy).
func (f *FeedbackVector) Clone() *FeedbackVector {
	cp := &FeedbackVector{
		NumSlaves: f.NumSlaves,
		MaxFans:   f.MaxFans,
		Decimals:  f.Decimals,
		RPM:       make([]int, len(f.RPM)),
		DC:        make([]int, len(f.DC)),
	}
	copy(cp.RPM, f.RPM)
	copy(cp.DC, f.DC)
	return cp
}

// ControlCode multiplexes the two control-vector shapes on the wire
// (spec §3.4).
type ControlCode int

const (
	SingleDC ControlCode = iota
	VectorDC
)

// ControlVector is either a SingleDC command (duty applied to a selection
// bitmask across target slaves) or a VectorDC command (a full duty
// matrix). Selection and Duties are mutually exclusive depending on Code.
type ControlVector struct {
	Code      ControlCode
	Target    TargetSelector
	Duty      int   // SingleDC: single normalized-scaled duty value
	Selection []int // SingleDC: one bitmask word per targeted slave
	Duties    []int // VectorDC: full N*maxFans duty matrix, padded
}

// TargetSelector identifies which slaves a control vector addresses.
type TargetSelector struct {
	All     bool
	Indices []int
}
