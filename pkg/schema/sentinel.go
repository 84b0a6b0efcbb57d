// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema holds the data types shared across the master's
// subsystems: the feedback/network/slave state vectors, control vectors,
// slave identity, and the raw/filtered sample types that flow through the
// acquisition pipeline. Keeping these as a leaf package with no
// dependencies on the rest of the module lets every other package import
// it without cycles.
package schema

// Fan-slot sentinel values used in the feedback vector. A closed set per
// the re-implementation notes: the source code used an inconsistent set
// of negative markers across files, so this implementation fixes exactly
// these three.
const (
	// RIP marks a slot whose slave is gone (disconnected/never connected).
	RIP int = -666
	// PAD marks an unused slot within a slave's fan allowance (fan index
	// beyond that slave's fan_count, but within maxFans).
	PAD int = -69
	// END marks the logical end of a variable-length wire field; unused
	// in the vector representation but kept for protocol symmetry.
	END int = -354
)

// DutyScale returns the integer scale factor duty cycles are multiplied
// by on the wire and in the feedback vector, as a function of the
// configured decimal precision. duty_wire = duty_normalized * 10^(decimals+2).
func DutyScale(decimals int) int {
	scale := 1
	for i := 0; i < decimals+2; i++ {
		scale *= 10
	}
	return scale
}
