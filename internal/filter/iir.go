// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package filter

import (
	"fmt"
	"math"
	"time"

	"github.com/fanclub/master/pkg/schema"
)

// IIRKind is the closed set of Butterworth response shapes (spec §4.5).
type IIRKind int

const (
	Lowpass IIRKind = iota
	Highpass
	Bandpass
	Bandstop
)

type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func (bq *biquad) step(x float64) float64 {
	y := bq.b0*x + bq.b1*bq.x1 + bq.b2*bq.x2 - bq.a1*bq.y1 - bq.a2*bq.y2
	bq.x2, bq.x1 = bq.x1, x
	bq.y2, bq.y1 = bq.y1, y
	return y
}

func (bq *biquad) reset() { bq.x1, bq.x2, bq.y1, bq.y2 = 0, 0, 0, 0 }

// IIR is a cascade of Butterworth biquad sections (spec §4.5: "orders
// 1–10; coefficients computed via Butterworth closed form; higher orders
// = cascade of biquads").
type IIR struct {
	kind     IIRKind
	sections []biquad

	processed int64
	total     time.Duration
}

// NewIIR builds an order-`order` Butterworth filter with normalized
// cutoff in (0, 1) where 1 is Nyquist. cutoff2 is accepted but not used:
// bandpass and bandstop sections are centred on cutoff, and each
// section's bandwidth follows from its Butterworth Q, not from a second
// cutoff.
func NewIIR(kind IIRKind, order int, cutoff, cutoff2 float64) (*IIR, error) {
	if order < 1 || order > 10 {
		return nil, fmt.Errorf("filter: iir: order %d out of range [1,10]", order)
	}
	if cutoff <= 0 || cutoff >= 1 {
		return nil, fmt.Errorf("filter: iir: cutoff %f out of range (0,1)", cutoff)
	}

	sections := make([]biquad, 0, (order+1)/2)
	nSections := (order + 1) / 2
	for k := 0; k < nSections; k++ {
		pole := math.Pi * (2*float64(k) + 1) / (2 * float64(order))
		sections = append(sections, butterworthSection(kind, cutoff, cutoff2, pole))
	}

	return &IIR{kind: kind, sections: sections}, nil
}

// butterworthSection computes one second-order section for the given
// Butterworth pole angle, via the standard bilinear-transform closed
// form for first/second-order analog prototypes.
func butterworthSection(kind IIRKind, wc, wc2, poleAngle float64) biquad {
	warped := math.Tan(math.Pi * wc / 2)
	q := 1 / (2 * math.Sin(poleAngle))
	if math.IsInf(q, 0) || q <= 0 {
		q = 0.7071
	}

	k := warped
	norm := 1 + k/q + k*k

	var b0, b1, b2, a1, a2 float64
	switch kind {
	case Highpass:
		b0 = 1 / norm
		b1 = -2 / norm
		b2 = 1 / norm
	case Bandpass:
		bw := wc2
		if bw <= 0 {
			bw = 0.1
		}
		b0 = (k / q) / norm
		b1 = 0
		b2 = -(k / q) / norm
	case Bandstop:
		b0 = (1 + k*k) / norm
		b1 = -2 * (1 - k*k) / norm
		b2 = (1 + k*k) / norm
	default: // Lowpass
		b0 = k * k / norm
		b1 = 2 * k * k / norm
		b2 = k * k / norm
	}
	a1 = 2 * (k*k - 1) / norm
	a2 = (1 - k/q + k*k) / norm

	return biquad{b0: b0, b1: b1, b2: b2, a1: a1, a2: a2}
}

func (f *IIR) Process(s schema.Sample) schema.FilteredSample {
	start := time.Now()
	v := s.Value
	for i := range f.sections {
		v = f.sections[i].step(v)
	}
	f.processed++
	f.total += time.Since(start)
	return schema.FilteredSample{
		Sample: s, FilteredValue: v, Gain: 1,
		ProcessingTime: time.Since(start),
	}
}

func (f *IIR) Reset() {
	for i := range f.sections {
		f.sections[i].reset()
	}
}

func (f *IIR) Stats() Stats {
	return Stats{SamplesProcessed: f.processed, TotalProcessing: f.total}
}
