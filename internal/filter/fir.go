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

// Window is the closed set of windowing functions for FIR design (spec
// §4.5).
type Window int

const (
	Hamming Window = iota
	Hanning
	Blackman
	Kaiser
	Rectangular
)

// FIR is a windowed-sinc finite impulse response filter. A zero cutoff
// degrades to the plain moving-average special case named in spec §4.5.
type FIR struct {
	taps []float64
	hist []float64
	pos  int

	processed int64
	total     time.Duration
}

// NewFIR designs a length-`taps` windowed-sinc lowpass filter with
// normalized cutoff in (0, 1). cutoff == 0 yields a plain moving average.
func NewFIR(numTaps int, cutoff float64, w Window) (*FIR, error) {
	if numTaps < 1 {
		return nil, fmt.Errorf("filter: fir: numTaps must be positive")
	}
	taps := make([]float64, numTaps)

	if cutoff <= 0 {
		for i := range taps {
			taps[i] = 1 / float64(numTaps)
		}
		return &FIR{taps: taps, hist: make([]float64, numTaps)}, nil
	}

	m := float64(numTaps - 1)
	sum := 0.0
	for i := 0; i < numTaps; i++ {
		n := float64(i) - m/2
		var sinc float64
		if n == 0 {
			sinc = cutoff
		} else {
			sinc = math.Sin(math.Pi*cutoff*n) / (math.Pi * n)
		}
		taps[i] = sinc * windowValue(w, i, numTaps)
		sum += taps[i]
	}
	if sum != 0 {
		for i := range taps {
			taps[i] /= sum
		}
	}
	return &FIR{taps: taps, hist: make([]float64, numTaps)}, nil
}

func windowValue(w Window, i, n int) float64 {
	if n == 1 {
		return 1
	}
	x := float64(i) / float64(n-1)
	switch w {
	case Hamming:
		return 0.54 - 0.46*math.Cos(2*math.Pi*x)
	case Hanning:
		return 0.5 - 0.5*math.Cos(2*math.Pi*x)
	case Blackman:
		return 0.42 - 0.5*math.Cos(2*math.Pi*x) + 0.08*math.Cos(4*math.Pi*x)
	case Kaiser:
		beta := 6.0
		return besselI0(beta*math.Sqrt(1-math.Pow(2*x-1, 2))) / besselI0(beta)
	default: // Rectangular
		return 1
	}
}

func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	for k := 1; k < 25; k++ {
		term *= (x / (2 * float64(k))) * (x / (2 * float64(k)))
		sum += term
	}
	return sum
}

func (f *FIR) Process(s schema.Sample) schema.FilteredSample {
	start := time.Now()
	f.hist[f.pos] = s.Value
	f.pos = (f.pos + 1) % len(f.hist)

	acc := 0.0
	for i, tap := range f.taps {
		idx := (f.pos + i) % len(f.hist)
		acc += tap * f.hist[idx]
	}

	f.processed++
	dur := time.Since(start)
	f.total += dur
	return schema.FilteredSample{Sample: s, FilteredValue: acc, Gain: 1, ProcessingTime: dur}
}

func (f *FIR) Reset() {
	for i := range f.hist {
		f.hist[i] = 0
	}
	f.pos = 0
}

func (f *FIR) Stats() Stats {
	return Stats{SamplesProcessed: f.processed, TotalProcessing: f.total}
}
