// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package filter

import (
	"fmt"
	"time"

	"github.com/fanclub/master/pkg/schema"
)

// LMS is a fixed-tap adaptive filter requiring a reference signal (spec
// §4.5). Process treats s.RawValue as the reference and s.Value as the
// primary input.
type LMS struct {
	weights []float64
	hist    []float64
	pos     int
	mu      float64

	processed int64
	total     time.Duration
}

// NewLMS builds an LMS filter with the given tap count and step size mu,
// 0 < mu < 1 (spec §4.5).
func NewLMS(taps int, mu float64) (*LMS, error) {
	if taps < 1 {
		return nil, fmt.Errorf("filter: lms: taps must be positive")
	}
	if mu <= 0 || mu >= 1 {
		return nil, fmt.Errorf("filter: lms: mu %f out of range (0,1)", mu)
	}
	return &LMS{weights: make([]float64, taps), hist: make([]float64, taps), mu: mu}, nil
}

func (f *LMS) Process(s schema.Sample) schema.FilteredSample {
	start := time.Now()
	f.hist[f.pos] = s.Value
	f.pos = (f.pos + 1) % len(f.hist)

	estimate := 0.0
	for i, w := range f.weights {
		idx := (f.pos + i) % len(f.hist)
		estimate += w * f.hist[idx]
	}

	reference := s.RawValue
	err := reference - estimate
	for i := range f.weights {
		idx := (f.pos + i) % len(f.hist)
		f.weights[i] += f.mu * err * f.hist[idx]
	}

	f.processed++
	dur := time.Since(start)
	f.total += dur
	return schema.FilteredSample{Sample: s, FilteredValue: estimate, Gain: 1, ProcessingTime: dur}
}

func (f *LMS) Reset() {
	for i := range f.weights {
		f.weights[i] = 0
	}
	for i := range f.hist {
		f.hist[i] = 0
	}
	f.pos = 0
}

func (f *LMS) Stats() Stats {
	return Stats{SamplesProcessed: f.processed, TotalProcessing: f.total}
}

// Kalman is a scalar Kalman filter (spec §4.5): state is the estimated
// value, with configurable process noise Q, measurement noise R.
type Kalman struct {
	q, r       float64
	estimate   float64
	errorCov   float64
	avgGain    float64

	initEstimate, initP float64

	processed int64
	total     time.Duration
}

// NewKalman constructs a scalar Kalman filter.
func NewKalman(q, r, initialEstimate, initialP float64) *Kalman {
	return &Kalman{q: q, r: r, estimate: initialEstimate, errorCov: initialP,
		initEstimate: initialEstimate, initP: initialP}
}

func (f *Kalman) Process(s schema.Sample) schema.FilteredSample {
	start := time.Now()

	// Predict.
	pPred := f.errorCov + f.q

	// Update.
	gain := pPred / (pPred + f.r)
	f.estimate = f.estimate + gain*(s.Value-f.estimate)
	f.errorCov = (1 - gain) * pPred

	f.processed++
	if f.processed == 1 {
		f.avgGain = gain
	} else {
		f.avgGain += (gain - f.avgGain) / float64(f.processed)
	}

	dur := time.Since(start)
	f.total += dur
	return schema.FilteredSample{Sample: s, FilteredValue: f.estimate, Gain: gain, ProcessingTime: dur}
}

func (f *Kalman) Reset() {
	f.estimate, f.errorCov = f.initEstimate, f.initP
	f.processed = 0
	f.avgGain = 0
}

func (f *Kalman) Stats() Stats {
	return Stats{
		SamplesProcessed: f.processed, TotalProcessing: f.total,
		Extra: map[string]float64{"average_kalman_gain": f.avgGain},
	}
}

// Huber is a windowed-median filter with a Huber-weighted update (spec
// §4.5): robust to outliers beyond threshold (default 1.345).
type Huber struct {
	window    []float64
	pos       int
	full      bool
	threshold float64
	estimate  float64
	outliers  int64

	processed int64
	total     time.Duration
}

// NewHuber builds a Huber robust filter with the given window size and
// outlier threshold (an absolute distance from the window median, in the
// units of the sample values).
func NewHuber(windowSize int, threshold float64) (*Huber, error) {
	if windowSize < 1 {
		return nil, fmt.Errorf("filter: huber: window size must be positive")
	}
	if threshold <= 0 {
		threshold = 1.345
	}
	return &Huber{window: make([]float64, windowSize), threshold: threshold}, nil
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func (f *Huber) Process(s schema.Sample) schema.FilteredSample {
	start := time.Now()
	f.window[f.pos] = s.Value
	f.pos++
	if f.pos == len(f.window) {
		f.pos = 0
		f.full = true
	}

	effective := f.window
	if !f.full {
		effective = f.window[:f.pos]
	}
	med := median(effective)

	residual := s.Value - med
	absR := residual
	if absR < 0 {
		absR = -absR
	}

	var weighted float64
	if absR <= f.threshold {
		weighted = s.Value
	} else {
		f.outliers++
		if residual > 0 {
			weighted = med + f.threshold
		} else {
			weighted = med - f.threshold
		}
	}
	f.estimate = weighted

	f.processed++
	dur := time.Since(start)
	f.total += dur
	return schema.FilteredSample{Sample: s, FilteredValue: f.estimate, Gain: 1, ProcessingTime: dur}
}

func (f *Huber) Reset() {
	for i := range f.window {
		f.window[i] = 0
	}
	f.pos, f.full, f.outliers = 0, false, 0
}

func (f *Huber) Stats() Stats {
	return Stats{
		SamplesProcessed: f.processed, TotalProcessing: f.total,
		Extra: map[string]float64{"outliers_detected": float64(f.outliers)},
	}
}

// AlphaBeta is a position/velocity estimator (spec §4.5), alpha/beta in
// [0,1].
type AlphaBeta struct {
	alpha, beta      float64
	position, velocity float64
	initialized      bool
	lastT            time.Time

	processed int64
	total     time.Duration
}

// NewAlphaBeta builds an alpha-beta filter.
func NewAlphaBeta(alpha, beta float64) (*AlphaBeta, error) {
	if alpha < 0 || alpha > 1 || beta < 0 || beta > 1 {
		return nil, fmt.Errorf("filter: alphabeta: alpha/beta must be in [0,1]")
	}
	return &AlphaBeta{alpha: alpha, beta: beta}, nil
}

func (f *AlphaBeta) Process(s schema.Sample) schema.FilteredSample {
	start := time.Now()

	if !f.initialized {
		f.position = s.Value
		f.velocity = 0
		f.initialized = true
		f.lastT = s.Timestamp
		f.processed++
		dur := time.Since(start)
		f.total += dur
		return schema.FilteredSample{Sample: s, FilteredValue: f.position, Gain: 1, ProcessingTime: dur}
	}

	dt := s.Timestamp.Sub(f.lastT).Seconds()
	if dt <= 0 {
		dt = 1
	}
	f.lastT = s.Timestamp

	predicted := f.position + f.velocity*dt
	residual := s.Value - predicted

	f.position = predicted + f.alpha*residual
	f.velocity = f.velocity + (f.beta/dt)*residual

	f.processed++
	dur := time.Since(start)
	f.total += dur
	return schema.FilteredSample{Sample: s, FilteredValue: f.position, Gain: 1, ProcessingTime: dur}
}

func (f *AlphaBeta) Reset() {
	f.initialized = false
	f.position, f.velocity = 0, 0
}

func (f *AlphaBeta) Stats() Stats {
	return Stats{
		SamplesProcessed: f.processed, TotalProcessing: f.total,
		Extra: map[string]float64{"velocity_estimate": f.velocity},
	}
}
