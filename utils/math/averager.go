// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package math

import (
	"math"
	"time"
)

// Averager tracks a moving average of observed values.
type Averager interface {
	// Observe the value at the given time
	Observe(value float64, currentTime time.Time)

	// Read returns the average of the provided values.
	Read() float64
}

// decayingAverager weighs every observation by 2^(-age/halflife), where the
// age is measured from the most recent observation.
type decayingAverager struct {
	halflife time.Duration
	// sum of the weighted observations
	sum float64
	// sum of the weights
	weight float64
	latest time.Time
}

// NewAverager returns an exponentially decaying average seeded with
// [initialPrediction] observed at [currentTime]. Not safe for concurrent use.
func NewAverager(
	initialPrediction float64,
	halflife time.Duration,
	currentTime time.Time,
) Averager {
	return &decayingAverager{
		halflife: halflife,
		sum:      initialPrediction,
		weight:   1,
		latest:   currentTime,
	}
}

func (a *decayingAverager) decay(d time.Duration) float64 {
	return math.Exp2(-float64(d) / float64(a.halflife))
}

func (a *decayingAverager) Observe(value float64, currentTime time.Time) {
	if currentTime.After(a.latest) {
		// Age the previous observations and add the new one at full weight.
		oldWeight := a.decay(currentTime.Sub(a.latest))
		a.sum = a.sum*oldWeight + value
		a.weight = a.weight*oldWeight + 1
		a.latest = currentTime
		return
	}

	// An out of order observation is aged relative to the latest one.
	newWeight := a.decay(a.latest.Sub(currentTime))
	a.sum += value * newWeight
	a.weight += newWeight
}

func (a *decayingAverager) Read() float64 {
	return a.sum / a.weight
}
