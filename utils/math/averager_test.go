// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package math

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAverager(t *testing.T) {
	require := require.New(t)

	halflife := time.Second
	currentTime := time.Now()

	a := NewAverager(0, halflife, currentTime)
	require.Zero(a.Read())

	currentTime = currentTime.Add(halflife)
	a.Observe(1, currentTime)
	require.Equal(1.0/1.5, a.Read())

	// Observing at the same time weighs both values equally.
	a.Observe(1, currentTime)
	require.InDelta(2.0/2.5, a.Read(), 1e-9)
}

func TestAveragerTimeTravel(t *testing.T) {
	halflife := time.Second
	currentTime := time.Now()

	a := NewAverager(1, halflife, currentTime)
	require.Equal(t, float64(1), a.Read())

	a.Observe(0, currentTime.Add(-halflife))
	require.Equal(t, 1.0/1.5, a.Read())
}
