// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mockable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockSince(t *testing.T) {
	require := require.New(t)

	now := time.Unix(1_000_000, 0)
	clock := Clock{}
	clock.Set(now)

	require.Equal(time.Hour, clock.Since(now.Add(-time.Hour)))
	require.Zero(clock.Since(now.Add(time.Hour)))

	clock.Sync()
	require.True(clock.Time().After(now))
}

func TestClockAdvance(t *testing.T) {
	require := require.New(t)

	now := time.Unix(1_000_000, 0)
	clock := Clock{}
	clock.Set(now)
	clock.Advance(time.Minute)
	require.Equal(now.Add(time.Minute), clock.Time())

	var real Clock
	before := time.Now()
	real.Advance(time.Hour)
	require.False(real.Time().Before(before.Add(time.Hour)))
}
