// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"
)

func TestUniformSampleWithoutReplacement(t *testing.T) {
	require := require.New(t)

	s := NewUniform()
	s.Initialize(5)
	s.Seed(1)

	sampled, err := s.Sample(5)
	require.NoError(err)
	slices.Sort(sampled)
	require.Equal([]uint64{0, 1, 2, 3, 4}, sampled)

	_, err = s.Sample(6)
	require.ErrorIs(err, ErrOutOfRange)
}

func TestUniformNext(t *testing.T) {
	require := require.New(t)

	s := NewUniform()
	s.Initialize(2)

	first, err := s.Next()
	require.NoError(err)
	second, err := s.Next()
	require.NoError(err)
	require.NotEqual(first, second)

	_, err = s.Next()
	require.ErrorIs(err, ErrOutOfRange)

	s.Reset()
	_, err = s.Next()
	require.NoError(err)
}

func TestUniformSeedIsDeterministic(t *testing.T) {
	require := require.New(t)

	s := NewUniform()
	s.Initialize(1000)

	s.Seed(42)
	first, err := s.Sample(10)
	require.NoError(err)

	s.Seed(42)
	second, err := s.Sample(10)
	require.NoError(err)
	require.Equal(first, second)
}

func TestChance(t *testing.T) {
	require := require.New(t)

	for i := 0; i < 100; i++ {
		require.False(Chance(0))
		require.True(Chance(1))
		require.False(Chance(-1))
	}

	r := newRNG()
	r.Seed(7)
	hits := 0
	for i := 0; i < 10_000; i++ {
		if r.chance(0.5) {
			hits++
		}
	}
	require.InDelta(5_000, hits, 500)
}

func TestUint64Inclusive(t *testing.T) {
	require := require.New(t)

	r := newRNG()
	for _, n := range []uint64{0, 1, 6, 7, 1 << 40, 1<<63 + 5, math.MaxUint64} {
		for i := 0; i < 100; i++ {
			require.LessOrEqual(r.Uint64Inclusive(n), n)
		}
	}
	require.Zero(r.Uint64Inclusive(0))
}

func TestUint64InclusiveCoversRange(t *testing.T) {
	require := require.New(t)

	r := newRNG()
	r.Seed(3)
	seen := make(map[uint64]int)
	for i := 0; i < 6_000; i++ {
		seen[r.Uint64Inclusive(5)]++
	}
	require.Len(seen, 6)
	for _, count := range seen {
		require.InDelta(1_000, count, 200)
	}
}
