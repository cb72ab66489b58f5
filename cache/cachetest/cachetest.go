// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cachetest is the conformance suite every Cacher runs.
package cachetest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/cache"
	"github.com/ava-labs/replicastate/ids"
)

const IntSize = ids.IDLen + 8

func IntSizeFunc(ids.ID, int64) int {
	return IntSize
}

// Tests is a list of all Cacher tests, with the number of elements the cache
// must be able to hold.
var Tests = []struct {
	Size int
	Func func(t *testing.T, c cache.Cacher[ids.ID, int64])
}{
	{Size: 1, Func: Basic},
	{Size: 2, Func: Eviction},
}

func Basic(t *testing.T, c cache.Cacher[ids.ID, int64]) {
	require := require.New(t)

	id1 := ids.ID{1}
	_, found := c.Get(id1)
	require.False(found)

	c.Put(id1, 1)
	value, found := c.Get(id1)
	require.True(found)
	require.Equal(int64(1), value)

	c.Put(id1, 2)
	value, found = c.Get(id1)
	require.True(found)
	require.Equal(int64(2), value)
	require.Equal(1, c.Len())

	id2 := ids.ID{2}
	c.Put(id2, 3)
	_, found = c.Get(id1)
	require.False(found)
	value, found = c.Get(id2)
	require.True(found)
	require.Equal(int64(3), value)
}

func Eviction(t *testing.T, c cache.Cacher[ids.ID, int64]) {
	require := require.New(t)

	id1 := ids.ID{1}
	id2 := ids.ID{2}
	id3 := ids.ID{3}

	c.Put(id1, 1)
	c.Put(id2, 2)
	require.Equal(1.0, c.PortionFilled())

	_, found := c.Get(id1)
	require.True(found)

	// id2 is now the least recently used
	c.Put(id3, 3)
	_, found = c.Get(id2)
	require.False(found)
	_, found = c.Get(id1)
	require.True(found)
	_, found = c.Get(id3)
	require.True(found)

	c.Evict(id1)
	_, found = c.Get(id1)
	require.False(found)
	require.Equal(1, c.Len())

	c.Flush()
	require.Zero(c.Len())
	require.Zero(c.PortionFilled())
}
