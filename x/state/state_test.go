// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/x/hashtree"
)

func newTestState(t *testing.T) *ReplicatedState {
	require := require.New(t)

	s := New()
	require.NoError(s.CreatePartition("alice"))
	require.NoError(s.CreatePartition("bob"))
	require.NoError(s.Write("alice", 0, []byte("hello")))
	require.NoError(s.Write("bob", 3*PageSize-2, []byte("across pages")))
	s.SetAttribute("batch_time", []byte{1, 2, 3})
	return s
}

func rootHash(s *ReplicatedState) ids.ID {
	return hashtree.Build(s.LazyTree()).RootHash()
}

func TestReadWrite(t *testing.T) {
	require := require.New(t)

	s := newTestState(t)
	buf := make([]byte, len("across pages"))
	require.NoError(s.Read("bob", 3*PageSize-2, buf))
	require.Equal([]byte("across pages"), buf)

	pm, ok := s.Partition("bob")
	require.True(ok)
	require.Equal(uint64(4), pm.NumPages())

	// Reads past the end are zero.
	buf = make([]byte, 4)
	require.NoError(s.Read("alice", 10*PageSize, buf))
	require.Equal(make([]byte, 4), buf)

	require.ErrorIs(s.Write("carol", 0, nil), ErrUnknownPartition)
	require.ErrorIs(s.Read("carol", 0, buf), ErrUnknownPartition)
	require.ErrorIs(s.CreatePartition("../escape"), ErrInvalidPartitionName)
	require.ErrorIs(s.CreatePartition(""), ErrInvalidPartitionName)

	require.Equal([]string{"alice", "bob"}, s.Partitions())
	s.DeletePartition("alice")
	require.Equal([]string{"bob"}, s.Partitions())
}

func TestCloneIsCopyOnWrite(t *testing.T) {
	require := require.New(t)

	s := newTestState(t)
	before := rootHash(s)

	c := s.Clone()
	require.True(s.Frozen())
	require.False(c.Frozen())
	require.Equal(before, rootHash(c))

	require.NoError(c.Write("alice", 1, []byte("ELLO")))
	c.SetAttribute("batch_time", []byte{4})

	buf := make([]byte, 5)
	require.NoError(s.Read("alice", 0, buf))
	require.Equal([]byte("hello"), buf)
	require.NoError(c.Read("alice", 0, buf))
	require.Equal([]byte("hELLO"), buf)

	require.Equal(before, rootHash(s))
	require.NotEqual(before, rootHash(c))

	require.Panics(func() {
		_ = s.Write("alice", 0, []byte("x"))
	})
	require.Panics(func() {
		s.SetAttribute("k", nil)
	})
}

func TestDirtyPages(t *testing.T) {
	require := require.New(t)

	s := newTestState(t)
	// partitions created since the last checkpoint are always rehashed
	require.Empty(s.DirtyPages())

	s.MarkCheckpointed(10)
	require.Equal(uint64(10), s.LastCheckpointHeight())

	c := s.Clone()
	require.NoError(c.Write("bob", 5*PageSize, []byte{1}))
	require.Equal(map[string][]uint64{
		"partitions/alice/vmemory_0.bin": {},
		"partitions/bob/vmemory_0.bin":   {5},
	}, c.DirtyPages())
	require.Equal(uint64(10), c.LastCheckpointHeight())

	c.DeletePartition("alice")
	require.NoError(c.CreatePartition("alice"))
	require.Equal(map[string][]uint64{
		"partitions/bob/vmemory_0.bin": {5},
	}, c.DirtyPages())
}

func TestPrevStateHashIsCertified(t *testing.T) {
	require := require.New(t)

	s := newTestState(t)
	_, ok := s.PrevStateHash()
	require.False(ok)
	before := rootHash(s)

	c := s.Clone()
	c.SetPrevStateHash(ids.ID{1})
	hash, ok := c.PrevStateHash()
	require.True(ok)
	require.Equal(ids.ID{1}, hash)
	require.NotEqual(before, rootHash(c))
}

func TestZeroPagesDontAffectTheHash(t *testing.T) {
	require := require.New(t)

	a := New()
	require.NoError(a.CreatePartition("p"))
	require.NoError(a.Write("p", 2*PageSize, []byte{1}))

	b := New()
	require.NoError(b.CreatePartition("p"))
	require.NoError(b.Write("p", 0, make([]byte, PageSize)))
	require.NoError(b.Write("p", 2*PageSize, []byte{1}))

	require.Equal(rootHash(a), rootHash(b))
}

func TestCheckpointRoundTrip(t *testing.T) {
	require := require.New(t)

	s := newTestState(t)
	s = s.Clone()
	s.SetPrevStateHash(ids.ID{7})
	require.NoError(s.CreatePartition("empty"))
	expected := rootHash(s)

	dir := t.TempDir()
	require.NoError(s.WriteCheckpoint(dir))
	require.FileExists(filepath.Join(dir, SystemMetadataFile))
	require.FileExists(filepath.Join(dir, "partitions", "bob", "vmemory_0.bin"))

	loaded, err := LoadCheckpoint(dir, 42)
	require.NoError(err)
	require.Equal(expected, rootHash(loaded))
	require.Equal(uint64(42), loaded.LastCheckpointHeight())
	require.Equal([]string{"alice", "bob", "empty"}, loaded.Partitions())
	for _, pages := range loaded.DirtyPages() {
		require.Empty(pages)
	}

	value, ok := loaded.Attribute("batch_time")
	require.True(ok)
	require.Equal([]byte{1, 2, 3}, value)

	buf := make([]byte, len("across pages"))
	require.NoError(loaded.Read("bob", 3*PageSize-2, buf))
	require.Equal([]byte("across pages"), buf)
}

func TestLoadCorruptCheckpoint(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	require.NoError(newTestState(t).WriteCheckpoint(dir))

	// Truncated partition file
	require.NoError(os.Truncate(filepath.Join(dir, "partitions", "bob", "vmemory_0.bin"), PageSize))
	_, err := LoadCheckpoint(dir, 1)
	require.ErrorIs(err, ErrCorruptCheckpoint)

	// Garbage metadata
	require.NoError(os.WriteFile(filepath.Join(dir, SystemMetadataFile), []byte{0xff}, 0o600))
	_, err = LoadCheckpoint(dir, 1)
	require.ErrorIs(err, ErrCorruptCheckpoint)

	_, err = LoadCheckpoint(t.TempDir(), 1)
	require.ErrorIs(err, os.ErrNotExist)
}

func TestLazyTreeWitness(t *testing.T) {
	require := require.New(t)

	s := newTestState(t)
	tree := s.LazyTree()
	ht := hashtree.Build(tree)

	path := []hashtree.Label{partitionsLabel, hashtree.Label("alice"), pagesLabel, PageLabel(0)}
	materialized, complete := hashtree.MaterializePartial(tree, hashtree.Paths(path))
	require.True(complete)

	w := ht.Witness(materialized)
	require.Equal(ht.RootHash(), w.Digest())
	status, leaf := w.Lookup(path...)
	require.Equal(hashtree.Found, status)
	require.Equal([]byte("hello"), leaf.Data[:5])

	status, _ = w.Lookup(partitionsLabel, hashtree.Label("alice"), pagesLabel, PageLabel(1))
	require.Equal(hashtree.Absent, status)
}
