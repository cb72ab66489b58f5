// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/filesystem"
	"github.com/ava-labs/replicastate/utils/perms"
	"github.com/ava-labs/replicastate/x/state"
)

func TestFetchStateSetsTarget(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)

	_, ok := m.FetchTarget()
	require.False(ok)

	m.FetchState(10, ids.ID{1}, 5)
	target, ok := m.FetchTarget()
	require.True(ok)
	require.Equal(FetchTarget{Height: 10, RootHash: ids.ID{1}, CUPInterval: 5}, target)

	// Lower heights don't replace the target.
	m.FetchState(8, ids.ID{2}, 5)
	target, ok = m.FetchTarget()
	require.True(ok)
	require.Equal(uint64(10), target.Height)

	// Higher heights do.
	m.FetchState(12, ids.ID{3}, 5)
	target, ok = m.FetchTarget()
	require.True(ok)
	require.Equal(FetchTarget{Height: 12, RootHash: ids.ID{3}, CUPInterval: 5}, target)

	// Same height, same hash.
	m.FetchState(12, ids.ID{3}, 5)

	require.Panics(func() {
		m.FetchState(12, ids.ID{4}, 5)
	})
}

func TestFetchStateAlreadyAvailable(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	commitNext(t, m, ScopeMetadata, nil)
	commitNext(t, m, ScopeFull, writeBytes(t, "alice", 0, []byte{1}))
	m.FlushManifestWorker()
	hash, err := m.GetStateHashAt(2)
	require.NoError(err)

	m.FetchState(2, hash, 0)
	_, ok := m.FetchTarget()
	require.False(ok)

	// States kept only in memory can't be fetched.
	m.FetchState(1, ids.ID{1}, 0)
	_, ok = m.FetchTarget()
	require.False(ok)

	require.Panics(func() {
		m.FetchState(2, ids.ID{1}, 0)
	})
}

func TestFetchStateClonesLocalCheckpoint(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	commitNext(t, m, ScopeFull, writeBytes(t, "alice", 0, []byte{1}))
	m.FlushManifestWorker()
	hash, err := m.GetStateHashAt(1)
	require.NoError(err)

	m.FetchState(10, hash, 0)

	_, ok := m.FetchTarget()
	require.False(ok)
	require.Equal([]uint64{1, 10}, m.CheckpointHeights())
	require.Equal(uint64(10), m.LatestStateHeight())

	cloned, err := m.GetStateHashAt(10)
	require.NoError(err)
	require.Equal(hash, cloned)

	// The tip follows the cloned state.
	height, s := m.TakeTip()
	require.Equal(uint64(10), height)
	buf := make([]byte, 1)
	require.NoError(s.Read("alice", 0, buf))
	require.Equal([]byte{1}, buf)
	m.CommitAndCertify(s, 11, ScopeFull)
	m.FlushManifestWorker()
	_, err = m.GetStateHashAt(11)
	require.NoError(err)
}

func TestOnSyncedCheckpoint(t *testing.T) {
	require := require.New(t)

	source := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	commitNext(t, source, ScopeFull, writeBytes(t, "alice", 0, []byte{1}))
	source.FlushManifestWorker()
	bundle, err := source.Bundle(1)
	require.NoError(err)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	m.FetchState(5, bundle.RootHash, 0)
	_, ok := m.FetchTarget()
	require.True(ok)

	// Install a copy of the source checkpoint as if it was synced.
	scratchpad, err := m.Layout().Scratchpad("sync")
	require.NoError(err)
	require.NoError(os.Remove(scratchpad))
	require.NoError(filesystem.CopyTree(source.Layout().CheckpointPath(1), scratchpad, perms.ReadWriteExecute, false))
	path, err := m.Layout().PromoteScratchpad(scratchpad, 5)
	require.NoError(err)
	synced, err := state.LoadCheckpoint(path, 5)
	require.NoError(err)

	// A manifest that doesn't match the expected root hash is rejected.
	err = m.OnSyncedCheckpoint(synced, 5, bundle.Manifest, ids.ID{1})
	require.ErrorIs(err, errRootHashMismatch)

	require.NoError(m.OnSyncedCheckpoint(synced, 5, bundle.Manifest, bundle.RootHash))
	_, ok = m.FetchTarget()
	require.False(ok)
	require.Equal(uint64(5), m.LatestStateHeight())

	hash, err := m.GetStateHashAt(5)
	require.NoError(err)
	require.Equal(bundle.RootHash, hash)
	require.Equal([]StateSummary{{Height: 5, RootHash: bundle.RootHash}}, m.AvailableStates())

	// Registering the same height again is a no-op.
	require.NoError(m.OnSyncedCheckpoint(synced, 5, bundle.Manifest, bundle.RootHash))
	require.Equal([]uint64{5}, m.CheckpointHeights())
}

func TestReportDivergedCheckpoint(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	for i := 0; i < 3; i++ {
		commitNext(t, m, ScopeFull, writeBytes(t, "alice", uint64(i), []byte{1}))
	}
	m.FlushManifestWorker()

	require.Panics(func() {
		m.ReportDivergedCheckpoint(2)
	})

	require.Equal([]uint64{1}, m.CheckpointHeights())
	diverged, err := m.Layout().DivergedCheckpointHeights()
	require.NoError(err)
	require.Equal([]uint64{2}, diverged)

	m.lock.RLock()
	require.Equal(1, m.states.Len())
	m.lock.RUnlock()
	require.Equal([]StateSummary{{Height: 1, RootHash: mustStateHash(t, m, 1)}}, m.AvailableStates())
}

func mustStateHash(t *testing.T, m *Manager, height uint64) ids.ID {
	hash, err := m.GetStateHashAt(height)
	require.NoError(t, err)
	return hash
}
