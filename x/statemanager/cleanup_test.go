// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/utils/logging"
)

func TestCleanupDivergedStateMarkers(t *testing.T) {
	require := require.New(t)

	config := DefaultConfig()
	config.DivergedStateMarkersToKeep = 2
	m := newTestManager(t, t.TempDir(), config, nil)
	for height := uint64(1); height <= 4; height++ {
		require.NoError(m.Layout().CreateDivergedStateMarker(height))
	}

	// Young markers are kept regardless of their number.
	m.CleanupArchivedStates()
	markers, err := m.Layout().DivergedStateMarkerHeights()
	require.NoError(err)
	require.Equal([]uint64{1, 2, 3, 4}, markers)

	created, err := m.Layout().DivergedStateMarkerTime(4)
	require.NoError(err)
	require.Equal(float64(created.Unix()), testutil.ToFloat64(m.metrics.lastDivergedStateTimestamp))

	m.clock.Set(time.Now().Add(DefaultArchivedStatesMaxAge + time.Hour))
	m.CleanupArchivedStates()
	markers, err = m.Layout().DivergedStateMarkerHeights()
	require.NoError(err)
	require.Equal([]uint64{3, 4}, markers)
}

func TestStartingHeightArchivesCheckpoints(t *testing.T) {
	require := require.New(t)

	root := t.TempDir()
	m, err := New(logging.NoLog{}, root, DefaultConfig(), nil, "", prometheus.NewRegistry())
	require.NoError(err)
	for i := 0; i < 3; i++ {
		commitNext(t, m, ScopeFull, writeBytes(t, "alice", uint64(i), []byte{1}))
	}
	m.FlushManifestWorker()
	require.NoError(m.Close())

	config := DefaultConfig()
	config.StartingHeight = 1
	m = newTestManager(t, root, config, nil)
	require.Equal(uint64(1), m.LatestStateHeight())
	require.Equal([]uint64{1}, m.CheckpointHeights())
	backups, err := m.Layout().BackupHeights()
	require.NoError(err)
	require.Equal([]uint64{2, 3}, backups)

	// Only the newest backup survives once they are old.
	m.clock.Set(time.Now().Add(DefaultArchivedStatesMaxAge + time.Hour))
	m.CleanupArchivedStates()
	backups, err = m.Layout().BackupHeights()
	require.NoError(err)
	require.Equal([]uint64{3}, backups)
}

func TestCleanupDivergedCheckpoints(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	for i := 0; i < 3; i++ {
		commitNext(t, m, ScopeFull, nil)
	}
	m.FlushManifestWorker()
	require.NoError(m.Layout().MarkCheckpointDiverged(2))
	require.NoError(m.Layout().MarkCheckpointDiverged(3))

	m.CleanupArchivedStates()
	diverged, err := m.Layout().DivergedCheckpointHeights()
	require.NoError(err)
	require.Equal([]uint64{2, 3}, diverged)

	m.clock.Set(time.Now().Add(DefaultArchivedStatesMaxAge + time.Hour))
	m.CleanupArchivedStates()
	diverged, err = m.Layout().DivergedCheckpointHeights()
	require.NoError(err)
	require.Equal([]uint64{3}, diverged)
}
