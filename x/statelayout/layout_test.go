// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statelayout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/utils/perms"
)

func newTestLayout(t *testing.T) *Layout {
	l, err := New(logging.NoLog{}, t.TempDir())
	require.NoError(t, err)
	return l
}

func writeCheckpoint(t *testing.T, l *Layout, height uint64, contents string) {
	require := require.New(t)

	scratchpad, err := l.Scratchpad("test")
	require.NoError(err)
	require.NoError(os.WriteFile(filepath.Join(scratchpad, "file"), []byte(contents), perms.ReadWrite))
	_, err = l.PromoteScratchpad(scratchpad, height)
	require.NoError(err)
}

func TestHeightFormat(t *testing.T) {
	require := require.New(t)

	require.Equal("00000000000000ff", FormatHeight(255))
	height, err := ParseHeight("00000000000000ff")
	require.NoError(err)
	require.Equal(uint64(255), height)

	_, err = ParseHeight("ff")
	require.Error(err)
}

func TestNewCleansTmp(t *testing.T) {
	require := require.New(t)

	root := t.TempDir()
	leftover := filepath.Join(root, tmpDir, "leftover")
	require.NoError(os.MkdirAll(leftover, perms.ReadWriteExecute))

	_, err := New(logging.NoLog{}, root)
	require.NoError(err)
	_, err = os.Stat(leftover)
	require.ErrorIs(err, os.ErrNotExist)
}

func TestPromoteScratchpad(t *testing.T) {
	require := require.New(t)

	l := newTestLayout(t)
	writeCheckpoint(t, l, 300, "a")
	writeCheckpoint(t, l, 100, "b")

	heights, err := l.CheckpointHeights()
	require.NoError(err)
	require.Equal([]uint64{100, 300}, heights)

	scratchpad, err := l.Scratchpad("test")
	require.NoError(err)
	_, err = l.PromoteScratchpad(scratchpad, 100)
	require.ErrorIs(err, ErrCheckpointExists)
}

func TestCheckpointTipLinksFiles(t *testing.T) {
	require := require.New(t)

	l := newTestLayout(t)
	require.NoError(os.WriteFile(filepath.Join(l.Tip(), "file"), []byte("tip"), perms.ReadWrite))

	path, err := l.CheckpointTip(7)
	require.NoError(err)
	require.Equal(l.CheckpointPath(7), path)

	// Rewriting the tip must not change the checkpoint.
	require.NoError(l.ClearTip())
	require.NoError(os.WriteFile(filepath.Join(l.Tip(), "file"), []byte("new"), perms.ReadWrite))

	contents, err := os.ReadFile(filepath.Join(path, "file"))
	require.NoError(err)
	require.Equal([]byte("tip"), contents)
}

func TestResetTip(t *testing.T) {
	require := require.New(t)

	l := newTestLayout(t)
	writeCheckpoint(t, l, 5, "five")
	require.NoError(os.WriteFile(filepath.Join(l.Tip(), "stale"), nil, perms.ReadWrite))

	require.NoError(l.ResetTip(5))
	contents, err := os.ReadFile(filepath.Join(l.Tip(), "file"))
	require.NoError(err)
	require.Equal([]byte("five"), contents)
	_, err = os.Stat(filepath.Join(l.Tip(), "stale"))
	require.ErrorIs(err, os.ErrNotExist)

	require.ErrorIs(l.ResetTip(6), ErrCheckpointNotFound)
}

func TestRemoveCheckpointWhenUnused(t *testing.T) {
	require := require.New(t)

	l := newTestLayout(t)
	writeCheckpoint(t, l, 1, "one")

	ref1, err := l.Checkpoint(1)
	require.NoError(err)
	ref2, err := l.Checkpoint(1)
	require.NoError(err)

	require.NoError(l.RemoveCheckpointWhenUnused(1))
	_, err = os.Stat(ref1.Path())
	require.NoError(err)

	// No new references are handed out once removal is requested.
	_, err = l.Checkpoint(1)
	require.ErrorIs(err, ErrCheckpointNotFound)

	require.NoError(ref1.Release())
	require.NoError(ref1.Release())
	_, err = os.Stat(ref2.Path())
	require.NoError(err)

	require.NoError(ref2.Release())
	_, err = os.Stat(ref2.Path())
	require.ErrorIs(err, os.ErrNotExist)

	heights, err := l.CheckpointHeights()
	require.NoError(err)
	require.Empty(heights)
}

func TestForceRemoveCheckpoint(t *testing.T) {
	require := require.New(t)

	l := newTestLayout(t)
	writeCheckpoint(t, l, 1, "one")

	ref, err := l.Checkpoint(1)
	require.NoError(err)
	require.NoError(l.ForceRemoveCheckpoint(1))
	_, err = os.Stat(ref.Path())
	require.ErrorIs(err, os.ErrNotExist)
	require.NoError(ref.Release())
}

func TestDivergence(t *testing.T) {
	require := require.New(t)

	l := newTestLayout(t)
	writeCheckpoint(t, l, 10, "ten")

	require.NoError(l.MarkCheckpointDiverged(10))
	require.ErrorIs(l.MarkCheckpointDiverged(10), ErrCheckpointNotFound)

	heights, err := l.CheckpointHeights()
	require.NoError(err)
	require.Empty(heights)
	heights, err = l.DivergedCheckpointHeights()
	require.NoError(err)
	require.Equal([]uint64{10}, heights)

	contents, err := os.ReadFile(filepath.Join(l.DivergedCheckpointPath(10), "file"))
	require.NoError(err)
	require.Equal([]byte("ten"), contents)

	require.NoError(l.CreateDivergedStateMarker(12))
	heights, err = l.DivergedStateMarkerHeights()
	require.NoError(err)
	require.Equal([]uint64{12}, heights)
	_, err = l.DivergedStateMarkerTime(12)
	require.NoError(err)

	require.NoError(l.RemoveDivergedStateMarker(12))
	require.NoError(l.RemoveDivergedStateMarker(12))
	heights, err = l.DivergedStateMarkerHeights()
	require.NoError(err)
	require.Empty(heights)
}

func TestBackups(t *testing.T) {
	require := require.New(t)

	l := newTestLayout(t)
	writeCheckpoint(t, l, 3, "three")
	writeCheckpoint(t, l, 4, "four")

	require.NoError(l.BackupCheckpoint(3))
	require.NoError(l.ArchiveCheckpoint(4))

	heights, err := l.CheckpointHeights()
	require.NoError(err)
	require.Equal([]uint64{3}, heights)
	heights, err = l.BackupHeights()
	require.NoError(err)
	require.Equal([]uint64{3, 4}, heights)

	require.ErrorIs(l.ArchiveCheckpoint(4), ErrCheckpointNotFound)
	contents, err := os.ReadFile(filepath.Join(l.BackupPath(4), "file"))
	require.NoError(err)
	require.Equal([]byte("four"), contents)

	require.NoError(l.RemoveBackup(3))
	heights, err = l.BackupHeights()
	require.NoError(err)
	require.Equal([]uint64{4}, heights)
}

func TestCloneCheckpoint(t *testing.T) {
	require := require.New(t)

	l := newTestLayout(t)
	writeCheckpoint(t, l, 10, "cloned")

	path, err := l.CloneCheckpoint(10, 20)
	require.NoError(err)
	require.Equal(l.CheckpointPath(20), path)

	b, err := os.ReadFile(filepath.Join(path, "file"))
	require.NoError(err)
	require.Equal([]byte("cloned"), b)

	_, err = l.CloneCheckpoint(10, 20)
	require.ErrorIs(err, ErrCheckpointExists)
	_, err = l.CloneCheckpoint(30, 40)
	require.ErrorIs(err, ErrCheckpointNotFound)
}
