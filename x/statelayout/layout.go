// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statelayout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/ava-labs/replicastate/utils/filesystem"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/utils/perms"
)

const (
	checkpointsDir          = "checkpoints"
	divergedCheckpointsDir  = "diverged_checkpoints"
	divergedStateMarkersDir = "diverged_state_markers"
	backupsDir              = "backups"
	tmpDir                  = "tmp"
	tipDir                  = "tip"
	statesMetadataFile      = "states_metadata.pbuf"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCheckpointExists   = errors.New("checkpoint already exists")
)

// Layout is the on-disk layout of the replicated state:
//
//	<root>/checkpoints/<height>/            durable checkpoints
//	<root>/diverged_checkpoints/<height>/   checkpoints found to be diverged
//	<root>/diverged_state_markers/<height>  heights whose certification diverged
//	<root>/backups/<height>/                copies kept for inspection
//	<root>/tip/                             scratch copy of the tip
//	<root>/tmp/                             scratchpads, wiped on startup
//	<root>/states_metadata.pbuf             advisory metadata of checkpoints
//
// Heights are formatted as 16 hex digits so that names sort by height.
type Layout struct {
	log  logging.Logger
	root string

	lock sync.Mutex
	// number of outstanding references by checkpoint height
	refs map[uint64]int
	// checkpoints to remove once their last reference is released
	pendingRemoval map[uint64]struct{}
	nextScratchpad uint64
}

// New creates the directories of the layout under [root] and wipes the
// leftovers of interrupted operations.
func New(log logging.Logger, root string) (*Layout, error) {
	l := &Layout{
		log:            log,
		root:           root,
		refs:           make(map[uint64]int),
		pendingRemoval: make(map[uint64]struct{}),
	}
	if err := os.RemoveAll(l.tmp()); err != nil {
		return nil, fmt.Errorf("failed to clean %s: %w", l.tmp(), err)
	}
	for _, dir := range []string{
		checkpointsDir,
		divergedCheckpointsDir,
		divergedStateMarkersDir,
		backupsDir,
		tmpDir,
		tipDir,
	} {
		if err := os.MkdirAll(filepath.Join(root, dir), perms.ReadWriteExecute); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return l, nil
}

func FormatHeight(height uint64) string {
	return fmt.Sprintf("%016x", height)
}

func ParseHeight(name string) (uint64, error) {
	if len(name) != 16 {
		return 0, fmt.Errorf("invalid height %q", name)
	}
	return strconv.ParseUint(name, 16, 64)
}

func (l *Layout) Root() string {
	return l.root
}

func (l *Layout) tmp() string {
	return filepath.Join(l.root, tmpDir)
}

func (l *Layout) Tip() string {
	return filepath.Join(l.root, tipDir)
}

func (l *Layout) StatesMetadata() string {
	return filepath.Join(l.root, statesMetadataFile)
}

func (l *Layout) CheckpointPath(height uint64) string {
	return filepath.Join(l.root, checkpointsDir, FormatHeight(height))
}

func (l *Layout) DivergedCheckpointPath(height uint64) string {
	return filepath.Join(l.root, divergedCheckpointsDir, FormatHeight(height))
}

func (l *Layout) BackupPath(height uint64) string {
	return filepath.Join(l.root, backupsDir, FormatHeight(height))
}

func (l *Layout) divergedStateMarkerPath(height uint64) string {
	return filepath.Join(l.root, divergedStateMarkersDir, FormatHeight(height))
}

// CheckpointHeights returns the heights of the checkpoints, in increasing
// order.
func (l *Layout) CheckpointHeights() ([]uint64, error) {
	return l.heights(checkpointsDir)
}

func (l *Layout) DivergedCheckpointHeights() ([]uint64, error) {
	return l.heights(divergedCheckpointsDir)
}

func (l *Layout) BackupHeights() ([]uint64, error) {
	return l.heights(backupsDir)
}

func (l *Layout) DivergedStateMarkerHeights() ([]uint64, error) {
	return l.heights(divergedStateMarkersDir)
}

func (l *Layout) heights(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, dir))
	if err != nil {
		return nil, err
	}
	heights := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		height, err := ParseHeight(entry.Name())
		if err != nil {
			l.log.Warn("ignoring unexpected entry",
				zap.String("dir", dir),
				zap.String("name", entry.Name()),
			)
			continue
		}
		heights = append(heights, height)
	}
	slices.Sort(heights)
	return heights, nil
}

// Scratchpad returns a new empty directory under tmp.
func (l *Layout) Scratchpad(prefix string) (string, error) {
	l.lock.Lock()
	l.nextScratchpad++
	id := l.nextScratchpad
	l.lock.Unlock()

	dir := filepath.Join(l.tmp(), fmt.Sprintf("%s_%d", prefix, id))
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	return dir, os.MkdirAll(dir, perms.ReadWriteExecute)
}

// PromoteScratchpad atomically turns [scratchpad] into the checkpoint at
// [height].
func (l *Layout) PromoteScratchpad(scratchpad string, height uint64) (string, error) {
	dst := l.CheckpointPath(height)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("%w: %d", ErrCheckpointExists, height)
	}
	if err := filesystem.SyncDir(scratchpad); err != nil {
		return "", err
	}
	if err := os.Rename(scratchpad, dst); err != nil {
		return "", err
	}
	if err := filesystem.SyncDir(filepath.Dir(dst)); err != nil {
		return "", err
	}
	l.log.Debug("promoted checkpoint",
		zap.Uint64("height", height),
	)
	return dst, nil
}

// ResetTip replaces the tip directory with a copy of the checkpoint at
// [height].
func (l *Layout) ResetTip(height uint64) error {
	src := l.CheckpointPath(height)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: %d: %w", ErrCheckpointNotFound, height, err)
	}
	if err := l.ClearTip(); err != nil {
		return err
	}
	if err := os.Remove(l.Tip()); err != nil {
		return err
	}
	return filesystem.CopyTree(src, l.Tip(), perms.ReadWriteExecute, false)
}

// ClearTip empties the tip directory.
func (l *Layout) ClearTip() error {
	if err := os.RemoveAll(l.Tip()); err != nil {
		return err
	}
	return os.MkdirAll(l.Tip(), perms.ReadWriteExecute)
}

// CheckpointTip copies the tip into a scratchpad, hard linking files, and
// promotes it to the checkpoint at [height].
func (l *Layout) CheckpointTip(height uint64) (string, error) {
	scratchpad, err := l.Scratchpad("checkpoint")
	if err != nil {
		return "", err
	}
	if err := os.Remove(scratchpad); err != nil {
		return "", err
	}
	if err := filesystem.CopyTree(l.Tip(), scratchpad, perms.ReadWriteExecute, true); err != nil {
		return "", err
	}
	return l.PromoteScratchpad(scratchpad, height)
}

// CloneCheckpoint creates the checkpoint at [to] as a copy of the checkpoint
// at [from], hard linking files.
func (l *Layout) CloneCheckpoint(from, to uint64) (string, error) {
	src := l.CheckpointPath(from)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("%w: %d: %w", ErrCheckpointNotFound, from, err)
	}
	scratchpad, err := l.Scratchpad("clone")
	if err != nil {
		return "", err
	}
	if err := os.Remove(scratchpad); err != nil {
		return "", err
	}
	if err := filesystem.CopyTree(src, scratchpad, perms.ReadWriteExecute, true); err != nil {
		return "", err
	}
	return l.PromoteScratchpad(scratchpad, to)
}

// Checkpoint returns a reference to the checkpoint at [height]. The
// checkpoint isn't removed before the reference is released.
func (l *Layout) Checkpoint(height uint64) (*CheckpointRef, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if _, removing := l.pendingRemoval[height]; removing {
		return nil, fmt.Errorf("%w: %d is being removed", ErrCheckpointNotFound, height)
	}
	path := l.CheckpointPath(height)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %d: %w", ErrCheckpointNotFound, height, err)
	}
	l.refs[height]++
	return &CheckpointRef{
		layout: l,
		height: height,
		path:   path,
	}, nil
}

// RemoveCheckpointWhenUnused removes the checkpoint at [height] now if no
// reference to it is held, or when the last reference is released.
func (l *Layout) RemoveCheckpointWhenUnused(height uint64) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.refs[height] > 0 {
		l.pendingRemoval[height] = struct{}{}
		return nil
	}
	return l.removeCheckpoint(height)
}

func (l *Layout) release(height uint64) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.refs[height]--
	if l.refs[height] > 0 {
		return nil
	}
	delete(l.refs, height)
	if _, ok := l.pendingRemoval[height]; !ok {
		return nil
	}
	delete(l.pendingRemoval, height)
	return l.removeCheckpoint(height)
}

// removeCheckpoint renames the checkpoint into tmp before deleting it so that
// a crash never leaves a partially deleted checkpoint behind.
func (l *Layout) removeCheckpoint(height uint64) error {
	path := l.CheckpointPath(height)
	trash := filepath.Join(l.tmp(), "removed_"+FormatHeight(height))
	if err := os.RemoveAll(trash); err != nil {
		return err
	}
	renamed, err := filesystem.RenameIfExists(path, trash)
	if err != nil || !renamed {
		return err
	}
	l.log.Debug("removing checkpoint",
		zap.Uint64("height", height),
	)
	return os.RemoveAll(trash)
}

// ForceRemoveCheckpoint removes the checkpoint at [height] even if it's in
// use.
func (l *Layout) ForceRemoveCheckpoint(height uint64) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	delete(l.pendingRemoval, height)
	return l.removeCheckpoint(height)
}

// MarkCheckpointDiverged moves the checkpoint at [height] out of the
// checkpoints directory, keeping it for inspection.
func (l *Layout) MarkCheckpointDiverged(height uint64) error {
	if err := l.moveCheckpoint(height, l.DivergedCheckpointPath(height)); err != nil {
		return err
	}
	return filesystem.SyncDir(filepath.Join(l.root, checkpointsDir))
}

// BackupCheckpoint copies the checkpoint at [height] into the backups.
func (l *Layout) BackupCheckpoint(height uint64) error {
	dst := l.BackupPath(height)
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return filesystem.CopyTree(l.CheckpointPath(height), dst, perms.ReadWriteExecute, true)
}

// ArchiveCheckpoint moves the checkpoint at [height] into the backups.
func (l *Layout) ArchiveCheckpoint(height uint64) error {
	return l.moveCheckpoint(height, l.BackupPath(height))
}

// moveCheckpoint replaces [dst] with the checkpoint at [height]. [dst] is left
// untouched if there is no such checkpoint.
func (l *Layout) moveCheckpoint(height uint64, dst string) error {
	src := l.CheckpointPath(height)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %d", ErrCheckpointNotFound, height)
		}
		return err
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

func (l *Layout) RemoveBackup(height uint64) error {
	return os.RemoveAll(l.BackupPath(height))
}

func (l *Layout) RemoveDivergedCheckpoint(height uint64) error {
	return os.RemoveAll(l.DivergedCheckpointPath(height))
}

func (l *Layout) CreateDivergedStateMarker(height uint64) error {
	return filesystem.WriteFileAtomic(l.divergedStateMarkerPath(height), nil, perms.ReadWrite)
}

func (l *Layout) RemoveDivergedStateMarker(height uint64) error {
	err := os.Remove(l.divergedStateMarkerPath(height))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// DivergedStateMarkerTime returns when the marker at [height] was created.
func (l *Layout) DivergedStateMarkerTime(height uint64) (time.Time, error) {
	return modTime(l.divergedStateMarkerPath(height))
}

func (l *Layout) DivergedCheckpointTime(height uint64) (time.Time, error) {
	return modTime(l.DivergedCheckpointPath(height))
}

func (l *Layout) BackupTime(height uint64) (time.Time, error) {
	return modTime(l.BackupPath(height))
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// CheckpointRef keeps a checkpoint from being removed.
type CheckpointRef struct {
	layout   *Layout
	height   uint64
	path     string
	released sync.Once
}

func (r *CheckpointRef) Height() uint64 {
	return r.height
}

func (r *CheckpointRef) Path() string {
	return r.path
}

// Release drops the reference. Releasing twice is a no-op.
func (r *CheckpointRef) Release() error {
	var err error
	r.released.Do(func() {
		err = r.layout.release(r.height)
	})
	return err
}
