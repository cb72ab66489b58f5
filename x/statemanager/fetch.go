// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/x/hashtree"
	"github.com/ava-labs/replicastate/x/manifest"
	"github.com/ava-labs/replicastate/x/state"
	"github.com/ava-labs/replicastate/x/statelayout"
)

var errRootHashMismatch = errors.New("synced checkpoint doesn't match its root hash")

// FetchState asks for the state at [height], whose manifest has root hash
// [rootHash], to be made available. If a checkpoint with the same root hash
// already exists locally it is cloned. Otherwise the state becomes the fetch
// target, to be fetched from peers by state sync.
func (m *Manager) FetchState(height uint64, rootHash ids.ID, cupInterval uint64) {
	defer m.observe("fetch_state", time.Now())

	hash, err := m.GetStateHashAt(height)
	switch {
	case err == nil:
		if hash != rootHash {
			m.log.Fatal("requested to fetch a state that diverged from the local one",
				zap.Uint64("height", height),
				zap.Stringer("localHash", hash),
				zap.Stringer("requestedHash", rootHash),
			)
			panic(fmt.Sprintf("state at height %d diverged from the requested one", height))
		}
		return
	case errors.Is(err, ErrHashNotComputedYet):
		// The checkpoint exists and will match once its manifest is computed.
		return
	case errors.Is(err, ErrStateRemoved):
		m.log.Info("ignoring fetch of a removed state",
			zap.Uint64("height", height),
		)
		return
	case errors.Is(err, ErrStateNotFullyCertified):
		m.log.Error("ignoring fetch of a state kept only in memory",
			zap.Uint64("height", height),
			zap.Stringer("rootHash", rootHash),
		)
		return
	}

	if m.cloneCheckpoint(height, rootHash) {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	target := m.fetchTarget
	switch {
	case target == nil || target.Height < height:
		m.fetchTarget = &FetchTarget{
			Height:      height,
			RootHash:    rootHash,
			CUPInterval: cupInterval,
		}
		m.log.Info("fetching state",
			zap.Uint64("height", height),
			zap.Stringer("rootHash", rootHash),
		)
	case target.Height == height && target.RootHash != rootHash:
		m.log.Fatal("requested to fetch the same height with different hashes",
			zap.Uint64("height", height),
			zap.Stringer("fetchingHash", target.RootHash),
			zap.Stringer("requestedHash", rootHash),
		)
		panic(fmt.Sprintf("fetching height %d with two different hashes", height))
	}
}

// cloneCheckpoint creates the checkpoint at [height] from a local checkpoint
// with the same root hash. Returns false if there is no such checkpoint.
func (m *Manager) cloneCheckpoint(height uint64, rootHash ids.ID) bool {
	m.lock.RLock()
	var source *stateMetadata
	m.states.Ascend(func(sm *stateMetadata) bool {
		if sm.bundle != nil && sm.bundle.RootHash == rootHash {
			source = sm
			return false
		}
		return true
	})
	m.lock.RUnlock()
	if source == nil {
		return false
	}

	m.log.Info("cloning checkpoint",
		zap.Uint64("from", source.height),
		zap.Uint64("to", height),
		zap.Stringer("rootHash", rootHash),
	)
	path, err := m.layout.CloneCheckpoint(source.height, height)
	if err != nil {
		m.log.Warn("failed to clone checkpoint",
			zap.Uint64("from", source.height),
			zap.Uint64("to", height),
			zap.Error(err),
		)
		return false
	}
	s, err := state.LoadCheckpoint(path, height)
	if err != nil {
		m.log.Warn("failed to load cloned checkpoint",
			zap.Uint64("height", height),
			zap.Error(err),
		)
		m.metrics.errors.WithLabelValues(loadCheckpointError).Inc()
		if err := m.layout.ForceRemoveCheckpoint(height); err != nil {
			m.log.Warn("failed to remove cloned checkpoint",
				zap.Uint64("height", height),
				zap.Error(err),
			)
		}
		return false
	}
	if err := m.OnSyncedCheckpoint(s, height, source.bundle.Manifest, rootHash); err != nil {
		m.log.Warn("failed to register cloned checkpoint",
			zap.Uint64("height", height),
			zap.Error(err),
		)
		return false
	}
	return true
}

// FetchTarget returns the state that state sync should fetch, if any.
func (m *Manager) FetchTarget() (FetchTarget, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	if m.fetchTarget == nil {
		return FetchTarget{}, false
	}
	return *m.fetchTarget, true
}

// OnSyncedCheckpoint registers [s], loaded from the checkpoint at [height]
// that was fetched or cloned, along with its manifest [mf]. The tip isn't
// touched: it's reinitialized from the synced state on the next TakeTip.
func (m *Manager) OnSyncedCheckpoint(s *state.ReplicatedState, height uint64, mf *manifest.Manifest, rootHash ids.ID) error {
	defer m.observe("on_synced_checkpoint", time.Now())

	diverged, err := m.layout.DivergedCheckpointHeights()
	if err != nil {
		return fmt.Errorf("failed to list diverged checkpoints: %w", err)
	}
	if slices.Contains(diverged, height) {
		// Keep the synced copy next to the diverged one for comparison.
		if err := m.layout.BackupCheckpoint(height); err != nil {
			m.log.Warn("failed to back up synced checkpoint",
				zap.Uint64("height", height),
				zap.Error(err),
			)
		}
	}

	bundle, err := manifest.NewBundle(mf)
	if err != nil {
		return err
	}
	if bundle.RootHash != rootHash {
		return fmt.Errorf("%w: expected %s, got %s", errRootHashMismatch, rootHash, bundle.RootHash)
	}
	tree := hashtree.BuildWithConfig(s.LazyTree(), m.config.HashTree)
	ref, err := m.layout.Checkpoint(height)
	if err != nil {
		return err
	}
	s.Freeze()

	m.lock.Lock()
	if m.fetchTarget != nil && m.fetchTarget.Height <= height {
		m.fetchTarget = nil
	}
	if _, ok := m.snapshotAt(height); ok {
		m.lock.Unlock()
		m.deallocateCheckpoint(ref)
		return nil
	}

	m.insertSnapshot(snapshot{height: height, state: s})
	if _, ok := m.certifications.Get(&certificationMetadata{height: height}); !ok {
		m.certifications.ReplaceOrInsert(newCertificationMetadata(height, tree))
	}
	var replaced *statelayout.CheckpointRef
	if old, ok := m.states.ReplaceOrInsert(&stateMetadata{
		height:     height,
		checkpoint: ref,
		bundle:     bundle,
	}); ok {
		replaced = old.checkpoint
	}
	m.metrics.latestStateHeight.Set(float64(m.snapshots[len(m.snapshots)-1].height))
	m.metrics.residentStates.Set(float64(len(m.snapshots)))
	m.metrics.checkpointsOnDisk.Set(float64(m.states.Len()))
	if latest, ok := m.latestManifest(); ok {
		m.metrics.latestManifestHeight.Set(float64(latest.height))
	}
	m.log.Info("registered synced checkpoint",
		zap.Uint64("height", height),
		zap.Stringer("rootHash", rootHash),
	)
	m.releaseLockAndPersistMetadata()
	m.deallocateCheckpoint(replaced)
	return nil
}

// ReportDivergedCheckpoint moves the checkpoint at [height] aside, removes
// every checkpoint above it and crashes so that the replica restarts from
// an earlier checkpoint.
func (m *Manager) ReportDivergedCheckpoint(height uint64) {
	if err := m.layout.MarkCheckpointDiverged(height); err != nil {
		m.log.Error("failed to mark checkpoint diverged",
			zap.Uint64("height", height),
			zap.Error(err),
		)
	}
	heights, err := m.layout.CheckpointHeights()
	if err != nil {
		m.log.Error("failed to list checkpoints",
			zap.Error(err),
		)
	}
	for _, h := range heights {
		if h <= height {
			continue
		}
		if err := m.layout.ForceRemoveCheckpoint(h); err != nil {
			m.log.Error("failed to remove checkpoint",
				zap.Uint64("height", h),
				zap.Error(err),
			)
		}
	}

	m.lock.Lock()
	var removed []*stateMetadata
	m.states.AscendGreaterOrEqual(&stateMetadata{height: height}, func(sm *stateMetadata) bool {
		removed = append(removed, sm)
		return true
	})
	for _, sm := range removed {
		m.states.Delete(sm)
	}
	m.releaseLockAndPersistMetadata()
	for _, sm := range removed {
		m.deallocateCheckpoint(sm.checkpoint)
	}

	m.log.Fatal("checkpoint diverged",
		zap.Uint64("height", height),
	)
	panic(fmt.Sprintf("checkpoint at height %d diverged", height))
}
