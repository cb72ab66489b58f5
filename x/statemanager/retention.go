// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"time"

	"go.uber.org/zap"
)

// RemoveStatesBelow tells the registry that states below [requestedHeight]
// are no longer needed. The following states are kept regardless:
//   - the initial state
//   - the latest state
//   - the latest certified state
//   - the latest checkpoint whose manifest is computed
//   - the latest checkpoint at or below [requestedHeight], which is needed to
//     resume after a restart
//   - the ExtraCheckpointsToKeep checkpoints below the latest one
func (m *Manager) RemoveStatesBelow(requestedHeight uint64) {
	defer m.observe("remove_states_below", time.Now())

	checkpointHeights := m.CheckpointHeights()
	oldestHeightToKeep := m.oldestHeightToKeep(requestedHeight)

	oldestCheckpointToKeep := InitialHeight
	if len(checkpointHeights) > 0 {
		// The latest checkpoint at or below the requested height.
		latestBelow := requestedHeight
		for i := len(checkpointHeights) - 1; i >= 0; i-- {
			if checkpointHeights[i] <= requestedHeight {
				latestBelow = checkpointHeights[i]
				break
			}
		}

		extra := len(checkpointHeights) - m.config.ExtraCheckpointsToKeep - 1
		if extra < 0 {
			extra = 0
		}
		oldestCheckpointToKeep = checkpointHeights[extra]
		if oldestHeightToKeep < oldestCheckpointToKeep {
			oldestCheckpointToKeep = oldestHeightToKeep
		}
		if latestBelow < oldestCheckpointToKeep {
			oldestCheckpointToKeep = latestBelow
		}
	}

	m.removeStatesBelow(oldestHeightToKeep, oldestCheckpointToKeep)
}

// RemoveInMemoryStatesBelow is RemoveStatesBelow restricted to the states
// that only live in memory. Checkpoints are never removed.
func (m *Manager) RemoveInMemoryStatesBelow(requestedHeight uint64) {
	defer m.observe("remove_inmemory_states_below", time.Now())

	m.removeStatesBelow(m.oldestHeightToKeep(requestedHeight), InitialHeight)
}

func (m *Manager) oldestHeightToKeep(requestedHeight uint64) uint64 {
	height := m.LatestStateHeight()
	if requestedHeight < height {
		height = requestedHeight
	}
	if height < 1 {
		height = 1
	}
	return height
}

// removeStatesBelow removes the states in [1, lastHeightToKeep) except the
// ones that must be kept. Checkpoints at or above [lastCheckpointToKeep] are
// kept.
func (m *Manager) removeStatesBelow(lastHeightToKeep, lastCheckpointToKeep uint64) {
	m.lock.Lock()

	numCheckpoints := m.states.Len()

	keep := map[uint64]struct{}{
		m.latestCertifiedHeight: {},
	}
	m.states.Ascend(func(sm *stateMetadata) bool {
		if sm.height == InitialHeight || sm.height >= lastCheckpointToKeep {
			keep[sm.height] = struct{}{}
		}
		return true
	})
	if sm, ok := m.latestManifest(); ok {
		keep[sm.height] = struct{}{}
	}
	removable := func(height uint64) bool {
		_, kept := keep[height]
		return height >= 1 && height < lastHeightToKeep && !kept
	}

	retained := m.snapshots[:0]
	for _, snap := range m.snapshots {
		if !removable(snap.height) {
			retained = append(retained, snap)
		}
	}
	for i := len(retained); i < len(m.snapshots); i++ {
		m.snapshots[i] = snapshot{}
	}
	m.snapshots = retained

	minResidentHeight := lastHeightToKeep
	for height := range keep {
		if height < minResidentHeight {
			minResidentHeight = height
		}
	}
	m.metrics.residentStates.Set(float64(len(m.snapshots)))
	m.metrics.minResidentHeight.Set(float64(minResidentHeight))
	m.metrics.maxResidentHeight.Set(float64(m.snapshots[len(m.snapshots)-1].height))

	var removedCertifications []*certificationMetadata
	m.certifications.AscendLessThan(&certificationMetadata{height: lastHeightToKeep}, func(cm *certificationMetadata) bool {
		if _, kept := keep[cm.height]; !kept {
			removedCertifications = append(removedCertifications, cm)
		}
		return true
	})
	for _, cm := range removedCertifications {
		m.certifications.Delete(cm)
	}

	m.latestCertifiedHeight = InitialHeight
	m.certifications.Descend(func(cm *certificationMetadata) bool {
		if cm.certification != nil {
			m.latestCertifiedHeight = cm.height
			return false
		}
		return true
	})
	m.metrics.latestCertifiedHeight.Set(float64(m.latestCertifiedHeight))

	var removedStates []*stateMetadata
	m.states.AscendLessThan(&stateMetadata{height: lastHeightToKeep}, func(sm *stateMetadata) bool {
		if _, kept := keep[sm.height]; !kept {
			removedStates = append(removedStates, sm)
		}
		return true
	})
	for _, sm := range removedStates {
		m.states.Delete(sm)
		if err := m.layout.RemoveCheckpointWhenUnused(sm.height); err != nil {
			m.log.Warn("failed to remove checkpoint",
				zap.Uint64("height", sm.height),
				zap.Error(err),
			)
		}
		// The checkpoint is deleted once the last reference is released.
		m.deallocateCheckpoint(sm.checkpoint)
	}

	if len(removedStates) > 0 || len(removedCertifications) > 0 {
		m.log.Debug("removed states",
			zap.Uint64("lastHeightToKeep", lastHeightToKeep),
			zap.Uint64("lastCheckpointToKeep", lastCheckpointToKeep),
			zap.Int("numCheckpoints", len(removedStates)),
			zap.Int("numCertifications", len(removedCertifications)),
		)
	}

	if numCheckpoints != m.states.Len() {
		m.metrics.checkpointsOnDisk.Set(float64(m.states.Len()))
		m.releaseLockAndPersistMetadata()
		return
	}
	m.lock.Unlock()
}
