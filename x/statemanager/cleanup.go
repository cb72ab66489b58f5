// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"time"

	"go.uber.org/zap"
)

// archive is a kind of archived state kept on disk for inspection.
type archive struct {
	name    string
	keep    int
	heights func() ([]uint64, error)
	modTime func(uint64) (time.Time, error)
	remove  func(uint64) error
}

// CleanupArchivedStates removes the diverged checkpoints, backups and
// diverged state markers that are both old and beyond the retention count.
// The newest archives of each kind are kept regardless of their age.
func (m *Manager) CleanupArchivedStates() {
	archives := []archive{
		{
			name:    "diverged checkpoint",
			keep:    m.config.DivergedCheckpointsToKeep,
			heights: m.layout.DivergedCheckpointHeights,
			modTime: m.layout.DivergedCheckpointTime,
			remove:  m.layout.RemoveDivergedCheckpoint,
		},
		{
			name:    "backup",
			keep:    m.config.BackupsToKeep,
			heights: m.layout.BackupHeights,
			modTime: m.layout.BackupTime,
			remove:  m.layout.RemoveBackup,
		},
		{
			name:    "diverged state marker",
			keep:    m.config.DivergedStateMarkersToKeep,
			heights: m.layout.DivergedStateMarkerHeights,
			modTime: m.layout.DivergedStateMarkerTime,
			remove:  m.layout.RemoveDivergedStateMarker,
		},
	}
	now := m.clock.Time()
	for _, a := range archives {
		m.cleanupArchive(a, now)
	}

	markers, err := m.layout.DivergedStateMarkerHeights()
	if err != nil || len(markers) == 0 {
		return
	}
	if created, err := m.layout.DivergedStateMarkerTime(markers[len(markers)-1]); err == nil {
		m.metrics.lastDivergedStateTimestamp.Set(float64(created.Unix()))
	}
}

func (m *Manager) cleanupArchive(a archive, now time.Time) {
	heights, err := a.heights()
	if err != nil {
		m.log.Warn("failed to list archived states",
			zap.String("kind", a.name),
			zap.Error(err),
		)
		m.metrics.errors.WithLabelValues(removeArchivedError).Inc()
		return
	}

	// [heights] is sorted, so the last [a.keep] heights are the newest.
	for i := 0; i < len(heights)-a.keep; i++ {
		height := heights[i]
		created, err := a.modTime(height)
		if err != nil {
			m.log.Warn("failed to read archived state time",
				zap.String("kind", a.name),
				zap.Uint64("height", height),
				zap.Error(err),
			)
			m.metrics.errors.WithLabelValues(removeArchivedError).Inc()
			continue
		}
		if now.Sub(created) < m.config.ArchivedStatesMaxAge {
			continue
		}
		if err := a.remove(height); err != nil {
			m.log.Warn("failed to remove archived state",
				zap.String("kind", a.name),
				zap.Uint64("height", height),
				zap.Error(err),
			)
			m.metrics.errors.WithLabelValues(removeArchivedError).Inc()
			continue
		}
		m.log.Info("removed archived state",
			zap.String("kind", a.name),
			zap.Uint64("height", height),
			zap.Time("created", created),
		)
	}
}

// archiveCheckpointsAboveStartingHeight moves the checkpoints above the
// configured starting height into the backups so that the replica restarts
// from the starting height.
func (m *Manager) archiveCheckpointsAboveStartingHeight() {
	if m.config.StartingHeight == 0 {
		return
	}
	heights, err := m.layout.CheckpointHeights()
	if err != nil {
		m.log.Warn("failed to list checkpoints",
			zap.Error(err),
		)
		return
	}
	for _, height := range heights {
		if height <= m.config.StartingHeight {
			continue
		}
		if err := m.layout.ArchiveCheckpoint(height); err != nil {
			m.log.Warn("failed to archive checkpoint",
				zap.Uint64("height", height),
				zap.Error(err),
			)
			continue
		}
		m.log.Info("archived checkpoint above starting height",
			zap.Uint64("height", height),
			zap.Uint64("startingHeight", m.config.StartingHeight),
		)
	}
}
