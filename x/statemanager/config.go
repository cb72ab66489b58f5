// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/replicastate/utils/units"
	"github.com/ava-labs/replicastate/x/hashtree"
	"github.com/ava-labs/replicastate/x/manifest"
)

const (
	DefaultExtraCheckpointsToKeep     = 0
	DefaultDeallocatorBacklog         = 500
	DefaultDivergedCheckpointsToKeep  = 1
	DefaultBackupsToKeep              = 1
	DefaultDivergedStateMarkersToKeep = 100
	DefaultArchivedStatesMaxAge       = 30 * 24 * time.Hour
	DefaultChunkCacheSize             = 64 * units.MiB
)

var (
	errNegativeExtraCheckpoints = errors.New("extra checkpoints to keep must be non-negative")
	errZeroDeallocatorBacklog   = errors.New("deallocator backlog must be greater than 0")
	errNegativeRetention        = errors.New("archived states retention must be non-negative")
)

type Config struct {
	// Number of checkpoints kept below the latest one, on top of the one
	// needed to resume after a restart, so that peers have time to sync
	// them.
	ExtraCheckpointsToKeep int
	// Number of objects the deallocator may lag behind before objects are
	// dropped on the caller's goroutine.
	DeallocatorBacklog int

	// Archived diverged checkpoints, backups and diverged state markers are
	// removed on startup once they are both older than
	// [ArchivedStatesMaxAge] and not among the most recent ones kept.
	DivergedCheckpointsToKeep  int
	BackupsToKeep              int
	DivergedStateMarkersToKeep int
	ArchivedStatesMaxAge       time.Duration

	// If non-zero, checkpoints above this height are archived on startup.
	// Used to replay from a known height.
	StartingHeight uint64

	// Maximum number of chunk bytes cached for state sync serving.
	ChunkCacheSize int

	Manifest manifest.Config
	HashTree hashtree.Config
}

func DefaultConfig() Config {
	return Config{
		ExtraCheckpointsToKeep:     DefaultExtraCheckpointsToKeep,
		DeallocatorBacklog:         DefaultDeallocatorBacklog,
		DivergedCheckpointsToKeep:  DefaultDivergedCheckpointsToKeep,
		BackupsToKeep:              DefaultBackupsToKeep,
		DivergedStateMarkersToKeep: DefaultDivergedStateMarkersToKeep,
		ArchivedStatesMaxAge:       DefaultArchivedStatesMaxAge,
		ChunkCacheSize:             DefaultChunkCacheSize,
		Manifest:                   manifest.DefaultConfig(),
		HashTree:                   hashtree.DefaultConfig(),
	}
}

func (c Config) Verify() error {
	switch {
	case c.ExtraCheckpointsToKeep < 0:
		return fmt.Errorf("%w: %d", errNegativeExtraCheckpoints, c.ExtraCheckpointsToKeep)
	case c.DeallocatorBacklog <= 0:
		return errZeroDeallocatorBacklog
	case c.DivergedCheckpointsToKeep < 0, c.BackupsToKeep < 0, c.DivergedStateMarkersToKeep < 0, c.ArchivedStatesMaxAge < 0:
		return errNegativeRetention
	default:
		return c.Manifest.Verify()
	}
}
