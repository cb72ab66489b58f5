// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ava-labs/replicastate/database"
	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/x/manifest"
)

const cacheBatchSize = 256 * 1024

var ErrSyncAlreadyActive = errors.New("state sync already active")

// StateSyncRefs tracks the state syncs in progress and caches the verified
// chunks of aborted syncs so that later syncs don't fetch them again.
type StateSyncRefs struct {
	log logging.Logger

	lock sync.Mutex
	// root hash of the synced state, by height
	active map[uint64]ids.ID
	// chunk hash -> chunk
	cache database.Database
}

func NewStateSyncRefs(log logging.Logger, cache database.Database) *StateSyncRefs {
	return &StateSyncRefs{
		log:    log,
		active: make(map[uint64]ids.ID),
		cache:  cache,
	}
}

// Insert registers a sync of the state at [height]. At most one sync per
// height is active.
func (r *StateSyncRefs) Insert(height uint64, rootHash ids.ID) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if existing, ok := r.active[height]; ok {
		return fmt.Errorf("%w: height %d with root hash %s", ErrSyncAlreadyActive, height, existing)
	}
	r.active[height] = rootHash
	return nil
}

func (r *StateSyncRefs) Remove(height uint64) {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.active, height)
}

// Active returns the root hash of the sync of the state at [height].
func (r *StateSyncRefs) Active(height uint64) (ids.ID, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	rootHash, ok := r.active[height]
	return rootHash, ok
}

func (r *StateSyncRefs) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.active)
}

// CachedChunk returns the cached chunk with hash [hash]. The chunk is
// verified against its hash since the cache may be stored on disk.
func (r *StateSyncRefs) CachedChunk(hash ids.ID) ([]byte, bool) {
	data, err := r.cache.Get(hash[:])
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			r.log.Warn("failed to read cached chunk",
				zap.Stringer("hash", hash),
				zap.Error(err),
			)
		}
		return nil, false
	}
	if manifest.ChunkHash(data) != hash {
		r.log.Warn("dropping corrupt cached chunk",
			zap.Stringer("hash", hash),
		)
		_ = r.cache.Delete(hash[:])
		return nil, false
	}
	return data, true
}

// CacheChunks replaces the cache with [chunks], keyed by hash. Only the
// chunks of the most recently aborted sync are kept.
func (r *StateSyncRefs) CacheChunks(chunks [][]byte) error {
	if err := r.ClearCache(); err != nil {
		return err
	}
	batch := r.cache.NewBatch()
	for _, data := range chunks {
		hash := manifest.ChunkHash(data)
		if err := batch.Put(hash[:], data); err != nil {
			return err
		}
		if batch.Size() >= cacheBatchSize {
			if err := batch.Write(); err != nil {
				return err
			}
			batch.Reset()
		}
	}
	if err := batch.Write(); err != nil {
		return err
	}
	r.log.Debug("cached chunks of aborted sync",
		zap.Int("numChunks", len(chunks)),
	)
	return nil
}

func (r *StateSyncRefs) ClearCache() error {
	return database.Clear(r.cache, cacheBatchSize)
}
