// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"fmt"
	"time"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/x/manifest"
)

// StateSummary advertises a checkpoint that can be served to peers.
type StateSummary struct {
	Height   uint64
	RootHash ids.ID
}

// AvailableStates returns the checkpoints whose manifest is computed, by
// increasing height.
func (m *Manager) AvailableStates() []StateSummary {
	m.lock.RLock()
	defer m.lock.RUnlock()

	var summaries []StateSummary
	m.states.Ascend(func(sm *stateMetadata) bool {
		if sm.bundle != nil {
			summaries = append(summaries, StateSummary{
				Height:   sm.height,
				RootHash: sm.bundle.RootHash,
			})
		}
		return true
	})
	return summaries
}

// Bundle returns the manifest of the checkpoint at [height].
func (m *Manager) Bundle(height uint64) (*manifest.Bundle, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	sm, ok := m.states.Get(&stateMetadata{height: height})
	if !ok || sm.bundle == nil {
		return nil, fmt.Errorf("%w: %d", ErrStateNotFound, height)
	}
	return sm.bundle, nil
}

// SubManifest returns sub-manifest [index] of the manifest of the checkpoint
// at [height].
func (m *Manager) SubManifest(height uint64, index int) ([]byte, error) {
	key := chunkCacheKey{
		height:      height,
		subManifest: true,
		index:       index,
	}
	if data, ok := m.chunkCache.Get(key); ok {
		return data, nil
	}

	bundle, err := m.Bundle(height)
	if err != nil {
		return nil, err
	}
	subs := manifest.SplitSubManifests(manifest.Encode(bundle.Manifest))
	if index < 0 || index >= len(subs) {
		return nil, fmt.Errorf("%w: %d >= %d", manifest.ErrSubManifestOutOfRange, index, len(subs))
	}
	m.chunkCache.Put(key, subs[index])
	return subs[index], nil
}

// ReadChunk returns chunk [index] of the checkpoint at [height].
func (m *Manager) ReadChunk(height uint64, index int) ([]byte, error) {
	defer m.observe("read_chunk", time.Now())

	key := chunkCacheKey{
		height: height,
		index:  index,
	}
	if data, ok := m.chunkCache.Get(key); ok {
		return data, nil
	}

	bundle, err := m.Bundle(height)
	if err != nil {
		return nil, err
	}
	ref, err := m.layout.Checkpoint(height)
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %w", ErrStateNotFound, height, err)
	}
	defer m.deallocate(ref)

	data, err := manifest.ReadChunk(ref.Path(), bundle.Manifest, index)
	if err != nil {
		return nil, err
	}
	m.chunkCache.Put(key, data)
	return data, nil
}
