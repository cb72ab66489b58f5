// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/btree"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/filesystem"
	"github.com/ava-labs/replicastate/utils/perms"
	"github.com/ava-labs/replicastate/x/certification"
	"github.com/ava-labs/replicastate/x/hashtree"
	"github.com/ava-labs/replicastate/x/manifest"
	"github.com/ava-labs/replicastate/x/state"
	"github.com/ava-labs/replicastate/x/statelayout"
)

const (
	treeDegree = 2

	metadataVersion uint64 = 1

	versionField = 1
	entryField   = 2

	entryHeightField   = 1
	entryManifestField = 2
)

var (
	errUnsupportedMetadataVersion = errors.New("unsupported states metadata version")
	errCorruptMetadata            = errors.New("corrupt states metadata")
)

// snapshot is a committed, immutable state.
type snapshot struct {
	height uint64
	state  *state.ReplicatedState
}

// certificationMetadata is what the registry knows about the certification
// of the state at [height].
type certificationMetadata struct {
	height        uint64
	certifiedHash ids.ID
	// dropped once a higher height is certified
	hashTree      *hashtree.HashTree
	certification *certification.Certification
}

func certificationLess(a, b *certificationMetadata) bool {
	return a.height < b.height
}

func newCertificationMetadata(height uint64, tree *hashtree.HashTree) *certificationMetadata {
	return &certificationMetadata{
		height:        height,
		certifiedHash: tree.RootHash(),
		hashTree:      tree,
	}
}

// stateMetadata describes the checkpoint at [height].
type stateMetadata struct {
	height     uint64
	checkpoint *statelayout.CheckpointRef
	// nil until the manifest is computed
	bundle *manifest.Bundle
}

func stateLess(a, b *stateMetadata) bool {
	return a.height < b.height
}

func newCertificationsTree() *btree.BTreeG[*certificationMetadata] {
	return btree.NewG(treeDegree, certificationLess)
}

func newStatesTree() *btree.BTreeG[*stateMetadata] {
	return btree.NewG(treeDegree, stateLess)
}

// persistedMetadata is the part of the states metadata written to disk.
type persistedMetadata map[uint64]*manifest.Manifest

func encodeMetadata(m persistedMetadata, heights []uint64) []byte {
	var b []byte
	b = protowire.AppendTag(b, versionField, protowire.VarintType)
	b = protowire.AppendVarint(b, metadataVersion)
	for _, height := range heights {
		var entry []byte
		entry = protowire.AppendTag(entry, entryHeightField, protowire.VarintType)
		entry = protowire.AppendVarint(entry, height)
		if mf := m[height]; mf != nil {
			entry = protowire.AppendTag(entry, entryManifestField, protowire.BytesType)
			entry = protowire.AppendBytes(entry, manifest.Encode(mf))
		}
		b = protowire.AppendTag(b, entryField, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func decodeMetadata(b []byte) (persistedMetadata, error) {
	m := make(persistedMetadata)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", errCorruptMetadata, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == versionField && typ == protowire.VarintType:
			version, l := protowire.ConsumeVarint(b)
			if l >= 0 && version != metadataVersion {
				return nil, fmt.Errorf("%w: %d", errUnsupportedMetadataVersion, version)
			}
			n = l
		case num == entryField && typ == protowire.BytesType:
			v, l := protowire.ConsumeBytes(b)
			if l >= 0 {
				height, mf, err := decodeEntry(v)
				if err != nil {
					return nil, err
				}
				m[height] = mf
			}
			n = l
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", errCorruptMetadata, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return m, nil
}

func decodeEntry(b []byte) (uint64, *manifest.Manifest, error) {
	var (
		height uint64
		mf     *manifest.Manifest
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, nil, fmt.Errorf("%w: %w", errCorruptMetadata, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == entryHeightField && typ == protowire.VarintType:
			height, n = protowire.ConsumeVarint(b)
		case num == entryManifestField && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				var err error
				mf, err = manifest.Decode(v)
				if err != nil {
					return 0, nil, fmt.Errorf("%w: %w", errCorruptMetadata, err)
				}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return 0, nil, fmt.Errorf("%w: %w", errCorruptMetadata, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return height, mf, nil
}

// loadMetadata reads the states metadata file. The file is advisory: a
// missing or corrupt file yields no manifests, which are then recomputed.
func (m *Manager) loadMetadata() persistedMetadata {
	path := m.layout.StatesMetadata()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return persistedMetadata{}
	}
	if err != nil {
		m.log.Warn("failed to read states metadata",
			zap.String("path", path),
			zap.Error(err),
		)
		return persistedMetadata{}
	}
	metadata, err := decodeMetadata(b)
	if err != nil {
		m.log.Warn("ignoring corrupt states metadata",
			zap.String("path", path),
			zap.Error(err),
		)
		return persistedMetadata{}
	}
	return metadata
}

// releaseLockAndPersistMetadata snapshots the states metadata, releases
// [m.lock] and writes the snapshot to disk. The persist lock is taken before
// [m.lock] is released so that snapshots are written in the order they were
// taken.
//
// Assumes [m.lock] is held for writing.
func (m *Manager) releaseLockAndPersistMetadata() {
	heights := make([]uint64, 0, m.states.Len())
	metadata := make(persistedMetadata, m.states.Len())
	m.states.Ascend(func(sm *stateMetadata) bool {
		heights = append(heights, sm.height)
		if sm.bundle != nil {
			metadata[sm.height] = sm.bundle.Manifest
		}
		return true
	})

	m.persistLock.Lock()
	defer m.persistLock.Unlock()
	m.lock.Unlock()

	path := m.layout.StatesMetadata()
	if err := filesystem.WriteFileAtomic(path, encodeMetadata(metadata, heights), perms.ReadWrite); err != nil {
		m.log.Error("failed to persist states metadata",
			zap.String("path", path),
			zap.Error(err),
		)
		m.metrics.errors.WithLabelValues(persistMetadataError).Inc()
	}
}
