// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package manifest

import (
	"errors"
	"fmt"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/hashing"
)

var (
	ErrSubManifestOutOfRange      = errors.New("sub-manifest index out of range")
	ErrSubManifestHashMismatch    = errors.New("sub-manifest hash mismatch")
	errUnsupportedManifestVersion = errors.New("unsupported manifest version")
)

// MetaManifest lists the hashes of the sub-manifests: consecutive pieces of
// the encoded manifest of at most DefaultChunkSize bytes. Large manifests
// are fetched one sub-manifest at a time.
type MetaManifest struct {
	Version           uint32
	SubManifestHashes []ids.ID
}

func SubManifestHash(data []byte) ids.ID {
	return hashing.DomainHash(subManifestDomain, data)
}

// BuildMetaManifest splits the encoding of [m] into sub-manifests and
// returns their hashes.
func BuildMetaManifest(m *Manifest) (*MetaManifest, error) {
	if m.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: %d", errUnsupportedManifestVersion, m.Version)
	}
	subs := SplitSubManifests(Encode(m))
	meta := &MetaManifest{
		Version:           m.Version,
		SubManifestHashes: make([]ids.ID, len(subs)),
	}
	for i, sub := range subs {
		meta.SubManifestHashes[i] = SubManifestHash(sub)
	}
	return meta, nil
}

// SplitSubManifests splits an encoded manifest into sub-manifests. There is
// always at least one sub-manifest.
func SplitSubManifests(encoded []byte) [][]byte {
	if len(encoded) == 0 {
		return [][]byte{{}}
	}
	subs := make([][]byte, 0, (len(encoded)+DefaultChunkSize-1)/DefaultChunkSize)
	for start := 0; start < len(encoded); start += DefaultChunkSize {
		end := start + DefaultChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		subs = append(subs, encoded[start:end])
	}
	return subs
}

// ValidateSubManifest checks [data] against sub-manifest [index] of [meta].
func ValidateSubManifest(meta *MetaManifest, index int, data []byte) error {
	if index < 0 || index >= len(meta.SubManifestHashes) {
		return fmt.Errorf("%w: %d >= %d", ErrSubManifestOutOfRange, index, len(meta.SubManifestHashes))
	}
	if actual := SubManifestHash(data); actual != meta.SubManifestHashes[index] {
		return fmt.Errorf("%w: sub-manifest %d expected %s, got %s", ErrSubManifestHashMismatch, index, meta.SubManifestHashes[index], actual)
	}
	return nil
}
