// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package manifest

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/hashing"
)

const (
	// CurrentVersion is the version of newly computed manifests.
	CurrentVersion uint32 = 1

	// DefaultChunkSize is the size of every chunk but the last one of a file.
	// Sub-manifests are cut at the same size.
	DefaultChunkSize = 1 << 20

	// PageSize is the granularity of dirty page tracking.
	PageSize = 4096

	chunkDomain       = "ic-state-chunk"
	fileDomain        = "ic-state-file"
	manifestDomain    = "ic-state-manifest"
	subManifestDomain = "ic-state-sub-manifest"
)

var (
	ErrRootHashMismatch  = errors.New("manifest root hash mismatch")
	ErrInvalidManifest   = errors.New("invalid manifest")
	ErrChunkOutOfRange   = errors.New("chunk index out of range")
	ErrChunkSizeMismatch = errors.New("chunk size mismatch")
	ErrChunkHashMismatch = errors.New("chunk hash mismatch")
)

type FileInfo struct {
	RelativePath string
	SizeBytes    uint64
	Hash         ids.ID
}

type ChunkInfo struct {
	FileIndex uint32
	SizeBytes uint32
	Offset    uint64
	Hash      ids.ID
}

// Manifest lists the files of a checkpoint, sorted by relative path, and the
// chunks they are split into. Chunks of a file are consecutive and ordered by
// offset.
type Manifest struct {
	Version    uint32
	FileTable  []FileInfo
	ChunkTable []ChunkInfo
}

// Bundle is a manifest along with the values derived from it that are
// served to peers.
type Bundle struct {
	RootHash     ids.ID
	Manifest     *Manifest
	MetaManifest *MetaManifest
}

func NewBundle(m *Manifest) (*Bundle, error) {
	meta, err := BuildMetaManifest(m)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		RootHash:     RootHash(m),
		Manifest:     m,
		MetaManifest: meta,
	}, nil
}

// ChunkHash returns the hash of a chunk with contents [data].
func ChunkHash(data []byte) ids.ID {
	return hashing.DomainHash(chunkDomain, data)
}

// FileHash returns the hash of a file given the hashes of its chunks.
func FileHash(chunks []ChunkInfo) ids.ID {
	h := hashing.NewHasher(fileDomain)
	h.WriteUint32(uint32(len(chunks)))
	for _, c := range chunks {
		h.Write(c.Hash[:])
	}
	return h.Sum()
}

// RootHash returns the hash of [m], which commits to every file and chunk.
func RootHash(m *Manifest) ids.ID {
	h := hashing.NewHasher(manifestDomain)
	h.WriteUint32(m.Version)
	h.WriteUint32(uint32(len(m.FileTable)))
	for _, f := range m.FileTable {
		h.WriteUint32(uint32(len(f.RelativePath)))
		h.Write([]byte(f.RelativePath))
		h.WriteUint64(f.SizeBytes)
		h.Write(f.Hash[:])
	}
	h.WriteUint32(uint32(len(m.ChunkTable)))
	for _, c := range m.ChunkTable {
		h.WriteUint32(c.FileIndex)
		h.WriteUint32(c.SizeBytes)
		h.WriteUint64(c.Offset)
		h.Write(c.Hash[:])
	}
	return h.Sum()
}

// ChunkRange is the half-open range [Start, End) of the chunk table holding
// the chunks of a file.
type ChunkRange struct {
	Start int
	End   int
}

// FileRanges returns the chunk range of every file of [m] in a single pass
// over the chunk table, which is ordered by file.
func (m *Manifest) FileRanges() []ChunkRange {
	ranges := make([]ChunkRange, len(m.FileTable))
	next := 0
	for fileIndex := range ranges {
		for next < len(m.ChunkTable) && int(m.ChunkTable[next].FileIndex) < fileIndex {
			next++
		}
		start := next
		for next < len(m.ChunkTable) && int(m.ChunkTable[next].FileIndex) == fileIndex {
			next++
		}
		ranges[fileIndex] = ChunkRange{
			Start: start,
			End:   next,
		}
	}
	return ranges
}

// FileIndex returns the index of the file at [relativePath]. The file table
// is sorted by path.
func (m *Manifest) FileIndex(relativePath string) (int, bool) {
	i := sort.Search(len(m.FileTable), func(i int) bool {
		return m.FileTable[i].RelativePath >= relativePath
	})
	if i < len(m.FileTable) && m.FileTable[i].RelativePath == relativePath {
		return i, true
	}
	return 0, false
}

// TotalBytes is the sum of the sizes of all files.
func (m *Manifest) TotalBytes() uint64 {
	var total uint64
	for _, f := range m.FileTable {
		total += f.SizeBytes
	}
	return total
}

// Validate checks that [m] is well formed and hashes to [rootHash].
func Validate(m *Manifest, rootHash ids.ID) error {
	if actual := RootHash(m); actual != rootHash {
		return fmt.Errorf("%w: expected %s, computed %s", ErrRootHashMismatch, rootHash, actual)
	}
	return validateStructure(m)
}

func validateStructure(m *Manifest) error {
	for i := 1; i < len(m.FileTable); i++ {
		if m.FileTable[i-1].RelativePath >= m.FileTable[i].RelativePath {
			return fmt.Errorf("%w: file table isn't sorted at %d", ErrInvalidManifest, i)
		}
	}

	next := 0
	for fileIndex, f := range m.FileTable {
		start := next
		var offset uint64
		for next < len(m.ChunkTable) && int(m.ChunkTable[next].FileIndex) == fileIndex {
			c := m.ChunkTable[next]
			if c.Offset != offset {
				return fmt.Errorf("%w: chunk %d starts at %d, expected %d", ErrInvalidManifest, next, c.Offset, offset)
			}
			offset += uint64(c.SizeBytes)
			next++
		}
		if offset != f.SizeBytes {
			return fmt.Errorf("%w: chunks of %q cover %d bytes, expected %d", ErrInvalidManifest, f.RelativePath, offset, f.SizeBytes)
		}
		if fileHash := FileHash(m.ChunkTable[start:next]); fileHash != f.Hash {
			return fmt.Errorf("%w: hash of %q doesn't match its chunks", ErrInvalidManifest, f.RelativePath)
		}
	}
	if next != len(m.ChunkTable) {
		return fmt.Errorf("%w: chunk %d references unknown file %d", ErrInvalidManifest, next, m.ChunkTable[next].FileIndex)
	}
	return nil
}

// ValidateChunk checks [data] against chunk [index] of [m].
func ValidateChunk(m *Manifest, index int, data []byte) error {
	if index < 0 || index >= len(m.ChunkTable) {
		return fmt.Errorf("%w: %d >= %d", ErrChunkOutOfRange, index, len(m.ChunkTable))
	}
	c := m.ChunkTable[index]
	if len(data) != int(c.SizeBytes) {
		return fmt.Errorf("%w: chunk %d has %d bytes, expected %d", ErrChunkSizeMismatch, index, len(data), c.SizeBytes)
	}
	if actual := ChunkHash(data); actual != c.Hash {
		return fmt.Errorf("%w: chunk %d expected %s, got %s", ErrChunkHashMismatch, index, c.Hash, actual)
	}
	return nil
}

// DiffChunks maps every chunk of [target] whose contents are also a chunk of
// [source] to the index of that chunk in [source].
func DiffChunks(source, target *Manifest) map[int]int {
	byHash := make(map[ids.ID]int, len(source.ChunkTable))
	for i, c := range source.ChunkTable {
		if _, ok := byHash[c.Hash]; !ok {
			byHash[c.Hash] = i
		}
	}
	copies := make(map[int]int)
	for i, c := range target.ChunkTable {
		if j, ok := byHash[c.Hash]; ok && source.ChunkTable[j].SizeBytes == c.SizeBytes {
			copies[i] = j
		}
	}
	return copies
}
