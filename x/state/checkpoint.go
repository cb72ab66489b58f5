// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/filesystem"
	"github.com/ava-labs/replicastate/utils/perms"
)

const (
	// SystemMetadataFile holds everything but the partition contents.
	SystemMetadataFile = "system_metadata.pbuf"
	partitionsDir      = "partitions"
	partitionFileName  = "vmemory_0.bin"

	prevStateHashField = 1
	attributeField     = 2
	partitionField     = 3

	keyField      = 1
	valueField    = 2
	nameField     = 1
	numPagesField = 2
)

var (
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

	errMissingPartition = errors.New("partition file is missing")
)

// PartitionFile is the path of the contents of partition [name], relative
// to the checkpoint root.
func PartitionFile(name string) string {
	return path.Join(partitionsDir, name, partitionFileName)
}

// WriteCheckpoint writes [s] into the empty directory [dir].
func (s *ReplicatedState) WriteCheckpoint(dir string) error {
	for _, name := range s.Partitions() {
		if err := writePartition(filepath.Join(dir, filepath.FromSlash(PartitionFile(name))), s.partitions[name]); err != nil {
			return fmt.Errorf("failed to write partition %q: %w", name, err)
		}
	}
	return filesystem.WriteFileAtomic(filepath.Join(dir, SystemMetadataFile), s.encodeMetadata(), perms.ReadWrite)
}

func writePartition(path string, pm *PageMap) error {
	if err := os.MkdirAll(filepath.Dir(path), perms.ReadWriteExecute); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perms.ReadWrite)
	if err != nil {
		return err
	}
	if err := f.Truncate(int64(pm.Size())); err != nil {
		_ = f.Close()
		return err
	}
	for _, index := range pm.populatedPages() {
		if _, err := f.WriteAt(pm.pages[index][:], int64(index*PageSize)); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *ReplicatedState) encodeMetadata() []byte {
	var b []byte
	if s.hasPrevStateHash {
		b = protowire.AppendTag(b, prevStateHashField, protowire.BytesType)
		b = protowire.AppendBytes(b, s.prevStateHash[:])
	}

	keys := maps.Keys(s.attributes)
	slices.Sort(keys)
	for _, key := range keys {
		var ab []byte
		ab = protowire.AppendTag(ab, keyField, protowire.BytesType)
		ab = protowire.AppendString(ab, key)
		ab = protowire.AppendTag(ab, valueField, protowire.BytesType)
		ab = protowire.AppendBytes(ab, s.attributes[key])

		b = protowire.AppendTag(b, attributeField, protowire.BytesType)
		b = protowire.AppendBytes(b, ab)
	}

	for _, name := range s.Partitions() {
		var pb []byte
		pb = protowire.AppendTag(pb, nameField, protowire.BytesType)
		pb = protowire.AppendString(pb, name)
		pb = protowire.AppendTag(pb, numPagesField, protowire.VarintType)
		pb = protowire.AppendVarint(pb, s.partitions[name].numPages)

		b = protowire.AppendTag(b, partitionField, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	return b
}

// LoadCheckpoint reads the state written in [dir] as the checkpoint at
// [height]. The returned state has no dirty pages.
func LoadCheckpoint(dir string, height uint64) (*ReplicatedState, error) {
	b, err := os.ReadFile(filepath.Join(dir, SystemMetadataFile))
	if err != nil {
		return nil, err
	}
	s := New()
	s.lastCheckpointHeight = height

	numPages := make(map[string]uint64)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrCorruptCheckpoint, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == prevStateHashField && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m >= 0 {
				s.prevStateHash, err = ids.ToID(v)
				if err != nil {
					return nil, fmt.Errorf("%w: %w", ErrCorruptCheckpoint, err)
				}
				s.hasPrevStateHash = true
			}
			n = m
		case num == attributeField && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m >= 0 {
				key, value, err := decodeKeyValue(v)
				if err != nil {
					return nil, err
				}
				s.attributes[key] = value
			}
			n = m
		case num == partitionField && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m >= 0 {
				name, pages, err := decodePartition(v)
				if err != nil {
					return nil, err
				}
				numPages[name] = pages
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrCorruptCheckpoint, protowire.ParseError(n))
		}
		b = b[n:]
	}

	for name, pages := range numPages {
		if err := verifyPartitionName(name); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptCheckpoint, err)
		}
		pm, err := readPartition(filepath.Join(dir, filepath.FromSlash(PartitionFile(name))), pages)
		if err != nil {
			return nil, fmt.Errorf("failed to read partition %q: %w", name, err)
		}
		s.partitions[name] = pm
	}
	return s, nil
}

func decodeKeyValue(b []byte) (string, []byte, error) {
	var (
		key   string
		value = []byte{}
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, fmt.Errorf("%w: %w", ErrCorruptCheckpoint, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == keyField && typ == protowire.BytesType:
			key, n = protowire.ConsumeString(b)
		case num == valueField && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			value = slices.Clone(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return "", nil, fmt.Errorf("%w: %w", ErrCorruptCheckpoint, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return key, value, nil
}

func decodePartition(b []byte) (string, uint64, error) {
	var (
		name     string
		numPages uint64
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", 0, fmt.Errorf("%w: %w", ErrCorruptCheckpoint, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == nameField && typ == protowire.BytesType:
			name, n = protowire.ConsumeString(b)
		case num == numPagesField && typ == protowire.VarintType:
			numPages, n = protowire.ConsumeVarint(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return "", 0, fmt.Errorf("%w: %w", ErrCorruptCheckpoint, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return name, numPages, nil
}

// readPartition loads the non zero pages of the partition file at [path].
func readPartition(path string, numPages uint64) (*PageMap, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", errMissingPartition, path)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if uint64(info.Size()) != numPages*PageSize {
		return nil, fmt.Errorf("%w: %s has %d bytes, expected %d", ErrCorruptCheckpoint, path, info.Size(), numPages*PageSize)
	}

	pm := newPageMap()
	pm.numPages = numPages
	for index := uint64(0); index < numPages; index++ {
		p := new(page)
		if _, err := f.ReadAt(p[:], int64(index*PageSize)); err != nil && err != io.EOF {
			return nil, err
		}
		if *p != zeroPage {
			pm.pages[index] = p
			pm.owned[index] = struct{}{}
		}
	}
	return pm, nil
}
