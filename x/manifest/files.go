// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package manifest

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/exp/slices"

	"github.com/ava-labs/replicastate/utils/perms"
)

type file struct {
	relativePath string
	size         uint64
}

// listFiles returns the regular files below [dir], sorted by relative path.
// Relative paths always use forward slashes.
func listFiles(dir string) ([]file, error) {
	var files []file
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, file{
			relativePath: filepath.ToSlash(rel),
			size:         uint64(info.Size()),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(files, func(a, b file) bool {
		return a.relativePath < b.relativePath
	})
	return files, nil
}

func readAt(path string, offset uint64, size uint32) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// ReadChunk reads chunk [index] of [m] from the checkpoint in [dir].
func ReadChunk(dir string, m *Manifest, index int) ([]byte, error) {
	if index < 0 || index >= len(m.ChunkTable) {
		return nil, fmt.Errorf("%w: %d >= %d", ErrChunkOutOfRange, index, len(m.ChunkTable))
	}
	c := m.ChunkTable[index]
	path := filepath.Join(dir, filepath.FromSlash(m.FileTable[c.FileIndex].RelativePath))
	return readAt(path, c.Offset, c.SizeBytes)
}

// Preallocate creates every file of [m] in [dir] with its final size.
func Preallocate(dir string, m *Manifest) error {
	for _, fi := range m.FileTable {
		path := filepath.Join(dir, filepath.FromSlash(fi.RelativePath))
		if err := os.MkdirAll(filepath.Dir(path), perms.ReadWriteExecute); err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, perms.ReadWrite)
		if err != nil {
			return err
		}
		if err := f.Truncate(int64(fi.SizeBytes)); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

// WriteChunk writes chunk [index] of [m] into a directory previously
// preallocated with Preallocate.
func WriteChunk(dir string, m *Manifest, index int, data []byte) error {
	if index < 0 || index >= len(m.ChunkTable) {
		return fmt.Errorf("%w: %d >= %d", ErrChunkOutOfRange, index, len(m.ChunkTable))
	}
	c := m.ChunkTable[index]
	if len(data) != int(c.SizeBytes) {
		return fmt.Errorf("%w: chunk %d has %d bytes, expected %d", ErrChunkSizeMismatch, index, len(data), c.SizeBytes)
	}
	path := filepath.Join(dir, filepath.FromSlash(m.FileTable[c.FileIndex].RelativePath))
	f, err := os.OpenFile(path, os.O_WRONLY, perms.ReadWrite)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(data, int64(c.Offset)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
