// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
)

// DefaultZstdLevel is used for chunk and manifest responses, which are
// compressed once and served many times.
const DefaultZstdLevel = 9

var _ Compressor = (*zstdCompressor)(nil)

type zstdCompressor struct {
	maxSize int64
	level   int
}

func NewZstdCompressor(maxSize int64) Compressor {
	return NewZstdCompressorWithLevel(maxSize, DefaultZstdLevel)
}

func NewZstdCompressorWithLevel(maxSize int64, level int) Compressor {
	return &zstdCompressor{
		maxSize: maxSize,
		level:   level,
	}
}

func (z *zstdCompressor) Compress(msg []byte) ([]byte, error) {
	if int64(len(msg)) > z.maxSize {
		return nil, fmt.Errorf("%w: (%d) > (%d)", ErrMsgTooLarge, len(msg), z.maxSize)
	}
	return zstd.CompressLevel(nil, msg, z.level)
}

// Decompress reads at most maxSize+1 bytes of output.
func (z *zstdCompressor) Decompress(msg []byte) ([]byte, error) {
	r := zstd.NewReader(bytes.NewReader(msg))
	defer r.Close()

	decompressed, err := io.ReadAll(io.LimitReader(r, z.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(decompressed)) > z.maxSize {
		return nil, fmt.Errorf("%w: (> %d)", ErrDecompressedMsgTooLarge, z.maxSize)
	}
	return decompressed, nil
}
