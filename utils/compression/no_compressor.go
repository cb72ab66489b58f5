// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package compression

import "fmt"

var _ Compressor = (*noCompressor)(nil)

type noCompressor struct {
	maxSize int64
}

func NewNoCompressor(maxSize int64) Compressor {
	return &noCompressor{maxSize: maxSize}
}

func (n *noCompressor) Compress(msg []byte) ([]byte, error) {
	if int64(len(msg)) > n.maxSize {
		return nil, fmt.Errorf("%w: (%d) > (%d)", ErrMsgTooLarge, len(msg), n.maxSize)
	}
	return msg, nil
}

func (n *noCompressor) Decompress(msg []byte) ([]byte, error) {
	if int64(len(msg)) > n.maxSize {
		return nil, fmt.Errorf("%w: (%d) > (%d)", ErrDecompressedMsgTooLarge, len(msg), n.maxSize)
	}
	return msg, nil
}
