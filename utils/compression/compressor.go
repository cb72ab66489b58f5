// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package compression

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDecompressedMsgTooLarge = errors.New("decompressed msg too large")
	ErrMsgTooLarge             = errors.New("msg too large to be compressed")
	ErrUnknownType             = errors.New("unknown compression type")
)

// Compressor compresss and decompresses messages.
// Decompress is the inverse of Compress.
// Decompress(Compress(msg)) == msg.
type Compressor interface {
	Compress([]byte) ([]byte, error)
	Decompress([]byte) ([]byte, error)
}

// Type of compression
type Type byte

const (
	TypeNone Type = iota + 1
	TypeZstd
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

func TypeFromString(s string) (Type, error) {
	switch strings.ToLower(s) {
	case TypeNone.String():
		return TypeNone, nil
	case TypeZstd.String():
		return TypeZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

// New returns the compressor of type [t] limited to [maxSize] bytes.
func New(t Type, maxSize int64) (Compressor, error) {
	switch t {
	case TypeNone:
		return NewNoCompressor(maxSize), nil
	case TypeZstd:
		return NewZstdCompressor(maxSize), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}
