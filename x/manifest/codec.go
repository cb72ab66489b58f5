// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package manifest

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ava-labs/replicastate/ids"
)

// Field numbers of the protobuf encoding.
const (
	manifestVersionField = 1
	manifestFileField    = 2
	manifestChunkField   = 3

	filePathField = 1
	fileSizeField = 2
	fileHashField = 3

	chunkFileIndexField = 1
	chunkSizeField      = 2
	chunkOffsetField    = 3
	chunkHashField      = 4

	metaVersionField = 1
	metaHashField    = 2
)

var ErrDecode = errors.New("failed to decode")

// Encode returns the canonical protobuf encoding of [m].
func Encode(m *Manifest) []byte {
	var b []byte
	b = protowire.AppendTag(b, manifestVersionField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Version))
	for _, f := range m.FileTable {
		var fb []byte
		fb = protowire.AppendTag(fb, filePathField, protowire.BytesType)
		fb = protowire.AppendString(fb, f.RelativePath)
		fb = protowire.AppendTag(fb, fileSizeField, protowire.VarintType)
		fb = protowire.AppendVarint(fb, f.SizeBytes)
		fb = protowire.AppendTag(fb, fileHashField, protowire.BytesType)
		fb = protowire.AppendBytes(fb, f.Hash[:])

		b = protowire.AppendTag(b, manifestFileField, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	for _, c := range m.ChunkTable {
		var cb []byte
		cb = protowire.AppendTag(cb, chunkFileIndexField, protowire.VarintType)
		cb = protowire.AppendVarint(cb, uint64(c.FileIndex))
		cb = protowire.AppendTag(cb, chunkSizeField, protowire.VarintType)
		cb = protowire.AppendVarint(cb, uint64(c.SizeBytes))
		cb = protowire.AppendTag(cb, chunkOffsetField, protowire.VarintType)
		cb = protowire.AppendVarint(cb, c.Offset)
		cb = protowire.AppendTag(cb, chunkHashField, protowire.BytesType)
		cb = protowire.AppendBytes(cb, c.Hash[:])

		b = protowire.AppendTag(b, manifestChunkField, protowire.BytesType)
		b = protowire.AppendBytes(b, cb)
	}
	return b
}

// Decode parses a manifest produced by Encode. Unknown fields are skipped.
func Decode(b []byte) (*Manifest, error) {
	m := &Manifest{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == manifestVersionField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Version = uint32(v)
			return n, nil
		case num == manifestFileField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			f, err := decodeFileInfo(v)
			if err != nil {
				return 0, err
			}
			m.FileTable = append(m.FileTable, f)
			return n, nil
		case num == manifestChunkField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			c, err := decodeChunkInfo(v)
			if err != nil {
				return 0, err
			}
			m.ChunkTable = append(m.ChunkTable, c)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w manifest: %w", ErrDecode, err)
	}
	return m, nil
}

func decodeFileInfo(b []byte) (FileInfo, error) {
	var f FileInfo
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == filePathField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			f.RelativePath = v
			return n, nil
		case num == fileSizeField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.SizeBytes = v
			return n, nil
		case num == fileHashField && typ == protowire.BytesType:
			return consumeID(b, &f.Hash)
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return f, err
}

func decodeChunkInfo(b []byte) (ChunkInfo, error) {
	var c ChunkInfo
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == chunkFileIndexField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.FileIndex = uint32(v)
			return n, nil
		case num == chunkSizeField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.SizeBytes = uint32(v)
			return n, nil
		case num == chunkOffsetField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.Offset = v
			return n, nil
		case num == chunkHashField && typ == protowire.BytesType:
			return consumeID(b, &c.Hash)
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return c, err
}

// EncodeMetaManifest returns the protobuf encoding of [m].
func EncodeMetaManifest(m *MetaManifest) []byte {
	var b []byte
	b = protowire.AppendTag(b, metaVersionField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Version))
	for _, h := range m.SubManifestHashes {
		b = protowire.AppendTag(b, metaHashField, protowire.BytesType)
		b = protowire.AppendBytes(b, h[:])
	}
	return b
}

func DecodeMetaManifest(b []byte) (*MetaManifest, error) {
	m := &MetaManifest{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == metaVersionField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Version = uint32(v)
			return n, nil
		case num == metaHashField && typ == protowire.BytesType:
			var id ids.ID
			n, err := consumeID(b, &id)
			if err != nil || n < 0 {
				return n, err
			}
			m.SubManifestHashes = append(m.SubManifestHashes, id)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w meta-manifest: %w", ErrDecode, err)
	}
	return m, nil
}

// consumeFields calls [field] for every field of the message [b]. [field]
// returns the number of bytes of the value it consumed, or a negative
// protowire error code.
func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func consumeID(b []byte, id *ids.ID) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	parsed, err := ids.ToID(v)
	if err != nil {
		return 0, err
	}
	*id = parsed
	return n, nil
}
