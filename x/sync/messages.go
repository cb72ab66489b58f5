// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sync

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ava-labs/replicastate/ids"
)

// RequestKind identifies the artifact a peer asks for.
type RequestKind uint8

const (
	MetaManifestRequest RequestKind = iota + 1
	SubManifestRequest
	ChunkRequest
)

func (k RequestKind) String() string {
	switch k {
	case MetaManifestRequest:
		return "meta_manifest"
	case SubManifestRequest:
		return "sub_manifest"
	case ChunkRequest:
		return "chunk"
	default:
		return "unknown"
	}
}

const (
	requestKindField     = 1
	requestHeightField   = 2
	requestIndexField    = 3
	requestRootHashField = 4
)

var (
	errDecodeRequest      = errors.New("failed to decode request")
	errUnknownRequestKind = errors.New("unknown request kind")
)

// Request asks a peer for the meta-manifest, a sub-manifest or a chunk of
// the checkpoint at [Height]. Meta-manifest requests carry the expected root
// hash so the peer only answers for the state the requester is syncing to.
type Request struct {
	Kind     RequestKind
	Height   uint64
	Index    uint32
	RootHash ids.ID
}

func (r *Request) Bytes() []byte {
	var b []byte
	b = protowire.AppendTag(b, requestKindField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Kind))
	b = protowire.AppendTag(b, requestHeightField, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Height)
	if r.Kind == MetaManifestRequest {
		b = protowire.AppendTag(b, requestRootHashField, protowire.BytesType)
		b = protowire.AppendBytes(b, r.RootHash[:])
	} else {
		b = protowire.AppendTag(b, requestIndexField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Index))
	}
	return b
}

func ParseRequest(b []byte) (*Request, error) {
	r := &Request{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", errDecodeRequest, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == requestKindField && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.Kind = RequestKind(v)
		case num == requestHeightField && typ == protowire.VarintType:
			r.Height, n = protowire.ConsumeVarint(b)
		case num == requestIndexField && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.Index = uint32(v)
		case num == requestRootHashField && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				id, err := ids.ToID(v)
				if err != nil {
					return nil, fmt.Errorf("%w: %w", errDecodeRequest, err)
				}
				r.RootHash = id
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", errDecodeRequest, protowire.ParseError(n))
		}
		b = b[n:]
	}

	switch r.Kind {
	case MetaManifestRequest, SubManifestRequest, ChunkRequest:
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %d", errUnknownRequestKind, r.Kind)
	}
}
