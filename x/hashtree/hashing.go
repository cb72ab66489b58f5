// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hashtree

import (
	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/hashing"
)

const (
	leafDomain    = "ic-hashtree-leaf"
	labeledDomain = "ic-hashtree-labeled"
	forkDomain    = "ic-hashtree-fork"
	emptyDomain   = "ic-hashtree-empty"
)

// EmptyHash is the digest of a fork without children.
var EmptyHash = ids.ID(hashing.DomainHash(emptyDomain, nil))

// Digest is the hash of a (sub)tree.
type Digest = ids.ID

func leafHash(data []byte) Digest {
	return hashing.DomainHash(leafDomain, data)
}

func labeledHash(label Label, child Digest) Digest {
	h := hashing.NewHasher(labeledDomain)
	h.Write(label)
	h.Write(child[:])
	return h.Sum()
}

func forkHash(left, right Digest) Digest {
	h := hashing.NewHasher(forkDomain)
	h.Write(left[:])
	h.Write(right[:])
	return h.Sum()
}
