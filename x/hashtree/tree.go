// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hashtree

import (
	"fmt"
	"unsafe"
)

const (
	indexMask    uint32 = 0x3fff_ffff
	kindMask     uint32 = 0xc000_0000
	leafKindBits uint32 = 0x4000_0000
	nodeKindBits uint32 = 0x8000_0000
	forkKindBits uint32 = 0xc000_0000
)

type NodeKind byte

const (
	EmptyNode NodeKind = iota
	ForkNode
	LeafNode
	LabeledNode
)

// NodeID addresses a vertex of a HashTree. The two high bits of the index
// hold the vertex kind. The zero value is the empty tree.
type NodeID struct {
	bucket       uint32
	indexAndKind uint32
}

func newNodeID(kind uint32, bucket, index int) NodeID {
	return NodeID{
		bucket:       uint32(bucket),
		indexAndKind: kind | uint32(index),
	}
}

func (n NodeID) Kind() NodeKind {
	switch n.indexAndKind & kindMask {
	case forkKindBits:
		return ForkNode
	case nodeKindBits:
		return LabeledNode
	case leafKindBits:
		return LeafNode
	default:
		return EmptyNode
	}
}

func (n NodeID) index() int {
	return int(n.indexAndKind & indexMask)
}

func (n NodeID) String() string {
	switch n.Kind() {
	case ForkNode:
		return fmt.Sprintf("Fork(%d, %d)", n.bucket, n.index())
	case LeafNode:
		return fmt.Sprintf("Leaf(%d, %d)", n.bucket, n.index())
	case LabeledNode:
		return fmt.Sprintf("Node(%d, %d)", n.bucket, n.index())
	default:
		return "Empty"
	}
}

// nodeRange is the set of consecutive labeled nodes sharing a parent.
type nodeRange struct {
	bucket     int
	start, end int
}

func (r nodeRange) len() int {
	return r.end - r.start
}

// HashTree is the hash tree of a LazyTree. Vertices are stored by kind in
// per-bucket slices. A tree built by a single goroutine has one bucket;
// subtrees hashed in parallel bring their own buckets, which are appended
// when the subtrees are spliced in.
//
// New vertices are always appended to local bucket 0 but are addressed with
// [bucketOffset] added, so that NodeIDs stay valid after splicing.
type HashTree struct {
	bucketOffset int
	root         NodeID
	rootLabels   nodeRange

	leafDigests [][]Digest

	// forkDigests, forkLeft and forkRight always have the same shape.
	forkDigests [][]Digest
	forkLeft    [][]NodeID
	forkRight   [][]NodeID

	// nodeDigests, nodeLabels, nodeChildren and nodeChildrenLabels always
	// have the same shape. Labeled nodes sharing a parent are stored
	// consecutively in the same bucket.
	nodeDigests        [][]Digest
	nodeLabels         [][]Label
	nodeChildren       [][]NodeID
	nodeChildrenLabels [][]nodeRange
}

func newHashTree(bucketOffset int) *HashTree {
	return &HashTree{
		bucketOffset:       bucketOffset,
		rootLabels:         nodeRange{bucket: bucketOffset},
		leafDigests:        make([][]Digest, 1),
		forkDigests:        make([][]Digest, 1),
		forkLeft:           make([][]NodeID, 1),
		forkRight:          make([][]NodeID, 1),
		nodeDigests:        make([][]Digest, 1),
		nodeLabels:         make([][]Label, 1),
		nodeChildren:       make([][]NodeID, 1),
		nodeChildrenLabels: make([][]nodeRange, 1),
	}
}

func (t *HashTree) newFork(d Digest, left, right NodeID) NodeID {
	id := len(t.forkDigests[0])
	t.forkDigests[0] = append(t.forkDigests[0], d)
	t.forkLeft[0] = append(t.forkLeft[0], left)
	t.forkRight[0] = append(t.forkRight[0], right)
	return newNodeID(forkKindBits, t.bucketOffset, id)
}

func (t *HashTree) newLeaf(d Digest) NodeID {
	id := len(t.leafDigests[0])
	t.leafDigests[0] = append(t.leafDigests[0], d)
	return newNodeID(leafKindBits, t.bucketOffset, id)
}

// preallocateNodes reserves [n] labeled nodes for the children of [parent]
// and records their range on the parent.
func (t *HashTree) preallocateNodes(n int, parent NodeID) nodeRange {
	oldLen := len(t.nodeLabels[0])
	newLen := oldLen + n

	t.nodeLabels[0] = append(t.nodeLabels[0], make([]Label, n)...)
	t.nodeDigests[0] = append(t.nodeDigests[0], make([]Digest, n)...)
	t.nodeChildren[0] = append(t.nodeChildren[0], make([]NodeID, n)...)
	t.nodeChildrenLabels[0] = append(t.nodeChildrenLabels[0], make([]nodeRange, n)...)

	r := nodeRange{
		bucket: t.bucketOffset,
		start:  oldLen,
		end:    newLen,
	}
	if parent == (NodeID{}) {
		t.rootLabels = r
	} else {
		t.nodeChildrenLabels[0][parent.index()] = r
	}
	return r
}

func (t *HashTree) labelsRange(parent NodeID) nodeRange {
	if parent == (NodeID{}) {
		return t.rootLabels
	}
	return t.nodeChildrenLabels[int(parent.bucket)-t.bucketOffset][parent.index()]
}

func (t *HashTree) digest(n NodeID) Digest {
	bucket := int(n.bucket) - t.bucketOffset
	switch n.Kind() {
	case ForkNode:
		return t.forkDigests[bucket][n.index()]
	case LabeledNode:
		return t.nodeDigests[bucket][n.index()]
	case LeafNode:
		return t.leafDigests[bucket][n.index()]
	default:
		return EmptyHash
	}
}

func (t *HashTree) fork(n NodeID) (NodeID, NodeID) {
	bucket := int(n.bucket) - t.bucketOffset
	return t.forkLeft[bucket][n.index()], t.forkRight[bucket][n.index()]
}

// splice appends the buckets of [sub]. [sub] must have been built with a
// bucket offset equal to the current number of buckets of [t].
func (t *HashTree) splice(sub *HashTree) {
	t.leafDigests = append(t.leafDigests, sub.leafDigests...)

	t.forkDigests = append(t.forkDigests, sub.forkDigests...)
	t.forkLeft = append(t.forkLeft, sub.forkLeft...)
	t.forkRight = append(t.forkRight, sub.forkRight...)

	t.nodeDigests = append(t.nodeDigests, sub.nodeDigests...)
	t.nodeLabels = append(t.nodeLabels, sub.nodeLabels...)
	t.nodeChildren = append(t.nodeChildren, sub.nodeChildren...)
	t.nodeChildrenLabels = append(t.nodeChildrenLabels, sub.nodeChildrenLabels...)
}

// RootHash returns the digest of the whole tree.
func (t *HashTree) RootHash() Digest {
	return t.digest(t.root)
}

// Root returns the id of the root vertex.
func (t *HashTree) Root() NodeID {
	return t.root
}

// Buckets returns the number of buckets in the arena.
func (t *HashTree) Buckets() int {
	return len(t.nodeDigests)
}

// SizeEstimate approximates the memory held by the tree, in bytes.
func (t *HashTree) SizeEstimate() int {
	size := int(unsafe.Sizeof(*t))
	for _, b := range t.leafDigests {
		size += len(b) * len(Digest{})
	}
	for _, b := range t.forkDigests {
		size += len(b) * (len(Digest{}) + 2*int(unsafe.Sizeof(NodeID{})))
	}
	for i, b := range t.nodeDigests {
		size += len(b) * (len(Digest{}) + int(unsafe.Sizeof(NodeID{})) + int(unsafe.Sizeof(nodeRange{})))
		for _, label := range t.nodeLabels[i] {
			size += len(label) + int(unsafe.Sizeof(label))
		}
	}
	return size
}

// checkInvariants panics if the arena is malformed.
func (t *HashTree) checkInvariants() {
	sameShape := func(name string, a, b []int) {
		if len(a) != len(b) {
			panic(fmt.Sprintf("%s: %d buckets vs %d", name, len(a), len(b)))
		}
		for i := range a {
			if a[i] != b[i] {
				panic(fmt.Sprintf("%s: bucket %d has %d vs %d entries", name, i, a[i], b[i]))
			}
		}
	}

	forkShape := shape(t.forkDigests)
	sameShape("fork left children", forkShape, shape(t.forkLeft))
	sameShape("fork right children", forkShape, shape(t.forkRight))

	nodeShape := shape(t.nodeDigests)
	sameShape("node labels", nodeShape, shape(t.nodeLabels))
	sameShape("node children", nodeShape, shape(t.nodeChildren))
	sameShape("node children labels", nodeShape, shape(t.nodeChildrenLabels))

	inBounds := func(r nodeRange) bool {
		return r.bucket < len(t.nodeDigests) && r.end <= len(t.nodeDigests[r.bucket])
	}
	if !inBounds(t.rootLabels) {
		panic("root labels range out of bounds")
	}
	for _, bucket := range t.nodeChildrenLabels {
		for _, r := range bucket {
			if !inBounds(r) {
				panic("children labels range out of bounds")
			}
		}
	}
}

func shape[T any](buckets [][]T) []int {
	lens := make([]int, len(buckets))
	for i, b := range buckets {
		lens[i] = len(b)
	}
	return lens
}
