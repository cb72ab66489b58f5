// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hashtree

import (
	"bytes"
	"fmt"
	"math/bits"

	"golang.org/x/exp/slices"
)

// Witness returns the smallest witness of [t] revealing [partial]. Labels of
// [partial] that are missing from [t] are proven absent by revealing their
// neighbours.
//
// Panics if [partial] has a shape that differs from the tree [t] was built
// from, for example a leaf where [t] has a fork.
func (t *HashTree) Witness(partial *LabeledTree) *MixedHashTree {
	return t.witness(NodeID{}, t.root, partial)
}

func (t *HashTree) witness(parent, pos NodeID, partial *LabeledTree) *MixedHashTree {
	if partial.IsLeaf() {
		if pos.Kind() != LeafNode {
			panic(fmt.Sprintf("inconsistent tree structure: %s under %s is not a leaf", pos, parent))
		}
		return LeafWitness(partial.Value)
	}

	w := PrunedWitness(t.digest(pos))
	for _, c := range partial.Children {
		w = mustMerge(w, t.childWitness(parent, pos, c.Label, c.Tree))
	}
	return w
}

func (t *HashTree) childWitness(parent, pos NodeID, label Label, sub *LabeledTree) *MixedHashTree {
	switch pos.Kind() {
	case EmptyNode:
		// Nothing can be present under a fork without children.
		return EmptyWitness()
	case LeafNode:
		panic(fmt.Sprintf("inconsistent tree structure: %s under %s is a leaf", pos, parent))
	}

	var (
		r      = t.labelsRange(parent)
		bucket = r.bucket - t.bucketOffset
		labels = t.nodeLabels[bucket][r.start:r.end]
		size   = r.len()
	)
	offset, found := slices.BinarySearchFunc(labels, label, func(a, b Label) int {
		return bytes.Compare(a, b)
	})
	if found {
		i := r.start + offset
		id := newNodeID(nodeKindBits, r.bucket, i)
		w := LabeledWitness(label, t.witness(id, t.nodeChildren[bucket][i], sub))
		return t.addForks(pos, offset, size, w)
	}

	prunedLabelAt := func(offset int) *MixedHashTree {
		i := r.start + offset
		w := LabeledWitness(
			t.nodeLabels[bucket][i],
			PrunedWitness(t.digest(t.nodeChildren[bucket][i])),
		)
		return t.addForks(pos, offset, size, w)
	}
	switch offset {
	case 0:
		return prunedLabelAt(0)
	case size:
		return prunedLabelAt(size - 1)
	default:
		return mustMerge(prunedLabelAt(offset-1), prunedLabelAt(offset))
	}
}

// addForks wraps [sub], the witness of the [offset]-th of [size] labeled
// siblings, into the forks above it, pruning every other branch.
//
// Forks are built by pairing siblings from left to right, so if
// size = 2^k1 + 2^k2 + ... + 2^km with k1 > k2 > ... > km, the forks form
// full binary trees with 2^k1, 2^k2, ..., 2^km leaves, nested to the right.
// The path to a sibling follows directly:
//   - a full tree of size 2^k splits in two halves of 2^(k-1);
//   - otherwise the left branch is the full tree of the highest bit of size.
func (t *HashTree) addForks(pos NodeID, offset, size int, sub *MixedHashTree) *MixedHashTree {
	if pos.Kind() != ForkNode {
		return sub
	}

	var split int
	if size&(size-1) == 0 {
		split = size / 2
	} else {
		split = 1 << (bits.Len(uint(size)) - 1)
	}

	left, right := t.fork(pos)
	if offset < split {
		return ForkWitness(
			t.addForks(left, offset, split, sub),
			PrunedWitness(t.digest(right)),
		)
	}
	return ForkWitness(
		PrunedWitness(t.digest(left)),
		t.addForks(right, offset-split, size-split, sub),
	)
}
