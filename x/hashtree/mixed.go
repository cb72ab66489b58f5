// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hashtree

import (
	"bytes"
	"errors"
	"fmt"
)

var errInconsistentWitness = errors.New("cannot merge witnesses of different trees")

type MixedKind byte

const (
	EmptyKind MixedKind = iota
	ForkKind
	LabeledKind
	LeafKind
	PrunedKind
)

func (k MixedKind) String() string {
	switch k {
	case EmptyKind:
		return "empty"
	case ForkKind:
		return "fork"
	case LabeledKind:
		return "labeled"
	case LeafKind:
		return "leaf"
	case PrunedKind:
		return "pruned"
	default:
		return "unknown"
	}
}

// MixedHashTree is a witness: a hash tree where some subtrees are revealed
// and the others are replaced by their digest.
type MixedHashTree struct {
	Kind MixedKind

	// Left and Right are set for forks.
	Left, Right *MixedHashTree
	// Label and Child are set for labeled nodes.
	Label Label
	Child *MixedHashTree
	// Data is set for leaves.
	Data []byte
	// Pruned is set for pruned subtrees.
	Pruned Digest
}

func EmptyWitness() *MixedHashTree {
	return &MixedHashTree{Kind: EmptyKind}
}

func ForkWitness(left, right *MixedHashTree) *MixedHashTree {
	return &MixedHashTree{
		Kind:  ForkKind,
		Left:  left,
		Right: right,
	}
}

func LabeledWitness(label Label, child *MixedHashTree) *MixedHashTree {
	return &MixedHashTree{
		Kind:  LabeledKind,
		Label: label,
		Child: child,
	}
}

func LeafWitness(data []byte) *MixedHashTree {
	return &MixedHashTree{
		Kind: LeafKind,
		Data: data,
	}
}

func PrunedWitness(digest Digest) *MixedHashTree {
	return &MixedHashTree{
		Kind:   PrunedKind,
		Pruned: digest,
	}
}

// Digest recomputes the root hash of the witness.
func (t *MixedHashTree) Digest() Digest {
	switch t.Kind {
	case EmptyKind:
		return EmptyHash
	case ForkKind:
		return forkHash(t.Left.Digest(), t.Right.Digest())
	case LabeledKind:
		return labeledHash(t.Label, t.Child.Digest())
	case LeafKind:
		return leafHash(t.Data)
	default:
		return t.Pruned
	}
}

// merge combines two witnesses of the same tree. A pruned subtree is
// replaced by whatever the other witness reveals at the same position.
func merge(a, b *MixedHashTree) (*MixedHashTree, error) {
	switch {
	case a.Kind == PrunedKind:
		return b, nil
	case b.Kind == PrunedKind:
		return a, nil
	case a.Kind != b.Kind:
		return nil, fmt.Errorf("%w: %s vs %s", errInconsistentWitness, a.Kind, b.Kind)
	}

	switch a.Kind {
	case ForkKind:
		left, err := merge(a.Left, b.Left)
		if err != nil {
			return nil, err
		}
		right, err := merge(a.Right, b.Right)
		if err != nil {
			return nil, err
		}
		return ForkWitness(left, right), nil
	case LabeledKind:
		if !bytes.Equal(a.Label, b.Label) {
			return nil, fmt.Errorf("%w: label %s vs %s", errInconsistentWitness, a.Label, b.Label)
		}
		child, err := merge(a.Child, b.Child)
		if err != nil {
			return nil, err
		}
		return LabeledWitness(a.Label, child), nil
	case LeafKind:
		if !bytes.Equal(a.Data, b.Data) {
			return nil, fmt.Errorf("%w: leaf contents differ", errInconsistentWitness)
		}
		return a, nil
	default:
		return a, nil
	}
}

func mustMerge(a, b *MixedHashTree) *MixedHashTree {
	t, err := merge(a, b)
	if err != nil {
		panic(err)
	}
	return t
}

type LookupStatus byte

const (
	// Unknown means the witness doesn't prove either presence or absence.
	Unknown LookupStatus = iota
	Absent
	Found
)

func (s LookupStatus) String() string {
	switch s {
	case Absent:
		return "absent"
	case Found:
		return "found"
	default:
		return "unknown"
	}
}

// search results of a single label within the children of a node
type searchResult byte

const (
	searchUnknown searchResult = iota
	searchAbsent
	searchFound
	// every label revealed in the subtree is smaller than the target
	searchLess
	// every label revealed in the subtree is larger than the target
	searchGreater
)

// Lookup resolves [path] in the witness. If the path is found, the subtree it
// leads to is returned.
func (t *MixedHashTree) Lookup(path ...Label) (LookupStatus, *MixedHashTree) {
	current := t
	for _, label := range path {
		result, child := findLabel(current, label)
		switch result {
		case searchFound:
			current = child
		case searchUnknown:
			return Unknown, nil
		default:
			return Absent, nil
		}
	}
	if current.Kind == PrunedKind {
		return Unknown, nil
	}
	return Found, current
}

func findLabel(t *MixedHashTree, label Label) (searchResult, *MixedHashTree) {
	switch t.Kind {
	case LabeledKind:
		switch c := bytes.Compare(t.Label, label); {
		case c == 0:
			return searchFound, t.Child
		case c < 0:
			return searchLess, nil
		default:
			return searchGreater, nil
		}
	case ForkKind:
		left, child := findLabel(t.Left, label)
		switch left {
		case searchFound, searchAbsent, searchGreater:
			return left, child
		}
		right, child := findLabel(t.Right, label)
		switch right {
		case searchFound, searchAbsent, searchLess:
			return right, child
		case searchGreater:
			if left == searchLess {
				return searchAbsent, nil
			}
			return searchUnknown, nil
		default:
			return searchUnknown, nil
		}
	case PrunedKind:
		return searchUnknown, nil
	default:
		return searchAbsent, nil
	}
}
