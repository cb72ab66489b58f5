// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hashtree

import (
	"bytes"

	"golang.org/x/exp/slices"
)

// LabeledTree is a materialized tree. It is used both to select paths of a
// lazy tree and to hold the values read along those paths.
type LabeledTree struct {
	leaf  bool
	Value []byte
	// Children is sorted by label. Only meaningful if the tree isn't a leaf.
	Children []LabeledChild
}

type LabeledChild struct {
	Label Label
	Tree  *LabeledTree
}

func Leaf(value []byte) *LabeledTree {
	return &LabeledTree{
		leaf:  true,
		Value: value,
	}
}

// SubTree returns a tree with the provided children, sorted by label.
func SubTree(children ...LabeledChild) *LabeledTree {
	sorted := slices.Clone(children)
	slices.SortFunc(sorted, func(a, b LabeledChild) bool {
		return bytes.Compare(a.Label, b.Label) < 0
	})
	return &LabeledTree{Children: sorted}
}

func (t *LabeledTree) IsLeaf() bool {
	return t.leaf
}

// Child returns the subtree under [label], if any.
func (t *LabeledTree) Child(label Label) (*LabeledTree, bool) {
	if t.leaf {
		return nil, false
	}
	i, found := slices.BinarySearchFunc(t.Children, label, func(c LabeledChild, l Label) int {
		return bytes.Compare(c.Label, l)
	})
	if !found {
		return nil, false
	}
	return t.Children[i].Tree, true
}

// Paths builds the selection that contains every one of [paths]. Each path
// ends with a leaf, which selects everything below it.
func Paths(paths ...[]Label) *LabeledTree {
	root := &LabeledTree{}
	for _, path := range paths {
		root.addPath(path)
	}
	return root
}

func (t *LabeledTree) addPath(path []Label) {
	if len(path) == 0 || t.leaf {
		return
	}
	label := path[0]
	i, found := slices.BinarySearchFunc(t.Children, label, func(c LabeledChild, l Label) int {
		return bytes.Compare(c.Label, l)
	})
	if found && len(path) == 1 {
		t.Children[i].Tree = Leaf(nil)
		return
	}
	if !found {
		var child *LabeledTree
		if len(path) == 1 {
			child = Leaf(nil)
		} else {
			child = &LabeledTree{}
		}
		t.Children = slices.Insert(t.Children, i, LabeledChild{
			Label: label,
			Tree:  child,
		})
	}
	t.Children[i].Tree.addPath(path[1:])
}
