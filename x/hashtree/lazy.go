// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hashtree

import (
	"bytes"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/ava-labs/replicastate/ids"
)

// Label names an edge of a tree. Siblings are ordered by bytes.Compare.
type Label []byte

func (l Label) String() string {
	return fmt.Sprintf("%x", []byte(l))
}

// Fork is the interior of a lazy tree: an ordered set of labeled children.
//
// Implementations must be safe for concurrent reads because large forks are
// hashed by several goroutines at once. Children must be returned in
// ascending label order; they are never re-sorted.
type Fork interface {
	Len() int
	Labels() []Label
	Edge(label Label) (LazyTree, bool)
	Children() []LazyChild
}

type LazyChild struct {
	Label Label
	Tree  LazyTree
}

type lazyKind byte

const (
	blobTree lazyKind = iota
	lazyBlobTree
	forkTree
)

// LazyTree is a view of the state that is only materialized when hashed or
// read. It is one of a blob, a blob produced on demand or a fork.
type LazyTree struct {
	kind   lazyKind
	data   []byte
	digest *Digest
	fn     func() []byte
	fork   Fork
}

// Blob returns a leaf holding [data].
func Blob(data []byte) LazyTree {
	return LazyTree{kind: blobTree, data: data}
}

// BlobWithDigest returns a leaf whose leaf hash is already known. The digest
// is trusted unless the build config asks for it to be checked.
func BlobWithDigest(data []byte, digest ids.ID) LazyTree {
	return LazyTree{kind: blobTree, data: data, digest: &digest}
}

// LazyBlob returns a leaf whose bytes are computed by [fn] when needed.
func LazyBlob(fn func() []byte) LazyTree {
	return LazyTree{kind: lazyBlobTree, fn: fn}
}

// LazyFork returns an interior node backed by [f].
func LazyFork(f Fork) LazyTree {
	return LazyTree{kind: forkTree, fork: f}
}

func (t LazyTree) IsFork() bool {
	return t.kind == forkTree
}

// Fork returns the fork backing [t], or nil if [t] is a leaf.
func (t LazyTree) Fork() Fork {
	return t.fork
}

// Bytes returns the contents of a leaf. Forks have no contents.
func (t LazyTree) Bytes() []byte {
	switch t.kind {
	case blobTree:
		return t.data
	case lazyBlobTree:
		return t.fn()
	default:
		return nil
	}
}

// MapFork is a Fork over an in-memory set of children.
type MapFork struct {
	children []LazyChild
}

// NewMapFork sorts [children] by label and wraps them as a fork.
func NewMapFork(children map[string]LazyTree) *MapFork {
	f := &MapFork{
		children: make([]LazyChild, 0, len(children)),
	}
	for label, tree := range children {
		f.children = append(f.children, LazyChild{
			Label: Label(label),
			Tree:  tree,
		})
	}
	slices.SortFunc(f.children, func(a, b LazyChild) bool {
		return bytes.Compare(a.Label, b.Label) < 0
	})
	return f
}

func (f *MapFork) Len() int {
	return len(f.children)
}

func (f *MapFork) Labels() []Label {
	labels := make([]Label, len(f.children))
	for i, c := range f.children {
		labels[i] = c.Label
	}
	return labels
}

func (f *MapFork) Edge(label Label) (LazyTree, bool) {
	i, found := slices.BinarySearchFunc(f.children, label, func(c LazyChild, l Label) int {
		return bytes.Compare(c.Label, l)
	})
	if !found {
		return LazyTree{}, false
	}
	return f.children[i].Tree, true
}

func (f *MapFork) Children() []LazyChild {
	return f.children
}

// MaterializePartial reads from [t] the values selected by [selection]. A
// leaf in the selection materializes the whole subtree below it. Labels that
// are missing from [t] are kept as empty subtrees, so that a witness of the
// result proves their absence, and are reported by returning false.
func MaterializePartial(t LazyTree, selection *LabeledTree) (*LabeledTree, bool) {
	if selection == nil || selection.IsLeaf() {
		return materialize(t), true
	}
	if !t.IsFork() {
		return Leaf(t.Bytes()), true
	}

	var (
		children = make([]LabeledChild, 0, len(selection.Children))
		complete = true
	)
	for _, c := range selection.Children {
		sub, ok := t.fork.Edge(c.Label)
		if !ok {
			complete = false
			children = append(children, LabeledChild{
				Label: c.Label,
				Tree:  &LabeledTree{},
			})
			continue
		}
		materialized, subComplete := MaterializePartial(sub, c.Tree)
		complete = complete && subComplete
		children = append(children, LabeledChild{
			Label: c.Label,
			Tree:  materialized,
		})
	}
	return &LabeledTree{Children: children}, complete
}

func materialize(t LazyTree) *LabeledTree {
	if !t.IsFork() {
		return Leaf(t.Bytes())
	}
	lazyChildren := t.fork.Children()
	children := make([]LabeledChild, len(lazyChildren))
	for i, c := range lazyChildren {
		children[i] = LabeledChild{
			Label: c.Label,
			Tree:  materialize(c.Tree),
		}
	}
	return &LabeledTree{Children: children}
}
