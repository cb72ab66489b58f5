// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/binary"

	"golang.org/x/exp/slices"

	"github.com/ava-labs/replicastate/x/hashtree"
)

// Labels of the certified tree.
var (
	attributesLabel    = hashtree.Label("attributes")
	metadataLabel      = hashtree.Label("metadata")
	partitionsLabel    = hashtree.Label("partitions")
	prevStateHashLabel = hashtree.Label("prev_state_hash")
	pagesLabel         = hashtree.Label("pages")
	sizeLabel          = hashtree.Label("size")
)

// PageLabel is the label of page [index] of a partition. Labels sort in page
// order.
func PageLabel(index uint64) hashtree.Label {
	return binary.BigEndian.AppendUint64(nil, index)
}

// LazyTree returns the view of [s] that is hashed and certified:
//
//	/attributes/<key>                -> value
//	/metadata/prev_state_hash        -> hash, if known
//	/partitions/<name>/size          -> number of pages, big endian
//	/partitions/<name>/pages/<index> -> page contents, non zero pages only
//
// [s] must not be written while the view is in use.
func (s *ReplicatedState) LazyTree() hashtree.LazyTree {
	attributes := make(map[string]hashtree.LazyTree, len(s.attributes))
	for key, value := range s.attributes {
		attributes[key] = hashtree.Blob(value)
	}

	metadata := make(map[string]hashtree.LazyTree, 1)
	if s.hasPrevStateHash {
		metadata[string(prevStateHashLabel)] = hashtree.Blob(s.prevStateHash[:])
	}

	partitions := make(map[string]hashtree.LazyTree, len(s.partitions))
	for name, pm := range s.partitions {
		partitions[name] = hashtree.LazyFork(hashtree.NewMapFork(map[string]hashtree.LazyTree{
			string(sizeLabel):  hashtree.Blob(binary.BigEndian.AppendUint64(nil, pm.numPages)),
			string(pagesLabel): hashtree.LazyFork(newPagesFork(pm)),
		}))
	}

	return hashtree.LazyFork(hashtree.NewMapFork(map[string]hashtree.LazyTree{
		string(attributesLabel): hashtree.LazyFork(hashtree.NewMapFork(attributes)),
		string(metadataLabel):   hashtree.LazyFork(hashtree.NewMapFork(metadata)),
		string(partitionsLabel): hashtree.LazyFork(hashtree.NewMapFork(partitions)),
	}))
}

// pagesFork exposes the non zero pages of a page map without copying them.
// Zero pages are left out so that a state reloaded from a checkpoint, where
// they can't be told apart from missing pages, hashes the same.
type pagesFork struct {
	pm      *PageMap
	indices []uint64
}

func newPagesFork(pm *PageMap) *pagesFork {
	populated := pm.populatedPages()
	indices := populated[:0]
	for _, index := range populated {
		if *pm.pages[index] != zeroPage {
			indices = append(indices, index)
		}
	}
	return &pagesFork{
		pm:      pm,
		indices: indices,
	}
}

func (f *pagesFork) Len() int {
	return len(f.indices)
}

func (f *pagesFork) Labels() []hashtree.Label {
	labels := make([]hashtree.Label, len(f.indices))
	for i, index := range f.indices {
		labels[i] = PageLabel(index)
	}
	return labels
}

func (f *pagesFork) Edge(label hashtree.Label) (hashtree.LazyTree, bool) {
	if len(label) != 8 {
		return hashtree.LazyTree{}, false
	}
	index := binary.BigEndian.Uint64(label)
	if _, found := slices.BinarySearch(f.indices, index); !found {
		return hashtree.LazyTree{}, false
	}
	return f.page(index), true
}

func (f *pagesFork) Children() []hashtree.LazyChild {
	children := make([]hashtree.LazyChild, len(f.indices))
	for i, index := range f.indices {
		children[i] = hashtree.LazyChild{
			Label: PageLabel(index),
			Tree:  f.page(index),
		}
	}
	return children
}

func (f *pagesFork) page(index uint64) hashtree.LazyTree {
	return hashtree.LazyBlob(func() []byte {
		return f.pm.Page(index)
	})
}
