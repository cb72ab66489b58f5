// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ava-labs/replicastate/x/manifest"
)

const PageSize = manifest.PageSize

type page [PageSize]byte

var zeroPage page

// PageMap is a sparse, page granular byte array. Pages are shared between
// clones and copied on the first write.
type PageMap struct {
	numPages uint64
	pages    map[uint64]*page
	// pages allocated by this map since it was cloned, which can be written
	// in place
	owned map[uint64]struct{}
	// pages written since the last checkpoint
	dirty map[uint64]struct{}
}

func newPageMap() *PageMap {
	return &PageMap{
		pages: make(map[uint64]*page),
		owned: make(map[uint64]struct{}),
		dirty: make(map[uint64]struct{}),
	}
}

func (m *PageMap) clone() *PageMap {
	return &PageMap{
		numPages: m.numPages,
		pages:    maps.Clone(m.pages),
		owned:    make(map[uint64]struct{}),
		dirty:    maps.Clone(m.dirty),
	}
}

// NumPages is the number of pages up to the last one ever written.
func (m *PageMap) NumPages() uint64 {
	return m.numPages
}

// Size is the size of the map in bytes.
func (m *PageMap) Size() uint64 {
	return m.numPages * PageSize
}

// Page returns the contents of page [index]. The returned slice must not be
// modified.
func (m *PageMap) Page(index uint64) []byte {
	if p, ok := m.pages[index]; ok {
		return p[:]
	}
	return zeroPage[:]
}

func (m *PageMap) write(offset uint64, data []byte) {
	for len(data) > 0 {
		index := offset / PageSize
		inPage := offset % PageSize
		n := copy(m.writablePage(index)[inPage:], data)
		data = data[n:]
		offset += uint64(n)
	}
}

func (m *PageMap) read(offset uint64, buf []byte) {
	for len(buf) > 0 {
		index := offset / PageSize
		inPage := offset % PageSize
		n := copy(buf, m.Page(index)[inPage:])
		buf = buf[n:]
		offset += uint64(n)
	}
}

func (m *PageMap) writablePage(index uint64) []byte {
	m.dirty[index] = struct{}{}
	if index >= m.numPages {
		m.numPages = index + 1
	}
	if _, ok := m.owned[index]; ok {
		return m.pages[index][:]
	}

	p := new(page)
	if old, ok := m.pages[index]; ok {
		*p = *old
	}
	m.pages[index] = p
	m.owned[index] = struct{}{}
	return p[:]
}

// dirtyPages returns the sorted indices of the pages written since the last
// checkpoint.
func (m *PageMap) dirtyPages() []uint64 {
	indices := maps.Keys(m.dirty)
	slices.Sort(indices)
	return indices
}

// populatedPages returns the sorted indices of the pages that aren't known
// to be zero.
func (m *PageMap) populatedPages() []uint64 {
	indices := maps.Keys(m.pages)
	slices.Sort(indices)
	return indices
}
