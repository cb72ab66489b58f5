// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sync

import (
	"time"

	"github.com/google/btree"
)

type priority byte

// Note that [retryPriority] > [lowPriority].
const (
	lowPriority priority = iota + 1
	retryPriority
)

// workItem is a chunk that still has to be fetched from a peer.
type workItem struct {
	index    int
	priority priority
	// number of requests for this chunk that already failed
	attempt int
	// number of responses for this chunk that failed verification
	corruptions int
	queueTime   time.Time
}

func newWorkItem(index int, priority priority, queueTime time.Time) *workItem {
	return &workItem{
		index:     index,
		priority:  priority,
		queueTime: queueTime,
	}
}

// A priority queue of workItems. Items with a higher priority are popped
// first and items of the same priority are popped by increasing chunk index
// so that files are written front to back.
// Not safe for concurrent use.
type workHeap struct {
	items  *btree.BTreeG[*workItem]
	closed bool
}

func newWorkHeap() *workHeap {
	return &workHeap{
		items: btree.NewG(
			2,
			func(a, b *workItem) bool {
				if a.priority != b.priority {
					return a.priority > b.priority
				}
				return a.index < b.index
			},
		),
	}
}

// Marks the heap as closed.
func (wh *workHeap) Close() {
	wh.closed = true
}

// Adds a new [item] into the heap. A chunk is in the heap at most once.
func (wh *workHeap) Insert(item *workItem) {
	if wh.closed {
		return
	}
	wh.items.ReplaceOrInsert(item)
}

// Pops and returns a work item from the heap.
// Returns nil if no work is available or the heap is closed.
func (wh *workHeap) GetWork() *workItem {
	if wh.closed || wh.Len() == 0 {
		return nil
	}
	item, _ := wh.items.DeleteMin()
	return item
}

func (wh *workHeap) Len() int {
	return wh.items.Len()
}
