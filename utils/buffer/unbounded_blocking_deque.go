// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package buffer

import "sync"

const defaultInitSize = 16

// UnboundedBlockingDeque is a thread-safe FIFO-capable deque with unbounded
// growth. Pops block until an element is available or the deque is closed.
type UnboundedBlockingDeque[T any] struct {
	lock   sync.Mutex
	cond   *sync.Cond
	closed bool

	// ring buffer; [left] is the index of the leftmost element
	data []T
	left int
	size int
}

// NewUnboundedBlockingDeque returns a new unbounded deque with the given
// initial size. Note that the returned deque is always empty -- [initSize]
// is just a hint to prevent unnecessary resizing.
func NewUnboundedBlockingDeque[T any](initSize int) *UnboundedBlockingDeque[T] {
	if initSize < 1 {
		initSize = defaultInitSize
	}
	q := &UnboundedBlockingDeque[T]{
		data: make([]T, initSize),
	}
	q.cond = sync.NewCond(&q.lock)
	return q
}

// PushRight appends [elt]. If the deque is closed returns false.
func (q *UnboundedBlockingDeque[T]) PushRight(elt T) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return false
	}
	q.grow()
	q.data[(q.left+q.size)%len(q.data)] = elt
	q.size++
	q.cond.Signal()
	return true
}

// PushLeft prepends [elt]. If the deque is closed returns false.
func (q *UnboundedBlockingDeque[T]) PushLeft(elt T) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return false
	}
	q.grow()
	q.left = (q.left - 1 + len(q.data)) % len(q.data)
	q.data[q.left] = elt
	q.size++
	q.cond.Signal()
	return true
}

// PopLeft blocks until the leftmost element can be removed. If the deque is
// closed returns false.
func (q *UnboundedBlockingDeque[T]) PopLeft() (T, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	for {
		if q.closed {
			var zero T
			return zero, false
		}
		if q.size != 0 {
			var zero T
			elt := q.data[q.left]
			q.data[q.left] = zero
			q.left = (q.left + 1) % len(q.data)
			q.size--
			return elt, true
		}
		q.cond.Wait()
	}
}

func (q *UnboundedBlockingDeque[T]) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return 0
	}
	return q.size
}

// Close empties the deque and wakes up every blocked caller.
func (q *UnboundedBlockingDeque[T]) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return
	}
	q.data = nil
	q.size = 0
	q.closed = true
	q.cond.Broadcast()
}

// Assumes [q.lock] is held.
func (q *UnboundedBlockingDeque[T]) grow() {
	if q.size < len(q.data) {
		return
	}
	newData := make([]T, 2*len(q.data))
	for i := 0; i < q.size; i++ {
		newData[i] = q.data[(q.left+i)%len(q.data)]
	}
	q.data = newData
	q.left = 0
}
