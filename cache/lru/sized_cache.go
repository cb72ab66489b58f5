// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lru

import (
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/ava-labs/replicastate/cache"
)

var _ cache.Cacher[struct{}, any] = (*SizedCache[struct{}, any])(nil)

// SizedCache is a key value store with bounded size. If the size is attempted
// to be exceeded, then elements are removed from the cache until the bound is
// honored, based on evicting the least recently used value.
type SizedCache[K comparable, V any] struct {
	lock        sync.Mutex
	elements    *simplelru.LRU[K, V]
	maxSize     int
	currentSize int
	size        func(K, V) int
}

func NewSizedCache[K comparable, V any](maxSize int, size func(K, V) int) *SizedCache[K, V] {
	c := &SizedCache[K, V]{
		maxSize: maxSize,
		size:    size,
	}
	c.elements = newElements[K, V]()
	return c
}

// the element count is bounded by size only
func newElements[K comparable, V any]() *simplelru.LRU[K, V] {
	elements, err := simplelru.NewLRU[K, V](math.MaxInt32, nil)
	if err != nil {
		panic(err)
	}
	return elements
}

func (c *SizedCache[K, V]) Put(key K, value V) {
	c.lock.Lock()
	defer c.lock.Unlock()

	newEntrySize := c.size(key, value)
	if newEntrySize > c.maxSize {
		c.flush()
		return
	}

	if oldValue, ok := c.elements.Peek(key); ok {
		c.elements.Remove(key)
		c.currentSize -= c.size(key, oldValue)
	}

	// Remove elements until the size of elements in the cache <= [c.maxSize].
	for c.currentSize > c.maxSize-newEntrySize {
		oldestKey, oldestValue, ok := c.elements.RemoveOldest()
		if !ok {
			break
		}
		c.currentSize -= c.size(oldestKey, oldestValue)
	}

	c.elements.Add(key, value)
	c.currentSize += newEntrySize
}

func (c *SizedCache[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	// Get marks [key] as MRU.
	return c.elements.Get(key)
}

func (c *SizedCache[K, V]) Evict(key K) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if value, ok := c.elements.Peek(key); ok {
		c.elements.Remove(key)
		c.currentSize -= c.size(key, value)
	}
}

func (c *SizedCache[_, _]) Flush() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.flush()
}

func (c *SizedCache[_, _]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.elements.Len()
}

func (c *SizedCache[_, _]) PortionFilled() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return float64(c.currentSize) / float64(c.maxSize)
}

func (c *SizedCache[_, _]) flush() {
	c.elements.Purge()
	c.currentSize = 0
}
