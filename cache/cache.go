// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cache

// Cacher is a bounded, best effort key value store. Callers must tolerate
// any entry disappearing between a Put and a later Get.
type Cacher[K comparable, V any] interface {
	Put(key K, value V)
	Get(key K) (V, bool)
	Evict(key K)
	Flush()

	// Len is the number of cached entries.
	Len() int
	// PortionFilled is the fraction of capacity in use, in [0, 1].
	PortionFilled() float64
}
