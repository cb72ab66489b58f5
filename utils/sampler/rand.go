// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sampler

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mathext/prng"
)

// Sampling decisions here pick peers and spot-check reused chunks. None of
// them need a cryptographic source.
var globalRNG = newRNG()

// Source is satisfied by the gonum generators.
type Source interface {
	Seed(seed uint64)
	Uint64() uint64
}

type rng struct {
	lock sync.Mutex
	src  Source
}

func newRNG() *rng {
	src := prng.NewMT19937()
	src.Seed(uint64(time.Now().UnixNano()))
	return &rng{src: src}
}

func (r *rng) Seed(seed uint64) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.src.Seed(seed)
}

func (r *rng) uint64() uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.src.Uint64()
}

// Uint64Inclusive returns a uniformly distributed number in [0, n].
func (r *rng) Uint64Inclusive(n uint64) uint64 {
	if n == math.MaxUint64 {
		return r.uint64()
	}
	bound := n + 1
	if bound&n == 0 {
		return r.uint64() & n
	}

	// Reject the top (2^64 mod bound) values so every residue is equally
	// likely.
	limit := math.MaxUint64 - (math.MaxUint64%bound+1)%bound
	for {
		if v := r.uint64(); v <= limit {
			return v % bound
		}
	}
}

const chanceResolution = 1 << 20

// Chance returns true with probability [p]. Values of [p] outside of (0, 1)
// are clamped, so Chance(0) is always false and Chance(1) is always true.
func Chance(p float64) bool {
	return globalRNG.chance(p)
}

func (r *rng) chance(p float64) bool {
	switch {
	case p <= 0:
		return false
	case p >= 1:
		return true
	default:
		return r.Uint64Inclusive(chanceResolution-1) < uint64(p*chanceResolution)
	}
}
