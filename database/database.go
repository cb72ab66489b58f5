// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package database defines the key-value store used to stage state sync
// chunks, and the backends implementing it.
package database

import "io"

type KeyValueReader interface {
	// Has returns true if the key is set in the database.
	Has(key []byte) (bool, error)

	// Get returns the value the key maps to in the database. Returns
	// ErrNotFound if the key isn't set.
	//
	// The returned slice is safe to modify.
	Get(key []byte) ([]byte, error)
}

type KeyValueWriter interface {
	// Put inserts the given value into the database. [key] and [value] are
	// safe to modify after this call returns.
	Put(key []byte, value []byte) error
}

type KeyValueDeleter interface {
	Delete(key []byte) error
}

type KeyValueWriterDeleter interface {
	KeyValueWriter
	KeyValueDeleter
}

// Batch is a write-only database that commits changes to its host database
// when Write is called.
type Batch interface {
	KeyValueWriterDeleter

	// Size retrieves the amount of data queued up for writing, this includes
	// the keys, values, and deleted keys.
	Size() int

	// Write flushes any accumulated data to disk.
	Write() error

	// Reset resets the batch for reuse.
	Reset()
}

type Batcher interface {
	NewBatch() Batch
}

// Iterator iterates over a database's key/value pairs in ascending key order.
//
// When it encounters an error any seek will return false and will yield no
// key/value pairs. The error can be queried by calling the Error method.
type Iterator interface {
	Next() bool
	Error() error

	// Key returns the key of the current key/value pair, or nil if done.
	Key() []byte

	// Value returns the value of the current key/value pair, or nil if done.
	Value() []byte

	// Release releases associated resources. Release should always succeed
	// and can be called multiple times without causing error.
	Release()
}

type Iteratee interface {
	NewIterator() Iterator

	// NewIteratorWithPrefix creates an iterator over the keys that start
	// with [prefix].
	NewIteratorWithPrefix(prefix []byte) Iterator
}

// Database stores the chunks of aborted state syncs. Implementations must be
// safe for concurrent use.
type Database interface {
	KeyValueReader
	KeyValueWriterDeleter
	Batcher
	Iteratee
	io.Closer
}
