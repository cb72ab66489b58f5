// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package memdb

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"golang.org/x/exp/slices"

	"github.com/ava-labs/replicastate/database"
)

const (
	// Name is the name of this database for database switches
	Name = "memdb"

	degree = 16
)

var (
	_ database.Database = (*Database)(nil)
	_ database.Batch    = (*batch)(nil)
	_ database.Iterator = (*iterator)(nil)
)

type entry struct {
	key   []byte
	value []byte
}

func entryLess(a, b entry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Database is an ephemeral, ordered key-value store.
type Database struct {
	lock sync.RWMutex
	// nil once closed
	entries *btree.BTreeG[entry]
}

func New() *Database {
	return &Database{
		entries: btree.NewG(degree, entryLess),
	}
}

// Copy returns a Database with the same key-value pairs as [db].
func Copy(db *Database) (*Database, error) {
	// Cloning marks the tree as shared so it needs the write lock.
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.entries == nil {
		return nil, database.ErrClosed
	}
	// Values are never modified in place so the copy may share them.
	return &Database{entries: db.entries.Clone()}, nil
}

func (db *Database) Close() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.entries == nil {
		return database.ErrClosed
	}
	db.entries = nil
	return nil
}

func (db *Database) Has(key []byte) (bool, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if db.entries == nil {
		return false, database.ErrClosed
	}
	return db.entries.Has(entry{key: key}), nil
}

func (db *Database) Get(key []byte) ([]byte, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if db.entries == nil {
		return nil, database.ErrClosed
	}
	e, ok := db.entries.Get(entry{key: key})
	if !ok {
		return nil, database.ErrNotFound
	}
	return slices.Clone(e.value), nil
}

func (db *Database) Put(key []byte, value []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	return db.put(key, value)
}

// Assumes [db.lock] is held.
func (db *Database) put(key []byte, value []byte) error {
	if db.entries == nil {
		return database.ErrClosed
	}
	db.entries.ReplaceOrInsert(entry{
		key:   slices.Clone(key),
		value: slices.Clone(value),
	})
	return nil
}

func (db *Database) Delete(key []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	return db.delete(key)
}

// Assumes [db.lock] is held.
func (db *Database) delete(key []byte) error {
	if db.entries == nil {
		return database.ErrClosed
	}
	db.entries.Delete(entry{key: key})
	return nil
}

func (db *Database) NewBatch() database.Batch {
	return &batch{db: db}
}

func (db *Database) NewIterator() database.Iterator {
	return db.NewIteratorWithPrefix(nil)
}

// NewIteratorWithPrefix returns an iterator over a snapshot of the keys
// starting with [prefix]. Later writes aren't visible to the iterator.
func (db *Database) NewIteratorWithPrefix(prefix []byte) database.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if db.entries == nil {
		return &database.IteratorError{Err: database.ErrClosed}
	}

	var entries []entry
	db.entries.AscendGreaterOrEqual(entry{key: prefix}, func(e entry) bool {
		if !bytes.HasPrefix(e.key, prefix) {
			return false
		}
		entries = append(entries, e)
		return true
	})
	return &iterator{
		db:      db,
		entries: entries,
	}
}

// batch applies its operations while holding the database lock so that
// they are atomic.
type batch struct {
	database.BatchOps

	db *Database
}

func (b *batch) Write() error {
	b.db.lock.Lock()
	defer b.db.lock.Unlock()

	if b.db.entries == nil {
		return database.ErrClosed
	}
	return b.Replay(lockedWriter{db: b.db})
}

// lockedWriter writes to a database whose lock is already held.
type lockedWriter struct {
	db *Database
}

func (w lockedWriter) Put(key, value []byte) error {
	return w.db.put(key, value)
}

func (w lockedWriter) Delete(key []byte) error {
	return w.db.delete(key)
}

type iterator struct {
	db          *Database
	initialized bool
	entries     []entry
	err         error
}

func (it *iterator) Next() bool {
	// Short-circuit and set an error if the underlying database has been
	// closed.
	it.db.lock.RLock()
	closed := it.db.entries == nil
	it.db.lock.RUnlock()
	if closed {
		it.entries = nil
		it.err = database.ErrClosed
		return false
	}

	if !it.initialized {
		it.initialized = true
		return len(it.entries) > 0
	}
	if len(it.entries) > 0 {
		it.entries = it.entries[1:]
	}
	return len(it.entries) > 0
}

func (it *iterator) Error() error {
	return it.err
}

func (it *iterator) Key() []byte {
	if len(it.entries) == 0 || !it.initialized {
		return nil
	}
	return it.entries[0].key
}

func (it *iterator) Value() []byte {
	if len(it.entries) == 0 || !it.initialized {
		return nil
	}
	return it.entries[0].value
}

func (it *iterator) Release() {
	it.entries = nil
}
