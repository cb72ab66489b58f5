// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pebble

import (
	"errors"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/ava-labs/replicastate/database"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/utils/units"
)

const (
	// Name is the name of this database for database switches
	Name = "pebble"

	// Constant overhead added to a batch size per operation.
	batchOpOverhead = 8

	numLevels      = 7
	blockSize      = 64 * units.KiB
	indexBlockSize = 256 * units.KiB
	filterPolicy   = bloom.FilterPolicy(10)
)

var (
	_ database.Database = (*Database)(nil)
	_ database.Batch    = (*batch)(nil)
	_ database.Iterator = (*iter)(nil)

	// Chunks are written once and looked up by hash, so the memtable is
	// sized to hold a few chunks and reads rely on the bloom filters.
	DefaultConfig = Config{
		CacheSize:                   32 * units.MiB,
		BytesPerSync:                units.MiB,
		WALBytesPerSync:             units.MiB,
		MemTableStopWritesThreshold: 8,
		MemTableSize:                16 * units.MiB,
		MaxOpenFiles:                units.KiB,
	}
)

type Config struct {
	CacheSize                   int // Byte
	BytesPerSync                int // Byte
	WALBytesPerSync             int // Byte (0 disables)
	MemTableStopWritesThreshold int // num tables
	MemTableSize                int // Byte
	MaxOpenFiles                int
}

type Database struct {
	pebbleDB *pebble.DB
	// pebble panics on use after close
	closed atomic.Bool
}

func New(file string, cfg Config, log logging.Logger) (*Database, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(int64(cfg.CacheSize)),
		BytesPerSync: cfg.BytesPerSync,
		// Writes use pebble.NoSync but the WAL stays enabled so that a clean
		// shutdown leaves a recoverable database.
		WALBytesPerSync:             cfg.WALBytesPerSync,
		MemTableStopWritesThreshold: cfg.MemTableStopWritesThreshold,
		MemTableSize:                cfg.MemTableSize,
		MaxOpenFiles:                cfg.MaxOpenFiles,
		MaxConcurrentCompactions:    runtime.NumCPU,
		Levels:                      make([]pebble.LevelOptions, numLevels),
	}
	for i := range opts.Levels {
		l := &opts.Levels[i]
		l.BlockSize = blockSize
		l.IndexBlockSize = indexBlockSize
		l.FilterPolicy = filterPolicy
		l.FilterType = pebble.TableFilter
		if i > 0 {
			l.TargetFileSize = opts.Levels[i-1].TargetFileSize * 2
		}
	}
	// keys are random hashes so seek compactions never pay off
	opts.Experimental.ReadSamplingMultiplier = -1

	log.Info("opening pebble",
		zap.String("path", file),
		zap.Int("cacheSize", cfg.CacheSize),
	)
	db, err := pebble.Open(file, opts)
	if err != nil {
		return nil, err
	}
	return &Database{pebbleDB: db}, nil
}

func (db *Database) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return database.ErrClosed
	}

	err := updateError(db.pebbleDB.Close())
	if err != nil && strings.Contains(err.Error(), "leaked iterator") {
		// an unreleased iterator only leaks memory of a closed database
		return nil
	}
	return err
}

func (db *Database) Has(key []byte) (bool, error) {
	if db.closed.Load() {
		return false, database.ErrClosed
	}

	_, closer, err := db.pebbleDB.Get(key)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		return false, nil
	case err != nil:
		return false, updateError(err)
	default:
		return true, closer.Close()
	}
}

func (db *Database) Get(key []byte) ([]byte, error) {
	if db.closed.Load() {
		return nil, database.ErrClosed
	}

	data, closer, err := db.pebbleDB.Get(key)
	if err != nil {
		return nil, updateError(err)
	}
	value := slices.Clone(data)
	return value, closer.Close()
}

func (db *Database) Put(key []byte, value []byte) error {
	if db.closed.Load() {
		return database.ErrClosed
	}
	return updateError(db.pebbleDB.Set(key, value, pebble.NoSync))
}

func (db *Database) Delete(key []byte) error {
	if db.closed.Load() {
		return database.ErrClosed
	}
	return updateError(db.pebbleDB.Delete(key, pebble.NoSync))
}

type batch struct {
	db    *Database
	batch *pebble.Batch
	size  int
	// pebble panics when a batch is committed twice
	committed bool
}

func (db *Database) NewBatch() database.Batch {
	return &batch{
		db:    db,
		batch: db.pebbleDB.NewBatch(),
	}
}

func (b *batch) Put(key, value []byte) error {
	b.size += len(key) + len(value) + batchOpOverhead
	return b.batch.Set(key, value, pebble.NoSync)
}

func (b *batch) Delete(key []byte) error {
	b.size += len(key) + batchOpOverhead
	return b.batch.Delete(key, pebble.NoSync)
}

func (b *batch) Size() int {
	return b.size
}

func (b *batch) Write() error {
	if b.db.closed.Load() {
		return database.ErrClosed
	}
	if !b.committed {
		b.committed = true
		return updateError(b.batch.Commit(pebble.NoSync))
	}

	// Writing the batch again commits a copy of it.
	replay := b.db.pebbleDB.NewBatch()
	if err := replay.Apply(b.batch, nil); err != nil {
		return err
	}
	return updateError(replay.Commit(pebble.NoSync))
}

func (b *batch) Reset() {
	b.batch.Reset()
	b.size = 0
	b.committed = false
}

type iter struct {
	db      *Database
	iter    *pebble.Iterator
	started bool

	valid    bool
	released bool
	err      error
}

// prefixBounds returns the bounds of the keys starting with [prefix]. A nil
// upper bound means the end of the key space.
func prefixBounds(prefix []byte) *pebble.IterOptions {
	opts := &pebble.IterOptions{LowerBound: prefix}
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] < 0xff {
			upper := slices.Clone(prefix[:i+1])
			upper[i]++
			opts.UpperBound = upper
			break
		}
	}
	return opts
}

func (db *Database) NewIterator() database.Iterator {
	return db.NewIteratorWithPrefix(nil)
}

func (db *Database) NewIteratorWithPrefix(prefix []byte) database.Iterator {
	if db.closed.Load() {
		return &database.IteratorError{Err: database.ErrClosed}
	}
	return &iter{
		db:   db,
		iter: db.pebbleDB.NewIter(prefixBounds(prefix)),
	}
}

func (it *iter) Next() bool {
	if it.db.closed.Load() || it.released {
		it.valid = false
		it.err = database.ErrClosed
		return false
	}

	if it.started {
		it.valid = it.iter.Next()
	} else {
		it.started = true
		it.valid = it.iter.First()
	}
	return it.valid
}

func (it *iter) Error() error {
	if it.err != nil || it.released {
		return it.err
	}
	return updateError(it.iter.Error())
}

func (it *iter) Key() []byte {
	if !it.valid {
		return nil
	}
	return slices.Clone(it.iter.Key())
}

func (it *iter) Value() []byte {
	if !it.valid {
		return nil
	}
	return slices.Clone(it.iter.Value())
}

func (it *iter) Release() {
	if it.released || it.db.closed.Load() {
		return
	}
	it.released = true
	_ = it.iter.Close()
}

// updateError maps pebble errors to the database package errors.
func updateError(err error) error {
	switch {
	case errors.Is(err, pebble.ErrClosed):
		return database.ErrClosed
	case errors.Is(err, pebble.ErrNotFound):
		return database.ErrNotFound
	default:
		return err
	}
}
