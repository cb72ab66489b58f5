// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package leveldb

import (
	"errors"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/ava-labs/replicastate/database"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/utils/units"
)

const (
	// Name is the name of this database for database switches
	Name = "leveldb"

	// levelDBByteOverhead is the number of bytes of constant overhead that
	// should be added to a batch size per operation.
	levelDBByteOverhead = 8
)

var (
	_ database.Database = (*Database)(nil)
	_ database.Batch    = (*batch)(nil)
	_ database.Iterator = (*iter)(nil)

	DefaultConfig = Config{
		BlockCacheCapacity:     12 * units.MiB,
		WriteBuffer:            6 * units.MiB,
		OpenFilesCacheCapacity: 64,
		BitsPerKey:             10,
	}
)

type Config struct {
	BlockCacheCapacity     int // Byte
	WriteBuffer            int // Byte
	OpenFilesCacheCapacity int // num files
	BitsPerKey             int // bloom filter bits per key
}

// Database is a persistent key-value store backed by goleveldb.
type Database struct {
	db     *leveldb.DB
	closed atomic.Bool
}

// New returns a wrapped LevelDB object.
func New(file string, cfg Config, log logging.Logger) (*Database, error) {
	db, err := leveldb.OpenFile(file, &opt.Options{
		BlockCacheCapacity:     cfg.BlockCacheCapacity,
		WriteBuffer:            cfg.WriteBuffer,
		OpenFilesCacheCapacity: cfg.OpenFilesCacheCapacity,
		Filter:                 filter.NewBloomFilter(cfg.BitsPerKey),
	})
	if lerrors.IsCorrupted(err) {
		log.Warn("recovering corrupted leveldb",
			zap.String("path", file),
			zap.Error(err),
		)
		db, err = leveldb.RecoverFile(file, nil)
	}
	if err != nil {
		return nil, err
	}
	log.Info("opened leveldb",
		zap.String("path", file),
	)
	return &Database{db: db}, nil
}

func (db *Database) Has(key []byte) (bool, error) {
	has, err := db.db.Has(key, nil)
	return has, updateError(err)
}

func (db *Database) Get(key []byte) ([]byte, error) {
	value, err := db.db.Get(key, nil)
	return value, updateError(err)
}

func (db *Database) Put(key []byte, value []byte) error {
	return updateError(db.db.Put(key, value, nil))
}

func (db *Database) Delete(key []byte) error {
	return updateError(db.db.Delete(key, nil))
}

func (db *Database) NewBatch() database.Batch {
	return &batch{db: db}
}

func (db *Database) NewIterator() database.Iterator {
	return db.newIter(&util.Range{})
}

func (db *Database) NewIteratorWithPrefix(prefix []byte) database.Iterator {
	return db.newIter(util.BytesPrefix(prefix))
}

func (db *Database) newIter(r *util.Range) database.Iterator {
	if db.closed.Load() {
		return &database.IteratorError{
			Err: database.ErrClosed,
		}
	}
	return &iter{
		db:       db,
		Iterator: db.db.NewIterator(r, nil),
	}
}

func (db *Database) Close() error {
	db.closed.Store(true)
	return updateError(db.db.Close())
}

type batch struct {
	leveldb.Batch
	db   *Database
	size int
}

func (b *batch) Put(key, value []byte) error {
	b.Batch.Put(key, value)
	b.size += len(key) + len(value) + levelDBByteOverhead
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.Batch.Delete(key)
	b.size += len(key) + levelDBByteOverhead
	return nil
}

func (b *batch) Size() int {
	return b.size
}

func (b *batch) Write() error {
	return updateError(b.db.db.Write(&b.Batch, nil))
}

func (b *batch) Reset() {
	b.Batch.Reset()
	b.size = 0
}

// iter copies keys and values out of goleveldb's reused buffers.
type iter struct {
	db *Database
	iterator.Iterator

	key, val []byte
	err      error
}

func (it *iter) Next() bool {
	if it.db.closed.Load() {
		it.key = nil
		it.val = nil
		it.err = database.ErrClosed
		return false
	}
	if !it.Iterator.Next() {
		it.key = nil
		it.val = nil
		return false
	}
	it.key = slices.Clone(it.Iterator.Key())
	it.val = slices.Clone(it.Iterator.Value())
	return true
}

func (it *iter) Error() error {
	if it.err != nil {
		return it.err
	}
	return updateError(it.Iterator.Error())
}

func (it *iter) Key() []byte {
	return it.key
}

func (it *iter) Value() []byte {
	return it.val
}

func updateError(err error) error {
	switch {
	case errors.Is(err, leveldb.ErrClosed):
		return database.ErrClosed
	case errors.Is(err, leveldb.ErrNotFound):
		return database.ErrNotFound
	default:
		return err
	}
}
