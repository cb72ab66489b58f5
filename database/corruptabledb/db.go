// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package corruptabledb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ava-labs/replicastate/database"
)

var (
	_ database.Database = (*Database)(nil)
	_ database.Batch    = (*batch)(nil)
)

// Database refuses every operation once the wrapped database returned an
// unexpected error, since the on-disk data may no longer be consistent.
type Database struct {
	database.Database

	lock sync.RWMutex
	// first error other than "not found" or "closed"
	cause error
}

func New(db database.Database) *Database {
	return &Database{Database: db}
}

func (db *Database) Has(key []byte) (bool, error) {
	if err := db.corrupted(); err != nil {
		return false, err
	}
	has, err := db.Database.Has(key)
	return has, db.handleError(err)
}

func (db *Database) Get(key []byte) ([]byte, error) {
	if err := db.corrupted(); err != nil {
		return nil, err
	}
	value, err := db.Database.Get(key)
	return value, db.handleError(err)
}

func (db *Database) Put(key []byte, value []byte) error {
	if err := db.corrupted(); err != nil {
		return err
	}
	return db.handleError(db.Database.Put(key, value))
}

func (db *Database) Delete(key []byte) error {
	if err := db.corrupted(); err != nil {
		return err
	}
	return db.handleError(db.Database.Delete(key))
}

func (db *Database) Close() error {
	return db.handleError(db.Database.Close())
}

func (db *Database) NewBatch() database.Batch {
	return &batch{
		Batch: db.Database.NewBatch(),
		db:    db,
	}
}

// corrupted returns a non-nil error if a previous operation failed
// unexpectedly.
func (db *Database) corrupted() error {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if db.cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", database.ErrAvoidCorruption, db.cause)
}

func (db *Database) handleError(err error) error {
	if err == nil || errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrClosed) {
		return err
	}

	db.lock.Lock()
	defer db.lock.Unlock()

	if db.cause == nil {
		db.cause = err
	}
	return err
}

type batch struct {
	database.Batch
	db *Database
}

func (b *batch) Write() error {
	if err := b.db.corrupted(); err != nil {
		return err
	}
	return b.db.handleError(b.Batch.Write())
}
