// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dbtest is the conformance suite every database backend runs.
package dbtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/database"
)

// Tests is a list of all database tests
var Tests = map[string]func(t *testing.T, db database.Database){
	"SimpleKeyValue":       TestSimpleKeyValue,
	"KeyEmptyValue":        TestKeyEmptyValue,
	"SimpleKeyValueClosed": TestSimpleKeyValueClosed,
	"MemorySafety":         TestMemorySafety,
	"BatchPut":             TestBatchPut,
	"BatchDelete":          TestBatchDelete,
	"BatchReset":           TestBatchReset,
	"Iterator":             TestIterator,
	"IteratorPrefix":       TestIteratorPrefix,
	"ClearPrefix":          TestClearPrefix,
}

// TestSimpleKeyValue tests to make sure that simple Put + Get + Delete + Has
// calls return the expected values.
func TestSimpleKeyValue(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("hello")
	value := []byte("world")

	has, err := db.Has(key)
	require.NoError(err)
	require.False(has)
	_, err = db.Get(key)
	require.ErrorIs(err, database.ErrNotFound)
	require.NoError(db.Delete(key))

	require.NoError(db.Put(key, value))
	has, err = db.Has(key)
	require.NoError(err)
	require.True(has)
	got, err := db.Get(key)
	require.NoError(err)
	require.Equal(value, got)

	require.NoError(db.Delete(key))
	has, err = db.Has(key)
	require.NoError(err)
	require.False(has)
}

func TestKeyEmptyValue(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("hello")
	require.NoError(db.Put(key, nil))

	value, err := db.Get(key)
	require.NoError(err)
	require.Empty(value)
}

// TestSimpleKeyValueClosed tests to make sure that Put + Get + Delete + Has
// calls return the correct error when the database has been closed.
func TestSimpleKeyValueClosed(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("hello")
	value := []byte("world")
	require.NoError(db.Put(key, value))
	require.NoError(db.Close())

	_, err := db.Has(key)
	require.ErrorIs(err, database.ErrClosed)
	_, err = db.Get(key)
	require.ErrorIs(err, database.ErrClosed)
	require.ErrorIs(db.Put(key, value), database.ErrClosed)
	require.ErrorIs(db.Delete(key), database.ErrClosed)
	require.ErrorIs(db.Close(), database.ErrClosed)
}

// TestMemorySafety ensures it is safe to modify a key or value after
// passing it to Put, and to modify a value returned by Get.
func TestMemorySafety(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("key")
	value := []byte("value")
	require.NoError(db.Put(key, value))
	key[0] = 'x'
	value[0] = 'x'

	got, err := db.Get([]byte("key"))
	require.NoError(err)
	require.Equal([]byte("value"), got)

	got[0] = 'y'
	got, err = db.Get([]byte("key"))
	require.NoError(err)
	require.Equal([]byte("value"), got)
}

// TestBatchPut tests to make sure that batched writes work as expected.
func TestBatchPut(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("hello")
	value := []byte("world")

	batch := db.NewBatch()
	require.NoError(batch.Put(key, value))
	require.Positive(batch.Size())
	require.NoError(batch.Write())

	got, err := db.Get(key)
	require.NoError(err)
	require.Equal(value, got)

	batch = db.NewBatch()
	require.NoError(batch.Put(key, value))
	require.NoError(db.Close())
	require.ErrorIs(batch.Write(), database.ErrClosed)
}

// TestBatchDelete tests to make sure that batched deletes work as expected.
func TestBatchDelete(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("hello")
	require.NoError(db.Put(key, []byte("world")))

	batch := db.NewBatch()
	require.NoError(batch.Delete(key))
	require.NoError(batch.Write())

	_, err := db.Get(key)
	require.ErrorIs(err, database.ErrNotFound)
}

// TestBatchReset tests to make sure that a batch drops un-written operations
// when it is reset, and can be reused afterwards.
func TestBatchReset(t *testing.T, db database.Database) {
	require := require.New(t)

	key := []byte("hello")
	value := []byte("world")
	require.NoError(db.Put(key, value))

	batch := db.NewBatch()
	require.NoError(batch.Delete(key))
	batch.Reset()
	require.Zero(batch.Size())
	require.NoError(batch.Write())

	got, err := db.Get(key)
	require.NoError(err)
	require.Equal(value, got)

	batch.Reset()
	require.NoError(batch.Put([]byte("other"), value))
	require.NoError(batch.Write())
	has, err := db.Has([]byte("other"))
	require.NoError(err)
	require.True(has)
}

func collect(t *testing.T, it database.Iterator) []string {
	defer it.Release()

	var kvs []string
	for it.Next() {
		kvs = append(kvs, string(it.Key())+"="+string(it.Value()))
	}
	require.NoError(t, it.Error())
	return kvs
}

func putAll(t *testing.T, db database.Database, kvs ...string) {
	for i := 0; i < len(kvs); i += 2 {
		require.NoError(t, db.Put([]byte(kvs[i]), []byte(kvs[i+1])))
	}
}

// TestIterator tests to make sure the database iterates over the database
// contents lexicographically.
func TestIterator(t *testing.T, db database.Database) {
	putAll(t, db, "b", "2", "a", "1", "c", "3")
	require.Equal(t, []string{"a=1", "b=2", "c=3"}, collect(t, db.NewIterator()))
}

func TestIteratorPrefix(t *testing.T, db database.Database) {
	putAll(t, db, "ab", "1", "b", "2", "aa", "3", "ac", "4")
	require.Equal(t, []string{"aa=3", "ab=1", "ac=4"}, collect(t, db.NewIteratorWithPrefix([]byte("a"))))
}

func TestClearPrefix(t *testing.T, db database.Database) {
	require := require.New(t)

	putAll(t, db, "ab", "1", "b", "2", "aa", "3")
	require.NoError(database.ClearPrefix(db, []byte("a"), 1))

	count, err := database.Count(db)
	require.NoError(err)
	require.Equal(1, count)
	require.Equal([]string{"b=2"}, collect(t, db.NewIterator()))
}
