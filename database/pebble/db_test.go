// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pebble

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/database/dbtest"
	"github.com/ava-labs/replicastate/utils/logging"
)

func newDB(t *testing.T) *Database {
	db, err := New(t.TempDir(), DefaultConfig, logging.NoLog{})
	require.NoError(t, err)
	return db
}

func TestInterface(t *testing.T) {
	for name, test := range dbtest.Tests {
		t.Run(name, func(t *testing.T) {
			db := newDB(t)
			test(t, db)

			// The database may have been closed by the test, so we don't care if it
			// errors here.
			_ = db.Close()
		})
	}
}

func TestReopen(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	db, err := New(dir, DefaultConfig, logging.NoLog{})
	require.NoError(err)
	require.NoError(db.Put([]byte("key"), []byte("value")))
	require.NoError(db.Close())

	db, err = New(dir, DefaultConfig, logging.NoLog{})
	require.NoError(err)
	value, err := db.Get([]byte("key"))
	require.NoError(err)
	require.Equal([]byte("value"), value)
	require.NoError(db.Close())
}

func TestBatchRewrite(t *testing.T) {
	require := require.New(t)

	db := newDB(t)
	defer db.Close()

	batch := db.NewBatch()
	require.NoError(batch.Put([]byte("key"), []byte("value")))
	require.NoError(batch.Write())
	require.NoError(db.Delete([]byte("key")))
	require.NoError(batch.Write())

	has, err := db.Has([]byte("key"))
	require.NoError(err)
	require.True(has)
}

func TestPrefixBounds(t *testing.T) {
	require := require.New(t)

	prefs := [][]byte{
		{1},
		{1, 2, 3},
		{1, 2, 3, 4, 5, 8, 19, 29},
	}
	for _, pref := range prefs {
		opts := prefixBounds(pref)
		require.Equal(pref, opts.LowerBound)
		upper := append([]byte{}, pref...)
		upper[len(upper)-1]++
		require.Equal(upper, opts.UpperBound)
	}
	require.Nil(prefixBounds([]byte{0xff}).UpperBound)
}
