// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package factory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/database/leveldb"
	"github.com/ava-labs/replicastate/database/memdb"
	"github.com/ava-labs/replicastate/database/pebble"
	"github.com/ava-labs/replicastate/utils/logging"
)

func TestNewDatabase(t *testing.T) {
	for _, name := range []string{leveldb.Name, memdb.Name, pebble.Name} {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			db, err := NewDatabase(DatabaseConfig{
				Path: t.TempDir(),
				Name: name,
			}, logging.NoLog{})
			require.NoError(err)
			require.NoError(db.Put([]byte("key"), []byte("value")))
			value, err := db.Get([]byte("key"))
			require.NoError(err)
			require.Equal([]byte("value"), value)
			require.NoError(db.Close())
		})
	}
}

func TestNewDatabaseUnknown(t *testing.T) {
	_, err := NewDatabase(DatabaseConfig{Name: "rocksdb"}, logging.NoLog{})
	require.Error(t, err)
}
