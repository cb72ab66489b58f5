// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package factory

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ava-labs/replicastate/database"
	"github.com/ava-labs/replicastate/database/corruptabledb"
	"github.com/ava-labs/replicastate/database/leveldb"
	"github.com/ava-labs/replicastate/database/memdb"
	"github.com/ava-labs/replicastate/database/pebble"
	"github.com/ava-labs/replicastate/utils/logging"
)

type DatabaseConfig struct {
	// Path to database
	Path string `json:"path"`

	// Name of the database type to use
	Name string `json:"name"`
}

// NewDatabase creates a new database instance based on the provided
// configuration. It supports LevelDB, MemDB, and Pebble as database types and
// wraps the database with a corruptable DB.
func NewDatabase(dbConfig DatabaseConfig, log logging.Logger) (database.Database, error) {
	var (
		db  database.Database
		err error
	)
	switch dbConfig.Name {
	case leveldb.Name:
		db, err = leveldb.New(filepath.Join(dbConfig.Path, leveldb.Name), leveldb.DefaultConfig, log)
	case memdb.Name:
		db = memdb.New()
	case pebble.Name:
		db, err = pebble.New(filepath.Join(dbConfig.Path, pebble.Name), pebble.DefaultConfig, log)
	default:
		return nil, fmt.Errorf(
			"db-type was %q but should have been one of {%s, %s, %s}",
			dbConfig.Name,
			leveldb.Name,
			memdb.Name,
			pebble.Name,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't create %s at %s: %w", dbConfig.Name, dbConfig.Path, err)
	}

	log.Info("created database",
		zap.String("type", dbConfig.Name),
		zap.String("path", dbConfig.Path),
	)
	return corruptabledb.New(db), nil
}
