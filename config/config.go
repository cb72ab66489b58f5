// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/ava-labs/replicastate/database/factory"
	"github.com/ava-labs/replicastate/database/leveldb"
	"github.com/ava-labs/replicastate/database/memdb"
	"github.com/ava-labs/replicastate/database/pebble"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/x/hashtree"
	"github.com/ava-labs/replicastate/x/manifest"
	"github.com/ava-labs/replicastate/x/statemanager"

	statesync "github.com/ava-labs/replicastate/x/sync"
)

const (
	stateDirName          = "state"
	stateSyncCacheDirName = "state_sync_cache"
)

var (
	errInvalidValidateReuse = errors.New("manifest validate reuse must be within [0, 1]")
	errInvalidCacheDBType   = errors.New("invalid state sync cache database type")
	errNegativeRotaterValue = errors.New("log rotater values must be non-negative")
)

// Config is the configuration of a replica's state core.
type Config struct {
	// Root of the on-disk layout of checkpoints, tip and metadata.
	StateDir     string
	Log          logging.Config
	StateManager statemanager.Config
	StateSync    statesync.Config
	// Database staging the chunks fetched by aborted state syncs.
	StateSyncCacheDB factory.DatabaseConfig
}

func getLoggingConfig(v *viper.Viper) (logging.Config, error) {
	loggingConfig := logging.Config{}
	loggingConfig.Directory = getExpandedArg(v, LogsDirKey)
	var err error
	loggingConfig.LogLevel, err = logging.ToLevel(v.GetString(LogLevelKey))
	if err != nil {
		return loggingConfig, err
	}

	logDisplayLevel := v.GetString(LogLevelKey)
	if v.IsSet(LogDisplayLevelKey) {
		logDisplayLevel = v.GetString(LogDisplayLevelKey)
	}
	loggingConfig.DisplayLevel, err = logging.ToLevel(logDisplayLevel)
	if err != nil {
		return loggingConfig, err
	}

	loggingConfig.LogFormat, err = logging.ToFormat(v.GetString(LogFormatKey), os.Stdout.Fd())
	if err != nil {
		return loggingConfig, err
	}
	loggingConfig.DisableWriterDisplaying = v.GetBool(LogDisableDisplayKey)

	loggingConfig.MaxSize = v.GetInt(LogRotaterMaxSizeKey)
	loggingConfig.MaxFiles = v.GetInt(LogRotaterMaxFilesKey)
	loggingConfig.MaxAge = v.GetInt(LogRotaterMaxAgeKey)
	loggingConfig.Compress = v.GetBool(LogRotaterCompressKey)
	if loggingConfig.MaxSize < 0 || loggingConfig.MaxFiles < 0 || loggingConfig.MaxAge < 0 {
		return loggingConfig, errNegativeRotaterValue
	}
	return loggingConfig, nil
}

func getHashTreeConfig(v *viper.Viper) hashtree.Config {
	return hashtree.Config{
		ParallelThreshold:  v.GetInt(HashTreeParallelThresholdKey),
		Workers:            v.GetInt(HashTreeWorkersKey),
		CheckCachedDigests: v.GetBool(HashTreeCheckCachedDigestsKey),
	}
}

func getManifestConfig(v *viper.Viper) (manifest.Config, error) {
	config := manifest.Config{
		ChunkSize:     v.GetUint32(ManifestChunkSizeKey),
		Workers:       v.GetInt(ManifestWorkersKey),
		ValidateReuse: v.GetFloat64(ManifestValidateReuseKey),
	}
	if config.ValidateReuse < 0 || config.ValidateReuse > 1 {
		return config, fmt.Errorf("%w: %f", errInvalidValidateReuse, config.ValidateReuse)
	}
	return config, config.Verify()
}

func getStateManagerConfig(v *viper.Viper) (statemanager.Config, error) {
	manifestConfig, err := getManifestConfig(v)
	if err != nil {
		return statemanager.Config{}, err
	}
	config := statemanager.Config{
		ExtraCheckpointsToKeep:     v.GetInt(StateExtraCheckpointsToKeepKey),
		DeallocatorBacklog:         v.GetInt(StateDeallocatorBacklogKey),
		DivergedCheckpointsToKeep:  v.GetInt(StateDivergedCheckpointsToKeepKey),
		BackupsToKeep:              v.GetInt(StateBackupsToKeepKey),
		DivergedStateMarkersToKeep: v.GetInt(StateDivergedStateMarkersToKeepKey),
		ArchivedStatesMaxAge:       v.GetDuration(StateArchivedStatesMaxAgeKey),
		StartingHeight:             v.GetUint64(StateStartingHeightKey),
		ChunkCacheSize:             v.GetInt(StateChunkCacheSizeKey),
		Manifest:                   manifestConfig,
		HashTree:                   getHashTreeConfig(v),
	}
	return config, config.Verify()
}

func getStateSyncConfig(v *viper.Viper) (statesync.Config, error) {
	config := statesync.Config{
		SimultaneousWorkLimit:  v.GetInt(StateSyncSimultaneousWorkLimitKey),
		MaxChunkRetries:        v.GetInt(StateSyncMaxChunkRetriesKey),
		MaxManifestAttempts:    v.GetInt(StateSyncMaxManifestAttemptsKey),
		MaxOutstandingRequests: v.GetInt64(StateSyncMaxOutstandingRequestsKey),
	}
	return config, config.Verify()
}

func getStateSyncCacheDBConfig(v *viper.Viper, dataDir string) (factory.DatabaseConfig, error) {
	config := factory.DatabaseConfig{
		Path: filepath.Join(dataDir, stateSyncCacheDirName),
		Name: v.GetString(StateSyncCacheDBTypeKey),
	}
	switch config.Name {
	case leveldb.Name, memdb.Name, pebble.Name:
		return config, nil
	default:
		return config, fmt.Errorf("%w: %q", errInvalidCacheDBType, config.Name)
	}
}

// GetConfig sets attributes on a Config based on the values defined in the
// [v] environment.
func GetConfig(v *viper.Viper) (Config, error) {
	dataDir := getExpandedArg(v, DataDirKey)

	var (
		config = Config{
			StateDir: filepath.Join(dataDir, stateDirName),
		}
		err error
	)
	config.Log, err = getLoggingConfig(v)
	if err != nil {
		return Config{}, err
	}
	config.StateManager, err = getStateManagerConfig(v)
	if err != nil {
		return Config{}, err
	}
	config.StateSync, err = getStateSyncConfig(v)
	if err != nil {
		return Config{}, err
	}
	config.StateSyncCacheDB, err = getStateSyncCacheDBConfig(v, dataDir)
	if err != nil {
		return Config{}, err
	}
	return config, nil
}
