// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/database/leveldb"
	"github.com/ava-labs/replicastate/database/pebble"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/x/manifest"
	"github.com/ava-labs/replicastate/x/statemanager"

	statesync "github.com/ava-labs/replicastate/x/sync"
)

func getTestConfig(t *testing.T, args ...string) (Config, error) {
	v, err := BuildViper(BuildFlagSet(), args)
	require.NoError(t, err)
	return GetConfig(v)
}

func TestGetConfigDefaults(t *testing.T) {
	require := require.New(t)

	dataDir := t.TempDir()
	config, err := getTestConfig(t, "--"+DataDirKey+"="+dataDir)
	require.NoError(err)

	require.Equal(filepath.Join(dataDir, stateDirName), config.StateDir)
	require.Equal(filepath.Join(dataDir, "logs"), config.Log.Directory)
	require.Equal(logging.Info, config.Log.LogLevel)
	require.Equal(logging.Info, config.Log.DisplayLevel)
	require.Equal(statemanager.DefaultConfig(), config.StateManager)
	require.Equal(statesync.DefaultConfig(), config.StateSync)
	require.Equal(leveldb.Name, config.StateSyncCacheDB.Name)
	require.Equal(filepath.Join(dataDir, stateSyncCacheDirName), config.StateSyncCacheDB.Path)
}

func TestGetConfigFromFlags(t *testing.T) {
	require := require.New(t)

	config, err := getTestConfig(t,
		"--"+LogLevelKey+"=debug",
		"--"+LogDisplayLevelKey+"=warn",
		"--"+ManifestChunkSizeKey+"=8192",
		"--"+ManifestValidateReuseKey+"=1",
		"--"+HashTreeCheckCachedDigestsKey,
		"--"+StateStartingHeightKey+"=42",
		"--"+StateArchivedStatesMaxAgeKey+"=1h",
		"--"+StateSyncMaxChunkRetriesKey+"=3",
		"--"+StateSyncCacheDBTypeKey+"="+pebble.Name,
	)
	require.NoError(err)

	require.Equal(logging.Debug, config.Log.LogLevel)
	require.Equal(logging.Warn, config.Log.DisplayLevel)
	require.Equal(uint32(2*manifest.PageSize), config.StateManager.Manifest.ChunkSize)
	require.Equal(float64(1), config.StateManager.Manifest.ValidateReuse)
	require.True(config.StateManager.HashTree.CheckCachedDigests)
	require.Equal(uint64(42), config.StateManager.StartingHeight)
	require.Equal(time.Hour, config.StateManager.ArchivedStatesMaxAge)
	require.Equal(3, config.StateSync.MaxChunkRetries)
	require.Equal(pebble.Name, config.StateSyncCacheDB.Name)
}

func TestGetConfigFromFile(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	configJSON := fmt.Sprintf(`{%q: %d, %q: %d, %q: %q}`,
		StateExtraCheckpointsToKeepKey, 2,
		StateSyncSimultaneousWorkLimitKey, 4,
		DataDirKey, dir,
	)
	configFile := filepath.Join(dir, "config.json")
	require.NoError(os.WriteFile(configFile, []byte(configJSON), 0o600))

	config, err := getTestConfig(t, "--"+ConfigFileKey+"="+configFile)
	require.NoError(err)
	require.Equal(2, config.StateManager.ExtraCheckpointsToKeep)
	require.Equal(4, config.StateSync.SimultaneousWorkLimit)
	require.Equal(filepath.Join(dir, stateDirName), config.StateDir)

	// The same content can be passed inline.
	content := base64.StdEncoding.EncodeToString([]byte(configJSON))
	config, err = getTestConfig(t, "--"+ConfigContentKey+"="+content)
	require.NoError(err)
	require.Equal(2, config.StateManager.ExtraCheckpointsToKeep)

	_, err = BuildViper(BuildFlagSet(), []string{
		"--" + ConfigFileKey + "=" + configFile,
		"--" + ConfigContentKey + "=" + content,
	})
	require.ErrorIs(err, errConfigFileAndContent)
}

func TestGetConfigInvalid(t *testing.T) {
	tests := []struct {
		name        string
		arg         string
		expectedErr error
	}{
		{
			name:        "chunk size not a multiple of the page size",
			arg:         ManifestChunkSizeKey + "=1000",
			expectedErr: manifest.ErrInvalidChunkSize,
		},
		{
			name:        "zero manifest workers",
			arg:         ManifestWorkersKey + "=0",
			expectedErr: manifest.ErrZeroWorkers,
		},
		{
			name:        "validate reuse above 1",
			arg:         ManifestValidateReuseKey + "=1.5",
			expectedErr: errInvalidValidateReuse,
		},
		{
			name:        "zero work limit",
			arg:         StateSyncSimultaneousWorkLimitKey + "=0",
			expectedErr: statesync.ErrZeroWorkLimit,
		},
		{
			name:        "zero manifest attempts",
			arg:         StateSyncMaxManifestAttemptsKey + "=0",
			expectedErr: statesync.ErrZeroRetries,
		},
		{
			name:        "unknown cache database",
			arg:         StateSyncCacheDBTypeKey + "=rocksdb",
			expectedErr: errInvalidCacheDBType,
		},
		{
			name:        "unknown log level",
			arg:         LogLevelKey + "=loud",
			expectedErr: logging.ErrUnknownLevel,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := getTestConfig(t, "--"+test.arg)
			require.ErrorIs(t, err, test.expectedErr)
		})
	}
}

func TestBuildViperUnknownFlag(t *testing.T) {
	_, err := BuildViper(BuildFlagSet(), []string{"--not-a-flag"})
	require.Error(t, err)
}
