// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ava-labs/replicastate/database/leveldb"
	"github.com/ava-labs/replicastate/database/memdb"
	"github.com/ava-labs/replicastate/database/pebble"
	"github.com/ava-labs/replicastate/x/hashtree"
	"github.com/ava-labs/replicastate/x/manifest"
	"github.com/ava-labs/replicastate/x/statemanager"

	statesync "github.com/ava-labs/replicastate/x/sync"
)

const (
	appName   = "replicastate"
	envPrefix = "replicastate"

	// Expanded to the data directory in path flags.
	dataDirVar         = "DATA_DIR"
	dataDirPlaceholder = "${" + dataDirVar + "}"
)

var (
	defaultDataDir = filepath.Join("$HOME", "."+appName)
	defaultLogDir  = filepath.Join(dataDirPlaceholder, "logs")

	errConfigFileAndContent = errors.New("only one of the config file and its content can be provided")
)

func addProcessFlags(fs *pflag.FlagSet) {
	fs.String(DataDirKey, defaultDataDir, "Sets the base data directory where default sub-directories will be placed unless otherwise specified.")
	fs.String(ConfigFileKey, "", fmt.Sprintf("Specifies a config file. Ignored if %s is specified", ConfigContentKey))
	fs.String(ConfigContentKey, "", "Specifies base64 encoded config content")
	fs.String(ConfigContentTypeKey, "json", "Specifies the format of the base64 encoded config content. Available values: 'json', 'yaml', 'toml'")

	// Logging
	fs.String(LogsDirKey, defaultLogDir, "Logging directory")
	fs.String(LogLevelKey, "info", "The log level. Should be one of {verbo, debug, trace, info, warn, error, fatal, off}")
	fs.String(LogDisplayLevelKey, "", "The log display level. If left blank, will inherit the value of log-level. Otherwise, should be one of {verbo, debug, trace, info, warn, error, fatal, off}")
	fs.String(LogFormatKey, "auto", "The structure of log format. Defaults to 'auto' which formats terminal-like logs, when the output is a terminal. Otherwise, should be one of {auto, plain, colors, json}")
	fs.Uint(LogRotaterMaxSizeKey, 8, "The maximum file size in megabytes of the log file before it gets rotated.")
	fs.Uint(LogRotaterMaxFilesKey, 7, "The maximum number of old log files to retain. 0 means retain all old log files.")
	fs.Uint(LogRotaterMaxAgeKey, 0, "The maximum number of days to retain old log files based on the timestamp encoded in their filename. 0 means retain all old log files.")
	fs.Bool(LogRotaterCompressKey, false, "Enables the compression of rotated log files through gzip.")
	fs.Bool(LogDisableDisplayKey, false, "Disables displaying logs to stdout.")
}

func addStateFlags(fs *pflag.FlagSet) {
	// Hash tree
	fs.Int(HashTreeParallelThresholdKey, hashtree.DefaultParallelThreshold, "Forks with more children than this are hashed in parallel")
	fs.Int(HashTreeWorkersKey, hashtree.DefaultWorkers, "Number of goroutines hashing a large fork")
	fs.Bool(HashTreeCheckCachedDigestsKey, false, "Recompute cached blob digests and panic on mismatch")

	// Manifest
	fs.Uint32(ManifestChunkSizeKey, manifest.DefaultChunkSize, "Size in bytes of the chunks checkpoint files are split into. Must be a multiple of the page size")
	fs.Int(ManifestWorkersKey, manifest.DefaultWorkers, "Maximum number of chunks hashed at once")
	fs.Float64(ManifestValidateReuseKey, manifest.DefaultValidateReuse, "Probability that a reused chunk hash is checked against a fresh hash of the chunk")

	// State manager
	fs.Int(StateExtraCheckpointsToKeepKey, statemanager.DefaultExtraCheckpointsToKeep, "Number of checkpoints kept below the latest one")
	fs.Int(StateDeallocatorBacklogKey, statemanager.DefaultDeallocatorBacklog, "Number of objects the deallocator may lag behind before releasing them synchronously")
	fs.Int(StateDivergedCheckpointsToKeepKey, statemanager.DefaultDivergedCheckpointsToKeep, "Number of diverged checkpoints kept on startup")
	fs.Int(StateBackupsToKeepKey, statemanager.DefaultBackupsToKeep, "Number of backups kept on startup")
	fs.Int(StateDivergedStateMarkersToKeepKey, statemanager.DefaultDivergedStateMarkersToKeep, "Number of diverged state markers kept on startup")
	fs.Duration(StateArchivedStatesMaxAgeKey, statemanager.DefaultArchivedStatesMaxAge, "Archived states younger than this are never removed")
	fs.Uint64(StateStartingHeightKey, 0, "If non-zero, checkpoints above this height are archived on startup")
	fs.Int(StateChunkCacheSizeKey, statemanager.DefaultChunkCacheSize, "Maximum number of bytes of chunks cached to serve state sync")

	// State sync
	fs.Int(StateSyncSimultaneousWorkLimitKey, statesync.DefaultSimultaneousWorkLimit, "Maximum number of chunks fetched at once by a state sync")
	fs.Int(StateSyncMaxChunkRetriesKey, statesync.DefaultMaxChunkRetries, "Number of corrupted responses for a single chunk after which a state sync fails")
	fs.Int(StateSyncMaxManifestAttemptsKey, statesync.DefaultMaxManifestAttempts, "Number of attempts to fetch a manifest matching the target root hash")
	fs.Int64(StateSyncMaxOutstandingRequestsKey, statesync.DefaultMaxOutstandingRequests, "Maximum number of state sync requests awaiting a response")
	fs.String(StateSyncCacheDBTypeKey, leveldb.Name, fmt.Sprintf("Database type of the chunks cached by aborted state syncs. Should be one of {%s, %s, %s}", leveldb.Name, memdb.Name, pebble.Name))
}

// BuildFlagSet returns a complete set of flags
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	addProcessFlags(fs)
	addStateFlags(fs)
	return fs
}

// BuildViper returns the viper environment from parsing config file from
// default search paths and any parsed command line flags
func BuildViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(envPrefix)
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	// load node configs from flags or file
	switch {
	case v.IsSet(ConfigContentKey) && v.IsSet(ConfigFileKey):
		return nil, errConfigFileAndContent
	case v.IsSet(ConfigContentKey):
		configContentB64 := v.GetString(ConfigContentKey)
		configBytes, err := base64.StdEncoding.DecodeString(configContentB64)
		if err != nil {
			return nil, fmt.Errorf("unable to decode base64 content: %w", err)
		}
		v.SetConfigType(v.GetString(ConfigContentTypeKey))
		if err := v.ReadConfig(strings.NewReader(string(configBytes))); err != nil {
			return nil, err
		}
	case v.IsSet(ConfigFileKey):
		v.SetConfigFile(getExpandedArg(v, ConfigFileKey))
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// getExpandedArg gets the string in viper corresponding to [key] and expands
// any variables using the OS env. If the data-dir placeholder is used, it is
// expanded to the data directory.
func getExpandedArg(v *viper.Viper, key string) string {
	return getExpandedString(v, v.GetString(key))
}

func getExpandedString(v *viper.Viper, s string) string {
	return os.Expand(
		s,
		func(strVar string) string {
			if strVar == dataDirVar {
				return os.ExpandEnv(v.GetString(DataDirKey))
			}
			return os.Getenv(strVar)
		},
	)
}
