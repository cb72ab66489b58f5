// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

const (
	DataDirKey           = "data-dir"
	ConfigFileKey        = "config-file"
	ConfigContentKey     = "config-file-content"
	ConfigContentTypeKey = "config-file-content-type"

	LogsDirKey             = "log-dir"
	LogLevelKey            = "log-level"
	LogDisplayLevelKey     = "log-display-level"
	LogFormatKey           = "log-format"
	LogRotaterMaxSizeKey   = "log-rotater-max-size"
	LogRotaterMaxFilesKey  = "log-rotater-max-files"
	LogRotaterMaxAgeKey    = "log-rotater-max-age"
	LogRotaterCompressKey  = "log-rotater-compress-enabled"
	LogDisableDisplayKey   = "log-disable-display"
	StateManagerLoggerName = "state-manager"
	StateSyncLoggerName    = "state-sync"

	HashTreeParallelThresholdKey  = "hash-tree-parallel-threshold"
	HashTreeWorkersKey            = "hash-tree-workers"
	HashTreeCheckCachedDigestsKey = "hash-tree-check-cached-digests"

	ManifestChunkSizeKey     = "manifest-chunk-size"
	ManifestWorkersKey       = "manifest-workers"
	ManifestValidateReuseKey = "manifest-validate-reuse"

	StateExtraCheckpointsToKeepKey     = "state-extra-checkpoints-to-keep"
	StateDeallocatorBacklogKey         = "state-deallocator-backlog"
	StateDivergedCheckpointsToKeepKey  = "state-diverged-checkpoints-to-keep"
	StateBackupsToKeepKey              = "state-backups-to-keep"
	StateDivergedStateMarkersToKeepKey = "state-diverged-state-markers-to-keep"
	StateArchivedStatesMaxAgeKey       = "state-archived-states-max-age"
	StateStartingHeightKey             = "state-starting-height"
	StateChunkCacheSizeKey             = "state-chunk-cache-size"

	StateSyncSimultaneousWorkLimitKey  = "state-sync-simultaneous-work-limit"
	StateSyncMaxChunkRetriesKey        = "state-sync-max-chunk-retries"
	StateSyncMaxManifestAttemptsKey    = "state-sync-max-manifest-attempts"
	StateSyncMaxOutstandingRequestsKey = "state-sync-max-outstanding-requests"
	StateSyncCacheDBTypeKey            = "state-sync-cache-db-type"
)
