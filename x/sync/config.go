// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sync

import "errors"

var errZeroOutstandingRequests = errors.New("max outstanding requests must be greater than 0")

// Config holds the tunables shared by every state sync of a replica.
type Config struct {
	// Maximum number of chunks fetched at once.
	SimultaneousWorkLimit int
	// Number of invalid responses tolerated for a single chunk or
	// sub-manifest before the sync fails.
	MaxChunkRetries int
	// Number of manifests fetched before the sync fails when they don't
	// match the target root hash.
	MaxManifestAttempts int
	// Maximum number of requests awaiting a response in the NetworkClient.
	MaxOutstandingRequests int64
}

func DefaultConfig() Config {
	return Config{
		SimultaneousWorkLimit:  DefaultSimultaneousWorkLimit,
		MaxChunkRetries:        DefaultMaxChunkRetries,
		MaxManifestAttempts:    DefaultMaxManifestAttempts,
		MaxOutstandingRequests: DefaultMaxOutstandingRequests,
	}
}

func (c Config) Verify() error {
	switch {
	case c.SimultaneousWorkLimit <= 0:
		return ErrZeroWorkLimit
	case c.MaxChunkRetries <= 0, c.MaxManifestAttempts <= 0:
		return ErrZeroRetries
	case c.MaxOutstandingRequests <= 0:
		return errZeroOutstandingRequests
	default:
		return nil
	}
}
