// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package replica assembles the state core of a replica from its Config:
// the state manager, the chunk cache of aborted syncs and the state sync
// client and server sharing one Transport.
package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ava-labs/replicastate/config"
	"github.com/ava-labs/replicastate/database"
	"github.com/ava-labs/replicastate/database/factory"
	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/utils/metric"
	"github.com/ava-labs/replicastate/utils/wrappers"
	"github.com/ava-labs/replicastate/x/certification"
	"github.com/ava-labs/replicastate/x/statemanager"

	statesync "github.com/ava-labs/replicastate/x/sync"
)

const (
	stateManagerNamespace = "state_manager"
	stateSyncNamespace    = "state_sync"
)

var (
	ErrShutdown = errors.New("replica is shut down")

	errNoTransport = errors.New("transport is required")
)

// Replica owns every long-lived component of the replicated state. Incoming
// state sync traffic is handed to it through the App* methods.
type Replica struct {
	config     config.Config
	logFactory logging.Factory
	log        logging.Logger
	syncLog    logging.Logger

	StateManager *statemanager.Manager

	syncCacheDB database.Database
	refs        *statemanager.StateSyncRefs
	syncMetrics *statesync.Metrics
	client      *statesync.NetworkClient
	server      *statesync.NetworkServer

	// closes what init opened, in opening order
	closer wrappers.Closer

	lock     sync.Mutex
	shutdown bool
	syncs    map[uint64]*statesync.Manager
}

// New opens the state under [cfg.StateDir]. A nil [verifier] accepts every
// certification.
func New(
	cfg config.Config,
	verifier certification.Verifier,
	transport statesync.Transport,
	namespace string,
	reg prometheus.Registerer,
) (*Replica, error) {
	if transport == nil {
		return nil, errNoTransport
	}

	logFactory := logging.NewFactory(cfg.Log)
	r := &Replica{
		config:     cfg,
		logFactory: logFactory,
		syncs:      make(map[uint64]*statesync.Manager),
	}
	if err := r.init(verifier, transport, namespace, reg); err != nil {
		r.closeAll()
		return nil, err
	}
	return r, nil
}

func (r *Replica) init(
	verifier certification.Verifier,
	transport statesync.Transport,
	namespace string,
	reg prometheus.Registerer,
) error {
	var err error
	r.log, err = r.logFactory.Make(config.StateManagerLoggerName)
	if err != nil {
		return fmt.Errorf("couldn't create state manager log: %w", err)
	}
	r.syncLog, err = r.logFactory.Make(config.StateSyncLoggerName)
	if err != nil {
		return fmt.Errorf("couldn't create state sync log: %w", err)
	}

	r.StateManager, err = statemanager.New(
		r.log,
		r.config.StateDir,
		r.config.StateManager,
		verifier,
		metric.AppendNamespace(namespace, stateManagerNamespace),
		reg,
	)
	if err != nil {
		return fmt.Errorf("couldn't open state: %w", err)
	}
	r.closer.Add(r.StateManager)

	r.syncCacheDB, err = factory.NewDatabase(r.config.StateSyncCacheDB, r.syncLog)
	if err != nil {
		return err
	}
	r.closer.Add(r.syncCacheDB)
	r.refs = statemanager.NewStateSyncRefs(r.syncLog, r.syncCacheDB)

	r.syncMetrics, err = statesync.NewMetrics(metric.AppendNamespace(namespace, stateSyncNamespace), reg)
	if err != nil {
		return err
	}
	r.client = statesync.NewNetworkClient(transport, r.config.StateSync.MaxOutstandingRequests, r.syncLog, r.syncMetrics)
	r.server = statesync.NewNetworkServer(transport, r.StateManager, r.syncLog)

	r.log.Info("replica started",
		zap.String("stateDir", r.config.StateDir),
		zap.Uint64("latestHeight", r.StateManager.LatestStateHeight()),
		zap.String("syncCacheDB", r.config.StateSyncCacheDB.Name),
	)
	return nil
}

// StartStateSync starts fetching the state at [height] with [rootHash] from
// the connected peers. The returned sync runs until it completes, fails or
// [ctx] is canceled.
func (r *Replica) StartStateSync(ctx context.Context, height uint64, rootHash ids.ID) (*statesync.Manager, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.shutdown {
		return nil, ErrShutdown
	}
	syncer, err := statesync.NewManager(statesync.ManagerConfig{
		Height:       height,
		RootHash:     rootHash,
		StateManager: r.StateManager,
		Refs:         r.refs,
		Client:       r.client,
		Metrics:      r.syncMetrics,
		Log:          r.syncLog,
		Config:       r.config.StateSync,
	})
	if err != nil {
		return nil, err
	}
	if err := syncer.Start(ctx); err != nil {
		return nil, err
	}
	r.syncs[height] = syncer
	return syncer, nil
}

// StartFetchTarget starts a sync of the state the state manager was last
// asked to fetch, if any.
func (r *Replica) StartFetchTarget(ctx context.Context) (*statesync.Manager, bool, error) {
	target, ok := r.StateManager.FetchTarget()
	if !ok {
		return nil, false, nil
	}
	syncer, err := r.StartStateSync(ctx, target.Height, target.RootHash)
	return syncer, true, err
}

func (r *Replica) AppRequest(ctx context.Context, nodeID ids.NodeID, requestID uint32, deadline time.Time, request []byte) error {
	return r.server.AppRequest(ctx, nodeID, requestID, deadline, request)
}

func (r *Replica) AppResponse(ctx context.Context, nodeID ids.NodeID, requestID uint32, response []byte) error {
	return r.client.AppResponse(ctx, nodeID, requestID, response)
}

func (r *Replica) AppError(ctx context.Context, nodeID ids.NodeID, requestID uint32, errorCode int32, errorMessage string) error {
	return r.client.AppError(ctx, nodeID, requestID, errorCode, errorMessage)
}

func (r *Replica) AppRequestFailed(ctx context.Context, nodeID ids.NodeID, requestID uint32) error {
	return r.client.AppRequestFailed(ctx, nodeID, requestID)
}

func (r *Replica) Connected(ctx context.Context, nodeID ids.NodeID) error {
	return r.client.Connected(ctx, nodeID)
}

func (r *Replica) Disconnected(ctx context.Context, nodeID ids.NodeID) error {
	return r.client.Disconnected(ctx, nodeID)
}

// Shutdown aborts the running syncs and closes the state. It's safe to call
// more than once.
func (r *Replica) Shutdown() error {
	r.lock.Lock()
	if r.shutdown {
		r.lock.Unlock()
		return nil
	}
	r.shutdown = true
	syncs := r.syncs
	r.syncs = nil
	r.lock.Unlock()

	for _, syncer := range syncs {
		syncer.Close()
	}
	// The state manager must outlive the syncs writing into it.
	for height, syncer := range syncs {
		if err := syncer.Wait(context.Background()); err != nil && !errors.Is(err, statesync.ErrAborted) {
			r.syncLog.Warn("state sync failed during shutdown",
				zap.Uint64("height", height),
				zap.Error(err),
			)
		}
	}
	return r.closeAll()
}

func (r *Replica) closeAll() error {
	err := r.closer.Close()
	if r.log != nil {
		r.log.Info("replica stopped",
			zap.Error(err),
		)
	}
	r.logFactory.Close()
	return err
}
