// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/filesystem"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/utils/perms"
	"github.com/ava-labs/replicastate/x/manifest"
	"github.com/ava-labs/replicastate/x/state"
	"github.com/ava-labs/replicastate/x/statelayout"
	"github.com/ava-labs/replicastate/x/statemanager"
)

const (
	DefaultSimultaneousWorkLimit = 16
	DefaultMaxChunkRetries       = 10
	DefaultMaxManifestAttempts   = 10

	initialRetryWait = 10 * time.Millisecond
	maxRetryWait     = time.Second
	retryWaitFactor  = 1.5 // Larger --> timeout grows more quickly

	scratchpadPrefix = "state_sync"
)

var (
	ErrAlreadyStarted         = errors.New("cannot start a Manager that has already been started")
	ErrAlreadyClosed          = errors.New("Manager is closed")
	ErrAborted                = errors.New("state sync aborted")
	ErrTooManyRetries         = errors.New("too many retries")
	ErrNoStateManagerProvided = errors.New("state manager is a required field of the sync config")
	ErrNoRefsProvided         = errors.New("state sync refs is a required field of the sync config")
	ErrNoClientProvided       = errors.New("client is a required field of the sync config")
	ErrNoMetricsProvided      = errors.New("metrics is a required field of the sync config")
	ErrNoLogProvided          = errors.New("log is a required field of the sync config")
	ErrZeroWorkLimit          = errors.New("simultaneous work limit must be greater than 0")
	ErrZeroRetries            = errors.New("retry limits must be greater than 0")
)

// Status is the state of a single sync.
type Status uint8

const (
	Unstarted Status = iota
	Active
	Completed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Active:
		return "active"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// StateManager registers the synced checkpoints and provides the local
// checkpoint chunks are copied from.
type StateManager interface {
	Layout() *statelayout.Layout
	Computer() *manifest.Computer
	// LatestCheckpoint returns a reference to the latest checkpoint whose
	// manifest is computed. The reference must be released.
	LatestCheckpoint() (*statelayout.CheckpointRef, *manifest.Bundle, bool)
	OnSyncedCheckpoint(s *state.ReplicatedState, height uint64, mf *manifest.Manifest, rootHash ids.ID) error
}

type ManagerConfig struct {
	Height       uint64
	RootHash     ids.ID
	StateManager StateManager
	Refs         *statemanager.StateSyncRefs
	Client       Client
	Metrics      *Metrics
	Log          logging.Logger
	Config
}

// Manager fetches the checkpoint at a given height and root hash from
// peers and hands it to the state manager.
type Manager struct {
	config ManagerConfig

	workLock sync.Mutex
	// The number of work items currently being processed.
	// Namely, the number of goroutines executing [doWork].
	// [workLock] must be held when accessing [processingWorkItems].
	processingWorkItems int
	// [workLock] must be held while accessing [unprocessedWork].
	unprocessedWork *workHeap
	// Signalled when:
	// - An item is added to [unprocessedWork].
	// - A work item finishes.
	// - The sync is canceled.
	// [workLock] is its inner lock.
	unprocessedWorkCond sync.Cond
	// [workLock] must be held while accessing the fields below.
	status     Status
	closed     bool
	manifest   *manifest.Manifest
	scratchpad string
	// chunks already written into [scratchpad]
	written   []bool
	remaining int
	// chunks written into [scratchpad] after being fetched from peers
	fetched []int

	// Closed when the sync completed or aborted.
	doneChan chan struct{}

	errLock sync.Mutex
	// If non-nil, there was a fatal error.
	// [errLock] must be held when accessing [fatalError].
	fatalError error

	// Cancels all currently processing work items.
	cancelCtx context.CancelFunc
	closeOnce sync.Once
}

func NewManager(config ManagerConfig) (*Manager, error) {
	switch {
	case config.StateManager == nil:
		return nil, ErrNoStateManagerProvided
	case config.Refs == nil:
		return nil, ErrNoRefsProvided
	case config.Client == nil:
		return nil, ErrNoClientProvided
	case config.Metrics == nil:
		return nil, ErrNoMetricsProvided
	case config.Log == nil:
		return nil, ErrNoLogProvided
	}
	if err := config.Config.Verify(); err != nil {
		return nil, err
	}

	m := &Manager{
		config:          config,
		doneChan:        make(chan struct{}),
		unprocessedWork: newWorkHeap(),
	}
	m.unprocessedWorkCond.L = &m.workLock
	return m, nil
}

func (m *Manager) Start(ctx context.Context) error {
	m.workLock.Lock()
	defer m.workLock.Unlock()

	switch {
	case m.closed:
		return ErrAlreadyClosed
	case m.status != Unstarted:
		return ErrAlreadyStarted
	}
	if err := m.config.Refs.Insert(m.config.Height, m.config.RootHash); err != nil {
		return err
	}

	m.config.Log.Info("starting state sync",
		zap.Uint64("height", m.config.Height),
		zap.Stringer("rootHash", m.config.RootHash),
	)

	m.status = Active
	ctx, m.cancelCtx = context.WithCancel(ctx)
	go m.run(ctx)
	return nil
}

func (m *Manager) run(ctx context.Context) {
	err := m.sync(ctx)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	}

	if err != nil {
		m.setError(err)
		m.abort()
	} else {
		m.workLock.Lock()
		m.status = Completed
		m.workLock.Unlock()
		m.config.Log.Info("completed state sync",
			zap.Uint64("height", m.config.Height),
			zap.Stringer("rootHash", m.config.RootHash),
		)
	}

	m.config.Refs.Remove(m.config.Height)
	m.config.Metrics.remainingChunks.Set(0)
	close(m.doneChan)
}

// sync fetches the manifest, assembles the checkpoint in a scratchpad from
// local chunks, cached chunks and chunks of peers, then registers it.
func (m *Manager) sync(ctx context.Context) error {
	start := time.Now()
	mf, err := m.fetchManifest(ctx)
	if err != nil {
		return err
	}
	m.config.Metrics.observeStep(stepFetch, start)

	layout := m.config.StateManager.Layout()
	scratchpad, err := layout.Scratchpad(scratchpadPrefix)
	if err != nil {
		return err
	}

	m.workLock.Lock()
	m.manifest = mf
	m.scratchpad = scratchpad
	m.written = make([]bool, len(mf.ChunkTable))
	m.remaining = len(mf.ChunkTable)
	m.workLock.Unlock()
	m.config.Metrics.remainingChunks.Set(float64(len(mf.ChunkTable)))

	if err := m.copyLocalState(mf, scratchpad); err != nil {
		return err
	}
	if err := m.copyCachedChunks(mf, scratchpad); err != nil {
		return err
	}

	start = time.Now()
	if err := m.fetchChunks(ctx); err != nil {
		return err
	}
	m.config.Metrics.observeStep(stepFetch, start)

	if err := ctx.Err(); err != nil {
		return err
	}
	return m.makeCheckpoint(ctx, mf, scratchpad)
}

// fetchManifest fetches the meta-manifest and the sub-manifests and checks
// the assembled manifest against the target root hash. Manifests that don't
// match are never accepted: the next attempt goes to another peer.
func (m *Manager) fetchManifest(ctx context.Context) (*manifest.Manifest, error) {
	var lastErr error
	for attempt := 0; attempt < m.config.MaxManifestAttempts; attempt++ {
		if err := sleep(ctx, calculateBackoff(attempt)); err != nil {
			return nil, err
		}

		meta, nodeID, err := m.config.Client.GetMetaManifest(ctx, m.config.Height, m.config.RootHash)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			m.config.Log.Debug("failed to fetch meta-manifest",
				zap.Uint64("height", m.config.Height),
				zap.Stringer("nodeID", nodeID),
				zap.Error(err),
			)
			continue
		}

		subs := make([][]byte, len(meta.SubManifestHashes))
		for i := range subs {
			subs[i], err = m.fetchSubManifest(ctx, meta, i)
			if err != nil {
				return nil, err
			}
		}

		mf, err := manifest.Decode(bytes.Join(subs, nil))
		if err == nil {
			err = manifest.Validate(mf, m.config.RootHash)
		}
		if err != nil {
			lastErr = err
			m.config.Client.RegisterInvalidResponse(nodeID)
			m.config.Log.Warn("rejecting manifest",
				zap.Uint64("height", m.config.Height),
				zap.Stringer("rootHash", m.config.RootHash),
				zap.Stringer("nodeID", nodeID),
				zap.Error(err),
			)
			continue
		}
		return mf, nil
	}
	return nil, fmt.Errorf("%w fetching the manifest: %w", ErrTooManyRetries, lastErr)
}

// fetchSubManifest fetches sub-manifest [index] of [meta]. Failed requests
// count against MaxManifestAttempts and corrupted responses against
// MaxChunkRetries.
func (m *Manager) fetchSubManifest(ctx context.Context, meta *manifest.MetaManifest, index int) ([]byte, error) {
	var (
		failures    int
		corruptions int
	)
	for attempt := 0; ; attempt++ {
		if err := sleep(ctx, calculateBackoff(attempt)); err != nil {
			return nil, err
		}

		sub, nodeID, err := m.config.Client.GetSubManifest(ctx, m.config.Height, index)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			if failures >= m.config.MaxManifestAttempts {
				return nil, fmt.Errorf("%w fetching sub-manifest %d: %w", ErrTooManyRetries, index, err)
			}
			m.config.Log.Debug("failed to fetch sub-manifest",
				zap.Uint64("height", m.config.Height),
				zap.Int("index", index),
				zap.Stringer("nodeID", nodeID),
				zap.Error(err),
			)
			continue
		}
		if err := manifest.ValidateSubManifest(meta, index, sub); err != nil {
			m.config.Client.RegisterInvalidResponse(nodeID)
			corruptions++
			if corruptions >= m.config.MaxChunkRetries {
				return nil, fmt.Errorf("%w fetching sub-manifest %d: %w", ErrTooManyRetries, index, err)
			}
			continue
		}
		return sub, nil
	}
}

// copyLocalState copies the files and chunks that the latest local
// checkpoint shares with the synced state and preallocates the rest.
func (m *Manager) copyLocalState(mf *manifest.Manifest, scratchpad string) error {
	ref, bundle, ok := m.config.StateManager.LatestCheckpoint()
	if !ok {
		start := time.Now()
		if err := manifest.Preallocate(scratchpad, mf); err != nil {
			return err
		}
		m.config.Metrics.observeStep(stepPreallocate, start)
		return nil
	}
	defer func() {
		if err := ref.Release(); err != nil {
			m.config.Log.Warn("failed to release checkpoint",
				zap.Uint64("height", ref.Height()),
				zap.Error(err),
			)
		}
	}()
	local := bundle.Manifest

	start := time.Now()
	uncopied := &manifest.Manifest{Version: mf.Version}
	ranges := mf.FileRanges()
	for i, fi := range mf.FileTable {
		j, ok := local.FileIndex(fi.RelativePath)
		if !ok || local.FileTable[j].Hash != fi.Hash || local.FileTable[j].SizeBytes != fi.SizeBytes {
			uncopied.FileTable = append(uncopied.FileTable, fi)
			continue
		}
		dst := filepath.Join(scratchpad, filepath.FromSlash(fi.RelativePath))
		if err := os.MkdirAll(filepath.Dir(dst), perms.ReadWriteExecute); err != nil {
			return err
		}
		src := filepath.Join(ref.Path(), filepath.FromSlash(fi.RelativePath))
		if err := filesystem.CopyFile(src, dst); err != nil {
			return err
		}
		for index := ranges[i].Start; index < ranges[i].End; index++ {
			m.markWritten(index, sourceCopy)
		}
	}
	m.config.Metrics.observeStep(stepCopyFiles, start)

	start = time.Now()
	if err := manifest.Preallocate(scratchpad, uncopied); err != nil {
		return err
	}
	m.config.Metrics.observeStep(stepPreallocate, start)

	start = time.Now()
	copied := 0
	for index, from := range manifest.DiffChunks(local, mf) {
		if m.isWritten(index) {
			continue
		}
		chunk, err := manifest.ReadChunk(ref.Path(), local, from)
		if err != nil {
			return err
		}
		// The local checkpoint may be corrupted, in which case the chunk is
		// fetched from peers.
		if err := manifest.ValidateChunk(mf, index, chunk); err != nil {
			m.config.Log.Warn("local chunk failed verification",
				zap.Uint64("localHeight", ref.Height()),
				zap.Int("index", from),
				zap.Error(err),
			)
			continue
		}
		if err := manifest.WriteChunk(scratchpad, mf, index, chunk); err != nil {
			return err
		}
		m.markWritten(index, sourceCopy)
		copied++
	}
	m.config.Metrics.observeStep(stepCopyChunks, start)

	m.config.Log.Debug("copied local state",
		zap.Uint64("height", m.config.Height),
		zap.Uint64("localHeight", ref.Height()),
		zap.Int("numFiles", len(mf.FileTable)-len(uncopied.FileTable)),
		zap.Int("numChunks", copied),
	)
	return nil
}

// copyCachedChunks writes the chunks kept from aborted syncs.
func (m *Manager) copyCachedChunks(mf *manifest.Manifest, scratchpad string) error {
	for index, c := range mf.ChunkTable {
		if m.isWritten(index) {
			continue
		}
		chunk, ok := m.config.Refs.CachedChunk(c.Hash)
		if !ok || manifest.ValidateChunk(mf, index, chunk) != nil {
			continue
		}
		if err := manifest.WriteChunk(scratchpad, mf, index, chunk); err != nil {
			return err
		}
		m.markWritten(index, sourceCache)
	}
	return nil
}

// fetchChunks fetches every chunk that isn't written yet from peers.
func (m *Manager) fetchChunks(ctx context.Context) error {
	m.workLock.Lock()
	now := time.Now()
	for index, written := range m.written {
		if !written {
			m.unprocessedWork.Insert(newWorkItem(index, lowPriority, now))
		}
	}
	m.workLock.Unlock()

	// Wake up the work loop when the sync is canceled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			m.workLock.Lock()
			m.unprocessedWorkCond.Broadcast()
			m.workLock.Unlock()
		case <-stop:
		}
	}()

	m.workLock.Lock()
	defer m.workLock.Unlock()

	// Keep doing work until we're done or [ctx] is canceled.
	for ctx.Err() == nil {
		// Invariant: [m.workLock] is held here.
		if m.processingWorkItems >= m.config.SimultaneousWorkLimit {
			// We're already processing the maximum number of work items.
			// Wait until one of them finishes.
			m.unprocessedWorkCond.Wait()
			continue
		}
		if m.unprocessedWork.Len() == 0 {
			if m.processingWorkItems == 0 {
				// There's no work to do, and there are no work items being processed
				// which could cause work to be added, so we're done.
				break
			}
			m.unprocessedWorkCond.Wait()
			continue
		}
		m.processingWorkItems++
		work := m.unprocessedWork.GetWork()
		go m.doWork(ctx, work)
	}

	// Chunks must not be written into the scratchpad once this returns.
	for m.processingWorkItems > 0 {
		m.unprocessedWorkCond.Wait()
	}
	return ctx.Err()
}

func (m *Manager) finishWorkItem() {
	m.workLock.Lock()
	defer m.workLock.Unlock()

	m.processingWorkItems--
	m.unprocessedWorkCond.Signal()
}

// Processes [work] by fetching the chunk from a peer and writing it into
// the scratchpad once verified.
func (m *Manager) doWork(ctx context.Context, work *workItem) {
	defer m.finishWorkItem()

	// Backoff for failed requests accounting for time this job has already
	// spent waiting in the unprocessed queue
	waitTime := calculateBackoff(work.attempt) - time.Since(work.queueTime)
	if err := sleep(ctx, waitTime); err != nil {
		return
	}

	m.workLock.Lock()
	mf, scratchpad := m.manifest, m.scratchpad
	m.workLock.Unlock()

	chunk, nodeID, err := m.config.Client.GetChunk(ctx, m.config.Height, work.index)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.config.Log.Debug("failed to fetch chunk",
			zap.Uint64("height", m.config.Height),
			zap.Int("index", work.index),
			zap.Int("attempt", work.attempt),
			zap.Error(err),
		)
		m.retryWork(work, false)
		return
	}

	if err := manifest.ValidateChunk(mf, work.index, chunk); err != nil {
		m.config.Metrics.corruptedChunks.Inc()
		m.config.Client.RegisterInvalidResponse(nodeID)
		m.config.Log.Warn("discarding corrupted chunk",
			zap.Uint64("height", m.config.Height),
			zap.Int("index", work.index),
			zap.Stringer("nodeID", nodeID),
			zap.Error(err),
		)
		if work.corruptions+1 >= m.config.MaxChunkRetries {
			m.setError(fmt.Errorf("%w fetching chunk %d: %w", ErrTooManyRetries, work.index, err))
			return
		}
		m.retryWork(work, true)
		return
	}

	if err := manifest.WriteChunk(scratchpad, mf, work.index, chunk); err != nil {
		m.setError(err)
		return
	}
	m.markWritten(work.index, sourceNetwork)
}

// retryWork queues [work] again ahead of the chunks that were never tried.
func (m *Manager) retryWork(work *workItem, corrupted bool) {
	work.priority = retryPriority
	work.queueTime = time.Now()
	work.attempt++
	if corrupted {
		work.corruptions++
	}

	m.workLock.Lock()
	defer m.workLock.Unlock()

	m.unprocessedWork.Insert(work)
	m.unprocessedWorkCond.Signal()
}

func (m *Manager) markWritten(index int, source string) {
	m.workLock.Lock()
	defer m.workLock.Unlock()

	if m.written[index] {
		return
	}
	m.written[index] = true
	m.remaining--
	if source == sourceNetwork {
		m.fetched = append(m.fetched, index)
	}
	m.config.Metrics.chunks.WithLabelValues(source).Inc()
	m.config.Metrics.remainingChunks.Set(float64(m.remaining))
}

func (m *Manager) isWritten(index int) bool {
	m.workLock.Lock()
	defer m.workLock.Unlock()

	return m.written[index]
}

// makeCheckpoint checks the assembled state against the target root hash,
// turns it into a checkpoint and registers it with the state manager.
func (m *Manager) makeCheckpoint(ctx context.Context, mf *manifest.Manifest, scratchpad string) error {
	start := time.Now()
	defer m.config.Metrics.observeStep(stepMakeCheckpoint, start)

	computed, err := m.config.StateManager.Computer().Compute(ctx, scratchpad, nil)
	if err != nil {
		return err
	}
	if rootHash := manifest.RootHash(computed); rootHash != m.config.RootHash {
		return fmt.Errorf("%w: expected %s, assembled %s", manifest.ErrRootHashMismatch, m.config.RootHash, rootHash)
	}

	layout := m.config.StateManager.Layout()
	path, err := layout.PromoteScratchpad(scratchpad, m.config.Height)
	if err != nil {
		return err
	}
	m.workLock.Lock()
	m.scratchpad = ""
	m.workLock.Unlock()

	s, err := state.LoadCheckpoint(path, m.config.Height)
	if err != nil {
		if removeErr := layout.ForceRemoveCheckpoint(m.config.Height); removeErr != nil {
			m.config.Log.Error("failed to remove synced checkpoint",
				zap.Uint64("height", m.config.Height),
				zap.Error(removeErr),
			)
		}
		return err
	}
	return m.config.StateManager.OnSyncedCheckpoint(s, m.config.Height, mf, m.config.RootHash)
}

// abort keeps the chunks fetched from peers for later syncs and removes the
// scratchpad.
func (m *Manager) abort() {
	m.workLock.Lock()
	m.status = Aborted
	mf, scratchpad, fetched := m.manifest, m.scratchpad, m.fetched
	m.workLock.Unlock()

	m.config.Log.Info("aborted state sync",
		zap.Uint64("height", m.config.Height),
		zap.Stringer("rootHash", m.config.RootHash),
		zap.Error(m.Error()),
	)
	if scratchpad == "" {
		return
	}

	chunks := make([][]byte, 0, len(fetched))
	for _, index := range fetched {
		chunk, err := manifest.ReadChunk(scratchpad, mf, index)
		if err != nil {
			m.config.Log.Warn("failed to read fetched chunk",
				zap.Int("index", index),
				zap.Error(err),
			)
			continue
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) > 0 {
		if err := m.config.Refs.CacheChunks(chunks); err != nil {
			m.config.Log.Warn("failed to cache fetched chunks",
				zap.Int("numChunks", len(chunks)),
				zap.Error(err),
			)
		}
	}
	if err := os.RemoveAll(scratchpad); err != nil {
		m.config.Log.Warn("failed to remove scratchpad",
			zap.String("path", scratchpad),
			zap.Error(err),
		)
	}
}

// Wait blocks until the sync completed or aborted and returns the reason it
// aborted, if any.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.doneChan:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.Error()
}

// Close will stop the syncing process
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.workLock.Lock()
		defer m.workLock.Unlock()

		m.closed = true
		if m.status == Unstarted {
			m.status = Aborted
			close(m.doneChan)
			return
		}

		// Don't process any more work items.
		// Drop currently processing work items.
		m.cancelCtx()
		// ensure any goroutines waiting for work from the heap gets released
		m.unprocessedWork.Close()
		m.unprocessedWorkCond.Broadcast()
	})
}

func (m *Manager) Status() Status {
	m.workLock.Lock()
	defer m.workLock.Unlock()

	return m.status
}

func (m *Manager) Error() error {
	m.errLock.Lock()
	defer m.errLock.Unlock()

	return m.fatalError
}

// Record that there was a fatal error and begin shutting down.
func (m *Manager) setError(err error) {
	m.errLock.Lock()
	defer m.errLock.Unlock()

	if m.fatalError != nil {
		return
	}
	m.config.Log.Error("state sync errored",
		zap.Uint64("height", m.config.Height),
		zap.Error(err),
	)
	m.fatalError = err
	m.cancelCtx()
}

func calculateBackoff(attempt int) time.Duration {
	if attempt == 0 {
		return 0
	}

	retryWait := float64(initialRetryWait) * math.Pow(retryWaitFactor, float64(attempt))
	if retryWait >= float64(maxRetryWait) {
		return maxRetryWait
	}
	return time.Duration(retryWait)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
