// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/ava-labs/replicastate/cache"
	"github.com/ava-labs/replicastate/cache/lru"
	"github.com/ava-labs/replicastate/cache/metercacher"
	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/buffer"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/utils/metric"
	"github.com/ava-labs/replicastate/utils/timer/mockable"
	"github.com/ava-labs/replicastate/x/certification"
	"github.com/ava-labs/replicastate/x/hashtree"
	"github.com/ava-labs/replicastate/x/manifest"
	"github.com/ava-labs/replicastate/x/state"
	"github.com/ava-labs/replicastate/x/statelayout"
)

// InitialHeight is the height of the empty state every replica starts from.
const InitialHeight uint64 = 0

// Scope selects what CommitAndCertify keeps of a state.
type Scope byte

const (
	// ScopeMetadata keeps the state in memory only.
	ScopeMetadata Scope = iota
	// ScopeFull also writes the state to disk as a checkpoint and computes
	// its manifest.
	ScopeFull
)

func (s Scope) String() string {
	switch s {
	case ScopeMetadata:
		return "metadata"
	case ScopeFull:
		return "full"
	default:
		return "unknown"
	}
}

// CertificationMask selects heights by certification status.
type CertificationMask byte

const (
	CertCertified CertificationMask = 1 << iota
	CertUncertified
	CertAny = CertCertified | CertUncertified
)

func (m CertificationMask) matches(certified bool) bool {
	if certified {
		return m&CertCertified != 0
	}
	return m&CertUncertified != 0
}

// HeightHash is a state hash that still needs to be certified.
type HeightHash struct {
	Height uint64
	Hash   ids.ID
}

// FetchTarget is a state that should be fetched from peers.
type FetchTarget struct {
	Height      uint64
	RootHash    ids.ID
	CUPInterval uint64
}

type chunkCacheKey struct {
	height      uint64
	subManifest bool
	index       int
}

// Manager keeps the committed states of a replica, their certifications and
// their checkpoints on disk.
//
// A single goroutine executes the replicated state machine: it takes the tip
// with TakeTip, mutates it, and hands it back with CommitAndCertify.
type Manager struct {
	log      logging.Logger
	config   Config
	layout   *statelayout.Layout
	computer *manifest.Computer
	verifier certification.Verifier
	metrics  *metrics
	clock    mockable.Clock

	// lock guards the fields below. It's never held across disk writes.
	lock sync.RWMutex
	// committed states, by increasing height
	snapshots      []snapshot
	certifications *btree.BTreeG[*certificationMetadata]
	states         *btree.BTreeG[*stateMetadata]
	// nil while taken
	tip                   *state.ReplicatedState
	tipHeight             uint64
	fetchTarget           *FetchTarget
	latestCertifiedHeight uint64

	// serializes writes of the states metadata file
	persistLock sync.Mutex

	chunkCache cache.Cacher[chunkCacheKey, []byte]

	manifestRequests *buffer.UnboundedBlockingDeque[manifestRequest]
	tipRequests      *buffer.UnboundedBlockingDeque[tipRequest]

	deallocatorLock   sync.RWMutex
	deallocatorClosed bool
	deallocations     chan releaser
	deallocator       sync.WaitGroup

	ctx       context.Context
	cancel    context.CancelFunc
	workers   sync.WaitGroup
	closeOnce sync.Once
}

// New opens the states kept under [root]. Checkpoints found on disk are
// loaded and the manifests missing from the states metadata are recomputed
// in the background.
func New(
	log logging.Logger,
	root string,
	config Config,
	verifier certification.Verifier,
	namespace string,
	reg prometheus.Registerer,
) (*Manager, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}
	layout, err := statelayout.New(log, root)
	if err != nil {
		return nil, err
	}
	metrics, err := newMetrics(namespace, reg)
	if err != nil {
		return nil, err
	}
	computer, err := manifest.NewComputer(config.Manifest, log, namespace, reg)
	if err != nil {
		return nil, err
	}
	chunkCache, err := metercacher.New[chunkCacheKey, []byte](
		metric.AppendNamespace(namespace, "chunk_cache"),
		reg,
		lru.NewSizedCache(config.ChunkCacheSize, chunkCacheEntrySize),
	)
	if err != nil {
		return nil, err
	}
	if verifier == nil {
		verifier = certification.NoVerifier{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		log:              log,
		config:           config,
		layout:           layout,
		computer:         computer,
		verifier:         verifier,
		metrics:          metrics,
		certifications:   newCertificationsTree(),
		states:           newStatesTree(),
		chunkCache:       chunkCache,
		manifestRequests: buffer.NewUnboundedBlockingDeque[manifestRequest](0),
		tipRequests:      buffer.NewUnboundedBlockingDeque[tipRequest](0),
		deallocations:    make(chan releaser, config.DeallocatorBacklog),
		ctx:              ctx,
		cancel:           cancel,
	}

	m.CleanupArchivedStates()
	m.archiveCheckpointsAboveStartingHeight()
	if err := m.loadStates(); err != nil {
		cancel()
		return nil, err
	}

	m.workers.Add(2)
	go log.RecoverAndPanic(m.runManifestWorker)
	go log.RecoverAndPanic(m.runTipWorker)
	m.deallocator.Add(1)
	go log.RecoverAndPanic(m.runDeallocator)
	return m, nil
}

func chunkCacheEntrySize(_ chunkCacheKey, data []byte) int {
	return len(data) + 16
}

// loadStates populates the registry from the checkpoints on disk.
func (m *Manager) loadStates() error {
	initial := state.New()
	initial.Freeze()
	m.snapshots = []snapshot{{
		height: InitialHeight,
		state:  initial,
	}}
	m.certifications.ReplaceOrInsert(newCertificationMetadata(
		InitialHeight,
		hashtree.BuildWithConfig(initial.LazyTree(), m.config.HashTree),
	))

	persisted := m.loadMetadata()
	heights, err := m.layout.CheckpointHeights()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	var missingManifests []uint64
	for _, height := range heights {
		ref, err := m.layout.Checkpoint(height)
		if err != nil {
			return err
		}
		s, err := state.LoadCheckpoint(ref.Path(), height)
		if err != nil {
			m.log.Error("failed to load checkpoint, archiving it",
				zap.Uint64("height", height),
				zap.Error(err),
			)
			m.metrics.errors.WithLabelValues(loadCheckpointError).Inc()
			_ = ref.Release()
			if err := m.layout.ArchiveCheckpoint(height); err != nil {
				return fmt.Errorf("failed to archive checkpoint %d: %w", height, err)
			}
			continue
		}
		s.Freeze()

		sm := &stateMetadata{
			height:     height,
			checkpoint: ref,
		}
		if mf := persisted[height]; mf != nil {
			if bundle, err := manifest.NewBundle(mf); err == nil {
				sm.bundle = bundle
			}
		}
		if sm.bundle == nil {
			missingManifests = append(missingManifests, height)
		}

		m.insertSnapshot(snapshot{height: height, state: s})
		m.certifications.ReplaceOrInsert(newCertificationMetadata(
			height,
			hashtree.BuildWithConfig(s.LazyTree(), m.config.HashTree),
		))
		m.states.ReplaceOrInsert(sm)
		m.log.Info("loaded checkpoint",
			zap.Uint64("height", height),
			zap.Bool("hasManifest", sm.bundle != nil),
		)
	}

	for _, height := range missingManifests {
		ref, err := m.layout.Checkpoint(height)
		if err != nil {
			return err
		}
		m.enqueueManifest(manifestRequest{
			height:     height,
			checkpoint: ref,
		})
	}

	latest := m.snapshots[len(m.snapshots)-1]
	m.tip = latest.state.Clone()
	m.tipHeight = latest.height
	if latest.height != InitialHeight {
		m.resetTip(latest.height)
	}

	m.metrics.latestStateHeight.Set(float64(latest.height))
	m.metrics.residentStates.Set(float64(len(m.snapshots)))
	m.metrics.checkpointsOnDisk.Set(float64(m.states.Len()))
	if sm, ok := m.latestManifest(); ok {
		m.metrics.latestManifestHeight.Set(float64(sm.height))
	}
	return nil
}

// Layout is the on-disk layout of the states.
func (m *Manager) Layout() *statelayout.Layout {
	return m.layout
}

// Computer computes the manifests of the checkpoints of this manager.
func (m *Manager) Computer() *manifest.Computer {
	return m.computer
}

// TakeTip hands the mutable state following the latest committed state to
// the caller. The tip must be given back with CommitAndCertify before it can
// be taken again.
func (m *Manager) TakeTip() (uint64, *state.ReplicatedState) {
	defer m.observe("take_tip", time.Now())

	m.lock.Lock()
	defer m.lock.Unlock()

	if m.tip == nil {
		m.log.Fatal("tip is already taken")
		panic("tip is already taken")
	}

	latest := m.snapshots[len(m.snapshots)-1]
	if latest.height > m.tipHeight {
		// A newer state was synced or cloned while the tip was idle.
		m.log.Info("reinitializing tip",
			zap.Uint64("tipHeight", m.tipHeight),
			zap.Uint64("height", latest.height),
		)
		m.tip = latest.state.Clone()
		m.tipHeight = latest.height
		if _, ok := m.states.Get(&stateMetadata{height: latest.height}); ok {
			m.resetTip(latest.height)
		}
	}

	cm, ok := m.certifications.Get(&certificationMetadata{height: m.tipHeight})
	if !ok {
		m.log.Fatal("missing certification metadata of the tip",
			zap.Uint64("height", m.tipHeight),
		)
		panic("missing certification metadata of the tip")
	}

	tip := m.tip
	m.tip = nil
	tip.SetPrevStateHash(cm.certifiedHash)
	return m.tipHeight, tip
}

// TakeTipAt takes the tip only if it follows the state at [height].
// Otherwise the tip is left in place.
func (m *Manager) TakeTipAt(height uint64) (*state.ReplicatedState, error) {
	tipHeight, tip := m.TakeTip()
	switch {
	case tipHeight < height:
		m.restoreTip(tip)
		return nil, fmt.Errorf("%w: tip is at %d, requested %d", ErrStateNotCommittedYet, tipHeight, height)
	case tipHeight > height:
		m.restoreTip(tip)
		return nil, fmt.Errorf("%w: tip is at %d, requested %d", ErrStateRemoved, tipHeight, height)
	default:
		return tip, nil
	}
}

func (m *Manager) restoreTip(tip *state.ReplicatedState) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.tip = tip
}

// CommitAndCertify commits [s], the tip taken with TakeTip, as the state at
// [height] and computes its hash tree. With ScopeFull [s] is also written as
// a checkpoint whose manifest is computed in the background.
//
// Committing a height twice with different states is fatal.
func (m *Manager) CommitAndCertify(s *state.ReplicatedState, height uint64, scope Scope) {
	defer m.observe("commit_and_certify", time.Now())

	// [s] is frozen from now on and becomes the snapshot.
	tip := s.Clone()

	var (
		checkpoint *statelayout.CheckpointRef
		delta      *manifest.Delta
	)
	if scope == ScopeFull {
		m.FlushManifestWorker()
		delta = m.manifestDelta(s, height)

		var err error
		checkpoint, err = m.makeCheckpoint(s, height)
		if err != nil {
			m.log.Fatal("failed to make checkpoint",
				zap.Uint64("height", height),
				zap.Error(err),
			)
			panic(fmt.Sprintf("failed to make checkpoint at height %d: %s", height, err))
		}
		tip.MarkCheckpointed(height)
	}

	tree := hashtree.BuildWithConfig(s.LazyTree(), m.config.HashTree)

	m.lock.Lock()
	if m.tip != nil {
		m.lock.Unlock()
		m.log.Fatal("committed a state that wasn't taken",
			zap.Uint64("height", height),
		)
		panic("committed a state that wasn't taken")
	}
	if cm, ok := m.certifications.Get(&certificationMetadata{height: height}); ok && cm.certifiedHash != tree.RootHash() {
		m.lock.Unlock()
		m.log.Fatal("committed the same height twice with different states",
			zap.Uint64("height", height),
			zap.Stringer("committedHash", cm.certifiedHash),
			zap.Stringer("newHash", tree.RootHash()),
		)
		panic(fmt.Sprintf("committed height %d twice with different states", height))
	}

	if _, ok := m.snapshotAt(height); !ok {
		m.insertSnapshot(snapshot{height: height, state: s})
		if _, ok := m.certifications.Get(&certificationMetadata{height: height}); !ok {
			m.certifications.ReplaceOrInsert(newCertificationMetadata(height, tree))
		}
		if checkpoint != nil {
			if _, ok := m.states.Get(&stateMetadata{height: height}); !ok {
				m.states.ReplaceOrInsert(&stateMetadata{
					height:     height,
					checkpoint: checkpoint,
				})
				ref, err := m.layout.Checkpoint(height)
				if err == nil {
					m.enqueueManifest(manifestRequest{
						height:     height,
						checkpoint: ref,
						delta:      delta,
					})
				} else {
					m.log.Error("failed to reference checkpoint",
						zap.Uint64("height", height),
						zap.Error(err),
					)
				}
				checkpoint = nil
			}
		}
		m.metrics.latestStateHeight.Set(float64(m.snapshots[len(m.snapshots)-1].height))
		m.metrics.residentStates.Set(float64(len(m.snapshots)))
		m.metrics.checkpointsOnDisk.Set(float64(m.states.Len()))
	}

	m.tip = tip
	m.tipHeight = height

	if scope == ScopeFull {
		m.releaseLockAndPersistMetadata()
	} else {
		m.lock.Unlock()
	}
	// set only if the checkpoint was already registered
	m.deallocateCheckpoint(checkpoint)
}

// manifestDelta returns the changes of [s] relative to the checkpoint it
// tracks dirty pages against, if the manifest of that checkpoint is known.
func (m *Manager) manifestDelta(s *state.ReplicatedState, height uint64) *manifest.Delta {
	baseHeight := s.LastCheckpointHeight()

	m.lock.RLock()
	defer m.lock.RUnlock()

	sm, ok := m.states.Get(&stateMetadata{height: baseHeight})
	if !ok || sm.bundle == nil {
		return nil
	}
	return &manifest.Delta{
		Base:         sm.bundle.Manifest,
		BaseHeight:   baseHeight,
		TargetHeight: height,
		DirtyPages:   s.DirtyPages(),
	}
}

// GetStateHashAt returns the root hash of the manifest of the checkpoint at
// [height].
func (m *Manager) GetStateHashAt(height uint64) (ids.ID, error) {
	defer m.observe("get_state_hash_at", time.Now())

	m.lock.RLock()
	defer m.lock.RUnlock()

	if sm, ok := m.states.Get(&stateMetadata{height: height}); ok {
		if sm.bundle == nil {
			return ids.Empty, transient(height, ErrHashNotComputedYet)
		}
		return sm.bundle.RootHash, nil
	}

	last, ok := m.certifications.Max()
	if !ok || last.height < height {
		return ids.Empty, transient(height, ErrStateNotCommittedYet)
	}
	first, _ := m.certifications.Min()
	if height < first.height {
		return ids.Empty, permanent(height, ErrStateRemoved)
	}
	return ids.Empty, permanent(height, ErrStateNotFullyCertified)
}

// ListStateHashesToCertify returns the hashes of the committed states that
// aren't certified yet, by increasing height.
func (m *Manager) ListStateHashesToCertify() []HeightHash {
	defer m.observe("list_state_hashes_to_certify", time.Now())

	m.lock.RLock()
	defer m.lock.RUnlock()

	var hashes []HeightHash
	m.certifications.Ascend(func(cm *certificationMetadata) bool {
		if cm.certification == nil {
			hashes = append(hashes, HeightHash{
				Height: cm.height,
				Hash:   cm.certifiedHash,
			})
		}
		return true
	})
	return hashes
}

// DeliverStateCertification records [c]. A certification whose signature
// doesn't verify is rejected. A certification of a different hash than the
// one computed locally means this replica diverged, which is fatal.
func (m *Manager) DeliverStateCertification(c certification.Certification) error {
	defer m.observe("deliver_state_certification", time.Now())

	if err := m.verifier.Verify(c); err != nil {
		m.log.Warn("dropping invalid certification",
			zap.Uint64("height", c.Height),
			zap.Error(err),
		)
		return err
	}

	m.lock.Lock()
	cm, ok := m.certifications.Get(&certificationMetadata{height: c.Height})
	if !ok {
		m.lock.Unlock()
		m.log.Debug("ignoring certification of unknown height",
			zap.Uint64("height", c.Height),
		)
		return nil
	}
	if cm.certifiedHash != c.Hash {
		m.lock.Unlock()
		if err := m.layout.CreateDivergedStateMarker(c.Height); err != nil {
			m.log.Error("failed to mark diverged state",
				zap.Uint64("height", c.Height),
				zap.Error(err),
			)
		}
		m.log.Fatal("state diverged",
			zap.Uint64("height", c.Height),
			zap.Stringer("localHash", cm.certifiedHash),
			zap.Stringer("certifiedHash", c.Hash),
		)
		panic(fmt.Sprintf("state at height %d diverged", c.Height))
	}

	cm.certification = &c
	if c.Height > m.latestCertifiedHeight {
		m.latestCertifiedHeight = c.Height
		m.metrics.latestCertifiedHeight.Set(float64(c.Height))
	}
	// Witnesses are only served for the latest certified state.
	m.certifications.AscendLessThan(&certificationMetadata{height: m.latestCertifiedHeight}, func(cm *certificationMetadata) bool {
		cm.hashTree = nil
		return true
	})
	m.lock.Unlock()
	return nil
}

// LatestStateHeight is the height of the latest committed state.
func (m *Manager) LatestStateHeight() uint64 {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.snapshots[len(m.snapshots)-1].height
}

func (m *Manager) LatestCertifiedHeight() uint64 {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.latestCertifiedHeight
}

// GetLatestState returns the latest committed state. It must not be
// modified.
func (m *Manager) GetLatestState() (uint64, *state.ReplicatedState) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	latest := m.snapshots[len(m.snapshots)-1]
	return latest.height, latest.state
}

// GetStateAt returns the committed state at [height], loading it from its
// checkpoint if it isn't kept in memory. It must not be modified.
func (m *Manager) GetStateAt(height uint64) (*state.ReplicatedState, error) {
	defer m.observe("get_state_at", time.Now())

	m.lock.RLock()
	latest := m.snapshots[len(m.snapshots)-1].height
	snap, ok := m.snapshotAt(height)
	m.lock.RUnlock()

	switch {
	case latest < height:
		return nil, fmt.Errorf("%w: %d", ErrStateNotCommittedYet, height)
	case ok:
		return snap.state, nil
	}

	ref, err := m.layout.Checkpoint(height)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrStateRemoved, height)
	}
	defer m.deallocate(ref)

	s, err := state.LoadCheckpoint(ref.Path(), height)
	if err != nil {
		m.log.Error("failed to load checkpoint",
			zap.Uint64("height", height),
			zap.Error(err),
		)
		m.metrics.errors.WithLabelValues(loadCheckpointError).Inc()
		return nil, fmt.Errorf("%w: %d: %w", ErrStateRemoved, height, err)
	}
	s.Freeze()
	return s, nil
}

// ListStateHeights returns the heights of the states in memory or on disk
// whose certification status matches [mask].
func (m *Manager) ListStateHeights(mask CertificationMask) []uint64 {
	defer m.observe("list_state_heights", time.Now())

	checkpoints := m.CheckpointHeights()

	m.lock.RLock()
	defer m.lock.RUnlock()

	heights := make([]uint64, 0, len(checkpoints)+len(m.snapshots))
	heights = append(heights, checkpoints...)
	for _, snap := range m.snapshots {
		heights = append(heights, snap.height)
	}
	slices.Sort(heights)
	heights = slices.Compact(heights)

	matching := heights[:0]
	for _, height := range heights {
		cm, ok := m.certifications.Get(&certificationMetadata{height: height})
		if mask.matches(ok && cm.certification != nil) {
			matching = append(matching, height)
		}
	}
	return matching
}

// CheckpointHeights returns the heights of the checkpoints on disk.
func (m *Manager) CheckpointHeights() []uint64 {
	heights, err := m.layout.CheckpointHeights()
	if err != nil {
		m.log.Fatal("failed to list checkpoints",
			zap.Error(err),
		)
		panic(fmt.Sprintf("failed to list checkpoints: %s", err))
	}
	m.metrics.checkpointsOnDisk.Set(float64(len(heights)))
	return heights
}

// ReadCertifiedState returns the latest certified state along with a
// witness of the values at [paths] and the certification of the state.
func (m *Manager) ReadCertifiedState(paths *hashtree.LabeledTree) (*state.ReplicatedState, *hashtree.MixedHashTree, certification.Certification, bool) {
	defer m.observe("read_certified_state", time.Now())

	m.lock.RLock()
	cm, ok := m.certifications.Get(&certificationMetadata{height: m.latestCertifiedHeight})
	if !ok || cm.certification == nil || cm.hashTree == nil {
		m.lock.RUnlock()
		return nil, nil, certification.Certification{}, false
	}
	snap, ok := m.snapshotAt(cm.height)
	tree := cm.hashTree
	cert := *cm.certification
	m.lock.RUnlock()
	if !ok {
		return nil, nil, certification.Certification{}, false
	}

	partial, ok := hashtree.MaterializePartial(snap.state.LazyTree(), paths)
	if !ok {
		return nil, nil, certification.Certification{}, false
	}
	return snap.state, tree.Witness(partial), cert, true
}

// LatestCheckpoint returns a reference to the latest checkpoint whose
// manifest is computed. The reference must be released.
func (m *Manager) LatestCheckpoint() (*statelayout.CheckpointRef, *manifest.Bundle, bool) {
	m.lock.RLock()
	sm, ok := m.latestManifest()
	m.lock.RUnlock()
	if !ok {
		return nil, nil, false
	}
	ref, err := m.layout.Checkpoint(sm.height)
	if err != nil {
		return nil, nil, false
	}
	return ref, sm.bundle, true
}

// LatestManifest returns the manifest of the latest checkpoint whose
// manifest is computed.
func (m *Manager) LatestManifest() (uint64, *manifest.Manifest, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	sm, ok := m.latestManifest()
	if !ok {
		return 0, nil, false
	}
	return sm.height, sm.bundle.Manifest, true
}

// Assumes [m.lock] is held.
func (m *Manager) latestManifest() (*stateMetadata, bool) {
	var latest *stateMetadata
	m.states.Descend(func(sm *stateMetadata) bool {
		if sm.bundle != nil {
			latest = sm
			return false
		}
		return true
	})
	return latest, latest != nil
}

// Assumes [m.lock] is held.
func (m *Manager) snapshotAt(height uint64) (snapshot, bool) {
	i, found := slices.BinarySearchFunc(m.snapshots, height, func(s snapshot, h uint64) int {
		switch {
		case s.height < h:
			return -1
		case s.height > h:
			return 1
		default:
			return 0
		}
	})
	if !found {
		return snapshot{}, false
	}
	return m.snapshots[i], true
}

// Assumes [m.lock] is held for writing.
func (m *Manager) insertSnapshot(s snapshot) {
	i := len(m.snapshots)
	for i > 0 && m.snapshots[i-1].height > s.height {
		i--
	}
	m.snapshots = slices.Insert(m.snapshots, i, s)
}

func (m *Manager) observe(op string, start time.Time) {
	m.metrics.apiCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Close stops the background workers. Manifests that aren't computed yet are
// recomputed on the next startup.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		m.manifestRequests.Close()
		m.tipRequests.Close()
		m.workers.Wait()

		m.deallocatorLock.Lock()
		m.deallocatorClosed = true
		close(m.deallocations)
		m.deallocatorLock.Unlock()
		m.deallocator.Wait()
	})
	return nil
}
