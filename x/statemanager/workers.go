// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/replicastate/x/manifest"
	"github.com/ava-labs/replicastate/x/state"
	"github.com/ava-labs/replicastate/x/statelayout"
)

// manifestRequest is either a manifest to compute or, if [wait] is set, a
// marker closed once every request queued before it is processed.
type manifestRequest struct {
	height     uint64
	checkpoint *statelayout.CheckpointRef
	delta      *manifest.Delta
	wait       chan struct{}
}

// tipRequest is either a checkpoint to write or, if [reset] is set, a reset
// of the tip directory to the checkpoint at [height].
type tipRequest struct {
	height uint64
	state  *state.ReplicatedState
	reset  bool
	result chan<- checkpointResult
}

type checkpointResult struct {
	checkpoint *statelayout.CheckpointRef
	err        error
}

// releaser is an object whose release may touch the disk.
type releaser interface {
	Release() error
}

// runManifestWorker computes manifests one at a time, in the order they
// were requested.
func (m *Manager) runManifestWorker() {
	defer m.workers.Done()

	for {
		req, ok := m.manifestRequests.PopLeft()
		if !ok {
			return
		}
		m.metrics.manifestQueueLength.Set(float64(m.manifestRequests.Len()))
		if req.wait != nil {
			close(req.wait)
			continue
		}
		m.computeManifest(req)
	}
}

func (m *Manager) computeManifest(req manifestRequest) {
	defer m.deallocateCheckpoint(req.checkpoint)

	mf, err := m.computer.Compute(m.ctx, req.checkpoint.Path(), req.delta)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		m.log.Error("failed to compute manifest",
			zap.Uint64("height", req.height),
			zap.Error(err),
		)
		m.metrics.errors.WithLabelValues(computeManifestError).Inc()
		return
	}
	bundle, err := manifest.NewBundle(mf)
	if err != nil {
		m.log.Error("failed to bundle manifest",
			zap.Uint64("height", req.height),
			zap.Error(err),
		)
		m.metrics.errors.WithLabelValues(computeManifestError).Inc()
		return
	}

	m.lock.Lock()
	sm, ok := m.states.Get(&stateMetadata{height: req.height})
	if !ok || sm.bundle != nil {
		// The checkpoint was removed while its manifest was computed.
		m.lock.Unlock()
		return
	}
	sm.bundle = bundle
	if latest, ok := m.latestManifest(); ok {
		m.metrics.latestManifestHeight.Set(float64(latest.height))
	}
	m.log.Debug("computed manifest",
		zap.Uint64("height", req.height),
		zap.Stringer("rootHash", bundle.RootHash),
	)
	m.releaseLockAndPersistMetadata()
}

// FlushManifestWorker blocks until every manifest requested so far is
// computed.
func (m *Manager) FlushManifestWorker() {
	wait := make(chan struct{})
	if !m.manifestRequests.PushRight(manifestRequest{wait: wait}) {
		return
	}
	select {
	case <-wait:
	case <-m.ctx.Done():
	}
}

func (m *Manager) enqueueManifest(req manifestRequest) {
	if !m.manifestRequests.PushRight(req) {
		m.deallocateCheckpoint(req.checkpoint)
		return
	}
	m.metrics.manifestQueueLength.Set(float64(m.manifestRequests.Len()))
}

// runTipWorker owns the tip directory and the creation of checkpoints.
func (m *Manager) runTipWorker() {
	defer m.workers.Done()

	for {
		req, ok := m.tipRequests.PopLeft()
		if !ok {
			return
		}
		m.metrics.tipQueueLength.Set(float64(m.tipRequests.Len()))
		if req.reset {
			if err := m.layout.ResetTip(req.height); err != nil {
				m.log.Warn("failed to reset tip",
					zap.Uint64("height", req.height),
					zap.Error(err),
				)
				m.metrics.errors.WithLabelValues(resetTipError).Inc()
			}
			continue
		}
		checkpoint, err := m.writeCheckpoint(req.state, req.height)
		req.result <- checkpointResult{
			checkpoint: checkpoint,
			err:        err,
		}
	}
}

// writeCheckpoint writes [s] into the tip directory and turns the tip into
// the checkpoint at [height].
func (m *Manager) writeCheckpoint(s *state.ReplicatedState, height uint64) (*statelayout.CheckpointRef, error) {
	start := time.Now()
	if err := m.layout.ClearTip(); err != nil {
		return nil, fmt.Errorf("failed to clear tip: %w", err)
	}
	if err := s.WriteCheckpoint(m.layout.Tip()); err != nil {
		return nil, fmt.Errorf("failed to write tip: %w", err)
	}
	if _, err := m.layout.CheckpointTip(height); err != nil {
		return nil, err
	}
	m.metrics.checkpointDuration.Observe(time.Since(start).Seconds())
	return m.layout.Checkpoint(height)
}

// makeCheckpoint asks the tip worker to write [s] as the checkpoint at
// [height] and waits for the result. If the checkpoint already exists, for
// example because it was state synced, a reference to it is returned.
func (m *Manager) makeCheckpoint(s *state.ReplicatedState, height uint64) (*statelayout.CheckpointRef, error) {
	result := make(chan checkpointResult, 1)
	if !m.tipRequests.PushRight(tipRequest{
		height: height,
		state:  s,
		result: result,
	}) {
		return nil, errManagerClosed
	}
	m.metrics.tipQueueLength.Set(float64(m.tipRequests.Len()))

	var r checkpointResult
	select {
	case r = <-result:
	case <-m.ctx.Done():
		return nil, errManagerClosed
	}
	if errors.Is(r.err, statelayout.ErrCheckpointExists) {
		m.log.Info("checkpoint already exists",
			zap.Uint64("height", height),
		)
		return m.layout.Checkpoint(height)
	}
	return r.checkpoint, r.err
}

func (m *Manager) resetTip(height uint64) {
	if m.tipRequests.PushRight(tipRequest{
		height: height,
		reset:  true,
	}) {
		m.metrics.tipQueueLength.Set(float64(m.tipRequests.Len()))
	}
}

// runDeallocator releases objects off the latency sensitive paths.
func (m *Manager) runDeallocator() {
	defer m.deallocator.Done()

	for r := range m.deallocations {
		m.release(r)
	}
}

// deallocate hands [r] to the deallocator. If the deallocator is too far
// behind, [r] is released right away.
func (m *Manager) deallocate(r releaser) {
	m.deallocatorLock.RLock()
	defer m.deallocatorLock.RUnlock()

	if !m.deallocatorClosed {
		select {
		case m.deallocations <- r:
			return
		default:
		}
	}
	m.metrics.deallocationsOnCallerThread.Inc()
	m.release(r)
}

func (m *Manager) deallocateCheckpoint(ref *statelayout.CheckpointRef) {
	if ref != nil {
		m.deallocate(ref)
	}
}

func (m *Manager) release(r releaser) {
	if err := r.Release(); err != nil {
		m.log.Warn("failed to release object",
			zap.String("type", fmt.Sprintf("%T", r)),
			zap.Error(err),
		)
		m.metrics.errors.WithLabelValues(releaseError).Inc()
	}
}
