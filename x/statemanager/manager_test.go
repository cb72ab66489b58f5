// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"context"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/utils/perms"
	"github.com/ava-labs/replicastate/x/certification"
	"github.com/ava-labs/replicastate/x/hashtree"
	"github.com/ava-labs/replicastate/x/state"
)

func newTestManager(t *testing.T, root string, config Config, verifier certification.Verifier) *Manager {
	m, err := New(logging.NoLog{}, root, config, verifier, "", prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})
	return m
}

// commitNext commits the tip, modified by [write], at the next height.
func commitNext(t *testing.T, m *Manager, scope Scope, write func(*state.ReplicatedState)) uint64 {
	height, s := m.TakeTip()
	if write != nil {
		write(s)
	}
	m.CommitAndCertify(s, height+1, scope)
	return height + 1
}

func writeBytes(t *testing.T, partition string, offset uint64, data []byte) func(*state.ReplicatedState) {
	return func(s *state.ReplicatedState) {
		require.NoError(t, s.CreatePartition(partition))
		require.NoError(t, s.Write(partition, offset, data))
	}
}

func certifiedHash(t *testing.T, m *Manager, height uint64) ids.ID {
	for _, hh := range m.ListStateHashesToCertify() {
		if hh.Height == height {
			return hh.Hash
		}
	}
	require.FailNow(t, "height isn't waiting for certification", "height %d", height)
	return ids.Empty
}

func certify(t *testing.T, m *Manager, height uint64) {
	require.NoError(t, m.DeliverStateCertification(certification.Certification{
		Height: height,
		Hash:   certifiedHash(t, m, height),
	}))
}

func TestNewStartsFromInitialState(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)

	require.Equal(InitialHeight, m.LatestStateHeight())
	require.Equal(InitialHeight, m.LatestCertifiedHeight())
	require.Empty(m.CheckpointHeights())
	require.Equal([]uint64{InitialHeight}, m.ListStateHeights(CertAny))

	height, s := m.GetLatestState()
	require.Equal(InitialHeight, height)
	require.True(s.Frozen())
}

func TestCloseAfterFullCommit(t *testing.T) {
	require := require.New(t)

	m, err := New(logging.NoLog{}, t.TempDir(), DefaultConfig(), nil, "", prometheus.NewRegistry())
	require.NoError(err)

	commitNext(t, m, ScopeFull, writeBytes(t, "alice", 0, []byte{1}))
	commitNext(t, m, ScopeMetadata, nil)
	m.RemoveInMemoryStatesBelow(2)

	require.NoError(m.Close())
	require.NoError(m.Close())
}

func TestCommitAndCertify(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)

	require.Equal(uint64(1), commitNext(t, m, ScopeMetadata, writeBytes(t, "alice", 0, []byte{1})))
	require.Equal(uint64(2), commitNext(t, m, ScopeFull, writeBytes(t, "alice", 1, []byte{2})))

	require.Equal(uint64(2), m.LatestStateHeight())
	require.Equal([]uint64{2}, m.CheckpointHeights())

	s, err := m.GetStateAt(1)
	require.NoError(err)
	buf := make([]byte, 2)
	require.NoError(s.Read("alice", 0, buf))
	require.Equal([]byte{1, 0}, buf)

	height, latest := m.GetLatestState()
	require.Equal(uint64(2), height)
	require.NoError(latest.Read("alice", 0, buf))
	require.Equal([]byte{1, 2}, buf)

	hashes := m.ListStateHashesToCertify()
	require.Len(hashes, 3)
	require.Equal([]uint64{0, 1, 2}, []uint64{hashes[0].Height, hashes[1].Height, hashes[2].Height})
}

func TestCommitSetsPrevStateHash(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	commitNext(t, m, ScopeMetadata, nil)

	_, s := m.TakeTip()
	prev, ok := s.PrevStateHash()
	require.True(ok)
	require.Equal(certifiedHash(t, m, 1), prev)
	m.CommitAndCertify(s, 2, ScopeMetadata)
}

func TestTakeTipTwicePanics(t *testing.T) {
	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)

	m.TakeTip()
	require.Panics(t, func() {
		m.TakeTip()
	})
}

func TestCommitWithoutTakingTipPanics(t *testing.T) {
	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)

	require.Panics(t, func() {
		m.CommitAndCertify(state.New(), 1, ScopeMetadata)
	})
}

func TestCommitSameHeightTwice(t *testing.T) {
	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	commitNext(t, m, ScopeMetadata, writeBytes(t, "alice", 0, []byte{1}))

	_, s := m.TakeTip()
	require.NoError(t, s.Write("alice", 0, []byte{2}))
	require.Panics(t, func() {
		m.CommitAndCertify(s, 1, ScopeMetadata)
	})
}

func TestTakeTipAt(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	commitNext(t, m, ScopeMetadata, nil)

	_, err := m.TakeTipAt(2)
	require.ErrorIs(err, ErrStateNotCommittedYet)
	_, err = m.TakeTipAt(0)
	require.ErrorIs(err, ErrStateRemoved)

	s, err := m.TakeTipAt(1)
	require.NoError(err)
	m.CommitAndCertify(s, 2, ScopeMetadata)
	require.Equal(uint64(2), m.LatestStateHeight())
}

func TestGetStateHashAt(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	commitNext(t, m, ScopeMetadata, writeBytes(t, "alice", 0, []byte{1}))
	commitNext(t, m, ScopeFull, writeBytes(t, "bob", 0, []byte{2}))
	m.FlushManifestWorker()

	_, err := m.GetStateHashAt(3)
	require.ErrorIs(err, ErrStateNotCommittedYet)
	require.True(IsTransient(err))

	_, err = m.GetStateHashAt(1)
	require.ErrorIs(err, ErrStateNotFullyCertified)
	require.False(IsTransient(err))

	hash, err := m.GetStateHashAt(2)
	require.NoError(err)
	bundle, err := m.Bundle(2)
	require.NoError(err)
	require.Equal(bundle.RootHash, hash)

	// A checkpoint whose manifest is still being computed.
	m.lock.Lock()
	m.states.ReplaceOrInsert(&stateMetadata{height: 7})
	m.lock.Unlock()
	_, err = m.GetStateHashAt(7)
	require.ErrorIs(err, ErrHashNotComputedYet)
	require.True(IsTransient(err))
	m.lock.Lock()
	m.states.Delete(&stateMetadata{height: 7})
	m.lock.Unlock()

	// Once certified, heights below the certified one can be removed.
	certify(t, m, 2)
	commitNext(t, m, ScopeMetadata, nil)
	m.RemoveInMemoryStatesBelow(3)
	_, err = m.GetStateHashAt(1)
	require.ErrorIs(err, ErrStateRemoved)
	require.False(IsTransient(err))
}

func TestDeliverStateCertification(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	commitNext(t, m, ScopeMetadata, nil)
	commitNext(t, m, ScopeMetadata, writeBytes(t, "alice", 0, []byte{1}))

	// Unknown heights are ignored.
	require.NoError(m.DeliverStateCertification(certification.Certification{Height: 10}))

	certify(t, m, 2)
	require.Equal(uint64(2), m.LatestCertifiedHeight())
	require.Equal([]uint64{2}, m.ListStateHeights(CertCertified))
	require.Equal([]uint64{0, 1}, m.ListStateHeights(CertUncertified))

	// Hash trees below the latest certified height are dropped.
	m.lock.RLock()
	cm, ok := m.certifications.Get(&certificationMetadata{height: 1})
	m.lock.RUnlock()
	require.True(ok)
	require.Nil(cm.hashTree)

	// Certifying an older height doesn't move the latest certified height.
	certify(t, m, 1)
	require.Equal(uint64(2), m.LatestCertifiedHeight())
}

func TestDeliverStateCertificationDiverged(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	commitNext(t, m, ScopeMetadata, nil)

	require.Panics(func() {
		_ = m.DeliverStateCertification(certification.Certification{
			Height: 1,
			Hash:   ids.ID{1},
		})
	})
	markers, err := m.Layout().DivergedStateMarkerHeights()
	require.NoError(err)
	require.Equal([]uint64{1}, markers)
}

func TestDeliverStateCertificationVerifiesSignature(t *testing.T) {
	require := require.New(t)

	sk, err := certification.GenerateKey()
	require.NoError(err)
	verifier := certification.NewBLSVerifier(certification.PublicKeyOf(sk))
	signer := certification.NewBLSSigner(sk)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), verifier)
	commitNext(t, m, ScopeMetadata, nil)
	hash := certifiedHash(t, m, 1)

	err = m.DeliverStateCertification(certification.Certification{
		Height:    1,
		Hash:      hash,
		Signature: signer.Sign(2, hash),
	})
	require.ErrorIs(err, certification.ErrInvalidCertification)
	require.Equal(InitialHeight, m.LatestCertifiedHeight())

	require.NoError(m.DeliverStateCertification(certification.Certification{
		Height:    1,
		Hash:      hash,
		Signature: signer.Sign(1, hash),
	}))
	require.Equal(uint64(1), m.LatestCertifiedHeight())
}

func TestReadCertifiedState(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	commitNext(t, m, ScopeMetadata, writeBytes(t, "alice", 0, []byte{1}))
	commitNext(t, m, ScopeMetadata, writeBytes(t, "bob", 0, []byte{2}))

	paths := hashtree.Paths([]hashtree.Label{
		hashtree.Label("partitions"),
		hashtree.Label("alice"),
	})
	_, _, _, ok := m.ReadCertifiedState(paths)
	require.False(ok)

	certify(t, m, 2)
	s, witness, cert, ok := m.ReadCertifiedState(paths)
	require.True(ok)
	require.Equal(uint64(2), cert.Height)
	require.Equal(cert.Hash, witness.Digest())

	status, _ := witness.Lookup(hashtree.Label("partitions"), hashtree.Label("alice"))
	require.Equal(hashtree.Found, status)

	buf := make([]byte, 1)
	require.NoError(s.Read("bob", 0, buf))
	require.Equal([]byte{2}, buf)
}

func TestReloadFromDisk(t *testing.T) {
	require := require.New(t)

	root := t.TempDir()
	m, err := New(logging.NoLog{}, root, DefaultConfig(), nil, "", prometheus.NewRegistry())
	require.NoError(err)
	commitNext(t, m, ScopeFull, writeBytes(t, "alice", 0, []byte{1}))
	commitNext(t, m, ScopeMetadata, nil)
	commitNext(t, m, ScopeFull, writeBytes(t, "alice", 4096, []byte{3}))
	m.FlushManifestWorker()
	hash, err := m.GetStateHashAt(3)
	require.NoError(err)
	certHash := certifiedHash(t, m, 3)
	require.NoError(m.Close())

	m = newTestManager(t, root, DefaultConfig(), nil)
	require.Equal(uint64(3), m.LatestStateHeight())
	require.Equal([]uint64{1, 3}, m.CheckpointHeights())

	// Manifests come from the states metadata, no recomputation needed.
	reloaded, err := m.GetStateHashAt(3)
	require.NoError(err)
	require.Equal(hash, reloaded)
	require.Equal(certHash, certifiedHash(t, m, 3))

	height, s := m.TakeTip()
	require.Equal(uint64(3), height)
	buf := make([]byte, 1)
	require.NoError(s.Read("alice", 4096, buf))
	require.Equal([]byte{3}, buf)
	m.CommitAndCertify(s, 4, ScopeMetadata)
}

func TestReloadIgnoresCorruptMetadata(t *testing.T) {
	require := require.New(t)

	root := t.TempDir()
	m, err := New(logging.NoLog{}, root, DefaultConfig(), nil, "", prometheus.NewRegistry())
	require.NoError(err)
	commitNext(t, m, ScopeFull, writeBytes(t, "alice", 0, []byte{1}))
	m.FlushManifestWorker()
	hash, err := m.GetStateHashAt(1)
	require.NoError(err)
	require.NoError(m.Close())

	require.NoError(os.WriteFile(m.Layout().StatesMetadata(), []byte{0xff, 0xff, 0xff}, perms.ReadWrite))

	m = newTestManager(t, root, DefaultConfig(), nil)
	m.FlushManifestWorker()
	recomputed, err := m.GetStateHashAt(1)
	require.NoError(err)
	require.Equal(hash, recomputed)
}

func TestManifestDeltaMatchesFullComputation(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, t.TempDir(), DefaultConfig(), nil)
	commitNext(t, m, ScopeFull, func(s *state.ReplicatedState) {
		require.NoError(s.CreatePartition("alice"))
		require.NoError(s.Write("alice", 0, make([]byte, 3*state.PageSize)))
		require.NoError(s.Write("alice", 0, []byte{1}))
		require.NoError(s.CreatePartition("bob"))
		require.NoError(s.Write("bob", 0, []byte{2}))
	})
	commitNext(t, m, ScopeFull, func(s *state.ReplicatedState) {
		require.NoError(s.Write("alice", 2*state.PageSize, []byte{3}))
		s.DeletePartition("bob")
		require.NoError(s.CreatePartition("bob"))
		require.NoError(s.Write("bob", 1, []byte{4}))
	})
	m.FlushManifestWorker()

	hash, err := m.GetStateHashAt(2)
	require.NoError(err)

	mf, err := m.computer.Compute(context.Background(), m.Layout().CheckpointPath(2), nil)
	require.NoError(err)
	bundle, err := m.Bundle(2)
	require.NoError(err)
	require.Equal(mf, bundle.Manifest)
	require.Equal(bundle.RootHash, hash)
}

func TestDeallocateAfterClose(t *testing.T) {
	require := require.New(t)

	m, err := New(logging.NoLog{}, t.TempDir(), DefaultConfig(), nil, "", prometheus.NewRegistry())
	require.NoError(err)
	commitNext(t, m, ScopeFull, nil)
	ref, err := m.Layout().Checkpoint(1)
	require.NoError(err)
	require.NoError(m.Close())

	m.deallocateCheckpoint(ref)
	require.Equal(1.0, testutil.ToFloat64(m.metrics.deallocationsOnCallerThread))
}

func TestConfigVerify(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectedErr error
	}{
		{
			name:   "default",
			modify: func(*Config) {},
		},
		{
			name: "negative extra checkpoints",
			modify: func(c *Config) {
				c.ExtraCheckpointsToKeep = -1
			},
			expectedErr: errNegativeExtraCheckpoints,
		},
		{
			name: "zero deallocator backlog",
			modify: func(c *Config) {
				c.DeallocatorBacklog = 0
			},
			expectedErr: errZeroDeallocatorBacklog,
		},
		{
			name: "negative retention",
			modify: func(c *Config) {
				c.BackupsToKeep = -1
			},
			expectedErr: errNegativeRetention,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := DefaultConfig()
			test.modify(&config)
			require.ErrorIs(t, config.Verify(), test.expectedErr)
		})
	}
}
