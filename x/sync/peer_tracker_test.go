// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sync

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/logging"
)

func TestPeerTracker(t *testing.T) {
	require := require.New(t)

	metrics := newTestMetrics(t)
	p := newPeerTracker(logging.NoLog{}, metrics)

	_, ok := p.GetAnyPeer(nil)
	require.False(ok)

	peers := []ids.NodeID{{1}, {2}, {3}}
	for _, nodeID := range peers {
		p.Connected(nodeID)
	}
	// Connecting twice is ignored.
	p.Connected(peers[0])
	require.Equal(len(peers), p.Size())
	require.ElementsMatch(peers, p.Peers())

	// New peers are tried before known ones.
	seen := make(map[ids.NodeID]struct{})
	for range peers {
		nodeID, ok := p.GetAnyPeer(nil)
		require.True(ok)
		require.NotContains(seen, nodeID)
		seen[nodeID] = struct{}{}
		p.TrackPeer(nodeID)
	}
	require.Equal(float64(len(peers)), testutil.ToFloat64(metrics.trackedPeers))

	p.TrackBandwidth(peers[0], 10)
	p.TrackBandwidth(peers[1], 1000)
	p.TrackBandwidth(peers[2], 0)
	require.Equal(float64(2), testutil.ToFloat64(metrics.responsivePeers))
	require.Positive(testutil.ToFloat64(metrics.averageBandwidth))

	nodeID, ok := p.fastestPeer(nil)
	require.True(ok)
	require.Equal(peers[1], nodeID)

	// Excluded peers are never returned.
	exclude := map[ids.NodeID]struct{}{
		peers[0]: {},
		peers[1]: {},
	}
	for i := 0; i < 10; i++ {
		nodeID, ok := p.GetAnyPeer(exclude)
		require.True(ok)
		require.Equal(peers[2], nodeID)
	}

	p.Disconnected(peers[1])
	nodeID, ok = p.fastestPeer(nil)
	require.True(ok)
	require.Equal(peers[0], nodeID)
	require.Equal(float64(1), testutil.ToFloat64(metrics.responsivePeers))

	// Bandwidth of unknown peers is ignored.
	p.TrackBandwidth(peers[1], 10)
	require.Equal(2, p.Size())
}
