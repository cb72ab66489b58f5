// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sync

import (
	"time"

	stdmath "math"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/utils/math"
	"github.com/ava-labs/replicastate/utils/sampler"
)

const (
	bandwidthHalflife = 5 * time.Minute

	// controls how eagerly we connect to new peers vs. using
	// peers with known good response bandwidth.
	desiredMinResponsivePeers = 20
	newPeerConnectFactor      = 0.1

	// The probability that, when we select a peer, we select randomly rather
	// than based on their performance.
	randomPeerProbability = 0.2
)

// information we track on a given peer
type peerInfo struct {
	bandwidth math.Averager
}

// Tracks the bandwidth of responses coming from peers,
// preferring to contact peers with known good bandwidth, connecting
// to new peers with an exponentially decaying probability.
// Note: not thread safe. Caller must handle synchronization.
type peerTracker struct {
	// All peers we are connected to
	peers map[ids.NodeID]*peerInfo
	// Peers that we're connected to that we've sent a request to
	// since we most recently connected to them.
	trackedPeers map[ids.NodeID]struct{}
	// Peers that we're connected to that responded to the last request they were sent.
	responsivePeers  map[ids.NodeID]struct{}
	averageBandwidth math.Averager
	sampler          sampler.Uniform
	log              logging.Logger
	metrics          *Metrics
}

func newPeerTracker(log logging.Logger, metrics *Metrics) *peerTracker {
	return &peerTracker{
		peers:            make(map[ids.NodeID]*peerInfo),
		trackedPeers:     make(map[ids.NodeID]struct{}),
		responsivePeers:  make(map[ids.NodeID]struct{}),
		averageBandwidth: math.NewAverager(0, bandwidthHalflife, time.Now()),
		sampler:          sampler.NewUniform(),
		log:              log,
		metrics:          metrics,
	}
}

// Returns true if we're not connected to enough peers.
// Otherwise returns true probabilistically based on the number of tracked peers.
func (p *peerTracker) shouldTrackNewPeer() bool {
	numResponsivePeers := len(p.responsivePeers)
	if numResponsivePeers < desiredMinResponsivePeers {
		return true
	}
	if len(p.trackedPeers) >= len(p.peers) {
		// already tracking all the peers
		return false
	}
	// With [newPeerConnectFactor] as 0.1 the probabilities are:
	//
	// numResponsivePeers | probability
	// 100                | 4.5399929762484854e-05
	// 200                | 2.061153622438558e-09
	// 500                | 1.9287498479639178e-22
	//
	// In other words, the probability drops off extremely quickly.
	newPeerProbability := stdmath.Exp(-float64(numResponsivePeers) * newPeerConnectFactor)
	return sampler.Chance(newPeerProbability)
}

// Returns a peer that we're connected to, other than the ones in [exclude].
// If we should track more peers, returns an untracked peer, if any exist.
// Otherwise, with probability [randomPeerProbability] returns a random peer from [p.responsivePeers].
// With probability [1-randomPeerProbability] returns the responsive peer with the highest bandwidth.
func (p *peerTracker) GetAnyPeer(exclude map[ids.NodeID]struct{}) (ids.NodeID, bool) {
	if p.shouldTrackNewPeer() {
		for nodeID := range p.peers {
			if _, ok := p.trackedPeers[nodeID]; ok {
				continue
			}
			if _, ok := exclude[nodeID]; ok {
				continue
			}
			p.log.Debug(
				"tracking peer",
				zap.Int("trackedPeers", len(p.trackedPeers)),
				zap.Stringer("nodeID", nodeID),
			)
			return nodeID, true
		}
	}

	var (
		nodeID ids.NodeID
		ok     bool
	)
	useRand := sampler.Chance(randomPeerProbability)
	if useRand {
		nodeID, ok = p.randomPeer(p.responsivePeers, exclude)
	} else {
		nodeID, ok = p.fastestPeer(exclude)
	}
	if !ok {
		// if no responsive peer is found, return a tracked peer at random
		nodeID, ok = p.randomPeer(p.trackedPeers, exclude)
	}
	if !ok {
		return ids.EmptyNodeID, false
	}
	p.log.Debug(
		"peer tracking: selected peer",
		zap.Stringer("nodeID", nodeID),
		zap.Bool("random", useRand),
	)
	return nodeID, true
}

func (p *peerTracker) fastestPeer(exclude map[ids.NodeID]struct{}) (ids.NodeID, bool) {
	var (
		best      ids.NodeID
		bestSpeed = -1.0
	)
	for nodeID := range p.responsivePeers {
		if _, ok := exclude[nodeID]; ok {
			continue
		}
		peer := p.peers[nodeID]
		if peer == nil || peer.bandwidth == nil {
			continue
		}
		if speed := peer.bandwidth.Read(); speed > bestSpeed {
			best, bestSpeed = nodeID, speed
		}
	}
	return best, bestSpeed >= 0
}

func (p *peerTracker) randomPeer(candidates map[ids.NodeID]struct{}, exclude map[ids.NodeID]struct{}) (ids.NodeID, bool) {
	eligible := make([]ids.NodeID, 0, len(candidates))
	for nodeID := range candidates {
		if _, ok := exclude[nodeID]; !ok {
			eligible = append(eligible, nodeID)
		}
	}
	if len(eligible) == 0 {
		return ids.EmptyNodeID, false
	}
	p.sampler.Initialize(uint64(len(eligible)))
	index, err := p.sampler.Next()
	if err != nil {
		return ids.EmptyNodeID, false
	}
	return eligible[index], true
}

// Record that we sent a request to [nodeID].
func (p *peerTracker) TrackPeer(nodeID ids.NodeID) {
	p.trackedPeers[nodeID] = struct{}{}
	p.metrics.trackedPeers.Set(float64(len(p.trackedPeers)))
}

// Record that we observed that [nodeID]'s bandwidth is [bandwidth].
func (p *peerTracker) TrackBandwidth(nodeID ids.NodeID, bandwidth float64) {
	peer := p.peers[nodeID]
	if peer == nil {
		// we're not connected to this peer, nothing to do here
		p.log.Debug("tracking bandwidth for untracked peer", zap.Stringer("nodeID", nodeID))
		return
	}

	now := time.Now()
	if peer.bandwidth == nil {
		peer.bandwidth = math.NewAverager(bandwidth, bandwidthHalflife, now)
	} else {
		peer.bandwidth.Observe(bandwidth, now)
	}

	if bandwidth == 0 {
		delete(p.responsivePeers, nodeID)
	} else {
		p.responsivePeers[nodeID] = struct{}{}
		p.averageBandwidth.Observe(bandwidth, now)
		p.metrics.averageBandwidth.Set(p.averageBandwidth.Read())
	}
	p.metrics.responsivePeers.Set(float64(len(p.responsivePeers)))
}

// Connected should be called when [nodeID] connects to this node
func (p *peerTracker) Connected(nodeID ids.NodeID) {
	if _, ok := p.peers[nodeID]; ok {
		p.log.Warn(
			"ignoring peer connected event for already connected peer",
			zap.Stringer("nodeID", nodeID),
		)
		return
	}
	p.peers[nodeID] = &peerInfo{}
}

// Disconnected should be called when [nodeID] disconnects from this node
func (p *peerTracker) Disconnected(nodeID ids.NodeID) {
	delete(p.trackedPeers, nodeID)
	p.metrics.trackedPeers.Set(float64(len(p.trackedPeers)))
	delete(p.responsivePeers, nodeID)
	p.metrics.responsivePeers.Set(float64(len(p.responsivePeers)))
	delete(p.peers, nodeID)
}

// Returns the number of peers the node is connected to.
func (p *peerTracker) Size() int {
	return len(p.peers)
}

// Returns the peers the node is connected to.
func (p *peerTracker) Peers() []ids.NodeID {
	return maps.Keys(p.peers)
}
