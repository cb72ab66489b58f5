// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/compression"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/x/manifest"
)

const DefaultMaxOutstandingRequests = 32

var (
	_ Client = (*NetworkClient)(nil)

	ErrRequestFailed   = errors.New("request failed")
	ErrNoPeers         = errors.New("no peers to send the request to")
	errRateLimited     = errors.New("rate limited")
	errUnexpectedPeer  = errors.New("response from unexpected peer")
	errUnknownResponse = errors.New("response to unknown request")
)

// Client fetches the artifacts of a state from peers. Every call returns
// the peer that answered so that invalid answers can be reported.
type Client interface {
	GetMetaManifest(ctx context.Context, height uint64, rootHash ids.ID) (*manifest.MetaManifest, ids.NodeID, error)
	GetSubManifest(ctx context.Context, height uint64, index int) ([]byte, ids.NodeID, error)
	GetChunk(ctx context.Context, height uint64, index int) ([]byte, ids.NodeID, error)
	// RegisterInvalidResponse stops sending requests to [nodeID] until every
	// other peer has served invalid data as well.
	RegisterInvalidResponse(nodeID ids.NodeID)
}

type response struct {
	data []byte
	err  error
}

type pendingRequest struct {
	nodeID   ids.NodeID
	kind     RequestKind
	response chan response
}

// NetworkClient sends requests through a Transport and matches the
// responses handed back by the transport to the outstanding requests.
type NetworkClient struct {
	transport  Transport
	compressor compression.Compressor
	// Limits the number of requests that are waiting for a response.
	activeRequests *semaphore.Weighted
	log            logging.Logger
	metrics        *Metrics

	lock          sync.Mutex
	peers         *peerTracker
	invalidPeers  map[ids.NodeID]struct{}
	nextRequestID uint32
	pending       map[uint32]*pendingRequest
}

func NewNetworkClient(transport Transport, maxOutstandingRequests int64, log logging.Logger, metrics *Metrics) *NetworkClient {
	return &NetworkClient{
		transport:      transport,
		compressor:     compression.NewZstdCompressor(maxMessageSize),
		activeRequests: semaphore.NewWeighted(maxOutstandingRequests),
		log:            log,
		metrics:        metrics,
		peers:          newPeerTracker(log, metrics),
		invalidPeers:   make(map[ids.NodeID]struct{}),
		pending:        make(map[uint32]*pendingRequest),
	}
}

func (c *NetworkClient) GetMetaManifest(ctx context.Context, height uint64, rootHash ids.ID) (*manifest.MetaManifest, ids.NodeID, error) {
	data, nodeID, err := c.request(ctx, &Request{
		Kind:     MetaManifestRequest,
		Height:   height,
		RootHash: rootHash,
	})
	if err != nil {
		return nil, nodeID, err
	}
	meta, err := manifest.DecodeMetaManifest(data)
	if err != nil {
		return nil, nodeID, err
	}
	return meta, nodeID, nil
}

func (c *NetworkClient) GetSubManifest(ctx context.Context, height uint64, index int) ([]byte, ids.NodeID, error) {
	return c.request(ctx, &Request{
		Kind:   SubManifestRequest,
		Height: height,
		Index:  uint32(index),
	})
}

func (c *NetworkClient) GetChunk(ctx context.Context, height uint64, index int) ([]byte, ids.NodeID, error) {
	return c.request(ctx, &Request{
		Kind:   ChunkRequest,
		Height: height,
		Index:  uint32(index),
	})
}

// request sends [req] to a single peer and waits for its response.
func (c *NetworkClient) request(ctx context.Context, req *Request) ([]byte, ids.NodeID, error) {
	if err := c.activeRequests.Acquire(ctx, 1); err != nil {
		return nil, ids.EmptyNodeID, err
	}
	defer c.activeRequests.Release(1)

	c.lock.Lock()
	nodeID, ok := c.peers.GetAnyPeer(c.invalidPeers)
	if !ok {
		c.lock.Unlock()
		return nil, ids.EmptyNodeID, ErrNoPeers
	}
	c.peers.TrackPeer(nodeID)
	requestID := c.nextRequestID
	c.nextRequestID++
	pending := &pendingRequest{
		nodeID: nodeID,
		kind:   req.Kind,
		// buffered so that a late response never blocks the transport
		response: make(chan response, 1),
	}
	c.pending[requestID] = pending
	c.lock.Unlock()

	c.metrics.requests.WithLabelValues(req.Kind.String()).Inc()
	start := time.Now()
	if err := c.transport.SendAppRequest(ctx, nodeID, requestID, req.Bytes()); err != nil {
		c.fail(requestID, fmt.Errorf("%w: %w", ErrRequestFailed, err))
	}

	var resp response
	select {
	case resp = <-pending.response:
	case <-ctx.Done():
		c.lock.Lock()
		delete(c.pending, requestID)
		c.lock.Unlock()
		return nil, nodeID, ctx.Err()
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if resp.err != nil {
		c.metrics.failedRequests.WithLabelValues(req.Kind.String()).Inc()
		c.peers.TrackBandwidth(nodeID, 0)
		c.log.Debug("request failed",
			zap.Stringer("nodeID", nodeID),
			zap.Uint32("requestID", requestID),
			zap.Stringer("kind", req.Kind),
			zap.Error(resp.err),
		)
		return nil, nodeID, resp.err
	}

	elapsed := time.Since(start).Seconds()
	bandwidth := float64(len(resp.data))
	if elapsed > 0 {
		bandwidth /= elapsed
	}
	c.peers.TrackBandwidth(nodeID, bandwidth)
	c.metrics.responseBytes.Observe(float64(len(resp.data)))
	return resp.data, nodeID, nil
}

// AppResponse is called by the transport when [nodeID] answers the request
// [requestID].
func (c *NetworkClient) AppResponse(_ context.Context, nodeID ids.NodeID, requestID uint32, msg []byte) error {
	pending, err := c.take(nodeID, requestID)
	if err != nil {
		c.log.Debug("dropping response",
			zap.Stringer("nodeID", nodeID),
			zap.Uint32("requestID", requestID),
			zap.Error(err),
		)
		return nil
	}

	data, err := c.compressor.Decompress(msg)
	if err != nil {
		pending.response <- response{err: fmt.Errorf("%w: %w", ErrRequestFailed, err)}
		return nil
	}
	pending.response <- response{data: data}
	return nil
}

// AppError is called by the transport when [nodeID] refuses the request
// [requestID].
func (c *NetworkClient) AppError(_ context.Context, nodeID ids.NodeID, requestID uint32, errorCode int32, errorMessage string) error {
	pending, err := c.take(nodeID, requestID)
	if err != nil {
		return nil
	}
	pending.response <- response{err: fmt.Errorf("%w: code %d: %s", ErrRequestFailed, errorCode, errorMessage)}
	return nil
}

// AppRequestFailed is called by the transport when the request [requestID]
// to [nodeID] timed out or could not be delivered.
func (c *NetworkClient) AppRequestFailed(_ context.Context, nodeID ids.NodeID, requestID uint32) error {
	c.fail(requestID, fmt.Errorf("%w: request %d to %s", ErrRequestFailed, requestID, nodeID))
	return nil
}

func (c *NetworkClient) fail(requestID uint32, err error) {
	c.lock.Lock()
	pending, ok := c.pending[requestID]
	delete(c.pending, requestID)
	c.lock.Unlock()
	if ok {
		pending.response <- response{err: err}
	}
}

func (c *NetworkClient) take(nodeID ids.NodeID, requestID uint32) (*pendingRequest, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	pending, ok := c.pending[requestID]
	if !ok {
		return nil, errUnknownResponse
	}
	if pending.nodeID != nodeID {
		return nil, fmt.Errorf("%w: expected %s", errUnexpectedPeer, pending.nodeID)
	}
	delete(c.pending, requestID)
	return pending, nil
}

func (c *NetworkClient) RegisterInvalidResponse(nodeID ids.NodeID) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.peers.TrackBandwidth(nodeID, 0)
	c.invalidPeers[nodeID] = struct{}{}
	if len(c.invalidPeers) >= c.peers.Size() {
		c.log.Warn("every peer served invalid data, trying them again",
			zap.Int("numPeers", c.peers.Size()),
		)
		c.invalidPeers = make(map[ids.NodeID]struct{})
	}
}

// Connected should be called when [nodeID] connects to this node.
func (c *NetworkClient) Connected(_ context.Context, nodeID ids.NodeID) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.peers.Connected(nodeID)
	return nil
}

// Disconnected should be called when [nodeID] disconnects from this node.
func (c *NetworkClient) Disconnected(_ context.Context, nodeID ids.NodeID) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.peers.Disconnected(nodeID)
	delete(c.invalidPeers, nodeID)
	return nil
}
