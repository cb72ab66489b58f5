// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/compression"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/utils/units"
	"github.com/ava-labs/replicastate/x/manifest"
)

const (
	// Responses carry at most one chunk or sub-manifest plus framing.
	maxMessageSize = manifest.DefaultChunkSize + 64*units.KiB

	// The minimum amount of time left before the deadline for a request to
	// be handled.
	minRequestHandlingDuration = 100 * time.Millisecond

	DefaultServerRequestRate  = 100
	DefaultServerRequestBurst = 200
)

// Error codes sent to peers through Transport.SendAppError.
const (
	ErrCodeInvalidRequest int32 = iota + 1
	ErrCodeStateNotFound
	ErrCodeRateLimited
	ErrCodeInternal
)

var errStateNotServed = errors.New("state not served")

// StateProvider exposes the checkpoints a replica serves to syncing peers.
type StateProvider interface {
	Bundle(height uint64) (*manifest.Bundle, error)
	SubManifest(height uint64, index int) ([]byte, error)
	ReadChunk(height uint64, index int) ([]byte, error)
}

type NetworkServer struct {
	transport  Transport // Used to respond to peer requests.
	provider   StateProvider
	compressor compression.Compressor
	limiter    *rate.Limiter
	log        logging.Logger
}

func NewNetworkServer(transport Transport, provider StateProvider, log logging.Logger) *NetworkServer {
	return &NetworkServer{
		transport:  transport,
		provider:   provider,
		compressor: compression.NewZstdCompressor(maxMessageSize),
		limiter:    rate.NewLimiter(DefaultServerRequestRate, DefaultServerRequestBurst),
		log:        log,
	}
}

// AppRequest is called when there is an incoming request from a peer.
// Never returns errors as they are considered fatal.
// Sends a response or an error back to the sender.
func (s *NetworkServer) AppRequest(
	ctx context.Context,
	nodeID ids.NodeID,
	requestID uint32,
	deadline time.Time,
	request []byte,
) error {
	req, err := ParseRequest(request)
	if err != nil {
		s.log.Debug(
			"failed to parse request",
			zap.Stringer("nodeID", nodeID),
			zap.Uint32("requestID", requestID),
			zap.Int("requestLen", len(request)),
			zap.Error(err),
		)
		return s.sendError(ctx, nodeID, requestID, ErrCodeInvalidRequest, err)
	}

	if !s.limiter.Allow() {
		s.log.Debug(
			"rate limiting request",
			zap.Stringer("nodeID", nodeID),
			zap.Uint32("requestID", requestID),
		)
		return s.sendError(ctx, nodeID, requestID, ErrCodeRateLimited, errRateLimited)
	}

	// bufferedDeadline is half the time till actual deadline so that the message has a
	// reasonable chance of completing its processing and sending the response to the peer.
	timeTillDeadline := time.Until(deadline)
	bufferedDeadline := time.Now().Add(timeTillDeadline / 2)

	// Drop the request if we already missed the deadline to respond.
	if time.Until(bufferedDeadline) < minRequestHandlingDuration {
		s.log.Info(
			"deadline to process request has expired, skipping",
			zap.Stringer("nodeID", nodeID),
			zap.Uint32("requestID", requestID),
		)
		return nil
	}

	ctx, cancel := context.WithDeadline(ctx, bufferedDeadline)
	defer cancel()

	s.log.Debug(
		"processing request from node",
		zap.Stringer("nodeID", nodeID),
		zap.Uint32("requestID", requestID),
		zap.Stringer("kind", req.Kind),
		zap.Uint64("height", req.Height),
	)

	payload, err := s.handle(req)
	if err != nil {
		s.log.Debug(
			"failed to serve request",
			zap.Stringer("nodeID", nodeID),
			zap.Uint32("requestID", requestID),
			zap.Stringer("kind", req.Kind),
			zap.Uint64("height", req.Height),
			zap.Error(err),
		)
		code := ErrCodeInternal
		if errors.Is(err, errStateNotServed) {
			code = ErrCodeStateNotFound
		}
		return s.sendError(ctx, nodeID, requestID, code, err)
	}

	response, err := s.compressor.Compress(payload)
	if err != nil {
		s.log.Warn(
			"failed to compress response",
			zap.Stringer("nodeID", nodeID),
			zap.Uint32("requestID", requestID),
			zap.Error(err),
		)
		return s.sendError(ctx, nodeID, requestID, ErrCodeInternal, err)
	}
	if err := s.transport.SendAppResponse(ctx, nodeID, requestID, response); err != nil {
		// log unexpected errors instead of returning them, since they are fatal.
		s.log.Warn(
			"failed to send response",
			zap.Stringer("nodeID", nodeID),
			zap.Uint32("requestID", requestID),
			zap.Error(err),
		)
	}
	return nil
}

func (s *NetworkServer) handle(req *Request) ([]byte, error) {
	switch req.Kind {
	case MetaManifestRequest:
		bundle, err := s.provider.Bundle(req.Height)
		if err != nil {
			return nil, errors.Join(errStateNotServed, err)
		}
		if bundle.RootHash != req.RootHash {
			return nil, errStateNotServed
		}
		return manifest.EncodeMetaManifest(bundle.MetaManifest), nil
	case SubManifestRequest:
		sub, err := s.provider.SubManifest(req.Height, int(req.Index))
		if err != nil {
			return nil, errors.Join(errStateNotServed, err)
		}
		return sub, nil
	default:
		chunk, err := s.provider.ReadChunk(req.Height, int(req.Index))
		if err != nil {
			return nil, errors.Join(errStateNotServed, err)
		}
		return chunk, nil
	}
}

func (s *NetworkServer) sendError(ctx context.Context, nodeID ids.NodeID, requestID uint32, code int32, err error) error {
	if sendErr := s.transport.SendAppError(ctx, nodeID, requestID, code, err.Error()); sendErr != nil {
		s.log.Warn(
			"failed to send error response",
			zap.Stringer("nodeID", nodeID),
			zap.Uint32("requestID", requestID),
			zap.Error(sendErr),
		)
	}
	return nil
}
