// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sync

import (
	"context"

	"github.com/ava-labs/replicastate/ids"
)

// Transport delivers state sync messages between peers. Responses to a
// request are matched by [requestID] and handed back to the requester's
// NetworkClient through AppResponse or AppRequestFailed.
type Transport interface {
	SendAppRequest(ctx context.Context, nodeID ids.NodeID, requestID uint32, request []byte) error
	SendAppResponse(ctx context.Context, nodeID ids.NodeID, requestID uint32, response []byte) error
	SendAppError(ctx context.Context, nodeID ids.NodeID, requestID uint32, errorCode int32, errorMessage string) error
}
