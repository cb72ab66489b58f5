// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ids

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ava-labs/replicastate/utils/cb58"
)

const (
	NodeIDPrefix = "NodeID-"
	NodeIDLen    = 20
)

var (
	EmptyNodeID = NodeID{}

	errShortNodeID = errors.New("insufficient NodeID length")
)

// NodeID identifies a peer replica.
type NodeID [NodeIDLen]byte

func ToNodeID(bytes []byte) (NodeID, error) {
	if len(bytes) != NodeIDLen {
		return NodeID{}, fmt.Errorf("expected %d bytes but got %d", NodeIDLen, len(bytes))
	}
	var id NodeID
	copy(id[:], bytes)
	return id, nil
}

// NodeIDFromString is the inverse of NodeID.String()
func NodeIDFromString(nodeIDStr string) (NodeID, error) {
	if !strings.HasPrefix(nodeIDStr, NodeIDPrefix) {
		return NodeID{}, errShortNodeID
	}
	bytes, err := cb58.Decode(nodeIDStr[len(NodeIDPrefix):])
	if err != nil {
		return NodeID{}, err
	}
	return ToNodeID(bytes)
}

func (id NodeID) String() string {
	s, _ := cb58.Encode(id[:])
	return NodeIDPrefix + s
}

func (id NodeID) Compare(other NodeID) int {
	return bytes.Compare(id[:], other[:])
}
