// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ava-labs/replicastate/ids"
)

var (
	ErrInvalidPartitionName = errors.New("invalid partition name")
	ErrUnknownPartition     = errors.New("unknown partition")
)

// ReplicatedState is the state replicated by every replica: a set of named
// memory partitions and a set of small attributes.
//
// A state is mutable until it is cloned. Clone freezes the receiver, so a
// committed state can be shared by readers while its clone becomes the next
// tip. Writing to a frozen state panics.
type ReplicatedState struct {
	frozen atomic.Bool

	partitions map[string]*PageMap
	attributes map[string][]byte
	// partitions created since the last checkpoint, whose pages aren't
	// tracked against it
	created map[string]struct{}

	prevStateHash        ids.ID
	hasPrevStateHash     bool
	lastCheckpointHeight uint64
}

func New() *ReplicatedState {
	return &ReplicatedState{
		partitions: make(map[string]*PageMap),
		attributes: make(map[string][]byte),
		created:    make(map[string]struct{}),
	}
}

// Clone returns a mutable copy of [s] and freezes [s]. Pages are shared
// until written.
func (s *ReplicatedState) Clone() *ReplicatedState {
	s.frozen.Store(true)

	c := &ReplicatedState{
		partitions:           make(map[string]*PageMap, len(s.partitions)),
		attributes:           maps.Clone(s.attributes),
		created:              maps.Clone(s.created),
		prevStateHash:        s.prevStateHash,
		hasPrevStateHash:     s.hasPrevStateHash,
		lastCheckpointHeight: s.lastCheckpointHeight,
	}
	for name, pm := range s.partitions {
		c.partitions[name] = pm.clone()
	}
	return c
}

// Freeze makes [s] read only.
func (s *ReplicatedState) Freeze() {
	s.frozen.Store(true)
}

func (s *ReplicatedState) Frozen() bool {
	return s.frozen.Load()
}

func (s *ReplicatedState) mustBeMutable() {
	if s.frozen.Load() {
		panic("write to a frozen replicated state")
	}
}

// CreatePartition creates an empty partition named [name] if it doesn't
// exist yet.
func (s *ReplicatedState) CreatePartition(name string) error {
	s.mustBeMutable()
	if err := verifyPartitionName(name); err != nil {
		return err
	}
	if _, ok := s.partitions[name]; !ok {
		s.partitions[name] = newPageMap()
		s.created[name] = struct{}{}
	}
	return nil
}

// DeletePartition removes partition [name] along with its contents.
func (s *ReplicatedState) DeletePartition(name string) {
	s.mustBeMutable()
	delete(s.partitions, name)
}

// Write copies [data] into partition [name] at [offset], growing it as
// needed.
func (s *ReplicatedState) Write(name string, offset uint64, data []byte) error {
	s.mustBeMutable()
	pm, ok := s.partitions[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPartition, name)
	}
	pm.write(offset, data)
	return nil
}

// Read fills [buf] from partition [name] at [offset]. Bytes past the end of
// the partition read as zero.
func (s *ReplicatedState) Read(name string, offset uint64, buf []byte) error {
	pm, ok := s.partitions[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPartition, name)
	}
	pm.read(offset, buf)
	return nil
}

func (s *ReplicatedState) Partition(name string) (*PageMap, bool) {
	pm, ok := s.partitions[name]
	return pm, ok
}

// Partitions returns the sorted names of the partitions.
func (s *ReplicatedState) Partitions() []string {
	names := maps.Keys(s.partitions)
	slices.Sort(names)
	return names
}

func (s *ReplicatedState) SetAttribute(key string, value []byte) {
	s.mustBeMutable()
	s.attributes[key] = slices.Clone(value)
}

func (s *ReplicatedState) Attribute(key string) ([]byte, bool) {
	v, ok := s.attributes[key]
	return v, ok
}

// PrevStateHash is the hash of the state this state was derived from, if
// known.
func (s *ReplicatedState) PrevStateHash() (ids.ID, bool) {
	return s.prevStateHash, s.hasPrevStateHash
}

func (s *ReplicatedState) SetPrevStateHash(hash ids.ID) {
	s.mustBeMutable()
	s.prevStateHash = hash
	s.hasPrevStateHash = true
}

// LastCheckpointHeight is the height of the checkpoint dirty pages are
// tracked against.
func (s *ReplicatedState) LastCheckpointHeight() uint64 {
	return s.lastCheckpointHeight
}

// MarkCheckpointed records that [s] was written as the checkpoint at
// [height] and resets dirty page tracking.
func (s *ReplicatedState) MarkCheckpointed(height uint64) {
	s.mustBeMutable()
	s.lastCheckpointHeight = height
	maps.Clear(s.created)
	for _, pm := range s.partitions {
		maps.Clear(pm.dirty)
	}
}

// DirtyPages returns, by checkpoint relative path, the pages of every
// partition written since the last checkpoint. Partitions created since then
// are left out.
func (s *ReplicatedState) DirtyPages() map[string][]uint64 {
	dirty := make(map[string][]uint64, len(s.partitions))
	for name, pm := range s.partitions {
		if _, ok := s.created[name]; ok {
			continue
		}
		dirty[PartitionFile(name)] = pm.dirtyPages()
	}
	return dirty
}

func verifyPartitionName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidPartitionName, name)
	}
	return nil
}
