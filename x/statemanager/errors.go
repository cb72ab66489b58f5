// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statemanager

import (
	"errors"
	"fmt"
)

var (
	// Transient errors: the caller should retry later.
	ErrStateNotCommittedYet = errors.New("state not committed yet")
	ErrHashNotComputedYet   = errors.New("state hash not computed yet")

	// Permanent errors.
	ErrStateRemoved           = errors.New("state removed")
	ErrStateNotFullyCertified = errors.New("state not fully certified")

	ErrStateNotFound = errors.New("state not found")
	errManagerClosed = errors.New("state manager closed")
)

type ErrorKind byte

const (
	Transient ErrorKind = iota
	Permanent
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// StateHashError is returned by GetStateHashAt. Transient errors may go away
// once the state is committed and its manifest is computed.
type StateHashError struct {
	Kind   ErrorKind
	Height uint64
	Err    error
}

func (e *StateHashError) Error() string {
	return fmt.Sprintf("%s error at height %d: %s", e.Kind, e.Height, e.Err)
}

func (e *StateHashError) Unwrap() error {
	return e.Err
}

func transient(height uint64, err error) error {
	return &StateHashError{Kind: Transient, Height: height, Err: err}
}

func permanent(height uint64, err error) error {
	return &StateHashError{Kind: Permanent, Height: height, Err: err}
}

// IsTransient reports whether [err] is a StateHashError that may go away.
func IsTransient(err error) bool {
	var hashErr *StateHashError
	return errors.As(err, &hashErr) && hashErr.Kind == Transient
}
