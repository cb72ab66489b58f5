// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hashing

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomainHashMatchesManualEncoding(t *testing.T) {
	require := require.New(t)

	domain := "ic-hashtree-leaf"
	payload := []byte("hello")

	manual := append([]byte{byte(len(domain))}, domain...)
	manual = append(manual, payload...)

	require.Equal(sha256.Sum256(manual), DomainHash(domain, payload))
}

func TestDomainSeparation(t *testing.T) {
	payload := []byte("same bytes")
	require.NotEqual(t, DomainHash("a", payload), DomainHash("b", payload))
}

func TestHasherWriteUint64(t *testing.T) {
	require := require.New(t)

	h1 := NewHasher("d")
	h1.WriteUint64(0x0102030405060708)

	h2 := NewHasher("d")
	h2.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8})

	require.Equal(h2.Sum(), h1.Sum())
}

func TestToHash256(t *testing.T) {
	require := require.New(t)

	_, err := ToHash256([]byte{1})
	require.ErrorIs(err, ErrInvalidHashLen)

	h := ComputeHash256Array([]byte{1})
	got, err := ToHash256(h[:])
	require.NoError(err)
	require.Equal(h, got)
}
