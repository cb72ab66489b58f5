// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package certification

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/hashing"
)

func newSigners(t *testing.T, n int) ([]Signer, Verifier) {
	signers := make([]Signer, n)
	pks := make([]*PublicKey, n)
	for i := range signers {
		sk, err := GenerateKey()
		require.NoError(t, err)
		signers[i] = NewBLSSigner(sk)
		pks[i] = PublicKeyOf(sk)
	}
	pk, err := AggregatePublicKeys(pks)
	require.NoError(t, err)
	return signers, NewBLSVerifier(pk)
}

func certify(t *testing.T, signers []Signer, height uint64, hash ids.ID) Certification {
	shares := make([][]byte, len(signers))
	for i, s := range signers {
		shares[i] = s.Sign(height, hash)
	}
	c, err := Combine(height, hash, shares)
	require.NoError(t, err)
	return c
}

func TestVerify(t *testing.T) {
	hash := ids.ID(hashing.ComputeHash256Array([]byte("state")))
	otherHash := ids.ID(hashing.ComputeHash256Array([]byte("other state")))

	tests := []struct {
		name        string
		modify      func(*Certification)
		expectedErr error
	}{
		{
			name:   "valid",
			modify: func(*Certification) {},
		},
		{
			name: "wrong hash",
			modify: func(c *Certification) {
				c.Hash = otherHash
			},
			expectedErr: ErrInvalidCertification,
		},
		{
			name: "wrong height",
			modify: func(c *Certification) {
				c.Height++
			},
			expectedErr: ErrInvalidCertification,
		},
		{
			name: "missing signature",
			modify: func(c *Certification) {
				c.Signature = nil
			},
			expectedErr: ErrInvalidCertification,
		},
		{
			name: "malformed signature",
			modify: func(c *Certification) {
				c.Signature = []byte{1, 2, 3}
			},
			expectedErr: ErrInvalidCertification,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			signers, verifier := newSigners(t, 3)
			c := certify(t, signers, 10, hash)
			test.modify(&c)
			require.ErrorIs(t, verifier.Verify(c), test.expectedErr)
		})
	}
}

func TestMissingShareFails(t *testing.T) {
	require := require.New(t)

	signers, verifier := newSigners(t, 3)
	hash := ids.ID(hashing.ComputeHash256Array([]byte("state")))
	c := certify(t, signers[:2], 1, hash)
	require.ErrorIs(verifier.Verify(c), ErrInvalidCertification)
}

func TestCombineNoShares(t *testing.T) {
	_, err := Combine(1, ids.Empty, nil)
	require.ErrorIs(t, err, errNoSignatures)
}

func TestNoVerifier(t *testing.T) {
	require.NoError(t, NoVerifier{}.Verify(Certification{}))
}

func TestMessageBindsHeight(t *testing.T) {
	require.NotEqual(t, Message(1, ids.Empty), Message(2, ids.Empty))
}

func TestParsePublicKey(t *testing.T) {
	require := require.New(t)

	sk, err := GenerateKey()
	require.NoError(err)
	pk := PublicKeyOf(sk)

	parsed, err := ParsePublicKey(pk.Compress())
	require.NoError(err)
	require.True(parsed.Equals(pk))

	_, err = ParsePublicKey([]byte{1, 2, 3})
	require.ErrorIs(err, errBadPublicKey)
}

func TestAggregatePublicKeysEmpty(t *testing.T) {
	_, err := AggregatePublicKeys(nil)
	require.ErrorIs(t, err, errNoPublicKeys)
}
