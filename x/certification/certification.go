// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package certification

import (
	"errors"
	"fmt"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/hashing"
)

const messageDomain = "ic-state-root"

var (
	ErrInvalidCertification = errors.New("invalid certification")

	errMissingSignature = errors.New("missing signature")
	errNoSignatures     = errors.New("no signature shares")
)

// Certification is a signature produced by the network over the root hash
// of the state at Height.
type Certification struct {
	Height    uint64
	Hash      ids.ID
	Signature []byte
}

// Message returns the bytes signed by a certification of [hash] at [height].
func Message(height uint64, hash ids.ID) []byte {
	h := hashing.NewHasher(messageDomain)
	h.WriteUint64(height)
	h.Write(hash[:])
	digest := h.Sum()
	return digest[:]
}

// Verifier checks certification signatures.
type Verifier interface {
	Verify(Certification) error
}

// Signer produces signature shares over state hashes.
type Signer interface {
	Sign(height uint64, hash ids.ID) []byte
}

// NoVerifier accepts every certification.
type NoVerifier struct{}

func (NoVerifier) Verify(Certification) error {
	return nil
}

type blsVerifier struct {
	pk *PublicKey
}

// NewBLSVerifier verifies certifications against [pk], which may be the
// aggregate of the keys of every signer.
func NewBLSVerifier(pk *PublicKey) Verifier {
	return &blsVerifier{pk: pk}
}

func (v *blsVerifier) Verify(c Certification) error {
	if len(c.Signature) == 0 {
		return fmt.Errorf("%w at height %d: %w", ErrInvalidCertification, c.Height, errMissingSignature)
	}
	sig, err := parseSignature(c.Signature)
	if err != nil {
		return fmt.Errorf("%w at height %d: %w", ErrInvalidCertification, c.Height, err)
	}
	if !sig.Verify(false, v.pk, false, Message(c.Height, c.Hash), dst) {
		return fmt.Errorf("%w at height %d: signature mismatch", ErrInvalidCertification, c.Height)
	}
	return nil
}

type blsSigner struct {
	sk *SecretKey
}

func NewBLSSigner(sk *SecretKey) Signer {
	return &blsSigner{sk: sk}
}

func (s *blsSigner) Sign(height uint64, hash ids.ID) []byte {
	return new(signature).Sign(s.sk, Message(height, hash), dst).Compress()
}

// Combine aggregates the signature shares of a certification.
func Combine(height uint64, hash ids.ID, shares [][]byte) (Certification, error) {
	if len(shares) == 0 {
		return Certification{}, errNoSignatures
	}
	sigs := make([]*signature, len(shares))
	for i, share := range shares {
		sig, err := parseSignature(share)
		if err != nil {
			return Certification{}, fmt.Errorf("invalid share %d: %w", i, err)
		}
		sigs[i] = sig
	}
	agg, err := aggregateSignatures(sigs)
	if err != nil {
		return Certification{}, err
	}
	return Certification{
		Height:    height,
		Hash:      hash,
		Signature: agg.Compress(),
	}, nil
}
