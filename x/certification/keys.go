// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package certification

import (
	"crypto/rand"
	"errors"

	blst "github.com/supranational/blst/bindings/go"
)

// Certifications use the G2 proof-of-possession ciphersuite, so keys of
// distinct signers may be aggregated without rogue key checks here.
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

var (
	errBadPublicKey   = errors.New("malformed public key")
	errBadSignature   = errors.New("malformed signature")
	errNoPublicKeys   = errors.New("no public keys")
	errAggregateShare = errors.New("couldn't aggregate signature shares")
	errAggregateKeys  = errors.New("couldn't aggregate public keys")
)

type (
	SecretKey = blst.SecretKey
	PublicKey = blst.P1Affine

	signature = blst.P2Affine
)

// GenerateKey returns a fresh signing key for certification shares.
func GenerateKey() (*SecretKey, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, err
	}
	return blst.KeyGen(ikm[:]), nil
}

// PublicKeyOf returns the verification key of [sk].
func PublicKeyOf(sk *SecretKey) *PublicKey {
	return new(PublicKey).From(sk)
}

// ParsePublicKey decodes a compressed public key and rejects points outside
// the prime order subgroup.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	pk := new(PublicKey).Uncompress(b)
	if pk == nil || !pk.KeyValidate() {
		return nil, errBadPublicKey
	}
	return pk, nil
}

// AggregatePublicKeys returns the key that verifies a certification signed
// by every holder of [pks].
func AggregatePublicKeys(pks []*PublicKey) (*PublicKey, error) {
	if len(pks) == 0 {
		return nil, errNoPublicKeys
	}
	var agg blst.P1Aggregate
	if !agg.Aggregate(pks, false) {
		return nil, errAggregateKeys
	}
	return agg.ToAffine(), nil
}

func parseSignature(b []byte) (*signature, error) {
	sig := new(signature).Uncompress(b)
	if sig == nil || !sig.SigValidate(false) {
		return nil, errBadSignature
	}
	return sig, nil
}

func aggregateSignatures(sigs []*signature) (*signature, error) {
	var agg blst.P2Aggregate
	if !agg.Aggregate(sigs, false) {
		return nil, errAggregateShare
	}
	return agg.ToAffine(), nil
}
