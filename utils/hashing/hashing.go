// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hashing

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
)

const HashLen = sha256.Size

var ErrInvalidHashLen = errors.New("invalid hash length")

// Hash256 A 256 bit long hash value.
type Hash256 = [HashLen]byte

// ComputeHash256Array computes a cryptographically strong 256 bit hash of the
// input byte slice.
func ComputeHash256Array(buf []byte) Hash256 {
	return sha256.Sum256(buf)
}

// ComputeHash256 computes a cryptographically strong 256 bit hash of the input
// byte slice.
func ComputeHash256(buf []byte) []byte {
	arr := ComputeHash256Array(buf)
	return arr[:]
}

// Checksum creates a checksum of [length] bytes from the 256 bit hash of the
// byte slice.
//
// Returns: the lower [length] bytes of the hash
// Panics if length > 32.
func Checksum(bytes []byte, length int) []byte {
	hash := ComputeHash256Array(bytes)
	return hash[len(hash)-length:]
}

func ToHash256(bytes []byte) (Hash256, error) {
	hash := Hash256{}
	if bytesLen := len(bytes); bytesLen != HashLen {
		return hash, fmt.Errorf("%w: expected 32 bytes but got %d", ErrInvalidHashLen, bytesLen)
	}
	copy(hash[:], bytes)
	return hash, nil
}

// Hasher is a sha256 hasher whose state starts from a domain separator.
// Digests of the same bytes under different domains never collide.
//
// The separator is encoded as a single length byte followed by the domain
// name, so domains must be shorter than 256 bytes.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a hasher seeded with [domain].
func NewHasher(domain string) *Hasher {
	if len(domain) > 255 {
		panic(fmt.Sprintf("domain separator %q is too long", domain))
	}
	h := sha256.New()
	_, _ = h.Write([]byte{byte(len(domain))})
	_, _ = h.Write([]byte(domain))
	return &Hasher{h: h}
}

func (h *Hasher) Write(b []byte) {
	_, _ = h.h.Write(b)
}

func (h *Hasher) WriteUint32(v uint32) {
	var buf [4]byte
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
	_, _ = h.h.Write(buf[:])
}

func (h *Hasher) WriteUint64(v uint64) {
	h.WriteUint32(uint32(v >> 32))
	h.WriteUint32(uint32(v))
}

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() Hash256 {
	var out Hash256
	h.h.Sum(out[:0])
	return out
}

// DomainHash is a shortcut for hashing a single buffer under [domain].
func DomainHash(domain string, buf []byte) Hash256 {
	h := NewHasher(domain)
	h.Write(buf)
	return h.Sum()
}
