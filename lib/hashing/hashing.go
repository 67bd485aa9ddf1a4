// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

// Package hashing is the digest algorithm registry for zff containers.
//
// Digests are computed over the original plaintext of each chunk (and over
// the whole image), before compression and encryption, so stored digests
// stay valid regardless of the compression or encryption configuration.
//
// The tag space is an open registry: decoding preserves unknown tags so a
// container written by a newer implementation still round-trips, but unknown
// algorithms cannot be computed and behave like AlgorithmNone.
package hashing

import (
	"fmt"
	"hash"
	"hash/crc32"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Algorithm identifies a digest algorithm. Tags are stored in hash value
// headers (1 byte each) and are protocol constants.
type Algorithm uint8

const (
	// AlgorithmNone is an intentional no-op entry: the tag is stored,
	// no digest bytes follow.
	AlgorithmNone Algorithm = 0

	// AlgorithmBlake2b512 is BLAKE2b with a 64-byte digest.
	AlgorithmBlake2b512 Algorithm = 1

	// AlgorithmSHA3_256 is SHA3-256 with a 32-byte digest.
	AlgorithmSHA3_256 Algorithm = 2

	// AlgorithmCRC32 is the IEEE CRC-32 checksum (4 bytes). Not
	// collision resistant; useful as a cheap transport checksum when
	// cryptographic digests are not required.
	AlgorithmCRC32 Algorithm = 3

	// AlgorithmBlake3 is BLAKE3 with a 32-byte digest.
	AlgorithmBlake3 Algorithm = 4
)

// String returns the human-readable name of an algorithm tag.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmBlake2b512:
		return "blake2b-512"
	case AlgorithmSHA3_256:
		return "sha3-256"
	case AlgorithmCRC32:
		return "crc32"
	case AlgorithmBlake3:
		return "blake3"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm parses an algorithm tag from its string representation.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "none":
		return AlgorithmNone, nil
	case "blake2b-512":
		return AlgorithmBlake2b512, nil
	case "sha3-256":
		return AlgorithmSHA3_256, nil
	case "crc32":
		return AlgorithmCRC32, nil
	case "blake3":
		return AlgorithmBlake3, nil
	default:
		return 0, fmt.Errorf("unknown hash algorithm: %q", name)
	}
}

// Known reports whether this implementation can compute the algorithm.
// AlgorithmNone is known (it computes nothing).
func (a Algorithm) Known() bool {
	return a <= AlgorithmBlake3
}

// Size returns the fixed digest length in bytes, or 0 for AlgorithmNone
// and unknown tags.
func (a Algorithm) Size() int {
	switch a {
	case AlgorithmBlake2b512:
		return blake2b.Size
	case AlgorithmSHA3_256:
		return 32
	case AlgorithmCRC32:
		return crc32.Size
	case AlgorithmBlake3:
		return 32
	default:
		return 0
	}
}

// New returns a fresh hash.Hash for the algorithm. Returns an error for
// AlgorithmNone and unknown tags, which have nothing to compute.
func New(a Algorithm) (hash.Hash, error) {
	switch a {
	case AlgorithmBlake2b512:
		hasher, err := blake2b.New512(nil)
		if err != nil {
			return nil, fmt.Errorf("initializing blake2b-512: %w", err)
		}
		return hasher, nil
	case AlgorithmSHA3_256:
		return sha3.New256(), nil
	case AlgorithmCRC32:
		return crc32.NewIEEE(), nil
	case AlgorithmBlake3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("hash algorithm %s cannot be computed", a)
	}
}

// Compute returns the digest of data, or nil for AlgorithmNone and unknown
// tags. The nil result is a valid no-op digest, not an error: callers
// preserve the tag for round-trip fidelity.
func Compute(a Algorithm, data []byte) []byte {
	hasher, err := New(a)
	if err != nil {
		return nil
	}
	hasher.Write(data)
	return hasher.Sum(nil)
}
