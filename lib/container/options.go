// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"

	"github.com/ph0llux/zff/lib/compression"
	"github.com/ph0llux/zff/lib/encryption"
	"github.com/ph0llux/zff/lib/hashing"
	"github.com/ph0llux/zff/lib/header"
)

// DefaultChunkSize is the plaintext chunk size used when the creation
// options leave it unset.
const DefaultChunkSize = 1 << 15

// DefaultKDFIterations is the PBKDF2 iteration count used when the
// creation options leave it unset. The wire field is a u16, so this is
// also the maximum.
const DefaultKDFIterations = 65535

// CreationOptions configures a new container. The zero value with a
// passphrase-less setup produces an uncompressed, unencrypted, unhashed
// single-segment container with the default chunk size.
type CreationOptions struct {
	// ChunkSize is the plaintext chunk size in bytes. Zero selects
	// DefaultChunkSize.
	ChunkSize uint64

	// SplitSize bounds the chunk data region of each segment in bytes.
	// Zero means unbounded: everything goes into one segment. A single
	// chunk is never split, so a segment may exceed SplitSize when one
	// stored chunk alone is larger.
	SplitSize uint64

	// Compression selects the per-chunk compression algorithm.
	Compression compression.Algorithm

	// CompressionLevel is the compression level, interpreted by the
	// selected algorithm. Ignored for AlgorithmNone.
	CompressionLevel uint8

	// Description carries the case metadata stored in the main header.
	Description header.DescriptionHeader

	// HashAlgorithms lists the digest algorithms computed per chunk and
	// over the whole image. Duplicates are rejected; AlgorithmNone
	// entries are allowed and carry no digest.
	HashAlgorithms []hashing.Algorithm

	// Passphrase enables encryption when non-empty: a random content
	// key is generated, wrapped under a key derived from the
	// passphrase, and every chunk is sealed with the content key.
	Passphrase []byte

	// EncryptHeader additionally seals the main header fields after the
	// encryption header, hiding case metadata without the passphrase.
	// Requires a passphrase.
	EncryptHeader bool

	// EncryptionAlgorithm selects the content AEAD. The zero value is
	// AES-128-GCM-SIV; use encryption.AlgorithmAES256GCMSIV for a
	// 256-bit content key.
	EncryptionAlgorithm encryption.Algorithm

	// CipherScheme selects the key-wrapping cipher. The zero value is
	// AES-128-CBC; use encryption.CipherAES256CBC for a 256-bit
	// key-encryption key.
	CipherScheme encryption.CipherScheme

	// KDFIterations is the PBKDF2 iteration count. Zero selects
	// DefaultKDFIterations.
	KDFIterations uint16

	// Workers sets the number of chunk-processing goroutines. Zero or
	// one processes chunks on the calling goroutine; higher values
	// compress, encrypt and hash chunks concurrently, re-serialized in
	// chunk-number order before they reach a segment.
	Workers int
}

func (o *CreationOptions) applyDefaults() {
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.KDFIterations == 0 {
		o.KDFIterations = DefaultKDFIterations
	}
}

// Validate rejects option combinations the writer cannot honor.
func (o *CreationOptions) Validate() error {
	if o.EncryptHeader && len(o.Passphrase) == 0 {
		return fmt.Errorf("header encryption requires a passphrase")
	}
	if len(o.Passphrase) > 0 {
		if o.EncryptionAlgorithm.KeySize() == 0 {
			return fmt.Errorf("unknown encryption algorithm: %d", o.EncryptionAlgorithm)
		}
		if o.CipherScheme.KeySize() == 0 {
			return fmt.Errorf("unknown cipher scheme: %d", o.CipherScheme)
		}
	}
	seen := make(map[hashing.Algorithm]bool, len(o.HashAlgorithms))
	for _, algorithm := range o.HashAlgorithms {
		if algorithm != hashing.AlgorithmNone && !algorithm.Known() {
			return fmt.Errorf("unknown hash algorithm: %d", algorithm)
		}
		if seen[algorithm] {
			return fmt.Errorf("duplicate hash algorithm: %s", algorithm)
		}
		seen[algorithm] = true
	}
	if o.Workers < 0 {
		return fmt.Errorf("negative worker count: %d", o.Workers)
	}
	return nil
}

// computableAlgorithms returns the configured algorithms that produce a
// digest, in configuration order.
func (o *CreationOptions) computableAlgorithms() []hashing.Algorithm {
	var algorithms []hashing.Algorithm
	for _, algorithm := range o.HashAlgorithms {
		if algorithm != hashing.AlgorithmNone && algorithm.Known() {
			algorithms = append(algorithms, algorithm)
		}
	}
	return algorithms
}
