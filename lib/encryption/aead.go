// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	siv "github.com/secure-io/siv-go"
)

// NonceSize is the AEAD nonce length in bytes.
const NonceSize = 12

// Overhead is the AEAD authentication tag length added to each ciphertext.
const Overhead = 16

// Nonce derivation: every object encrypted under one content key needs a
// unique nonce. Chunk numbers are globally unique per container and never
// reused, so chunk nonces are derived from the chunk number: the first 8
// bytes carry the number (little-endian), the trailing 4 bytes are a domain
// counter separating the payload from its hash attachment. Header nonces
// are random, stored in the header, and rejected from the derived subspace
// so they can never collide with a chunk nonce.
const (
	nonceDomainPayload uint32 = 0
	nonceDomainHashes  uint32 = 1
	nonceDomainMin     uint32 = 2
)

// ChunkPayloadNonce derives the nonce for a chunk's stored payload.
func ChunkPayloadNonce(chunkNumber uint64) [NonceSize]byte {
	return derivedNonce(chunkNumber, nonceDomainPayload)
}

// ChunkHashNonce derives the nonce for a chunk's encrypted hash attachment.
func ChunkHashNonce(chunkNumber uint64) [NonceSize]byte {
	return derivedNonce(chunkNumber, nonceDomainHashes)
}

func derivedNonce(chunkNumber uint64, domain uint32) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[:8], chunkNumber)
	binary.LittleEndian.PutUint32(nonce[8:], domain)
	return nonce
}

// RandomHeaderNonce generates a random nonce for header encryption. Nonces
// falling into the derived chunk-nonce subspace are rejected and redrawn.
func RandomHeaderNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	for {
		if _, err := rand.Read(nonce[:]); err != nil {
			return nonce, fmt.Errorf("generating header nonce: %w", err)
		}
		if binary.LittleEndian.Uint32(nonce[8:]) >= nonceDomainMin {
			return nonce, nil
		}
	}
}

// RandomIV generates a random CBC initialization vector for the PBE header.
func RandomIV() ([IVSize]byte, error) {
	var iv [IVSize]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return iv, fmt.Errorf("generating IV: %w", err)
	}
	return iv, nil
}

// RandomSalt generates a random PBKDF2 salt for the PBE header.
func RandomSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// newAEAD constructs the AES-GCM-SIV cipher for the algorithm and key.
func newAEAD(algorithm Algorithm, contentKey []byte) (cipher.AEAD, error) {
	keySize := algorithm.KeySize()
	if keySize == 0 {
		return nil, fmt.Errorf("unsupported encryption algorithm: %d", algorithm)
	}
	if len(contentKey) != keySize {
		return nil, fmt.Errorf("content key is %d bytes, %s requires %d", len(contentKey), algorithm, keySize)
	}
	aead, err := siv.NewGCM(contentKey)
	if err != nil {
		return nil, fmt.Errorf("initializing %s: %w", algorithm, err)
	}
	return aead, nil
}

// Encrypt seals plaintext under the content key with the given nonce.
// The ciphertext carries a 16-byte authentication tag.
func Encrypt(algorithm Algorithm, contentKey []byte, nonce [NonceSize]byte, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(algorithm, contentKey)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce[:], plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Authentication failure
// (wrong key or tampered data) returns an error wrapping
// ErrDecryptionFailed; no partial plaintext is exposed.
func Decrypt(algorithm Algorithm, contentKey []byte, nonce [NonceSize]byte, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(algorithm, contentKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%s authentication: %w", algorithm, ErrDecryptionFailed)
	}
	return plaintext, nil
}
