// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

// Package encryption implements the two-layer envelope cryptography of zff
// containers.
//
// The key-wrapping layer derives a key encryption key from a passphrase via
// PBKDF2/SHA-256 and uses it with AES-CBC to protect a randomly generated
// content encryption key. The content layer uses that key with AES-GCM-SIV
// to authenticate and encrypt each header and chunk payload individually.
//
// Separating the layers means the content key can be re-wrapped (passphrase
// change, additional passphrases) without re-encrypting any chunk data:
// only the wrapped key in the encryption header changes.
package encryption

import (
	"errors"
	"fmt"
)

// ErrKeyUnwrapFailed marks a failure to recover the content encryption key,
// almost always a wrong passphrase (the CBC padding of the wrapped key does
// not check out). Fatal for opening the container.
var ErrKeyUnwrapFailed = errors.New("key unwrap failed")

// ErrDecryptionFailed marks an AEAD authentication failure on a header or
// chunk. The object is unrecoverable; no partial plaintext is ever exposed.
var ErrDecryptionFailed = errors.New("decryption failed")

// Algorithm identifies the content AEAD cipher. Tags are stored in the
// encryption header (1 byte) and are protocol constants.
type Algorithm uint8

const (
	// AlgorithmAES128GCMSIV is AES-128-GCM-SIV (RFC 8452).
	AlgorithmAES128GCMSIV Algorithm = 0

	// AlgorithmAES256GCMSIV is AES-256-GCM-SIV (RFC 8452).
	AlgorithmAES256GCMSIV Algorithm = 1
)

// String returns the human-readable name of the algorithm tag.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmAES128GCMSIV:
		return "aes128-gcm-siv"
	case AlgorithmAES256GCMSIV:
		return "aes256-gcm-siv"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// KeySize returns the content encryption key length in bytes, or 0 for an
// unknown tag.
func (a Algorithm) KeySize() int {
	switch a {
	case AlgorithmAES128GCMSIV:
		return 16
	case AlgorithmAES256GCMSIV:
		return 32
	default:
		return 0
	}
}

// KDFScheme identifies the key derivation function of the PBE header.
type KDFScheme uint8

// KDFPBKDF2SHA256 is PBKDF2 with HMAC-SHA-256.
const KDFPBKDF2SHA256 KDFScheme = 0

// String returns the human-readable name of the KDF scheme.
func (s KDFScheme) String() string {
	if s == KDFPBKDF2SHA256 {
		return "pbkdf2-sha256"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// CipherScheme identifies the block cipher used to wrap the content
// encryption key.
type CipherScheme uint8

const (
	// CipherAES128CBC wraps the content key with AES-128-CBC.
	CipherAES128CBC CipherScheme = 0

	// CipherAES256CBC wraps the content key with AES-256-CBC.
	CipherAES256CBC CipherScheme = 1
)

// String returns the human-readable name of the cipher scheme.
func (s CipherScheme) String() string {
	switch s {
	case CipherAES128CBC:
		return "aes128-cbc"
	case CipherAES256CBC:
		return "aes256-cbc"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// KeySize returns the key encryption key length in bytes, or 0 for an
// unknown scheme.
func (s CipherScheme) KeySize() int {
	switch s {
	case CipherAES128CBC:
		return 16
	case CipherAES256CBC:
		return 32
	default:
		return 0
	}
}
