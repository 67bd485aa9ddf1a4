// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// SaltSize is the PBKDF2 salt length in bytes.
const SaltSize = 32

// IVSize is the CBC initialization vector length in bytes.
const IVSize = 16

// DeriveKeyEncryptionKey derives the key encryption key from a passphrase
// and the PBE parameters. The key length follows the cipher scheme (16 or
// 32 bytes). The caller should zero the returned slice after use.
func DeriveKeyEncryptionKey(passphrase []byte, iterations uint16, salt [SaltSize]byte, scheme CipherScheme) ([]byte, error) {
	keySize := scheme.KeySize()
	if keySize == 0 {
		return nil, fmt.Errorf("unsupported cipher scheme: %d", scheme)
	}
	if iterations == 0 {
		return nil, fmt.Errorf("PBKDF2 iteration count must be positive")
	}
	return pbkdf2.Key(passphrase, salt[:], int(iterations), keySize, sha256.New), nil
}

// NewContentKey generates a random content encryption key sized for the
// given AEAD algorithm. The caller should zero the returned slice after use.
func NewContentKey(algorithm Algorithm) ([]byte, error) {
	keySize := algorithm.KeySize()
	if keySize == 0 {
		return nil, fmt.Errorf("unsupported encryption algorithm: %d", algorithm)
	}
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating content encryption key: %w", err)
	}
	return key, nil
}

// WrapKey encrypts the content encryption key under the key encryption key
// with AES-CBC and PKCS#7 padding. The wrapped key is stored in the
// encryption header.
func WrapKey(contentKey, keyEncryptionKey []byte, iv [IVSize]byte) ([]byte, error) {
	block, err := aes.NewCipher(keyEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("initializing key-wrapping cipher: %w", err)
	}

	padded := padPKCS7(contentKey, aes.BlockSize)
	wrapped := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(wrapped, padded)
	return wrapped, nil
}

// UnwrapKey decrypts a wrapped content encryption key. A wrong passphrase
// surfaces here as invalid PKCS#7 padding or an implausible key length and
// returns an error wrapping ErrKeyUnwrapFailed. A wrong passphrase that
// happens to survive the padding check still fails later AEAD
// authentication, so a usable wrong key is never silently produced.
func UnwrapKey(wrappedKey, keyEncryptionKey []byte, iv [IVSize]byte) ([]byte, error) {
	block, err := aes.NewCipher(keyEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("initializing key-unwrapping cipher: %w", err)
	}

	if len(wrappedKey) == 0 || len(wrappedKey)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("wrapped key length %d is not a multiple of the cipher block size: %w",
			len(wrappedKey), ErrKeyUnwrapFailed)
	}

	padded := make([]byte, len(wrappedKey))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(padded, wrappedKey)

	contentKey, err := unpadPKCS7(padded, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrKeyUnwrapFailed)
	}

	if len(contentKey) != 16 && len(contentKey) != 32 {
		return nil, fmt.Errorf("unwrapped key has implausible length %d: %w", len(contentKey), ErrKeyUnwrapFailed)
	}
	return contentKey, nil
}

// padPKCS7 appends PKCS#7 padding up to the next block boundary. Input that
// already ends on a boundary gains a full padding block.
func padPKCS7(data []byte, blockSize int) []byte {
	padLength := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLength)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLength)
	}
	return padded
}

// unpadPKCS7 strips and validates PKCS#7 padding.
func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	padLength := int(data[len(data)-1])
	if padLength == 0 || padLength > blockSize || padLength > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-padLength:] {
		if int(b) != padLength {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-padLength], nil
}
