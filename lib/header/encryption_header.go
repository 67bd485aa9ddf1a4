// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package header

import (
	"fmt"

	"github.com/ph0llux/zff/lib/encryption"
)

// EncryptionHeaderVersion is the current format version of the encryption
// header.
const EncryptionHeaderVersion = 1

// EncryptionHeader carries everything needed to recover the content
// encryption key with a passphrase: the PBE parameters, the AEAD algorithm
// tag, the wrapped content key, and the nonce under which the main header
// payload is sealed when header encryption is active.
type EncryptionHeader struct {
	PBE        PBEHeader
	Algorithm  encryption.Algorithm
	WrappedKey []byte
	Nonce      [encryption.NonceSize]byte
}

// Encode serializes the encryption header.
func (h EncryptionHeader) Encode() []byte {
	pbe := h.PBE.Encode()
	payload := make([]byte, 0, len(pbe)+1+4+len(h.WrappedKey)+encryption.NonceSize)
	payload = append(payload, pbe...)
	payload = append(payload, byte(h.Algorithm))
	payload = appendU32(payload, uint32(len(h.WrappedKey)))
	payload = append(payload, h.WrappedKey...)
	payload = append(payload, h.Nonce[:]...)
	return encodeFrame(MagicEncryptionHeader, EncryptionHeaderVersion, payload)
}

// DecodeEncryptionHeader parses an encryption header from the start of
// data and returns it with the number of bytes consumed.
func DecodeEncryptionHeader(data []byte) (EncryptionHeader, int, error) {
	_, payload, consumed, err := decodeFrame(data, MagicEncryptionHeader, EncryptionHeaderVersion, "encryption header")
	if err != nil {
		return EncryptionHeader{}, 0, err
	}

	var decoded EncryptionHeader
	pbe, pbeLength, err := DecodePBEHeader(payload)
	if err != nil {
		return EncryptionHeader{}, 0, err
	}
	decoded.PBE = pbe

	reader := newPayloadReader("encryption header", payload)
	reader.take(pbeLength)
	decoded.Algorithm = encryption.Algorithm(reader.u8())

	wrappedKeyLength := reader.u32()
	if wrappedKeyLength > uint32(len(payload)) {
		return EncryptionHeader{}, 0, fmt.Errorf("encryption header: wrapped key length %d exceeds payload: %w",
			wrappedKeyLength, ErrMalformed)
	}
	if wrappedKey := reader.take(int(wrappedKeyLength)); wrappedKey != nil {
		decoded.WrappedKey = append([]byte(nil), wrappedKey...)
	}
	copy(decoded.Nonce[:], reader.take(encryption.NonceSize))
	if err := reader.finish(); err != nil {
		return EncryptionHeader{}, 0, err
	}

	if decoded.Algorithm.KeySize() == 0 {
		return EncryptionHeader{}, 0, fmt.Errorf("encryption header: unknown encryption algorithm %d: %w",
			decoded.Algorithm, ErrMalformed)
	}
	return decoded, consumed, nil
}

// UnwrapContentKey re-derives the key encryption key from the passphrase
// and PBE parameters and unwraps the content encryption key. This is the
// only place a wrong passphrase becomes externally detectable.
func (h EncryptionHeader) UnwrapContentKey(passphrase []byte) ([]byte, error) {
	keyEncryptionKey, err := encryption.DeriveKeyEncryptionKey(
		passphrase, h.PBE.Parameters.Iterations, h.PBE.Parameters.Salt, h.PBE.Cipher)
	if err != nil {
		return nil, fmt.Errorf("deriving key encryption key: %w", err)
	}

	contentKey, err := encryption.UnwrapKey(h.WrappedKey, keyEncryptionKey, h.PBE.IV)
	for i := range keyEncryptionKey {
		keyEncryptionKey[i] = 0
	}
	if err != nil {
		return nil, err
	}

	if len(contentKey) != h.Algorithm.KeySize() {
		return nil, fmt.Errorf("unwrapped key is %d bytes, %s requires %d: %w",
			len(contentKey), h.Algorithm, h.Algorithm.KeySize(), encryption.ErrKeyUnwrapFailed)
	}
	return contentKey, nil
}
