// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package header

import (
	"fmt"

	"github.com/ph0llux/zff/lib/encryption"
)

// PBEHeaderVersion is the current format version of the password-based
// encryption header.
const PBEHeaderVersion = 1

// PBKDF2Parameters is the KDF parameter object of the PBE header. It is
// the one versionless frame in the format: the parameter shape is bound to
// the PBE header's KDF flag, not to a version of its own.
type PBKDF2Parameters struct {
	Iterations uint16
	Salt       [encryption.SaltSize]byte
}

// Encode serializes the PBKDF2 parameter object.
func (p PBKDF2Parameters) Encode() []byte {
	payload := make([]byte, 0, 2+encryption.SaltSize)
	payload = appendU16(payload, p.Iterations)
	payload = append(payload, p.Salt[:]...)
	return encodeVersionlessFrame(MagicPBKDF2Parameters, payload)
}

// DecodePBKDF2Parameters parses a PBKDF2 parameter object from the start
// of data and returns it with the number of bytes consumed.
func DecodePBKDF2Parameters(data []byte) (PBKDF2Parameters, int, error) {
	payload, consumed, err := decodeVersionlessFrame(data, MagicPBKDF2Parameters, "pbkdf2 parameters")
	if err != nil {
		return PBKDF2Parameters{}, 0, err
	}

	reader := newPayloadReader("pbkdf2 parameters", payload)
	var decoded PBKDF2Parameters
	decoded.Iterations = reader.u16()
	copy(decoded.Salt[:], reader.take(encryption.SaltSize))
	if err := reader.finish(); err != nil {
		return PBKDF2Parameters{}, 0, err
	}
	if decoded.Iterations == 0 {
		return PBKDF2Parameters{}, 0, fmt.Errorf("pbkdf2 parameters: iteration count 0: %w", ErrMalformed)
	}
	return decoded, consumed, nil
}

// PBEHeader holds the password-based encryption parameters: which KDF
// derives the key encryption key, which block cipher wraps the content
// key, the KDF parameters, and the CBC initialization vector. Created once
// from the user's passphrase configuration and immutable thereafter.
type PBEHeader struct {
	KDF        encryption.KDFScheme
	Cipher     encryption.CipherScheme
	Parameters PBKDF2Parameters
	IV         [encryption.IVSize]byte
}

// Encode serializes the PBE header.
func (h PBEHeader) Encode() []byte {
	parameters := h.Parameters.Encode()
	payload := make([]byte, 0, 2+len(parameters)+encryption.IVSize)
	payload = append(payload, byte(h.KDF), byte(h.Cipher))
	payload = append(payload, parameters...)
	payload = append(payload, h.IV[:]...)
	return encodeFrame(MagicPBEHeader, PBEHeaderVersion, payload)
}

// DecodePBEHeader parses a PBE header from the start of data and returns
// it with the number of bytes consumed.
func DecodePBEHeader(data []byte) (PBEHeader, int, error) {
	_, payload, consumed, err := decodeFrame(data, MagicPBEHeader, PBEHeaderVersion, "pbe header")
	if err != nil {
		return PBEHeader{}, 0, err
	}

	reader := newPayloadReader("pbe header", payload)
	var decoded PBEHeader
	decoded.KDF = encryption.KDFScheme(reader.u8())
	decoded.Cipher = encryption.CipherScheme(reader.u8())
	if err := reader.err; err != nil {
		return PBEHeader{}, 0, err
	}

	if decoded.KDF != encryption.KDFPBKDF2SHA256 {
		return PBEHeader{}, 0, fmt.Errorf("pbe header: unknown KDF flag %d: %w", decoded.KDF, ErrMalformed)
	}
	if decoded.Cipher.KeySize() == 0 {
		return PBEHeader{}, 0, fmt.Errorf("pbe header: unknown cipher scheme flag %d: %w", decoded.Cipher, ErrMalformed)
	}

	parameters, parametersLength, err := DecodePBKDF2Parameters(payload[reader.offset:])
	if err != nil {
		return PBEHeader{}, 0, err
	}
	decoded.Parameters = parameters
	reader.take(parametersLength)

	copy(decoded.IV[:], reader.take(encryption.IVSize))
	if err := reader.finish(); err != nil {
		return PBEHeader{}, 0, err
	}
	return decoded, consumed, nil
}
