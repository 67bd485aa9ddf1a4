// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package header

import (
	"encoding/binary"
	"fmt"

	"github.com/ph0llux/zff/lib/encryption"
)

// MainHeaderVersion is the current format version of the main header.
const MainHeaderVersion = 1

// Encryption flag values of the main header framing.
const (
	// flagUnencrypted: no encryption header, chunks stored in plaintext.
	flagUnencrypted uint8 = 0

	// flagChunksEncrypted: encryption header present and chunks
	// encrypted, but the main header itself readable without the
	// passphrase (case metadata stays inspectable).
	flagChunksEncrypted uint8 = 1

	// flagHeaderEncrypted: the encrypted main header framing; all
	// fields after the encryption header are AEAD ciphertext.
	flagHeaderEncrypted uint8 = 2
)

// MainHeader is the first header of the first segment. It embeds the
// global sub-headers and the creation-time configuration of the container.
// The container assembler is the only component aware of this nesting
// order.
type MainHeader struct {
	// Encryption is nil for unencrypted containers.
	Encryption *EncryptionHeader

	Compression CompressionHeader
	Description DescriptionHeader

	// Hash declares the configured digest algorithms and carries the
	// whole-image digests once the container is finalized.
	Hash HashHeader

	// ChunkSize is the plaintext chunk size in bytes.
	ChunkSize uint64

	// SplitSize is the segment split bound in bytes.
	SplitSize uint64

	// Split is the first segment's split header.
	Split SplitHeader

	// DataLength is the total plaintext image length in bytes.
	DataLength uint64
}

// encodeContent serializes the fields shared between the plain and the
// encrypted framing: everything after the optional encryption header.
func (h MainHeader) encodeContent() []byte {
	var content []byte
	content = append(content, h.Compression.Encode()...)
	content = append(content, h.Description.Encode()...)
	content = append(content, h.Hash.Encode()...)
	content = appendU64(content, h.ChunkSize)
	content = appendU64(content, h.SplitSize)
	content = append(content, h.Split.Encode()...)
	content = appendU64(content, h.DataLength)
	return content
}

// Encode serializes the plain main header framing. With an encryption
// header present the chunks are encrypted but the header fields stay
// readable; use EncodeEncrypted to seal the header fields too.
func (h MainHeader) Encode() []byte {
	var payload []byte
	if h.Encryption == nil {
		payload = append(payload, flagUnencrypted)
	} else {
		payload = append(payload, flagChunksEncrypted)
		payload = append(payload, h.Encryption.Encode()...)
	}
	payload = append(payload, h.encodeContent()...)
	return encodeFrame(MagicMainHeader, MainHeaderVersion, payload)
}

// EncodeEncrypted serializes the encrypted main header framing: the
// encryption header stays in the clear (it is needed to recover the key),
// everything after it is sealed under the content key with the header
// nonce stored in the encryption header.
func (h MainHeader) EncodeEncrypted(contentKey []byte) ([]byte, error) {
	if h.Encryption == nil {
		return nil, fmt.Errorf("encrypted main header framing requires an encryption header")
	}

	sealed, err := encryption.Encrypt(h.Encryption.Algorithm, contentKey, h.Encryption.Nonce, h.encodeContent())
	if err != nil {
		return nil, fmt.Errorf("sealing main header: %w", err)
	}

	var payload []byte
	payload = append(payload, flagHeaderEncrypted)
	payload = append(payload, h.Encryption.Encode()...)
	payload = append(payload, sealed...)
	return encodeFrame(MagicEncryptedMainHeader, MainHeaderVersion, payload), nil
}

// EncryptedFrameLength returns the encoded length of the encrypted main
// header framing without encrypting anything. Used to reserve the header
// region in the first segment before the final field values are known.
func (h MainHeader) EncryptedFrameLength() (int, error) {
	if h.Encryption == nil {
		return 0, fmt.Errorf("encrypted main header framing requires an encryption header")
	}
	content := h.encodeContent()
	return frameOverhead + 1 + len(h.Encryption.Encode()) + len(content) + encryption.Overhead, nil
}

// IsEncryptedFraming reports whether data starts with the encrypted main
// header magic. Callers peek this to decide whether a passphrase is needed
// before decoding.
func IsEncryptedFraming(data []byte) bool {
	return len(data) >= 4 && binary.BigEndian.Uint32(data[0:4]) == MagicEncryptedMainHeader
}

// DecodeMainHeader parses a plain main header framing from the start of
// data and returns it with the number of bytes consumed. Buffers holding
// the encrypted framing are rejected; use DecodeEncryptedMainHeader.
func DecodeMainHeader(data []byte) (MainHeader, int, error) {
	if IsEncryptedFraming(data) {
		return MainHeader{}, 0, fmt.Errorf("main header: header is encrypted, passphrase required: %w", ErrMalformed)
	}

	_, payload, consumed, err := decodeFrame(data, MagicMainHeader, MainHeaderVersion, "main header")
	if err != nil {
		return MainHeader{}, 0, err
	}

	reader := newPayloadReader("main header", payload)
	var decoded MainHeader

	switch flag := reader.u8(); flag {
	case flagUnencrypted:

	case flagChunksEncrypted:
		encryptionHeader, encryptionLength, err := DecodeEncryptionHeader(payload[reader.offset:])
		if err != nil {
			return MainHeader{}, 0, err
		}
		decoded.Encryption = &encryptionHeader
		reader.take(encryptionLength)

	case flagHeaderEncrypted:
		return MainHeader{}, 0, fmt.Errorf("main header: encrypted-header flag inside plain framing: %w", ErrMalformed)

	default:
		return MainHeader{}, 0, fmt.Errorf("main header: unknown encryption flag %d: %w", flag, ErrMalformed)
	}

	if err := decoded.decodeContent(reader); err != nil {
		return MainHeader{}, 0, err
	}
	return decoded, consumed, nil
}

// DecodeEncryptedMainHeader parses the encrypted main header framing,
// unwrapping the content key with the passphrase and unsealing the header
// fields. It returns the header, the recovered content key (for chunk
// decryption; the caller owns zeroing it), and the bytes consumed.
func DecodeEncryptedMainHeader(data []byte, passphrase []byte) (MainHeader, []byte, int, error) {
	_, payload, consumed, err := decodeFrame(data, MagicEncryptedMainHeader, MainHeaderVersion, "encrypted main header")
	if err != nil {
		return MainHeader{}, nil, 0, err
	}

	reader := newPayloadReader("encrypted main header", payload)
	if flag := reader.u8(); flag != flagHeaderEncrypted {
		return MainHeader{}, nil, 0, fmt.Errorf("encrypted main header: encryption flag %d, want %d: %w",
			flag, flagHeaderEncrypted, ErrMalformed)
	}

	encryptionHeader, encryptionLength, err := DecodeEncryptionHeader(payload[reader.offset:])
	if err != nil {
		return MainHeader{}, nil, 0, err
	}
	reader.take(encryptionLength)

	contentKey, err := encryptionHeader.UnwrapContentKey(passphrase)
	if err != nil {
		return MainHeader{}, nil, 0, err
	}

	content, err := encryption.Decrypt(encryptionHeader.Algorithm, contentKey, encryptionHeader.Nonce, reader.remaining())
	if err != nil {
		for i := range contentKey {
			contentKey[i] = 0
		}
		return MainHeader{}, nil, 0, err
	}

	decoded := MainHeader{Encryption: &encryptionHeader}
	contentReader := newPayloadReader("encrypted main header", content)
	if err := decoded.decodeContent(contentReader); err != nil {
		for i := range contentKey {
			contentKey[i] = 0
		}
		return MainHeader{}, nil, 0, err
	}
	return decoded, contentKey, consumed, nil
}

// decodeContent parses the shared field sequence from reader, which must
// be positioned after the encryption flag (and optional encryption
// header).
func (h *MainHeader) decodeContent(reader *payloadReader) error {
	if reader.err != nil {
		return reader.err
	}
	rest := reader.remaining()

	compressionHeader, compressionLength, err := DecodeCompressionHeader(rest)
	if err != nil {
		return err
	}
	h.Compression = compressionHeader
	rest = rest[compressionLength:]

	descriptionHeader, descriptionLength, err := DecodeDescriptionHeader(rest)
	if err != nil {
		return err
	}
	h.Description = descriptionHeader
	rest = rest[descriptionLength:]

	hashHeader, hashLength, err := DecodeHashHeader(rest)
	if err != nil {
		return err
	}
	h.Hash = hashHeader
	rest = rest[hashLength:]

	tail := newPayloadReader("main header", rest)
	h.ChunkSize = tail.u64()
	h.SplitSize = tail.u64()
	if tail.err != nil {
		return tail.err
	}

	splitHeader, splitLength, err := DecodeSplitHeader(rest[tail.offset:])
	if err != nil {
		return err
	}
	h.Split = splitHeader
	tail.take(splitLength)

	h.DataLength = tail.u64()
	if err := tail.finish(); err != nil {
		return err
	}

	if h.ChunkSize == 0 {
		return fmt.Errorf("main header: chunk size 0: %w", ErrMalformed)
	}
	return nil
}
