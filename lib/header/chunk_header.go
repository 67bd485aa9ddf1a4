// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package header

import "fmt"

// ChunkHeaderVersion is the current format version of the chunk header.
const ChunkHeaderVersion = 1

// ChunkHeader precedes each stored chunk payload. Chunk numbers are
// 1-based, globally unique, and contiguous across the whole container
// (not just within a segment). ChunkSize is the stored payload size, after
// compression and encryption.
type ChunkHeader struct {
	ChunkNumber uint64
	ChunkSize   uint64
}

// EncodedChunkHeaderLength is the fixed encoded size of a chunk header.
const EncodedChunkHeaderLength = frameOverhead + 2*8

// Encode serializes the chunk header.
func (h ChunkHeader) Encode() []byte {
	payload := make([]byte, 0, 2*8)
	payload = appendU64(payload, h.ChunkNumber)
	payload = appendU64(payload, h.ChunkSize)
	return encodeFrame(MagicChunkHeader, ChunkHeaderVersion, payload)
}

// DecodeChunkHeader parses a chunk header from the start of data and
// returns it with the number of bytes consumed. A zero chunk size is a
// corruption: every stored payload has at least the AEAD tag or one byte
// of data.
func DecodeChunkHeader(data []byte) (ChunkHeader, int, error) {
	_, payload, consumed, err := decodeFrame(data, MagicChunkHeader, ChunkHeaderVersion, "chunk header")
	if err != nil {
		return ChunkHeader{}, 0, err
	}

	reader := newPayloadReader("chunk header", payload)
	decoded := ChunkHeader{
		ChunkNumber: reader.u64(),
		ChunkSize:   reader.u64(),
	}
	if err := reader.finish(); err != nil {
		return ChunkHeader{}, 0, err
	}
	if decoded.ChunkSize == 0 {
		return ChunkHeader{}, 0, fmt.Errorf("chunk header: chunk %d declares size 0: %w",
			decoded.ChunkNumber, ErrMalformed)
	}
	return decoded, consumed, nil
}
