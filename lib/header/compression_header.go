// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package header

import (
	"github.com/ph0llux/zff/lib/compression"
)

// CompressionHeaderVersion is the current format version of the
// compression header.
const CompressionHeaderVersion = 1

// CompressionHeader declares the compression configuration of a container.
// It is immutable once the container is created and applies to every chunk
// uniformly.
type CompressionHeader struct {
	Algorithm compression.Algorithm
	Level     uint8
}

// Encode serializes the compression header.
func (h CompressionHeader) Encode() []byte {
	return encodeFrame(MagicCompressionHeader, CompressionHeaderVersion, []byte{byte(h.Algorithm), h.Level})
}

// DecodeCompressionHeader parses a compression header from the start of
// data and returns it with the number of bytes consumed.
func DecodeCompressionHeader(data []byte) (CompressionHeader, int, error) {
	_, payload, consumed, err := decodeFrame(data, MagicCompressionHeader, CompressionHeaderVersion, "compression header")
	if err != nil {
		return CompressionHeader{}, 0, err
	}

	reader := newPayloadReader("compression header", payload)
	decoded := CompressionHeader{
		Algorithm: compression.Algorithm(reader.u8()),
		Level:     reader.u8(),
	}
	if err := reader.finish(); err != nil {
		return CompressionHeader{}, 0, err
	}
	return decoded, consumed, nil
}
