// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package header

// SplitHeaderVersion is the current format version of the split header.
const SplitHeaderVersion = 1

// SplitHeader identifies one segment of a container. The container
// identifier ties segments of one acquisition together regardless of file
// naming; split numbers are 1-based and strictly increasing with no gaps.
// Length is the byte length of the segment's data region (everything after
// this header, or after the main header in the first segment), which lets
// a reader detect truncation without the next segment at hand.
type SplitHeader struct {
	UniqueIdentifier uint64
	SplitNumber      uint64
	Length           uint64
}

// EncodedSplitHeaderLength is the fixed encoded size of a split header.
// All payload fields are fixed-width, which is what allows the length
// field to be patched in place when a segment is finalized.
const EncodedSplitHeaderLength = frameOverhead + 3*8

// Encode serializes the split header.
func (h SplitHeader) Encode() []byte {
	payload := make([]byte, 0, 3*8)
	payload = appendU64(payload, h.UniqueIdentifier)
	payload = appendU64(payload, h.SplitNumber)
	payload = appendU64(payload, h.Length)
	return encodeFrame(MagicSplitHeader, SplitHeaderVersion, payload)
}

// DecodeSplitHeader parses a split header from the start of data and
// returns it with the number of bytes consumed.
func DecodeSplitHeader(data []byte) (SplitHeader, int, error) {
	_, payload, consumed, err := decodeFrame(data, MagicSplitHeader, SplitHeaderVersion, "split header")
	if err != nil {
		return SplitHeader{}, 0, err
	}

	reader := newPayloadReader("split header", payload)
	decoded := SplitHeader{
		UniqueIdentifier: reader.u64(),
		SplitNumber:      reader.u64(),
		Length:           reader.u64(),
	}
	if err := reader.finish(); err != nil {
		return SplitHeader{}, 0, err
	}
	return decoded, consumed, nil
}
