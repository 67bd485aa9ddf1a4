// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package header

import (
	"fmt"

	"github.com/ph0llux/zff/lib/hashing"
)

// Format versions of the hash header and its hash value entries.
const (
	HashHeaderVersion = 1
	HashValueVersion  = 1
)

// HashValue is one digest entry: an algorithm tag and the digest bytes.
// A nil digest is valid in two cases: the tag is hashing.AlgorithmNone
// (an intentional no-op entry), or the digest has not been computed yet
// (the placeholder state while a container is being written). Tags this
// implementation does not know round-trip with their digest bytes intact.
type HashValue struct {
	Algorithm hashing.Algorithm
	Digest    []byte
}

// Encode serializes the hash value.
func (v HashValue) Encode() []byte {
	payload := make([]byte, 0, 1+len(v.Digest))
	payload = append(payload, byte(v.Algorithm))
	payload = append(payload, v.Digest...)
	return encodeFrame(MagicHashValue, HashValueVersion, payload)
}

// DecodeHashValue parses a hash value from the start of data and returns
// it with the number of bytes consumed. For known algorithms the digest
// length must match the algorithm's fixed output size (or be absent, the
// placeholder state); unknown algorithms accept whatever the frame holds.
func DecodeHashValue(data []byte) (HashValue, int, error) {
	_, payload, consumed, err := decodeFrame(data, MagicHashValue, HashValueVersion, "hash value")
	if err != nil {
		return HashValue{}, 0, err
	}

	reader := newPayloadReader("hash value", payload)
	decoded := HashValue{Algorithm: hashing.Algorithm(reader.u8())}
	if digest := reader.remaining(); len(digest) > 0 {
		decoded.Digest = append([]byte(nil), digest...)
	}
	if err := reader.finish(); err != nil {
		return HashValue{}, 0, err
	}

	if decoded.Algorithm == hashing.AlgorithmNone && len(decoded.Digest) > 0 {
		return HashValue{}, 0, fmt.Errorf("hash value: digest bytes on a none entry: %w", ErrMalformed)
	}
	if decoded.Algorithm.Known() && len(decoded.Digest) > 0 && len(decoded.Digest) != decoded.Algorithm.Size() {
		return HashValue{}, 0, fmt.Errorf("hash value: %s digest is %d bytes, want %d: %w",
			decoded.Algorithm, len(decoded.Digest), decoded.Algorithm.Size(), ErrMalformed)
	}
	return decoded, consumed, nil
}

// HashHeader is an ordered list of hash values. One hash header at the
// whole-image level lives in the main header; a per-chunk hash header is
// attached to each chunk when digests are configured.
type HashHeader struct {
	Values []HashValue
}

// Encode serializes the hash header.
func (h HashHeader) Encode() []byte {
	var payload []byte
	for _, value := range h.Values {
		payload = append(payload, value.Encode()...)
	}
	return encodeFrame(MagicHashHeader, HashHeaderVersion, payload)
}

// DecodeHashHeader parses a hash header from the start of data and returns
// it with the number of bytes consumed.
func DecodeHashHeader(data []byte) (HashHeader, int, error) {
	_, payload, consumed, err := decodeFrame(data, MagicHashHeader, HashHeaderVersion, "hash header")
	if err != nil {
		return HashHeader{}, 0, err
	}

	var decoded HashHeader
	for offset := 0; offset < len(payload); {
		value, valueLength, err := DecodeHashValue(payload[offset:])
		if err != nil {
			return HashHeader{}, 0, err
		}
		decoded.Values = append(decoded.Values, value)
		offset += valueLength
	}
	return decoded, consumed, nil
}

// Algorithms returns the algorithm tags of all entries, in order.
func (h HashHeader) Algorithms() []hashing.Algorithm {
	algorithms := make([]hashing.Algorithm, len(h.Values))
	for i, value := range h.Values {
		algorithms[i] = value.Algorithm
	}
	return algorithms
}

// HasComputableDigests reports whether any entry names an algorithm this
// implementation can compute. Containers without computable digests carry
// no per-chunk hash attachments.
func (h HashHeader) HasComputableDigests() bool {
	for _, value := range h.Values {
		if value.Algorithm != hashing.AlgorithmNone && value.Algorithm.Known() {
			return true
		}
	}
	return false
}
