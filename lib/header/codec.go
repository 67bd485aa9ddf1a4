// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

// Package header implements the tagged binary header framing of the zff
// container format.
//
// Every header kind shares one frame shape: a 4-byte magic identifying the
// kind (big-endian on the wire), an 8-byte total frame length, a 1-byte
// format version, and a kind-specific payload. All integer payload fields
// are little-endian. Decoding is a pure function over byte buffers: it
// either consumes exactly the declared frame length or fails, and it
// rejects versions newer than this implementation rather than guessing at
// their payload shape.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed marks a header whose magic, declared length, or payload
// shape is inconsistent. Fatal for the enclosing header; sibling headers
// already parsed stay valid.
var ErrMalformed = errors.New("malformed header")

// ErrUnsupportedVersion marks a header written by a newer implementation.
// The header is rejected, never partially parsed.
var ErrUnsupportedVersion = errors.New("unsupported header version")

// Header kind magic values. Protocol constants.
const (
	MagicMainHeader          uint32 = 0x7A66666D
	MagicEncryptedMainHeader uint32 = 0x7A666645
	MagicEncryptionHeader    uint32 = 0x7A666665
	MagicPBEHeader           uint32 = 0x7A666670
	MagicPBKDF2Parameters    uint32 = 0x6B646670
	MagicCompressionHeader   uint32 = 0x7A666663
	MagicDescriptionHeader   uint32 = 0x7A666664
	MagicHashHeader          uint32 = 0x7A666668
	MagicHashValue           uint32 = 0x7A666648
	MagicSplitHeader         uint32 = 0x7A666673
	MagicChunkHeader         uint32 = 0x7A666643
)

// frameOverhead is the fixed frame prefix: magic (4) + length (8) +
// version (1). The PBKDF2 parameter object is the one versionless frame;
// its prefix is magic + length only.
const (
	frameOverhead            = 4 + 8 + 1
	versionlessFrameOverhead = 4 + 8
)

// encodeFrame assembles a complete header frame around a payload.
func encodeFrame(magic uint32, version uint8, payload []byte) []byte {
	frame := make([]byte, frameOverhead+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], magic)
	binary.LittleEndian.PutUint64(frame[4:12], uint64(frameOverhead+len(payload)))
	frame[12] = version
	copy(frame[frameOverhead:], payload)
	return frame
}

// encodeVersionlessFrame assembles a frame without a version byte.
func encodeVersionlessFrame(magic uint32, payload []byte) []byte {
	frame := make([]byte, versionlessFrameOverhead+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], magic)
	binary.LittleEndian.PutUint64(frame[4:12], uint64(versionlessFrameOverhead+len(payload)))
	copy(frame[versionlessFrameOverhead:], payload)
	return frame
}

// decodeFrame validates the frame prefix for the expected header kind and
// returns the version, the payload slice, and the total frame length
// consumed from data.
func decodeFrame(data []byte, magic uint32, maxVersion uint8, kind string) (uint8, []byte, int, error) {
	payload, consumed, err := decodePrefix(data, magic, frameOverhead, kind)
	if err != nil {
		return 0, nil, 0, err
	}
	version := data[12]
	if version == 0 {
		return 0, nil, 0, fmt.Errorf("%s: version 0 is invalid: %w", kind, ErrMalformed)
	}
	if version > maxVersion {
		return 0, nil, 0, fmt.Errorf("%s: version %d is newer than supported version %d: %w",
			kind, version, maxVersion, ErrUnsupportedVersion)
	}
	return version, payload, consumed, nil
}

// decodeVersionlessFrame is decodeFrame for the PBKDF2 parameter object.
func decodeVersionlessFrame(data []byte, magic uint32, kind string) ([]byte, int, error) {
	return decodePrefix(data, magic, versionlessFrameOverhead, kind)
}

func decodePrefix(data []byte, magic uint32, overhead int, kind string) ([]byte, int, error) {
	if len(data) < overhead {
		return nil, 0, fmt.Errorf("%s: buffer holds %d bytes, frame prefix needs %d: %w",
			kind, len(data), overhead, ErrMalformed)
	}
	if actual := binary.BigEndian.Uint32(data[0:4]); actual != magic {
		return nil, 0, fmt.Errorf("%s: magic 0x%08X does not match expected 0x%08X: %w",
			kind, actual, magic, ErrMalformed)
	}
	length := binary.LittleEndian.Uint64(data[4:12])
	if length < uint64(overhead) || length > uint64(len(data)) {
		return nil, 0, fmt.Errorf("%s: declared length %d is inconsistent with buffer of %d bytes: %w",
			kind, length, len(data), ErrMalformed)
	}
	return data[overhead:length], int(length), nil
}

// payloadReader consumes payload fields and converts short reads and
// trailing garbage into ErrMalformed with the header kind attached.
type payloadReader struct {
	kind   string
	data   []byte
	offset int
	err    error
}

func newPayloadReader(kind string, payload []byte) *payloadReader {
	return &payloadReader{kind: kind, data: payload}
}

func (r *payloadReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%s: %s: %w", r.kind, fmt.Sprintf(format, args...), ErrMalformed)
	}
}

func (r *payloadReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.offset+n > len(r.data) {
		r.fail("payload truncated at offset %d (need %d more bytes)", r.offset, r.offset+n-len(r.data))
		return nil
	}
	field := r.data[r.offset : r.offset+n]
	r.offset += n
	return field
}

func (r *payloadReader) u8() uint8 {
	field := r.take(1)
	if field == nil {
		return 0
	}
	return field[0]
}

func (r *payloadReader) u16() uint16 {
	field := r.take(2)
	if field == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(field)
}

func (r *payloadReader) u32() uint32 {
	field := r.take(4)
	if field == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(field)
}

func (r *payloadReader) u64() uint64 {
	field := r.take(8)
	if field == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(field)
}

// remaining returns everything left in the payload and consumes it.
func (r *payloadReader) remaining() []byte {
	if r.err != nil {
		return nil
	}
	rest := r.data[r.offset:]
	r.offset = len(r.data)
	return rest
}

func (r *payloadReader) exhausted() bool {
	return r.err != nil || r.offset >= len(r.data)
}

// finish fails if payload bytes remain unconsumed: the declared frame
// length must equal the bytes the payload actually needs.
func (r *payloadReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.offset != len(r.data) {
		r.fail("%d trailing payload bytes", len(r.data)-r.offset)
	}
	return r.err
}

// Little-endian append helpers for payload assembly.

func appendU16(buffer []byte, value uint16) []byte {
	return binary.LittleEndian.AppendUint16(buffer, value)
}

func appendU32(buffer []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(buffer, value)
}

func appendU64(buffer []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(buffer, value)
}
