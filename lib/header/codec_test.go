// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package header

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	frame := encodeFrame(MagicChunkHeader, 1, payload)

	version, decoded, consumed, err := decodeFrame(frame, MagicChunkHeader, 1, "test frame")
	if err != nil {
		t.Fatalf("decodeFrame failed: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
	if consumed != len(frame) {
		t.Errorf("consumed %d bytes, want %d", consumed, len(frame))
	}
	if string(decoded) != string(payload) {
		t.Error("payload did not round trip")
	}
}

func TestFrameTrailingBufferBytesAreNotConsumed(t *testing.T) {
	frame := encodeFrame(MagicChunkHeader, 1, []byte{7})
	buffer := append(frame, 0xAA, 0xBB)

	_, _, consumed, err := decodeFrame(buffer, MagicChunkHeader, 1, "test frame")
	if err != nil {
		t.Fatalf("decodeFrame failed: %v", err)
	}
	if consumed != len(frame) {
		t.Errorf("consumed %d bytes, want %d (the declared frame length)", consumed, len(frame))
	}
}

func TestFrameMagicMismatch(t *testing.T) {
	frame := encodeFrame(MagicChunkHeader, 1, nil)
	_, _, _, err := decodeFrame(frame, MagicSplitHeader, 1, "test frame")
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("magic mismatch gives %v, want ErrMalformed", err)
	}
}

func TestFrameVersionNewerThanSupported(t *testing.T) {
	frame := encodeFrame(MagicChunkHeader, 2, []byte{1})
	_, _, _, err := decodeFrame(frame, MagicChunkHeader, 1, "test frame")
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("future version gives %v, want ErrUnsupportedVersion", err)
	}
	if errors.Is(err, ErrMalformed) {
		t.Error("future version must not also report ErrMalformed")
	}
}

func TestFrameVersionZero(t *testing.T) {
	frame := encodeFrame(MagicChunkHeader, 0, nil)
	_, _, _, err := decodeFrame(frame, MagicChunkHeader, 1, "test frame")
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("version 0 gives %v, want ErrMalformed", err)
	}
}

func TestFrameDeclaredLengthInconsistent(t *testing.T) {
	frame := encodeFrame(MagicChunkHeader, 1, []byte{1, 2, 3})

	// Declared length beyond the buffer.
	tooLong := append([]byte(nil), frame...)
	binary.LittleEndian.PutUint64(tooLong[4:12], uint64(len(frame)+1))
	if _, _, _, err := decodeFrame(tooLong, MagicChunkHeader, 1, "test frame"); !errors.Is(err, ErrMalformed) {
		t.Errorf("oversized declared length gives %v, want ErrMalformed", err)
	}

	// Declared length shorter than the fixed prefix.
	tooShort := append([]byte(nil), frame...)
	binary.LittleEndian.PutUint64(tooShort[4:12], 5)
	if _, _, _, err := decodeFrame(tooShort, MagicChunkHeader, 1, "test frame"); !errors.Is(err, ErrMalformed) {
		t.Errorf("undersized declared length gives %v, want ErrMalformed", err)
	}

	// Truncated buffer.
	if _, _, _, err := decodeFrame(frame[:8], MagicChunkHeader, 1, "test frame"); !errors.Is(err, ErrMalformed) {
		t.Errorf("truncated buffer gives %v, want ErrMalformed", err)
	}
}

func TestPayloadReaderTrailingBytes(t *testing.T) {
	reader := newPayloadReader("test", []byte{1, 2, 3})
	reader.u8()
	if err := reader.finish(); !errors.Is(err, ErrMalformed) {
		t.Errorf("unconsumed payload gives %v, want ErrMalformed", err)
	}
}
