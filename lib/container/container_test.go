// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/ph0llux/zff/lib/compression"
	"github.com/ph0llux/zff/lib/encryption"
	"github.com/ph0llux/zff/lib/hashing"
	"github.com/ph0llux/zff/lib/header"
)

// memorySegment is an in-memory SegmentFile. Seeking back and writing
// overwrites in place, the way the writer patches header regions.
type memorySegment struct {
	data   []byte
	offset int
	closed bool
}

func (s *memorySegment) Write(p []byte) (int, error) {
	if s.closed {
		return 0, fmt.Errorf("segment is closed")
	}
	end := s.offset + len(p)
	if end > len(s.data) {
		s.data = append(s.data, make([]byte, end-len(s.data))...)
	}
	copy(s.data[s.offset:], p)
	s.offset = end
	return len(p), nil
}

func (s *memorySegment) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.offset = int(offset)
	case io.SeekCurrent:
		s.offset += int(offset)
	case io.SeekEnd:
		s.offset = len(s.data) + int(offset)
	}
	return int64(s.offset), nil
}

func (s *memorySegment) Close() error {
	s.closed = true
	return nil
}

type memorySink struct {
	segments []*memorySegment
}

func (s *memorySink) StartSegment(splitNumber uint64) (SegmentFile, error) {
	if uint64(len(s.segments)+1) != splitNumber {
		return nil, fmt.Errorf("segment %d requested, %d exist", splitNumber, len(s.segments))
	}
	segment := &memorySegment{}
	s.segments = append(s.segments, segment)
	return segment, nil
}

func (s *memorySink) streams() []io.Reader {
	streams := make([]io.Reader, len(s.segments))
	for i, segment := range s.segments {
		streams[i] = bytes.NewReader(segment.data)
	}
	return streams
}

func patternedImage(length int) []byte {
	data := make([]byte, length)
	for i := range data {
		data[i] = byte(i * 31)
	}
	return data
}

func writeImage(t *testing.T, options CreationOptions, image []byte) *memorySink {
	t.Helper()
	sink := &memorySink{}
	writer, err := CreateContainer(sink, options)
	if err != nil {
		t.Fatalf("CreateContainer failed: %v", err)
	}
	if _, err := writer.Write(image); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	for i, segment := range sink.segments {
		if !segment.closed {
			t.Fatalf("segment %d left open after Close", i+1)
		}
	}
	return sink
}

func extractImage(t *testing.T, sink *memorySink, passphrase []byte) ([]byte, *VerifyResult) {
	t.Helper()
	container, err := OpenContainer(sink.streams(), passphrase)
	if err != nil {
		t.Fatalf("OpenContainer failed: %v", err)
	}
	defer container.Close()

	var recovered bytes.Buffer
	result, err := container.Extract(&recovered, ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	return recovered.Bytes(), result
}

func TestPlainSingleSegmentLayout(t *testing.T) {
	const chunkSize = 512
	image := patternedImage(10 * chunkSize)
	sink := writeImage(t, CreationOptions{ChunkSize: chunkSize}, image)

	if len(sink.segments) != 1 {
		t.Fatalf("wrote %d segments, want 1", len(sink.segments))
	}
	data := sink.segments[0].data

	mainHeader, consumed, err := header.DecodeMainHeader(data)
	if err != nil {
		t.Fatalf("DecodeMainHeader failed: %v", err)
	}
	if mainHeader.Split.SplitNumber != 1 {
		t.Errorf("split number %d, want 1", mainHeader.Split.SplitNumber)
	}
	if mainHeader.DataLength != uint64(len(image)) {
		t.Errorf("data length %d, want %d", mainHeader.DataLength, len(image))
	}

	expectedRegion := uint64(10 * (header.EncodedChunkHeaderLength + chunkSize))
	if mainHeader.Split.Length != expectedRegion {
		t.Errorf("declared segment length %d, want %d", mainHeader.Split.Length, expectedRegion)
	}
	if uint64(len(data)-consumed) != expectedRegion {
		t.Errorf("actual data region is %d bytes, want %d", len(data)-consumed, expectedRegion)
	}

	// Walk the chunk records: numbers 1..10, each followed by exactly
	// chunkSize stored bytes equal to the image slice.
	offset := consumed
	for number := uint64(1); number <= 10; number++ {
		chunkHeader, n, err := header.DecodeChunkHeader(data[offset:])
		if err != nil {
			t.Fatalf("chunk %d header: %v", number, err)
		}
		if chunkHeader.ChunkNumber != number {
			t.Fatalf("chunk number %d, want %d", chunkHeader.ChunkNumber, number)
		}
		if chunkHeader.ChunkSize != chunkSize {
			t.Fatalf("chunk %d stored size %d, want %d", number, chunkHeader.ChunkSize, chunkSize)
		}
		offset += n
		start := int(number-1) * chunkSize
		if !bytes.Equal(data[offset:offset+chunkSize], image[start:start+chunkSize]) {
			t.Fatalf("chunk %d payload differs from image bytes", number)
		}
		offset += chunkSize
	}
	if offset != len(data) {
		t.Errorf("segment has %d trailing bytes", len(data)-offset)
	}

	recovered, result := extractImage(t, sink, nil)
	if !bytes.Equal(recovered, image) {
		t.Error("recovered image differs from original")
	}
	if !result.Clean() {
		t.Errorf("unexpected issues: %v", result.Issues)
	}
}

func TestRoundTripCompressionAndHashes(t *testing.T) {
	tests := []struct {
		name    string
		options CreationOptions
	}{
		{"zstd", CreationOptions{
			ChunkSize:        1024,
			Compression:      compression.AlgorithmZstd,
			CompressionLevel: 3,
		}},
		{"lz4", CreationOptions{
			ChunkSize:        1024,
			Compression:      compression.AlgorithmLZ4,
			CompressionLevel: 1,
		}},
		{"hashed", CreationOptions{
			ChunkSize:      1024,
			HashAlgorithms: []hashing.Algorithm{hashing.AlgorithmBlake2b512, hashing.AlgorithmSHA3_256},
		}},
		{"compressed and hashed", CreationOptions{
			ChunkSize:        1024,
			Compression:      compression.AlgorithmZstd,
			CompressionLevel: 3,
			HashAlgorithms:   []hashing.Algorithm{hashing.AlgorithmBlake3, hashing.AlgorithmCRC32},
		}},
		{"partial final chunk", CreationOptions{
			ChunkSize:      1024,
			HashAlgorithms: []hashing.Algorithm{hashing.AlgorithmBlake2b512},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			length := 10 * 1024
			if tt.name == "partial final chunk" {
				length = 10*1024 + 137
			}
			image := patternedImage(length)
			sink := writeImage(t, tt.options, image)

			recovered, result := extractImage(t, sink, nil)
			if !bytes.Equal(recovered, image) {
				t.Error("recovered image differs from original")
			}
			if !result.Clean() {
				t.Errorf("unexpected issues: %v", result.Issues)
			}
		})
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	for _, encryptHeader := range []bool{false, true} {
		name := "chunks only"
		if encryptHeader {
			name = "header and chunks"
		}
		t.Run(name, func(t *testing.T) {
			image := patternedImage(8*1024 + 57)
			options := CreationOptions{
				ChunkSize:           1024,
				Passphrase:          []byte("correct-horse"),
				EncryptHeader:       encryptHeader,
				EncryptionAlgorithm: encryption.AlgorithmAES256GCMSIV,
				CipherScheme:        encryption.CipherAES256CBC,
				HashAlgorithms:      []hashing.Algorithm{hashing.AlgorithmBlake2b512},
			}
			sink := writeImage(t, options, image)

			recovered, result := extractImage(t, sink, []byte("correct-horse"))
			if !bytes.Equal(recovered, image) {
				t.Error("recovered image differs from original")
			}
			if !result.Clean() {
				t.Errorf("unexpected issues: %v", result.Issues)
			}

			// The stored payloads must not contain the plaintext.
			if bytes.Contains(sink.segments[0].data, image[:1024]) {
				t.Error("segment contains a plaintext chunk")
			}
		})
	}
}

func TestEncryptedWrongPassphrase(t *testing.T) {
	for _, encryptHeader := range []bool{false, true} {
		name := "chunks only"
		if encryptHeader {
			name = "header and chunks"
		}
		t.Run(name, func(t *testing.T) {
			image := patternedImage(4 * 1024)
			options := CreationOptions{
				ChunkSize:           1024,
				Passphrase:          []byte("correct-horse"),
				EncryptHeader:       encryptHeader,
				EncryptionAlgorithm: encryption.AlgorithmAES256GCMSIV,
				CipherScheme:        encryption.CipherAES256CBC,
			}
			sink := writeImage(t, options, image)

			_, err := OpenContainer(sink.streams(), []byte("wrong-password"))
			if !errors.Is(err, encryption.ErrKeyUnwrapFailed) && !errors.Is(err, encryption.ErrDecryptionFailed) {
				t.Errorf("wrong passphrase gives %v, want ErrKeyUnwrapFailed or ErrDecryptionFailed", err)
			}

			if _, err := OpenContainer(sink.streams(), nil); err == nil {
				t.Error("opening an encrypted container without a passphrase must fail")
			}
		})
	}
}

func TestEncryptedHeaderHidesMetadata(t *testing.T) {
	options := CreationOptions{
		ChunkSize:     1024,
		Passphrase:    []byte("pw"),
		EncryptHeader: true,
		Description:   header.DescriptionHeader{CaseNumber: "SECRET-CASE-42"},
	}
	sink := writeImage(t, options, patternedImage(2048))

	if bytes.Contains(sink.segments[0].data, []byte("SECRET-CASE-42")) {
		t.Error("encrypted main header leaks the case number")
	}

	container, err := OpenContainer(sink.streams(), []byte("pw"))
	if err != nil {
		t.Fatalf("OpenContainer failed: %v", err)
	}
	defer container.Close()
	if container.Header.Description.CaseNumber != "SECRET-CASE-42" {
		t.Error("decrypted main header lost the case number")
	}
}

func TestSegmentedContainer(t *testing.T) {
	const chunkSize = 256
	// Each chunk record is the header plus the stored payload; the
	// split size admits exactly four records per segment.
	recordSize := uint64(header.EncodedChunkHeaderLength + chunkSize)
	image := patternedImage(12 * chunkSize)
	options := CreationOptions{
		ChunkSize: chunkSize,
		SplitSize: 4 * recordSize,
	}
	sink := writeImage(t, options, image)

	if len(sink.segments) != 3 {
		t.Fatalf("wrote %d segments, want 3", len(sink.segments))
	}

	t.Run("in order", func(t *testing.T) {
		recovered, result := extractImage(t, sink, nil)
		if !bytes.Equal(recovered, image) {
			t.Error("recovered image differs from original")
		}
		if !result.Clean() {
			t.Errorf("unexpected issues: %v", result.Issues)
		}
	})

	t.Run("out of order", func(t *testing.T) {
		streams := sink.streams()
		if _, err := OpenContainer([]io.Reader{streams[1], streams[0], streams[2]}, nil); !errors.Is(err, ErrSegmentMismatch) {
			t.Errorf("segments (2,1,3) give %v, want ErrSegmentMismatch", err)
		}
	})

	t.Run("swapped tail", func(t *testing.T) {
		streams := sink.streams()
		if _, err := OpenContainer([]io.Reader{streams[0], streams[2], streams[1]}, nil); !errors.Is(err, ErrSegmentMismatch) {
			t.Errorf("segments (1,3,2) give %v, want ErrSegmentMismatch", err)
		}
	})

	t.Run("foreign segment", func(t *testing.T) {
		other := writeImage(t, options, patternedImage(12*chunkSize))
		streams := sink.streams()
		foreign := other.streams()
		if _, err := OpenContainer([]io.Reader{streams[0], foreign[1], streams[2]}, nil); !errors.Is(err, ErrSegmentMismatch) {
			t.Errorf("foreign segment gives %v, want ErrSegmentMismatch", err)
		}
	})
}

func TestTruncatedSegmentIsRejected(t *testing.T) {
	image := patternedImage(8 * 1024)
	sink := writeImage(t, CreationOptions{ChunkSize: 1024}, image)

	data := sink.segments[0].data
	truncated := data[:len(data)-100]

	container, err := OpenContainer([]io.Reader{bytes.NewReader(truncated)}, nil)
	if err != nil {
		t.Fatalf("OpenContainer failed: %v", err)
	}
	if _, err := container.Extract(io.Discard, ExtractOptions{}); !errors.Is(err, ErrSegmentMismatch) {
		t.Errorf("truncated segment gives %v, want ErrSegmentMismatch", err)
	}
}

func TestOversizedChunkSizeFieldIsRejected(t *testing.T) {
	image := patternedImage(4 * 1024)
	sink := writeImage(t, CreationOptions{ChunkSize: 1024}, image)

	// Overwrite the first chunk's stored-size field with an absurd
	// value. The size field is read before any authentication; the
	// reader must refuse to trust it as an allocation size.
	data := sink.segments[0].data
	_, offset, err := header.DecodeMainHeader(data)
	if err != nil {
		t.Fatalf("DecodeMainHeader failed: %v", err)
	}
	if _, _, err := header.DecodeChunkHeader(data[offset:]); err != nil {
		t.Fatalf("DecodeChunkHeader failed: %v", err)
	}
	size := uint64(1) << 62
	field := offset + header.EncodedChunkHeaderLength - 8
	for i := 0; i < 8; i++ {
		data[field+i] = byte(size >> (8 * i))
	}

	container, err := OpenContainer(sink.streams(), nil)
	if err != nil {
		t.Fatalf("OpenContainer failed: %v", err)
	}
	defer container.Close()
	if _, err := container.Extract(io.Discard, ExtractOptions{}); !errors.Is(err, ErrSegmentMismatch) {
		t.Errorf("oversized chunk size field gives %v, want ErrSegmentMismatch", err)
	}
}

// corruptChunkPayload flips one byte inside the stored payload of the
// given chunk in a single-segment unencrypted container.
func corruptChunkPayload(t *testing.T, data []byte, target uint64, hashed bool) {
	t.Helper()
	_, offset, err := header.DecodeMainHeader(data)
	if err != nil {
		t.Fatalf("DecodeMainHeader failed: %v", err)
	}
	for {
		chunkHeader, n, err := header.DecodeChunkHeader(data[offset:])
		if err != nil {
			t.Fatalf("walking chunks: %v", err)
		}
		offset += n
		if hashed {
			length := int(uint32(data[offset]) | uint32(data[offset+1])<<8 | uint32(data[offset+2])<<16 | uint32(data[offset+3])<<24)
			offset += 4 + length
		}
		if chunkHeader.ChunkNumber == target {
			data[offset+int(chunkHeader.ChunkSize)/2] ^= 0xFF
			return
		}
		offset += int(chunkHeader.ChunkSize)
	}
}

func TestIntegrityViolationIsLocalized(t *testing.T) {
	image := patternedImage(10 * 1024)
	options := CreationOptions{
		ChunkSize:      1024,
		HashAlgorithms: []hashing.Algorithm{hashing.AlgorithmBlake2b512},
	}
	sink := writeImage(t, options, image)
	corruptChunkPayload(t, sink.segments[0].data, 3, true)

	container, err := OpenContainer(sink.streams(), nil)
	if err != nil {
		t.Fatalf("OpenContainer failed: %v", err)
	}
	defer container.Close()

	var recovered bytes.Buffer
	result, err := container.Extract(&recovered, ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	var chunkIssues, imageIssues int
	for _, issue := range result.Issues {
		if !errors.Is(issue.Err, ErrIntegrityViolation) {
			t.Errorf("issue %v is not an integrity violation", issue)
		}
		switch issue.ChunkNumber {
		case 3:
			chunkIssues++
		case 0:
			imageIssues++
		default:
			t.Errorf("issue reported against unrelated chunk %d", issue.ChunkNumber)
		}
	}
	if chunkIssues != 1 {
		t.Errorf("%d issues for chunk 3, want 1", chunkIssues)
	}
	if imageIssues != 1 {
		t.Errorf("%d whole-image issues, want 1", imageIssues)
	}

	// Every other chunk must be intact in the extraction.
	if !bytes.Equal(recovered.Bytes()[:2*1024], image[:2*1024]) {
		t.Error("chunks before the corruption were altered")
	}
	if !bytes.Equal(recovered.Bytes()[3*1024:], image[3*1024:]) {
		t.Error("chunks after the corruption were altered")
	}
}

func TestFailFastStopsAtFirstIssue(t *testing.T) {
	image := patternedImage(10 * 1024)
	options := CreationOptions{
		ChunkSize:      1024,
		HashAlgorithms: []hashing.Algorithm{hashing.AlgorithmSHA3_256},
	}
	sink := writeImage(t, options, image)
	corruptChunkPayload(t, sink.segments[0].data, 3, true)

	container, err := OpenContainer(sink.streams(), nil)
	if err != nil {
		t.Fatalf("OpenContainer failed: %v", err)
	}
	defer container.Close()

	if _, err := container.Verify(ExtractOptions{FailFast: true}); !errors.Is(err, ErrIntegrityViolation) {
		t.Errorf("fail-fast verify gives %v, want ErrIntegrityViolation", err)
	}
}

func TestCorruptedEncryptedChunkIsZeroFilled(t *testing.T) {
	image := patternedImage(6 * 1024)
	options := CreationOptions{
		ChunkSize:  1024,
		Passphrase: []byte("pw"),
	}
	sink := writeImage(t, options, image)
	corruptChunkPayload(t, sink.segments[0].data, 2, false)

	container, err := OpenContainer(sink.streams(), []byte("pw"))
	if err != nil {
		t.Fatalf("OpenContainer failed: %v", err)
	}
	defer container.Close()

	var recovered bytes.Buffer
	result, err := container.Extract(&recovered, ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(result.Issues) != 1 {
		t.Fatalf("%d issues, want 1: %v", len(result.Issues), result.Issues)
	}
	issue := result.Issues[0]
	if issue.ChunkNumber != 2 || !errors.Is(issue.Err, encryption.ErrDecryptionFailed) {
		t.Errorf("issue %v, want a decryption failure on chunk 2", issue)
	}

	if !bytes.Equal(recovered.Bytes()[1024:2*1024], make([]byte, 1024)) {
		t.Error("failed chunk was not zero-filled")
	}
	if !bytes.Equal(recovered.Bytes()[2*1024:], image[2*1024:]) {
		t.Error("chunks after the failed chunk were altered")
	}
}

func TestParallelWorkersMatchSequential(t *testing.T) {
	source := rand.New(rand.NewSource(7))
	image := make([]byte, 64*1024+311)
	source.Read(image)

	options := CreationOptions{
		ChunkSize:        1024,
		SplitSize:        16 * 1024,
		Compression:      compression.AlgorithmZstd,
		CompressionLevel: 3,
		HashAlgorithms:   []hashing.Algorithm{hashing.AlgorithmBlake2b512},
	}

	sequential := writeImage(t, options, image)

	options.Workers = 4
	parallel := writeImage(t, options, image)

	if len(sequential.segments) != len(parallel.segments) {
		t.Errorf("sequential wrote %d segments, parallel %d", len(sequential.segments), len(parallel.segments))
	}

	recovered, result := extractImage(t, parallel, nil)
	if !bytes.Equal(recovered, image) {
		t.Error("parallel writer corrupted the image")
	}
	if !result.Clean() {
		t.Errorf("unexpected issues: %v", result.Issues)
	}
}

func TestWriteInUnevenPieces(t *testing.T) {
	image := patternedImage(5*1024 + 300)
	sink := &memorySink{}
	writer, err := CreateContainer(sink, CreationOptions{ChunkSize: 1024})
	if err != nil {
		t.Fatalf("CreateContainer failed: %v", err)
	}
	for offset := 0; offset < len(image); {
		end := offset + 777
		if end > len(image) {
			end = len(image)
		}
		if _, err := writer.Write(image[offset:end]); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		offset = end
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	recovered, _ := extractImage(t, sink, nil)
	if !bytes.Equal(recovered, image) {
		t.Error("recovered image differs from original")
	}
}

func TestEmptyImage(t *testing.T) {
	sink := writeImage(t, CreationOptions{}, nil)

	recovered, result := extractImage(t, sink, nil)
	if len(recovered) != 0 {
		t.Errorf("recovered %d bytes from an empty image", len(recovered))
	}
	if !result.Clean() {
		t.Errorf("unexpected issues: %v", result.Issues)
	}
}

func TestExtractIsSingleUse(t *testing.T) {
	sink := writeImage(t, CreationOptions{ChunkSize: 1024}, patternedImage(2048))

	container, err := OpenContainer(sink.streams(), nil)
	if err != nil {
		t.Fatalf("OpenContainer failed: %v", err)
	}
	defer container.Close()

	if _, err := container.Verify(ExtractOptions{}); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if _, err := container.Verify(ExtractOptions{}); err == nil {
		t.Error("second Verify on consumed streams must fail")
	}
}

func TestCreationOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		options CreationOptions
	}{
		{"header encryption without passphrase", CreationOptions{EncryptHeader: true}},
		{"unknown hash algorithm", CreationOptions{HashAlgorithms: []hashing.Algorithm{hashing.Algorithm(77)}}},
		{"duplicate hash algorithm", CreationOptions{HashAlgorithms: []hashing.Algorithm{hashing.AlgorithmBlake3, hashing.AlgorithmBlake3}}},
		{"negative workers", CreationOptions{Workers: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CreateContainer(&memorySink{}, tt.options); err == nil {
				t.Error("CreateContainer accepted invalid options")
			}
		})
	}
}
