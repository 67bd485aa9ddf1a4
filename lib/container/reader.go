// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/ph0llux/zff/lib/compression"
	"github.com/ph0llux/zff/lib/encryption"
	"github.com/ph0llux/zff/lib/hashing"
	"github.com/ph0llux/zff/lib/header"
	"github.com/ph0llux/zff/lib/secret"
)

// maxFrameLength bounds a single header frame read from a segment
// stream, so a corrupted length field cannot trigger an absurd
// allocation.
const maxFrameLength = 1 << 26

// Issue records one integrity or recovery problem found while reading a
// container that was otherwise usable.
type Issue struct {
	// ChunkNumber identifies the failed chunk; zero means the issue
	// applies to the whole image (chunk numbers start at 1).
	ChunkNumber uint64

	// SplitNumber is the segment the chunk was read from; zero for
	// whole-image issues.
	SplitNumber uint64

	Err error
}

func (i Issue) String() string {
	if i.ChunkNumber == 0 {
		return fmt.Sprintf("whole image: %v", i.Err)
	}
	return fmt.Sprintf("chunk %d (segment %d): %v", i.ChunkNumber, i.SplitNumber, i.Err)
}

// VerifyResult reports the outcome of reading a usable container. An
// empty issue list means every chunk and every whole-image digest
// checked out. A structural failure (the container cannot be read at
// all) is returned as an error instead, never as a VerifyResult.
type VerifyResult struct {
	Issues []Issue
}

// Clean reports whether the container passed every check.
func (r *VerifyResult) Clean() bool {
	return len(r.Issues) == 0
}

// ExtractOptions configures Extract and Verify.
type ExtractOptions struct {
	// FailFast aborts on the first chunk-level failure instead of
	// recording it and continuing with the remaining chunks.
	FailFast bool
}

// Container is an opened container positioned at its first chunk. The
// segment streams are consumed sequentially; Extract or Verify can be
// called once.
type Container struct {
	// Header is the decoded main header. For containers with an
	// encrypted main header framing the fields are already decrypted.
	Header header.MainHeader

	contentKey *secret.Buffer
	segments   []*segment
	consumed   bool
}

type segment struct {
	reader *bufio.Reader
	split  header.SplitHeader
}

// OpenContainer validates the segment streams and recovers the content
// key. Streams must be supplied in split-number order: the first holds
// the main header, every further stream a split header. An encrypted
// container requires the passphrase here; a wrong passphrase fails
// deterministically before any chunk is read.
func OpenContainer(streams []io.Reader, passphrase []byte) (*Container, error) {
	if len(streams) == 0 {
		return nil, fmt.Errorf("no segment streams supplied")
	}

	first := bufio.NewReader(streams[0])
	magic, err := peekMagic(first)
	if err != nil {
		return nil, fmt.Errorf("segment 1: %w", err)
	}
	if magic == header.MagicSplitHeader {
		return nil, fmt.Errorf("first stream is not the first segment: %w", ErrSegmentMismatch)
	}

	frame, err := readFrame(first)
	if err != nil {
		return nil, fmt.Errorf("segment 1: main header: %w", err)
	}

	c := &Container{}
	if header.IsEncryptedFraming(frame) {
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("container has an encrypted main header and no passphrase was supplied")
		}
		mainHeader, contentKey, _, err := header.DecodeEncryptedMainHeader(frame, passphrase)
		if err != nil {
			return nil, fmt.Errorf("segment 1: main header: %w", err)
		}
		c.Header = mainHeader
		c.contentKey, err = secret.NewFromBytes(contentKey)
		if err != nil {
			return nil, err
		}
	} else {
		mainHeader, _, err := header.DecodeMainHeader(frame)
		if err != nil {
			return nil, fmt.Errorf("segment 1: main header: %w", err)
		}
		c.Header = mainHeader
		if mainHeader.Encryption != nil {
			if len(passphrase) == 0 {
				return nil, fmt.Errorf("container is encrypted and no passphrase was supplied")
			}
			contentKey, err := mainHeader.Encryption.UnwrapContentKey(passphrase)
			if err != nil {
				return nil, fmt.Errorf("unwrapping content key: %w", err)
			}
			c.contentKey, err = secret.NewFromBytes(contentKey)
			if err != nil {
				return nil, err
			}
		}
	}

	if c.Header.ChunkSize == 0 {
		return nil, fmt.Errorf("main header declares a zero chunk size: %w", header.ErrMalformed)
	}
	if c.Header.Split.SplitNumber != 1 {
		return nil, fmt.Errorf("main header declares split number %d, want 1: %w", c.Header.Split.SplitNumber, ErrSegmentMismatch)
	}
	identifier := c.Header.Split.UniqueIdentifier
	c.segments = append(c.segments, &segment{reader: first, split: c.Header.Split})

	for i, stream := range streams[1:] {
		expected := uint64(i + 2)
		reader := bufio.NewReader(stream)
		frame, err := readFrame(reader)
		if err != nil {
			return nil, fmt.Errorf("segment %d: split header: %w", expected, err)
		}
		split, _, err := header.DecodeSplitHeader(frame)
		if err != nil {
			return nil, fmt.Errorf("segment %d: split header: %w", expected, err)
		}
		if split.UniqueIdentifier != identifier {
			return nil, fmt.Errorf("segment %d: container identifier %016x, want %016x: %w",
				expected, split.UniqueIdentifier, identifier, ErrSegmentMismatch)
		}
		if split.SplitNumber != expected {
			return nil, fmt.Errorf("stream %d holds split number %d, want %d: %w",
				expected, split.SplitNumber, expected, ErrSegmentMismatch)
		}
		c.segments = append(c.segments, &segment{reader: reader, split: split})
	}
	return c, nil
}

// Close releases the recovered content key.
func (c *Container) Close() error {
	if c.contentKey == nil {
		return nil
	}
	err := c.contentKey.Close()
	c.contentKey = nil
	return err
}

// Encrypted reports whether the container's chunks are encrypted.
func (c *Container) Encrypted() bool {
	return c.Header.Encryption != nil
}

// Verify reads every chunk, checking per-chunk and whole-image digests
// without keeping the plaintext.
func (c *Container) Verify(options ExtractOptions) (*VerifyResult, error) {
	return c.Extract(io.Discard, options)
}

// Extract recovers the plaintext image into dst. Chunk-level failures
// (decryption, decompression, digest mismatch) are recorded as issues
// and the failed chunk's range is zero-filled so dst keeps the image's
// offsets; structural failures (malformed chunk headers, segment length
// or ordering violations) abort with an error. The segment streams are
// consumed; Extract can be called once per opened container.
func (c *Container) Extract(dst io.Writer, options ExtractOptions) (*VerifyResult, error) {
	if c.consumed {
		return nil, fmt.Errorf("container streams already consumed")
	}
	c.consumed = true

	hashAlgorithms := computableAlgorithms(c.Header.Hash)
	imageHashers := make([]hash.Hash, len(hashAlgorithms))
	for i, algorithm := range hashAlgorithms {
		hasher, err := hashing.New(algorithm)
		if err != nil {
			return nil, err
		}
		imageHashers[i] = hasher
	}

	result := &VerifyResult{}
	nextChunk := uint64(1)
	var extracted uint64

	for _, seg := range c.segments {
		var consumed uint64
		for consumed < seg.split.Length {
			chunkHeader, frameLength, err := c.readChunkHeader(seg)
			if err != nil {
				return nil, fmt.Errorf("segment %d: %w", seg.split.SplitNumber, err)
			}
			consumed += uint64(frameLength)

			if chunkHeader.ChunkNumber != nextChunk {
				return nil, fmt.Errorf("segment %d: chunk number %d, want %d: %w",
					seg.split.SplitNumber, chunkHeader.ChunkNumber, nextChunk, ErrSegmentMismatch)
			}
			nextChunk++

			var attachment []byte
			if len(hashAlgorithms) > 0 {
				attachment, err = c.readChunkHashes(seg)
				if err != nil {
					return nil, fmt.Errorf("segment %d: chunk %d: %w", seg.split.SplitNumber, chunkHeader.ChunkNumber, err)
				}
				consumed += uint64(4 + len(attachment))
			}

			// The stored size field is read before any authentication;
			// bound it by the segment's remaining data region before
			// trusting it as an allocation size.
			var remaining uint64
			if consumed < seg.split.Length {
				remaining = seg.split.Length - consumed
			}
			if chunkHeader.ChunkSize > remaining {
				return nil, fmt.Errorf("segment %d: chunk %d declares %d stored bytes, %d remain in the data region: %w",
					seg.split.SplitNumber, chunkHeader.ChunkNumber, chunkHeader.ChunkSize,
					remaining, ErrSegmentMismatch)
			}
			stored := make([]byte, chunkHeader.ChunkSize)
			if _, err := io.ReadFull(seg.reader, stored); err != nil {
				return nil, fmt.Errorf("segment %d: chunk %d payload: %w: %v",
					seg.split.SplitNumber, chunkHeader.ChunkNumber, ErrSegmentMismatch, err)
			}
			consumed += chunkHeader.ChunkSize

			expectedLength := c.expectedPlaintextLength(chunkHeader.ChunkNumber)
			plaintext, chunkErr := c.recoverChunk(chunkHeader.ChunkNumber, attachment, stored, expectedLength)
			if chunkErr != nil {
				if options.FailFast {
					return nil, fmt.Errorf("segment %d: chunk %d: %w", seg.split.SplitNumber, chunkHeader.ChunkNumber, chunkErr)
				}
				result.Issues = append(result.Issues, Issue{
					ChunkNumber: chunkHeader.ChunkNumber,
					SplitNumber: seg.split.SplitNumber,
					Err:         chunkErr,
				})
			}

			if _, err := dst.Write(plaintext); err != nil {
				return nil, fmt.Errorf("writing recovered plaintext: %w", err)
			}
			for _, hasher := range imageHashers {
				hasher.Write(plaintext)
			}
			extracted += uint64(len(plaintext))
		}
		if consumed != seg.split.Length {
			return nil, fmt.Errorf("segment %d: data region is %d bytes, split header declares %d: %w",
				seg.split.SplitNumber, consumed, seg.split.Length, ErrSegmentMismatch)
		}
	}

	if extracted != c.Header.DataLength {
		return nil, fmt.Errorf("recovered %d bytes, main header declares %d: %w",
			extracted, c.Header.DataLength, ErrSegmentMismatch)
	}

	for i, algorithm := range hashAlgorithms {
		stored := storedImageDigest(c.Header.Hash, algorithm)
		if len(stored) == 0 {
			continue
		}
		if computed := imageHashers[i].Sum(nil); !bytes.Equal(computed, stored) {
			result.Issues = append(result.Issues, Issue{
				Err: fmt.Errorf("%s digest mismatch over the whole image: %w", algorithm, ErrIntegrityViolation),
			})
		}
	}
	return result, nil
}

func (c *Container) readChunkHeader(seg *segment) (header.ChunkHeader, int, error) {
	frame := make([]byte, header.EncodedChunkHeaderLength)
	if _, err := io.ReadFull(seg.reader, frame); err != nil {
		return header.ChunkHeader{}, 0, fmt.Errorf("chunk header: %w: %v", ErrSegmentMismatch, err)
	}
	chunkHeader, consumed, err := header.DecodeChunkHeader(frame)
	if err != nil {
		return header.ChunkHeader{}, 0, err
	}
	return chunkHeader, consumed, nil
}

// readChunkHashes reads the length-prefixed hash attachment between the
// chunk header and the stored payload.
func (c *Container) readChunkHashes(seg *segment) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(seg.reader, prefix[:]); err != nil {
		return nil, fmt.Errorf("hash attachment: %w: %v", ErrSegmentMismatch, err)
	}
	length := binary.LittleEndian.Uint32(prefix[:])
	if length > maxFrameLength {
		return nil, fmt.Errorf("hash attachment declares %d bytes: %w", length, header.ErrMalformed)
	}
	attachment := make([]byte, length)
	if _, err := io.ReadFull(seg.reader, attachment); err != nil {
		return nil, fmt.Errorf("hash attachment: %w: %v", ErrSegmentMismatch, err)
	}
	return attachment, nil
}

// expectedPlaintextLength returns the plaintext size of a chunk: the
// configured chunk size, except for the final chunk which holds the
// image tail.
func (c *Container) expectedPlaintextLength(chunkNumber uint64) uint64 {
	offset := (chunkNumber - 1) * c.Header.ChunkSize
	if offset >= c.Header.DataLength {
		return 0
	}
	if remaining := c.Header.DataLength - offset; remaining < c.Header.ChunkSize {
		return remaining
	}
	return c.Header.ChunkSize
}

// recoverChunk decrypts, decompresses and digest-checks one chunk. On
// failure it returns a zero-filled buffer of the expected length together
// with the chunk-level error, so extraction can continue at the correct
// image offset.
func (c *Container) recoverChunk(number uint64, attachment, stored []byte, expectedLength uint64) ([]byte, error) {
	plaintext := stored
	if c.contentKey != nil {
		opened, err := encryption.Decrypt(c.Header.Encryption.Algorithm, c.contentKey.Bytes(), encryption.ChunkPayloadNonce(number), stored)
		if err != nil {
			return make([]byte, expectedLength), err
		}
		plaintext = opened
	}

	plaintext, err := compression.Decompress(plaintext, c.Header.Compression.Algorithm)
	if err != nil {
		return make([]byte, expectedLength), err
	}
	if uint64(len(plaintext)) != expectedLength {
		return make([]byte, expectedLength), fmt.Errorf("recovered %d plaintext bytes, want %d: %w",
			len(plaintext), expectedLength, ErrIntegrityViolation)
	}

	if len(attachment) > 0 {
		if err := c.verifyChunkHashes(number, attachment, plaintext); err != nil {
			return plaintext, err
		}
	}
	return plaintext, nil
}

// verifyChunkHashes decodes the hash attachment and compares every
// stored chunk digest against the recovered plaintext.
func (c *Container) verifyChunkHashes(number uint64, attachment, plaintext []byte) error {
	blob := attachment
	if c.contentKey != nil {
		opened, err := encryption.Decrypt(c.Header.Encryption.Algorithm, c.contentKey.Bytes(), encryption.ChunkHashNonce(number), attachment)
		if err != nil {
			return fmt.Errorf("hash attachment: %w", err)
		}
		blob = opened
	}

	hashes, _, err := header.DecodeHashHeader(blob)
	if err != nil {
		return fmt.Errorf("hash attachment: %w", err)
	}
	for _, value := range hashes.Values {
		if value.Algorithm == hashing.AlgorithmNone || !value.Algorithm.Known() || len(value.Digest) == 0 {
			continue
		}
		if computed := hashing.Compute(value.Algorithm, plaintext); !bytes.Equal(computed, value.Digest) {
			return fmt.Errorf("%s digest mismatch: %w", value.Algorithm, ErrIntegrityViolation)
		}
	}
	return nil
}

func computableAlgorithms(h header.HashHeader) []hashing.Algorithm {
	var algorithms []hashing.Algorithm
	for _, value := range h.Values {
		if value.Algorithm != hashing.AlgorithmNone && value.Algorithm.Known() {
			algorithms = append(algorithms, value.Algorithm)
		}
	}
	return algorithms
}

func storedImageDigest(h header.HashHeader, algorithm hashing.Algorithm) []byte {
	for _, value := range h.Values {
		if value.Algorithm == algorithm {
			return value.Digest
		}
	}
	return nil
}

// peekMagic returns the first header magic of the stream without
// consuming it.
func peekMagic(reader *bufio.Reader) (uint32, error) {
	prefix, err := reader.Peek(4)
	if err != nil {
		return 0, fmt.Errorf("reading header magic: %w", err)
	}
	return binary.BigEndian.Uint32(prefix), nil
}

// readFrame reads one complete header frame: it peeks the 12-byte
// prefix, takes the declared total frame length and reads exactly that
// many bytes.
func readFrame(reader *bufio.Reader) ([]byte, error) {
	prefix, err := reader.Peek(12)
	if err != nil {
		return nil, fmt.Errorf("reading frame prefix: %w: %v", header.ErrMalformed, err)
	}
	length := binary.LittleEndian.Uint64(prefix[4:12])
	if length < 12 || length > maxFrameLength {
		return nil, fmt.Errorf("frame declares %d bytes: %w", length, header.ErrMalformed)
	}
	frame := make([]byte, length)
	if _, err := io.ReadFull(reader, frame); err != nil {
		return nil, fmt.Errorf("reading %d-byte frame: %w: %v", length, header.ErrMalformed, err)
	}
	return frame, nil
}
