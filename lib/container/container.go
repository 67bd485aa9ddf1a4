// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

// Package container assembles and reads segmented forensic image
// containers. The write path splits an image byte stream into fixed-size
// chunks, compresses, encrypts and hashes each chunk independently, and
// groups chunks into segments bounded by a configurable split size. The
// read path validates segment ordering and identity, recovers the
// plaintext stream and reports per-chunk and whole-image integrity
// results.
//
// Storage is delegated to the caller: the writer emits segments through a
// SegmentSink, the reader consumes segment byte streams in split-number
// order. The package never touches the filesystem itself.
package container

import (
	"errors"
	"io"
)

// ErrSegmentMismatch indicates a segment that cannot be assembled into
// the container: wrong container identifier, out-of-order split number,
// or a declared segment length that does not match the bytes present.
var ErrSegmentMismatch = errors.New("segment mismatch")

// ErrIntegrityViolation indicates a stored digest that does not match the
// recomputed digest of the recovered plaintext. It is always reported
// with its scope: a chunk number, or the whole image.
var ErrIntegrityViolation = errors.New("integrity violation")

// SegmentFile is one segment being written. The writer seeks back to the
// start of the file to patch header fields whose values are only known
// once the segment (or the whole container) is complete.
type SegmentFile interface {
	io.Writer
	io.Seeker
	Close() error
}

// SegmentSink supplies storage for segments as the writer needs them.
// StartSegment is called with strictly increasing split numbers starting
// at 1. The writer closes every returned file; the first segment's file
// stays open until the container is finalized because the main header is
// patched last.
type SegmentSink interface {
	StartSegment(splitNumber uint64) (SegmentFile, error)
}
