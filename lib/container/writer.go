// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"sync"

	"github.com/ph0llux/zff/lib/compression"
	"github.com/ph0llux/zff/lib/encryption"
	"github.com/ph0llux/zff/lib/hashing"
	"github.com/ph0llux/zff/lib/header"
	"github.com/ph0llux/zff/lib/secret"
)

// Writer streams a plaintext image into a new container. It implements
// io.WriteCloser: Write accepts image bytes in any sizes, Close flushes
// the final partial chunk, finalizes the open segment and patches the
// main header with the whole-image digests and length fields.
//
// A Writer is exclusively owned by one goroutine; Write and Close must
// not be called concurrently.
type Writer struct {
	options    CreationOptions
	sink       SegmentSink
	identifier uint64

	mainHeader header.MainHeader

	// contentKey is nil for unencrypted containers.
	contentKey *secret.Buffer

	compressor *compression.Compressor

	// imageHashers accumulate the whole-image digests, one per entry of
	// hashAlgorithms. Fed sequentially in chunk order.
	hashAlgorithms []hashing.Algorithm
	imageHashers   []hash.Hash

	buffer     []byte
	nextChunk  uint64
	dataLength uint64

	// firstSegment stays open until Close so the main header region at
	// offset zero can be patched with the finalized field values.
	firstSegment       SegmentFile
	reservedHeader     int
	firstSegmentLength uint64

	current      SegmentFile
	currentSplit uint64
	currentBytes uint64

	// Chunk pipeline, active when options.Workers > 1. Jobs fan out to
	// workers; per-job result channels queue on ordered so the appender
	// goroutine writes chunks in chunk-number order.
	jobs         chan chunkJob
	ordered      chan chan chunkResult
	appenderDone chan struct{}

	mu       sync.Mutex
	asyncErr error

	closed bool
}

type chunkJob struct {
	number    uint64
	plaintext []byte
	result    chan chunkResult
}

type chunkResult struct {
	frame []byte
	err   error
}

// CreateContainer starts a new container writing through sink. The
// returned writer owns the sink's segment files until Close.
func CreateContainer(sink SegmentSink, options CreationOptions) (*Writer, error) {
	options.applyDefaults()
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("creation options: %w", err)
	}

	var identifierBytes [8]byte
	if _, err := rand.Read(identifierBytes[:]); err != nil {
		return nil, fmt.Errorf("generating container identifier: %w", err)
	}
	identifier := binary.LittleEndian.Uint64(identifierBytes[:])

	compressor, err := compression.NewCompressor(options.Compression, options.CompressionLevel)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		options:        options,
		sink:           sink,
		identifier:     identifier,
		compressor:     compressor,
		hashAlgorithms: options.computableAlgorithms(),
		nextChunk:      1,
	}
	for _, algorithm := range w.hashAlgorithms {
		hasher, err := hashing.New(algorithm)
		if err != nil {
			return nil, err
		}
		w.imageHashers = append(w.imageHashers, hasher)
	}

	var encryptionHeader *header.EncryptionHeader
	if len(options.Passphrase) > 0 {
		encryptionHeader, err = w.buildEncryptionHeader()
		if err != nil {
			return nil, err
		}
	}

	w.mainHeader = header.MainHeader{
		Encryption:  encryptionHeader,
		Compression: header.CompressionHeader{Algorithm: options.Compression, Level: options.CompressionLevel},
		Description: options.Description,
		Hash:        placeholderHashHeader(options.HashAlgorithms),
		ChunkSize:   options.ChunkSize,
		SplitSize:   options.SplitSize,
		Split:       header.SplitHeader{UniqueIdentifier: identifier, SplitNumber: 1},
	}

	if err := w.startFirstSegment(); err != nil {
		return nil, err
	}

	if options.Workers > 1 {
		w.startPipeline()
	}
	return w, nil
}

// buildEncryptionHeader generates the content key, wraps it under the
// passphrase-derived key and assembles the encryption header. The
// passphrase itself is not retained.
func (w *Writer) buildEncryptionHeader() (*header.EncryptionHeader, error) {
	salt, err := encryption.RandomSalt()
	if err != nil {
		return nil, err
	}
	iv, err := encryption.RandomIV()
	if err != nil {
		return nil, err
	}
	nonce, err := encryption.RandomHeaderNonce()
	if err != nil {
		return nil, err
	}

	contentKey, err := encryption.NewContentKey(w.options.EncryptionAlgorithm)
	if err != nil {
		return nil, err
	}
	keyEncryptionKey, err := encryption.DeriveKeyEncryptionKey(w.options.Passphrase, w.options.KDFIterations, salt, w.options.CipherScheme)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(keyEncryptionKey)

	wrappedKey, err := encryption.WrapKey(contentKey, keyEncryptionKey, iv)
	if err != nil {
		return nil, err
	}

	// NewFromBytes zeroes the plain copy of the content key.
	w.contentKey, err = secret.NewFromBytes(contentKey)
	if err != nil {
		return nil, err
	}

	return &header.EncryptionHeader{
		PBE: header.PBEHeader{
			KDF:    encryption.KDFPBKDF2SHA256,
			Cipher: w.options.CipherScheme,
			Parameters: header.PBKDF2Parameters{
				Iterations: w.options.KDFIterations,
				Salt:       salt,
			},
			IV: iv,
		},
		Algorithm:  w.options.EncryptionAlgorithm,
		WrappedKey: wrappedKey,
		Nonce:      nonce,
	}, nil
}

// placeholderHashHeader builds the main header's hash header with
// zero-filled digests of each algorithm's fixed output size, so the
// finalized header re-encodes to the identical byte length.
func placeholderHashHeader(algorithms []hashing.Algorithm) header.HashHeader {
	var h header.HashHeader
	for _, algorithm := range algorithms {
		value := header.HashValue{Algorithm: algorithm}
		if algorithm != hashing.AlgorithmNone && algorithm.Known() {
			value.Digest = make([]byte, algorithm.Size())
		}
		h.Values = append(h.Values, value)
	}
	return h
}

// startFirstSegment opens segment 1 and writes the main header region.
// With header encryption the region is reserved as zero bytes and the
// real ciphertext is written exactly once at Close, so the header nonce
// never seals two different plaintexts.
func (w *Writer) startFirstSegment() error {
	file, err := w.sink.StartSegment(1)
	if err != nil {
		return fmt.Errorf("starting segment 1: %w", err)
	}
	w.firstSegment = file
	w.current = file
	w.currentSplit = 1

	if w.options.EncryptHeader {
		w.reservedHeader, err = w.mainHeader.EncryptedFrameLength()
		if err != nil {
			return err
		}
		if _, err := file.Write(make([]byte, w.reservedHeader)); err != nil {
			return fmt.Errorf("reserving main header region: %w", err)
		}
		return nil
	}

	encoded := w.mainHeader.Encode()
	w.reservedHeader = len(encoded)
	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("writing main header: %w", err)
	}
	return nil
}

// Write buffers image bytes and emits full chunks as they accumulate.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("container writer is closed")
	}
	if err := w.failed(); err != nil {
		return 0, err
	}

	w.dataLength += uint64(len(p))
	w.buffer = append(w.buffer, p...)
	for uint64(len(w.buffer)) >= w.options.ChunkSize {
		chunk := make([]byte, w.options.ChunkSize)
		copy(chunk, w.buffer)
		w.buffer = w.buffer[w.options.ChunkSize:]
		if err := w.emitChunk(chunk); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *Writer) emitChunk(plaintext []byte) error {
	number := w.nextChunk
	w.nextChunk++

	// Whole-image digests are fed here, on the calling goroutine, so
	// they see the plaintext in chunk order regardless of the pipeline.
	for _, hasher := range w.imageHashers {
		hasher.Write(plaintext)
	}

	if w.jobs == nil {
		frame, err := w.buildChunk(number, plaintext)
		if err != nil {
			return err
		}
		return w.appendFrame(frame)
	}

	result := make(chan chunkResult, 1)
	w.ordered <- result
	w.jobs <- chunkJob{number: number, plaintext: plaintext, result: result}
	return nil
}

// buildChunk produces the encoded chunk record: chunk header, the hash
// attachment when digests are configured, and the stored payload. Safe
// for concurrent use by pipeline workers.
func (w *Writer) buildChunk(number uint64, plaintext []byte) ([]byte, error) {
	var attachment []byte
	if len(w.hashAlgorithms) > 0 {
		blob, err := w.encodeChunkHashes(number, plaintext)
		if err != nil {
			return nil, err
		}
		attachment = blob
	}

	stored, err := w.compressor.Compress(plaintext)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", number, err)
	}
	if w.contentKey != nil {
		stored, err = encryption.Encrypt(w.options.EncryptionAlgorithm, w.contentKey.Bytes(), encryption.ChunkPayloadNonce(number), stored)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", number, err)
		}
	}

	chunkHeader := header.ChunkHeader{ChunkNumber: number, ChunkSize: uint64(len(stored))}
	frame := chunkHeader.Encode()
	frame = append(frame, attachment...)
	frame = append(frame, stored...)
	return frame, nil
}

// encodeChunkHashes builds the length-prefixed hash attachment: an
// encoded hash header over the chunk's plaintext, sealed under the
// chunk's hash nonce in encrypted containers.
func (w *Writer) encodeChunkHashes(number uint64, plaintext []byte) ([]byte, error) {
	var hashes header.HashHeader
	for _, algorithm := range w.hashAlgorithms {
		hashes.Values = append(hashes.Values, header.HashValue{
			Algorithm: algorithm,
			Digest:    hashing.Compute(algorithm, plaintext),
		})
	}

	blob := hashes.Encode()
	if w.contentKey != nil {
		sealed, err := encryption.Encrypt(w.options.EncryptionAlgorithm, w.contentKey.Bytes(), encryption.ChunkHashNonce(number), blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %d hashes: %w", number, err)
		}
		blob = sealed
	}

	attachment := make([]byte, 4, 4+len(blob))
	binary.LittleEndian.PutUint32(attachment, uint32(len(blob)))
	return append(attachment, blob...), nil
}

// appendFrame writes one encoded chunk record to the current segment,
// rolling over to a new segment when the split size would be exceeded.
// Called from the owning goroutine, or from the appender goroutine when
// the pipeline is active.
func (w *Writer) appendFrame(frame []byte) error {
	if w.options.SplitSize > 0 && w.currentBytes > 0 && w.currentBytes+uint64(len(frame)) > w.options.SplitSize {
		if err := w.closeCurrentSegment(); err != nil {
			return err
		}
		if err := w.startSegment(w.currentSplit + 1); err != nil {
			return err
		}
	}
	if _, err := w.current.Write(frame); err != nil {
		return fmt.Errorf("segment %d: writing chunk: %w", w.currentSplit, err)
	}
	w.currentBytes += uint64(len(frame))
	return nil
}

func (w *Writer) startSegment(splitNumber uint64) error {
	file, err := w.sink.StartSegment(splitNumber)
	if err != nil {
		return fmt.Errorf("starting segment %d: %w", splitNumber, err)
	}

	splitHeader := header.SplitHeader{UniqueIdentifier: w.identifier, SplitNumber: splitNumber}
	if _, err := file.Write(splitHeader.Encode()); err != nil {
		return fmt.Errorf("segment %d: writing split header: %w", splitNumber, err)
	}

	w.current = file
	w.currentSplit = splitNumber
	w.currentBytes = 0
	return nil
}

// closeCurrentSegment finalizes the open segment's length. The first
// segment's length lives in the main header, patched at Close; later
// segments patch their own split header and close immediately.
func (w *Writer) closeCurrentSegment() error {
	if w.currentSplit == 1 {
		w.firstSegmentLength = w.currentBytes
		return nil
	}

	splitHeader := header.SplitHeader{
		UniqueIdentifier: w.identifier,
		SplitNumber:      w.currentSplit,
		Length:           w.currentBytes,
	}
	if _, err := w.current.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("segment %d: seeking to split header: %w", w.currentSplit, err)
	}
	if _, err := w.current.Write(splitHeader.Encode()); err != nil {
		return fmt.Errorf("segment %d: patching split header: %w", w.currentSplit, err)
	}
	if err := w.current.Close(); err != nil {
		return fmt.Errorf("segment %d: closing: %w", w.currentSplit, err)
	}
	return nil
}

func (w *Writer) startPipeline() {
	w.jobs = make(chan chunkJob)
	w.ordered = make(chan chan chunkResult, w.options.Workers*2)
	w.appenderDone = make(chan struct{})

	for i := 0; i < w.options.Workers; i++ {
		go func() {
			for job := range w.jobs {
				frame, err := w.buildChunk(job.number, job.plaintext)
				job.result <- chunkResult{frame: frame, err: err}
			}
		}()
	}

	go func() {
		defer close(w.appenderDone)
		for result := range w.ordered {
			r := <-result
			if w.failed() != nil {
				continue // drain remaining results
			}
			if r.err != nil {
				w.setFailed(r.err)
				continue
			}
			if err := w.appendFrame(r.frame); err != nil {
				w.setFailed(err)
			}
		}
	}()
}

func (w *Writer) failed() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.asyncErr
}

func (w *Writer) setFailed(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.asyncErr == nil {
		w.asyncErr = err
	}
}

func (w *Writer) stopPipeline() error {
	if w.jobs == nil {
		return nil
	}
	close(w.jobs)
	close(w.ordered)
	<-w.appenderDone
	w.jobs = nil
	return w.failed()
}

// Close flushes the final partial chunk, finalizes the last segment and
// patches the main header with the whole-image digests, the total data
// length and the first segment's length.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	closeErr := w.finalize()

	if w.contentKey != nil {
		if err := w.contentKey.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		w.contentKey = nil
	}
	return closeErr
}

func (w *Writer) finalize() error {
	if len(w.buffer) > 0 {
		chunk := w.buffer
		w.buffer = nil
		if err := w.emitChunk(chunk); err != nil {
			w.stopPipeline()
			return err
		}
	}
	if err := w.stopPipeline(); err != nil {
		return err
	}
	if err := w.closeCurrentSegment(); err != nil {
		return err
	}

	for i, hasher := range w.imageHashers {
		w.setImageDigest(w.hashAlgorithms[i], hasher.Sum(nil))
	}
	w.mainHeader.Split.Length = w.firstSegmentLength
	w.mainHeader.DataLength = w.dataLength

	var encoded []byte
	if w.options.EncryptHeader {
		sealed, err := w.mainHeader.EncodeEncrypted(w.contentKey.Bytes())
		if err != nil {
			return err
		}
		encoded = sealed
	} else {
		encoded = w.mainHeader.Encode()
	}
	if len(encoded) != w.reservedHeader {
		return fmt.Errorf("finalized main header is %d bytes, reserved %d", len(encoded), w.reservedHeader)
	}

	if _, err := w.firstSegment.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("segment 1: seeking to main header: %w", err)
	}
	if _, err := w.firstSegment.Write(encoded); err != nil {
		return fmt.Errorf("segment 1: patching main header: %w", err)
	}
	if err := w.firstSegment.Close(); err != nil {
		return fmt.Errorf("segment 1: closing: %w", err)
	}
	return nil
}

// setImageDigest fills the placeholder digest for algorithm in the main
// header's hash header.
func (w *Writer) setImageDigest(algorithm hashing.Algorithm, digest []byte) {
	for i := range w.mainHeader.Hash.Values {
		if w.mainHeader.Hash.Values[i].Algorithm == algorithm {
			w.mainHeader.Hash.Values[i].Digest = digest
			return
		}
	}
}

// Identifier returns the container's unique identifier.
func (w *Writer) Identifier() uint64 {
	return w.identifier
}
