// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

// Package compression implements the per-chunk compression layer of zff
// containers. One algorithm and level is chosen at container creation and
// applies to every chunk uniformly; chunks are compressed before encryption
// so that compressibility is not destroyed by pseudorandom ciphertext.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrDecompressionFailed marks a corrupt compressed stream. The affected
// chunk is unrecoverable; the error is non-retryable for that object.
var ErrDecompressionFailed = errors.New("decompression failed")

// Algorithm identifies the compression algorithm of a container. Tags are
// stored in the compression header (1 byte) and are protocol constants.
type Algorithm uint8

const (
	// AlgorithmNone stores chunks uncompressed.
	AlgorithmNone Algorithm = 0

	// AlgorithmZstd compresses each chunk as an independent zstd frame.
	AlgorithmZstd Algorithm = 1

	// AlgorithmLZ4 compresses each chunk as an independent LZ4 frame
	// (frame format, not the raw block format).
	AlgorithmLZ4 Algorithm = 2
)

// String returns the human-readable name of an algorithm tag.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm parses an algorithm tag from its string representation.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "none":
		return AlgorithmNone, nil
	case "zstd":
		return AlgorithmZstd, nil
	case "lz4":
		return AlgorithmLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression algorithm: %q", name)
	}
}

// zstdDecoder is shared across all decompression calls. The zstd decoder is
// safe for concurrent DecodeAll use.
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compression: zstd decoder initialization failed: " + err.Error())
	}
}

// Compressor compresses chunks with the algorithm and level fixed at
// container creation. A Compressor is safe for concurrent use.
type Compressor struct {
	algorithm Algorithm
	level     uint8

	zstdEncoder *zstd.Encoder
	lz4Level    lz4.CompressionLevel
}

// NewCompressor creates a compressor for the given algorithm and level.
// Level is interpreted per algorithm (zstd: 1-19, lz4: 0-9 where 0 is the
// fast mode); AlgorithmNone ignores it.
func NewCompressor(algorithm Algorithm, level uint8) (*Compressor, error) {
	compressor := &Compressor{algorithm: algorithm, level: level}

	switch algorithm {
	case AlgorithmNone:

	case AlgorithmZstd:
		encoder, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(int(level))),
		)
		if err != nil {
			return nil, fmt.Errorf("initializing zstd encoder (level %d): %w", level, err)
		}
		compressor.zstdEncoder = encoder

	case AlgorithmLZ4:
		compressionLevel, err := lz4Level(level)
		if err != nil {
			return nil, err
		}
		compressor.lz4Level = compressionLevel

	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %d", algorithm)
	}

	return compressor, nil
}

// Algorithm returns the algorithm tag the compressor was created with.
func (c *Compressor) Algorithm() Algorithm {
	return c.algorithm
}

// Level returns the level the compressor was created with.
func (c *Compressor) Level() uint8 {
	return c.level
}

// Compress compresses one chunk. For AlgorithmNone the input is returned
// unchanged (no copy). The empty input compresses to a valid empty frame.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case AlgorithmNone:
		return data, nil

	case AlgorithmZstd:
		return c.zstdEncoder.EncodeAll(data, nil), nil

	case AlgorithmLZ4:
		var compressed bytes.Buffer
		writer := lz4.NewWriter(&compressed)
		if err := writer.Apply(lz4.CompressionLevelOption(c.lz4Level)); err != nil {
			return nil, fmt.Errorf("configuring lz4 writer: %w", err)
		}
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("finalizing lz4 frame: %w", err)
		}
		return compressed.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %d", c.algorithm)
	}
}

// Decompress reverses Compress for the given algorithm tag. A corrupt
// stream returns an error wrapping ErrDecompressionFailed.
func Decompress(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case AlgorithmNone:
		return data, nil

	case AlgorithmZstd:
		decompressed, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %v: %w", err, ErrDecompressionFailed)
		}
		return decompressed, nil

	case AlgorithmLZ4:
		decompressed, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4: %v: %w", err, ErrDecompressionFailed)
		}
		return decompressed, nil

	default:
		return nil, fmt.Errorf("unsupported compression algorithm %d: %w", algorithm, ErrDecompressionFailed)
	}
}

// lz4Level maps a numeric level to the lz4 package's level constants.
func lz4Level(level uint8) (lz4.CompressionLevel, error) {
	switch level {
	case 0:
		return lz4.Fast, nil
	case 1:
		return lz4.Level1, nil
	case 2:
		return lz4.Level2, nil
	case 3:
		return lz4.Level3, nil
	case 4:
		return lz4.Level4, nil
	case 5:
		return lz4.Level5, nil
	case 6:
		return lz4.Level6, nil
	case 7:
		return lz4.Level7, nil
	case 8:
		return lz4.Level8, nil
	case 9:
		return lz4.Level9, nil
	default:
		return lz4.Fast, fmt.Errorf("lz4 level %d out of range [0, 9]", level)
	}
}
