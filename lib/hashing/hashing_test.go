// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package hashing

import (
	"bytes"
	"testing"
)

func TestAlgorithmStringRoundTrip(t *testing.T) {
	for _, algorithm := range []Algorithm{
		AlgorithmNone, AlgorithmBlake2b512, AlgorithmSHA3_256, AlgorithmCRC32, AlgorithmBlake3,
	} {
		t.Run(algorithm.String(), func(t *testing.T) {
			parsed, err := ParseAlgorithm(algorithm.String())
			if err != nil {
				t.Fatalf("ParseAlgorithm(%q) failed: %v", algorithm.String(), err)
			}
			if parsed != algorithm {
				t.Errorf("round trip gives %v, want %v", parsed, algorithm)
			}
		})
	}

	if _, err := ParseAlgorithm("md5"); err == nil {
		t.Error("ParseAlgorithm(\"md5\") should fail")
	}
}

func TestComputeSizes(t *testing.T) {
	data := []byte("forensic image payload")

	tests := []struct {
		algorithm Algorithm
		size      int
	}{
		{AlgorithmBlake2b512, 64},
		{AlgorithmSHA3_256, 32},
		{AlgorithmCRC32, 4},
		{AlgorithmBlake3, 32},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm.String(), func(t *testing.T) {
			digest := Compute(tt.algorithm, data)
			if len(digest) != tt.size {
				t.Errorf("digest length %d, want %d", len(digest), tt.size)
			}
			if len(digest) != tt.algorithm.Size() {
				t.Errorf("Size() = %d disagrees with computed length %d", tt.algorithm.Size(), len(digest))
			}

			// Deterministic.
			if !bytes.Equal(digest, Compute(tt.algorithm, data)) {
				t.Error("digest is not deterministic")
			}

			// Sensitive to input changes.
			mutated := append([]byte(nil), data...)
			mutated[0] ^= 0x01
			if bytes.Equal(digest, Compute(tt.algorithm, mutated)) {
				t.Error("digest unchanged after input mutation")
			}
		})
	}
}

func TestNoneAndUnknownComputeNothing(t *testing.T) {
	if digest := Compute(AlgorithmNone, []byte("data")); digest != nil {
		t.Errorf("AlgorithmNone digest = %x, want nil", digest)
	}
	if digest := Compute(Algorithm(200), []byte("data")); digest != nil {
		t.Errorf("unknown algorithm digest = %x, want nil", digest)
	}
	if AlgorithmNone.Size() != 0 {
		t.Error("AlgorithmNone.Size() should be 0")
	}
	if Algorithm(200).Known() {
		t.Error("Algorithm(200) should not be known")
	}
}
