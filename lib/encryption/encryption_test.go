// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"bytes"
	"errors"
	"testing"
)

func testSalt() [SaltSize]byte {
	var salt [SaltSize]byte
	for i := range salt {
		salt[i] = byte(i)
	}
	return salt
}

func testIV() [IVSize]byte {
	var iv [IVSize]byte
	for i := range iv {
		iv[i] = byte(0xA0 + i)
	}
	return iv
}

func TestKeySizes(t *testing.T) {
	if AlgorithmAES128GCMSIV.KeySize() != 16 || AlgorithmAES256GCMSIV.KeySize() != 32 {
		t.Error("AEAD key sizes are wrong")
	}
	if CipherAES128CBC.KeySize() != 16 || CipherAES256CBC.KeySize() != 32 {
		t.Error("cipher scheme key sizes are wrong")
	}
	if Algorithm(9).KeySize() != 0 || CipherScheme(9).KeySize() != 0 {
		t.Error("unknown tags should report key size 0")
	}
}

func TestDeriveKeyEncryptionKey(t *testing.T) {
	key, err := DeriveKeyEncryptionKey([]byte("correct-horse"), 1000, testSalt(), CipherAES256CBC)
	if err != nil {
		t.Fatalf("DeriveKeyEncryptionKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("derived key length %d, want 32", len(key))
	}

	// Deterministic for the same inputs.
	again, err := DeriveKeyEncryptionKey([]byte("correct-horse"), 1000, testSalt(), CipherAES256CBC)
	if err != nil {
		t.Fatalf("DeriveKeyEncryptionKey failed: %v", err)
	}
	if !bytes.Equal(key, again) {
		t.Error("derivation is not deterministic")
	}

	// A different passphrase derives a different key.
	other, err := DeriveKeyEncryptionKey([]byte("wrong-password"), 1000, testSalt(), CipherAES256CBC)
	if err != nil {
		t.Fatalf("DeriveKeyEncryptionKey failed: %v", err)
	}
	if bytes.Equal(key, other) {
		t.Error("different passphrases derived the same key")
	}

	if _, err := DeriveKeyEncryptionKey([]byte("p"), 0, testSalt(), CipherAES256CBC); err == nil {
		t.Error("zero iterations should be rejected")
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	for _, scheme := range []CipherScheme{CipherAES128CBC, CipherAES256CBC} {
		for _, algorithm := range []Algorithm{AlgorithmAES128GCMSIV, AlgorithmAES256GCMSIV} {
			t.Run(scheme.String()+"/"+algorithm.String(), func(t *testing.T) {
				contentKey, err := NewContentKey(algorithm)
				if err != nil {
					t.Fatalf("NewContentKey failed: %v", err)
				}

				keyEncryptionKey, err := DeriveKeyEncryptionKey([]byte("correct-horse"), 1000, testSalt(), scheme)
				if err != nil {
					t.Fatalf("DeriveKeyEncryptionKey failed: %v", err)
				}

				wrapped, err := WrapKey(contentKey, keyEncryptionKey, testIV())
				if err != nil {
					t.Fatalf("WrapKey failed: %v", err)
				}
				if len(wrapped)%16 != 0 {
					t.Errorf("wrapped key length %d is not block aligned", len(wrapped))
				}

				unwrapped, err := UnwrapKey(wrapped, keyEncryptionKey, testIV())
				if err != nil {
					t.Fatalf("UnwrapKey failed: %v", err)
				}
				if !bytes.Equal(unwrapped, contentKey) {
					t.Error("unwrap did not recover the content key")
				}
			})
		}
	}
}

func TestUnwrapWithWrongPassphrase(t *testing.T) {
	contentKey, err := NewContentKey(AlgorithmAES256GCMSIV)
	if err != nil {
		t.Fatalf("NewContentKey failed: %v", err)
	}

	rightKey, _ := DeriveKeyEncryptionKey([]byte("correct-horse"), 1000, testSalt(), CipherAES256CBC)
	wrongKey, _ := DeriveKeyEncryptionKey([]byte("wrong-password"), 1000, testSalt(), CipherAES256CBC)

	wrapped, err := WrapKey(contentKey, rightKey, testIV())
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}

	unwrapped, err := UnwrapKey(wrapped, wrongKey, testIV())
	if err == nil {
		// CBC padding can coincidentally validate under a wrong key.
		// The contract is only that the wrong result is never the
		// correct content key, so AEAD authentication fails later.
		if bytes.Equal(unwrapped, contentKey) {
			t.Fatal("wrong passphrase recovered the correct content key")
		}
		return
	}
	if !errors.Is(err, ErrKeyUnwrapFailed) {
		t.Errorf("wrong passphrase gives %v, want ErrKeyUnwrapFailed", err)
	}
}

func TestUnwrapMalformedInput(t *testing.T) {
	keyEncryptionKey, _ := DeriveKeyEncryptionKey([]byte("p"), 1000, testSalt(), CipherAES128CBC)

	for _, wrapped := range [][]byte{nil, {}, make([]byte, 15), make([]byte, 17)} {
		if _, err := UnwrapKey(wrapped, keyEncryptionKey, testIV()); !errors.Is(err, ErrKeyUnwrapFailed) {
			t.Errorf("wrapped key of %d bytes gives %v, want ErrKeyUnwrapFailed", len(wrapped), err)
		}
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, algorithm := range []Algorithm{AlgorithmAES128GCMSIV, AlgorithmAES256GCMSIV} {
		t.Run(algorithm.String(), func(t *testing.T) {
			contentKey, err := NewContentKey(algorithm)
			if err != nil {
				t.Fatalf("NewContentKey failed: %v", err)
			}

			nonce := ChunkPayloadNonce(42)
			plaintext := []byte("sector dump bytes, arbitrary content")

			ciphertext, err := Encrypt(algorithm, contentKey, nonce, plaintext)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if len(ciphertext) != len(plaintext)+Overhead {
				t.Errorf("ciphertext length %d, want %d", len(ciphertext), len(plaintext)+Overhead)
			}

			decrypted, err := Decrypt(algorithm, contentKey, nonce, ciphertext)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if !bytes.Equal(decrypted, plaintext) {
				t.Error("round trip did not reproduce plaintext")
			}
		})
	}
}

func TestDecryptDetectsTampering(t *testing.T) {
	contentKey, _ := NewContentKey(AlgorithmAES256GCMSIV)
	nonce := ChunkPayloadNonce(1)

	ciphertext, err := Encrypt(AlgorithmAES256GCMSIV, contentKey, nonce, []byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	for i := range ciphertext {
		mutated := append([]byte(nil), ciphertext...)
		mutated[i] ^= 0x01
		if _, err := Decrypt(AlgorithmAES256GCMSIV, contentKey, nonce, mutated); !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("tampered byte %d gives %v, want ErrDecryptionFailed", i, err)
		}
	}

	// Wrong key.
	otherKey, _ := NewContentKey(AlgorithmAES256GCMSIV)
	if _, err := Decrypt(AlgorithmAES256GCMSIV, otherKey, nonce, ciphertext); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("wrong key gives %v, want ErrDecryptionFailed", err)
	}

	// Wrong nonce.
	if _, err := Decrypt(AlgorithmAES256GCMSIV, contentKey, ChunkPayloadNonce(2), ciphertext); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("wrong nonce gives %v, want ErrDecryptionFailed", err)
	}
}

func TestNonceDerivation(t *testing.T) {
	// Payload and hash nonces for the same chunk must differ.
	if ChunkPayloadNonce(7) == ChunkHashNonce(7) {
		t.Error("payload and hash nonces collide")
	}

	// Distinct chunk numbers derive distinct nonces.
	seen := make(map[[NonceSize]byte]bool)
	for number := uint64(1); number <= 1000; number++ {
		for _, nonce := range [][NonceSize]byte{ChunkPayloadNonce(number), ChunkHashNonce(number)} {
			if seen[nonce] {
				t.Fatalf("nonce collision at chunk %d", number)
			}
			seen[nonce] = true
		}
	}
}

func TestRandomHeaderNonceAvoidsDerivedSubspace(t *testing.T) {
	for i := 0; i < 64; i++ {
		nonce, err := RandomHeaderNonce()
		if err != nil {
			t.Fatalf("RandomHeaderNonce failed: %v", err)
		}
		for number := uint64(0); number < 4; number++ {
			if nonce == ChunkPayloadNonce(number) || nonce == ChunkHashNonce(number) {
				t.Fatal("header nonce fell into the derived subspace")
			}
		}
	}
}
