// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

package contentseal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestInitWithKeyDerivesSHA256(t *testing.T) {
	var store Store
	defer store.Close()

	if err := store.InitWithKey("secret"); err != nil {
		t.Fatalf("InitWithKey: %v", err)
	}

	want := "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b"
	got := hex.EncodeToString(store.Key())
	if got != want {
		t.Fatalf("Key() = %s, want %s", got, want)
	}
}

func TestInitWithKeyReplacesPreviousBuffer(t *testing.T) {
	var store Store
	defer store.Close()

	if err := store.InitWithKey("first"); err != nil {
		t.Fatalf("InitWithKey(first): %v", err)
	}
	first := append([]byte(nil), store.Key()...)

	if err := store.InitWithKey("second"); err != nil {
		t.Fatalf("InitWithKey(second): %v", err)
	}
	second := store.Key()

	if bytes.Equal(first, second) {
		t.Fatal("Key() unchanged after re-init with a different passphrase")
	}
	want := sha256.Sum256([]byte("second"))
	if !bytes.Equal(second, want[:]) {
		t.Fatalf("Key() = %x, want %x", second, want)
	}
}

func TestKeyNilBeforeInit(t *testing.T) {
	var store Store
	defer store.Close()

	if key := store.Key(); key != nil {
		t.Fatalf("Key() = %x, want nil before InitWithKey", key)
	}
}

func TestSealUnsealRoundTrip(t *testing.T) {
	var store Store
	defer store.Close()
	if err := store.InitWithKey("secret"); err != nil {
		t.Fatalf("InitWithKey: %v", err)
	}

	plaintext := []byte("a component's working directory archive, as bytes")
	identity := Hash{0x01, 0x02, 0x03}

	sealed, err := Seal(plaintext, store.Key(), identity)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(sealed) != len(plaintext)+Overhead {
		t.Fatalf("len(sealed) = %d, want %d", len(sealed), len(plaintext)+Overhead)
	}

	recovered, err := Unseal(sealed, store.Key(), identity)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if !bytes.Equal(recovered, plaintext) {
		t.Fatalf("Unseal() = %q, want %q", recovered, plaintext)
	}
}

func TestUnsealRejectsWrongIdentity(t *testing.T) {
	var store Store
	defer store.Close()
	if err := store.InitWithKey("secret"); err != nil {
		t.Fatalf("InitWithKey: %v", err)
	}

	sealed, err := Seal([]byte("payload"), store.Key(), Hash{0xAA})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Unseal(sealed, store.Key(), Hash{0xBB}); err == nil {
		t.Fatal("Unseal: want error for mismatched identity")
	}
}

func TestUnsealRejectsWrongKey(t *testing.T) {
	var storeA, storeB Store
	defer storeA.Close()
	defer storeB.Close()
	if err := storeA.InitWithKey("alpha"); err != nil {
		t.Fatalf("InitWithKey(alpha): %v", err)
	}
	if err := storeB.InitWithKey("beta"); err != nil {
		t.Fatalf("InitWithKey(beta): %v", err)
	}

	identity := Hash{0x42}
	sealed, err := Seal([]byte("payload"), storeA.Key(), identity)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Unseal(sealed, storeB.Key(), identity); err == nil {
		t.Fatal("Unseal: want error for mismatched key")
	}
}

func TestUnsealRejectsTamperedCiphertext(t *testing.T) {
	var store Store
	defer store.Close()
	if err := store.InitWithKey("secret"); err != nil {
		t.Fatalf("InitWithKey: %v", err)
	}

	identity := Hash{0x07}
	sealed, err := Seal([]byte("payload"), store.Key(), identity)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := Unseal(sealed, store.Key(), identity); err == nil {
		t.Fatal("Unseal: want error for tampered ciphertext")
	}
}

func TestObscureReferenceDeterministicUnderSameKey(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, KeySize)
	identity := Hash{0x55}

	first, err := ObscureReference(key, identity)
	if err != nil {
		t.Fatalf("ObscureReference: %v", err)
	}
	second, err := ObscureReference(key, identity)
	if err != nil {
		t.Fatalf("ObscureReference: %v", err)
	}
	if first != second {
		t.Fatalf("ObscureReference not deterministic: %x != %x", first, second)
	}

	otherKey := bytes.Repeat([]byte{0x22}, KeySize)
	third, err := ObscureReference(otherKey, identity)
	if err != nil {
		t.Fatalf("ObscureReference: %v", err)
	}
	if first == third {
		t.Fatal("ObscureReference identical under different keys")
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		tag  CompressionTag
	}{
		{"none", CompressionNone},
		{"lz4", CompressionLZ4},
		{"zstd", CompressionZstd},
	}

	data := []byte(strings.Repeat("seccask working directory archive content ", 200))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := CompressChunk(data, tt.tag)
			if err != nil {
				t.Fatalf("CompressChunk: %v", err)
			}
			decompressed, err := DecompressChunk(compressed, tt.tag, len(data))
			if err != nil {
				t.Fatalf("DecompressChunk: %v", err)
			}
			if !bytes.Equal(decompressed, data) {
				t.Fatal("DecompressChunk did not reproduce original data")
			}
		})
	}
}

func TestCompressAutoPicksSmallerRepresentation(t *testing.T) {
	data := []byte(strings.Repeat("x", 4096))

	compressed, tag, err := CompressAuto(data)
	if err != nil {
		t.Fatalf("CompressAuto: %v", err)
	}
	if tag == CompressionNone {
		t.Fatal("CompressAuto: want a real compression tag for highly repetitive data")
	}
	if len(compressed) >= len(data) {
		t.Fatalf("CompressAuto: compressed len %d >= original len %d", len(compressed), len(data))
	}

	decompressed, err := DecompressChunk(compressed, tag, len(data))
	if err != nil {
		t.Fatalf("DecompressChunk: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatal("DecompressChunk did not reproduce original data")
	}
}

func TestCompressAutoFallsBackToNoneForRandomData(t *testing.T) {
	// Pseudo-random byte pattern: this LCG has period 256, so one full
	// period yields every byte value exactly once with no repeated byte
	// pairs — nothing for zstd to match or entropy-code, which exercises
	// the "none" fallback path deterministically without crypto/rand.
	data := make([]byte, 256)
	state := byte(0x2F)
	for i := range data {
		state = state*37 + 11
		data[i] = state
	}

	_, tag, err := CompressAuto(data)
	if err != nil {
		t.Fatalf("CompressAuto: %v", err)
	}
	if tag != CompressionNone {
		t.Fatalf("CompressAuto chose %s for incompressible data, want none", tag)
	}
}
