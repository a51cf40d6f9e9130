// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

package contentseal

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/seccask/seccask/lib/secret"
)

// Hash identifies a sealed blob (e.g. a BLAKE3 digest of a working
// directory's contents) for AAD binding and reference obscuring.
type Hash [32]byte

// sealedBlobVersion is the version byte prepended to all sealed blobs.
// Included as additional authenticated data, so tampering with it
// causes authentication failure.
const sealedBlobVersion byte = 0x01

// Overhead is the total byte overhead per sealed blob: 1 (version) +
// 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const Overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var obscureDomainTag = []byte("seccask.contentseal.ref.v1")

// Seal encrypts plaintext (a component's working-directory archive,
// compressed by [CompressAuto]) using XChaCha20-Poly1305 under
// the content key held in key, with identity bound in as additional
// authenticated data so a sealed blob cannot be swapped for another
// component's. Output format:
//
//	[Version: 1 byte] [Nonce: 24 bytes] [Ciphertext+Tag]
func Seal(plaintext []byte, key []byte, identity Hash) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("contentseal: key must be %d bytes, got %d", KeySize, len(key))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("contentseal: creating cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("contentseal: generating nonce: %w", err)
	}

	aad := buildAAD(sealedBlobVersion, identity)

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, Overhead+len(plaintext))
	output[0] = sealedBlobVersion
	copy(output[1:], nonce[:])

	return aead.Seal(output, nonce[:], plaintext, aad), nil
}

// Unseal decrypts a blob produced by Seal, verifying the version byte
// and AAD binding.
func Unseal(sealed []byte, key []byte, identity Hash) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("contentseal: key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("contentseal: sealed blob is %d bytes, minimum is %d", len(sealed), Overhead)
	}

	version := sealed[0]
	if version != sealedBlobVersion {
		return nil, fmt.Errorf("contentseal: unsupported blob version %d", version)
	}

	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("contentseal: creating cipher: %w", err)
	}

	aad := buildAAD(version, identity)
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("contentseal: authentication failed (wrong key, tampered data, or mismatched identity): %w", err)
	}
	return plaintext, nil
}

// ObscureReference computes an opaque, deterministic reference for a
// sealed blob's identity under the given key, using BLAKE3 keyed
// hashing. Used when a sealed working directory is handed to external
// storage that should not learn the plaintext identity.
func ObscureReference(key []byte, identity Hash) (Hash, error) {
	hasher, err := blake3.NewKeyed(key)
	if err != nil {
		return Hash{}, fmt.Errorf("contentseal: blake3 keyed hash: %w", err)
	}
	hasher.Write(obscureDomainTag)
	hasher.Write(identity[:])

	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result, nil
}

func buildAAD(version byte, identity Hash) []byte {
	aad := make([]byte, 1+len(identity))
	aad[0] = version
	copy(aad[1:], identity[:])
	return aad
}

// HashBuffer returns the BLAKE3 digest of the current content key
// buffer's presence — used by internal/manifest to note (without
// leaking) whether a component ran with encryption enabled.
func HashBuffer(b *secret.Buffer) Hash {
	return HashBufferBytes(b.Bytes())
}

// HashBufferBytes is the byte-slice form of [HashBuffer], for callers
// that already hold a key outside a [secret.Buffer] (e.g. a manifest
// reporting the key's presence without retaining a Buffer handle).
func HashBufferBytes(data []byte) Hash {
	hasher := blake3.New()
	hasher.Write(data)
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}
