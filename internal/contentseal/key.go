// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Package contentseal implements the content-key init spec §4.7
// describes, and the at-rest encryption of a component's working
// directory that the derived key feeds (the content key's only stated
// consumer). Key storage is grounded on lib/secret.Buffer (mmap-backed,
// mlocked, zeroed on release); sealing is grounded on
// lib/artifactstore/encrypt.go and compress.go, adapted from
// per-artifact HKDF-derived keys to a single process-wide key derived
// directly by SHA-256 over the passphrase, per spec §4.7.
package contentseal

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/seccask/seccask/lib/secret"
)

// KeySize is the length in bytes of the derived content-encryption key.
const KeySize = sha256.Size // 32

// Store holds the process-wide content key, replaced on every new
// component per spec §4.7 ("stored process-wide in mutable memory,
// replaced on every new component; replacement must release the
// previous buffer"). The zero Store has no key.
//
// Store is safe for concurrent use, but per spec §5 it is in practice
// only ever mutated from the Worker's serialized "component" executor,
// never concurrently with a running component's use of the key.
type Store struct {
	mu     sync.Mutex
	buffer *secret.Buffer
}

// InitWithKey derives a 32-byte key by SHA-256 over passphrase, stores
// it, and releases any previously stored buffer. Passing "" is treated
// the same as any other passphrase — callers that want "no encryption"
// use the sentinel "NULL" component-key value at the protocol layer
// (spec §4.5) and must not call InitWithKey at all in that case.
func (s *Store) InitWithKey(passphrase string) error {
	digest := sha256.Sum256([]byte(passphrase))

	buffer, err := secret.New(KeySize)
	if err != nil {
		return fmt.Errorf("contentseal: allocating key buffer: %w", err)
	}
	copy(buffer.Bytes(), digest[:])

	s.mu.Lock()
	previous := s.buffer
	s.buffer = buffer
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return nil
}

// Key returns the current key bytes, or nil if InitWithKey has never
// been called (or the store has been Closed). The returned slice
// aliases the secret buffer; callers must not retain it past the next
// InitWithKey/Close call.
func (s *Store) Key() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer == nil {
		return nil
	}
	return s.buffer.Bytes()
}

// Close releases the current buffer, if any. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	buffer := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if buffer == nil {
		return nil
	}
	return buffer.Close()
}
