// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Package seccaskerr defines the error taxonomy shared by the
// transport, handler, coordinator, and worker packages: the kinds of
// failure the dispatch core can produce and how callers are expected
// to react to each.
package seccaskerr

import "errors"

// Kind classifies an error by how the core must react to it.
type Kind int

const (
	// KindProtocol marks a malformed frame or unparsable message. The
	// offending connection is closed; other connections are
	// unaffected.
	KindProtocol Kind = iota

	// KindTransport marks a socket or TLS failure. The connection is
	// closed and the failure is logged, including the TLS reason when
	// available.
	KindTransport

	// KindAttestation marks a measurement mismatch, missing
	// attestation device, or attestation library load failure. The
	// handshake is rejected; the peer cannot connect.
	KindAttestation

	// KindConfig marks a missing APP_HOME or unparsable INI file. The
	// process exits non-zero before accepting any connection.
	KindConfig

	// KindScheduler marks a scheduler that returned no worker for a
	// known id. Logged, not fatal; the dispatch is skipped and the
	// pipeline stalls, surfaced to the caller as a timeout.
	KindScheduler

	// KindFatalInit marks an inability to bind a port or initialize a
	// TLS context. The process exits non-zero.
	KindFatalInit
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	case KindAttestation:
		return "attestation"
	case KindConfig:
		return "config"
	case KindScheduler:
		return "scheduler"
	case KindFatalInit:
		return "fatal_init"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind, so callers can decide
// close-connection vs. log-and-continue vs. fatal-exit by inspecting
// the kind via [As] without string-matching messages.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Fatal reports whether err should terminate the process rather than
// being handled locally — KindConfig and KindFatalInit errors occur
// before or outside of per-connection handling and have no local
// scope to contain them to.
func Fatal(err error) bool {
	return Is(err, KindConfig) || Is(err, KindFatalInit)
}
