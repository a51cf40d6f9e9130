// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/seccask/seccask/lib/attestation"
	"github.com/seccask/seccask/lib/seccaskerr"
	"github.com/seccask/seccask/lib/testutil"
)

func measurement(fill byte) [attestation.MeasurementSize]byte {
	var m [attestation.MeasurementSize]byte
	m[len(m)-1] = fill
	return m
}

// listenRaw binds an ephemeral port and returns the raw listener
// alongside its address, mirroring internal/coordinator.ListenAndServe's
// net.Listen-then-transport.Listen split.
func listenRaw(t *testing.T) (net.Listener, string) {
	t.Helper()
	raw, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return raw, raw.Addr().String()
}

type acceptResult struct {
	conn net.Conn
	err  error
}

func acceptOnce(l *Listener, raw net.Listener) <-chan acceptResult {
	ch := make(chan acceptResult, 1)
	go func() {
		conn, err := l.Accept(raw)
		ch <- acceptResult{conn, err}
	}()
	return ch
}

func TestPlaintextRoundTrip(t *testing.T) {
	raw, address := listenRaw(t)

	listener, err := Listen(address, Plaintext, nil, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	accepted := acceptOnce(listener, raw)

	clientConn, err := (Dialer{Mode: Plaintext}).Dial(address)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.Close()

	result := testutil.RequireReceive(t, accepted, 2*time.Second, "server accept")
	if result.err != nil {
		t.Fatalf("Accept: %v", result.err)
	}
	defer result.conn.Close()

	const payload = "hello over plaintext"
	if _, err := clientConn.Write([]byte(payload)); err != nil {
		t.Fatalf("client write: %v", err)
	}

	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(result.conn, buf); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(buf) != payload {
		t.Fatalf("server read %q, want %q", buf, payload)
	}
}

func TestTLSRoundTrip(t *testing.T) {
	raw, address := listenRaw(t)

	listener, err := Listen(address, TLS, nil, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	accepted := acceptOnce(listener, raw)

	clientConn, err := (Dialer{Mode: TLS}).Dial(address)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.Close()

	result := testutil.RequireReceive(t, accepted, 2*time.Second, "server accept")
	if result.err != nil {
		t.Fatalf("Accept: %v", result.err)
	}
	defer result.conn.Close()
}

// TestRATLSMatchingMeasurementsSucceeds is the accept half of S5: a
// Dialer whose expected measurements match the Listener's embedded
// quote completes the handshake.
func TestRATLSMatchingMeasurementsSucceeds(t *testing.T) {
	raw, address := listenRaw(t)

	quote := attestation.Quote{MREnclave: measurement(1), MRSigner: measurement(1)}
	expected := attestation.Measurements{MREnclave: measurement(1), MRSigner: measurement(1)}
	serverProvider := attestation.NewSimulatedProvider(quote, expected)
	clientProvider := attestation.NewSimulatedProvider(attestation.Quote{}, expected)

	listener, err := Listen(address, RATLS, serverProvider, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	accepted := acceptOnce(listener, raw)

	clientConn, err := (Dialer{Mode: RATLS, Provider: clientProvider}).Dial(address)
	if err != nil {
		t.Fatalf("Dial: %v, want success", err)
	}
	defer clientConn.Close()

	result := testutil.RequireReceive(t, accepted, 2*time.Second, "server accept")
	if result.err != nil {
		t.Fatalf("Accept: %v, want success", result.err)
	}
	defer result.conn.Close()
}

// TestRATLSMeasurementMismatchFailsHandshake is spec §8's S5 scenario
// driven through an actual TLS handshake rather than VerifyPeer alone:
// the Listener's embedded quote carries an mrenclave the Dialer's
// expected measurements do not match, so the Dialer's
// VerifyPeerCertificate callback (verifyAttestation) rejects the
// server's certificate and the handshake fails on both ends with a
// KindAttestation error.
func TestRATLSMeasurementMismatchFailsHandshake(t *testing.T) {
	raw, address := listenRaw(t)

	serverQuote := attestation.Quote{MREnclave: measurement(2), MRSigner: measurement(1)}
	serverProvider := attestation.NewSimulatedProvider(serverQuote, attestation.Measurements{})

	clientExpected := attestation.Measurements{MREnclave: measurement(1), MRSigner: measurement(1)}
	clientProvider := attestation.NewSimulatedProvider(attestation.Quote{}, clientExpected)

	listener, err := Listen(address, RATLS, serverProvider, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	accepted := acceptOnce(listener, raw)

	_, dialErr := (Dialer{Mode: RATLS, Provider: clientProvider}).Dial(address)
	if dialErr == nil {
		t.Fatal("Dial: want mrenclave mismatch error, got nil")
	}
	if !seccaskerr.Is(dialErr, seccaskerr.KindAttestation) {
		t.Fatalf("Dial error = %v, want KindAttestation", dialErr)
	}

	result := testutil.RequireReceive(t, accepted, 2*time.Second, "server accept")
	if result.err == nil {
		result.conn.Close()
		t.Fatal("Accept: want handshake failure, got success")
	}
}

func TestDialRejectsRATLSWithoutProvider(t *testing.T) {
	_, address := listenRaw(t)

	_, err := (Dialer{Mode: RATLS}).Dial(address)
	if err == nil {
		t.Fatal("Dial: want error when RATLS has no Provider, got nil")
	}
	if !seccaskerr.Is(err, seccaskerr.KindFatalInit) {
		t.Fatalf("Dial error = %v, want KindFatalInit", err)
	}
}

func TestListenRejectsRATLSWithoutProvider(t *testing.T) {
	_, address := listenRaw(t)

	_, err := Listen(address, RATLS, nil, nil)
	if err == nil {
		t.Fatal("Listen: want error when RATLS has no Provider, got nil")
	}
	if !seccaskerr.Is(err, seccaskerr.KindFatalInit) {
		t.Fatalf("Listen error = %v, want KindFatalInit", err)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"plain": Plaintext, "tls": TLS, "ratls": RATLS}
	for s, want := range cases {
		got, err := ParseMode(s)
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", s, err)
		}
		if got != want {
			t.Fatalf("ParseMode(%q) = %v, want %v", s, got, want)
		}
	}

	if _, err := ParseMode("bogus"); err == nil {
		t.Fatal("ParseMode(bogus): want error, got nil")
	}
}
