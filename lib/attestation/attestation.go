// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Package attestation implements the RA-TLS attestation provider:
// embedding a simulated enclave quote into a server certificate and
// verifying a peer's quote against expected measurements.
//
// A real deployment loads this logic from a vendor-supplied DCAP
// library via dlopen, as the original implementation does (see
// DESIGN.md). This package isolates that boundary behind [Provider],
// with a self-contained simulated quote generator/verifier standing in
// for the vendor library — the interface spec §9 calls for
// ("install_server_credentials(ctx)" and "verify_peer(cert_der) →
// ok|error") is what every caller in this module programs against.
package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

// MeasurementSize is the length in bytes of an mrenclave or mrsigner
// measurement.
const MeasurementSize = 32

// quoteExtensionOID is the certificate extension that carries the
// simulated enclave quote. Chosen under an unassigned arc; a real
// deployment uses whatever OID the DCAP quote-in-certificate scheme
// defines.
var quoteExtensionOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}

// Quote is the subset of an SGX quote this core inspects: the
// measurement of the enclave's code (MREnclave) and of its signer
// (MRSigner). ISVProdID and ISVSVN are carried for completeness but are
// never compared — spec §4.6 states they are ignored.
type Quote struct {
	MREnclave [MeasurementSize]byte
	MRSigner  [MeasurementSize]byte
	ISVProdID uint16
	ISVSVN    uint16
}

// Measurements holds the pair of expected values loaded once at
// startup from config (spec §3 "Attestation expectations").
type Measurements struct {
	MREnclave [MeasurementSize]byte
	MRSigner  [MeasurementSize]byte
}

// quoteASN1 is the DER-encodable shape of [Quote].
type quoteASN1 struct {
	MREnclave []byte
	MRSigner  []byte
	ISVProdID int
	ISVSVN    int
}

func encodeQuote(q Quote) ([]byte, error) {
	return asn1.Marshal(quoteASN1{
		MREnclave: q.MREnclave[:],
		MRSigner:  q.MRSigner[:],
		ISVProdID: int(q.ISVProdID),
		ISVSVN:    int(q.ISVSVN),
	})
}

func decodeQuote(der []byte) (Quote, error) {
	var raw quoteASN1
	if _, err := asn1.Unmarshal(der, &raw); err != nil {
		return Quote{}, fmt.Errorf("attestation: decoding quote: %w", err)
	}
	if len(raw.MREnclave) != MeasurementSize || len(raw.MRSigner) != MeasurementSize {
		return Quote{}, fmt.Errorf("attestation: quote measurement has wrong length")
	}
	var q Quote
	copy(q.MREnclave[:], raw.MREnclave)
	copy(q.MRSigner[:], raw.MRSigner)
	q.ISVProdID = uint16(raw.ISVProdID)
	q.ISVSVN = uint16(raw.ISVSVN)
	return q, nil
}

// Provider is the capability seam spec §9 calls for: installing quote-
// bearing server credentials, and verifying a peer's quote against
// expected measurements. Dynamic loading of a vendor DCAP library (or,
// here, the simulated quote generator) lives entirely behind this
// interface.
type Provider interface {
	// InstallServerCredentials produces a fresh TLS certificate and
	// private key whose certificate embeds a current enclave quote.
	// Called once per listener, idempotently.
	InstallServerCredentials() (certDER []byte, keyDER []byte, err error)

	// VerifyPeer extracts the embedded quote from a peer's DER
	// certificate and compares its measurements against the expected
	// values. Returns an error (wrapping seccaskerr.KindAttestation at
	// the transport layer) if the quote is missing, malformed, or the
	// measurements do not match.
	VerifyPeer(certDER []byte) error
}

// simulated is the default [Provider]: it does not talk to real SGX
// hardware. InstallServerCredentials embeds this process's own
// configured measurements (standing in for "this is what the enclave
// hardware would attest to"); VerifyPeer compares against a configured
// expected pair. This lets the Coordinator and Worker exercise the full
// RA-TLS code path (cert generation, extension embedding, extraction,
// comparison) without a real attestation device.
type simulated struct {
	local    Quote
	expected Measurements
}

// NewSimulatedProvider returns a [Provider] that embeds localMeasurements
// into certificates it generates, and accepts peers whose embedded
// quote matches expected byte-for-byte.
func NewSimulatedProvider(localMeasurements Quote, expected Measurements) Provider {
	return &simulated{local: localMeasurements, expected: expected}
}

func (s *simulated) InstallServerCredentials() (certDER, keyDER []byte, err error) {
	quoteDER, err := encodeQuote(s.local)
	if err != nil {
		return nil, nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("attestation: generating server key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("attestation: generating serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "seccask-ratls"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtraExtensions: []pkix.Extension{
			{Id: quoteExtensionOID, Critical: false, Value: quoteDER},
		},
	}

	certDER, err = x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("attestation: creating certificate: %w", err)
	}

	keyDER, err = x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("attestation: marshaling key: %w", err)
	}

	return certDER, keyDER, nil
}

func (s *simulated) VerifyPeer(certDER []byte) error {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("attestation: parsing peer certificate: %w", err)
	}

	var quoteDER []byte
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(quoteExtensionOID) {
			quoteDER = ext.Value
			break
		}
	}
	if quoteDER == nil {
		return fmt.Errorf("attestation: peer certificate has no embedded quote")
	}

	quote, err := decodeQuote(quoteDER)
	if err != nil {
		return err
	}

	if quote.MREnclave != s.expected.MREnclave {
		return fmt.Errorf("attestation: mrenclave mismatch")
	}
	if quote.MRSigner != s.expected.MRSigner {
		return fmt.Errorf("attestation: mrsigner mismatch")
	}
	// ISVProdID and ISVSVN are received but intentionally never
	// compared, per spec §4.6.

	return nil
}
