// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the three concrete stream types spec §4.2
// requires — Plaintext, TLS, and RA-TLS — behind one dial/listen API,
// plus the verify callbacks each mode installs.
package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/seccask/seccask/lib/attestation"
	"github.com/seccask/seccask/lib/seccaskerr"
)

// Mode selects a transport's security properties. Fixed for the
// lifetime of a handler (spec §3).
type Mode int

const (
	// Plaintext is direct TCP with no encryption or authentication.
	Plaintext Mode = iota
	// TLS is TLS 1.2 over TCP with peer certificate verification
	// enabled; the verifier logs the certificate subject and accepts
	// unconditionally.
	TLS
	// RATLS is TLS 1.2 over TCP whose verifier additionally extracts
	// and checks an embedded enclave quote via an
	// [attestation.Provider].
	RATLS
)

func (m Mode) String() string {
	switch m {
	case Plaintext:
		return "plain"
	case TLS:
		return "tls"
	case RATLS:
		return "ratls"
	default:
		return "unknown"
	}
}

// ParseMode parses the -M/--mode CLI flag value (spec §6).
func ParseMode(s string) (Mode, error) {
	switch s {
	case "plain":
		return Plaintext, nil
	case "tls":
		return TLS, nil
	case "ratls":
		return RATLS, nil
	default:
		return 0, fmt.Errorf("transport: unknown mode %q (want plain, tls, or ratls)", s)
	}
}

// tlsMinVersion and tlsMaxVersion pin the connection to TLS 1.2, per
// spec §4.2.
const (
	tlsMinVersion = tls.VersionTLS12
	tlsMaxVersion = tls.VersionTLS12
)

// baseTLSConfig builds the shared TLS context for every mode. Spec
// §4.2 calls for curves limited to X25519/X448 and signature
// algorithms restricted to ECDSA+SHA256/RSA+SHA256; crypto/tls only
// gets us partway there. CurvePreferences substitutes P256 for X448,
// which crypto/tls does not implement — a real deviation, not an
// equivalent curve, so peers that only offer X448 will fail to reach
// agreement here where a full implementation would succeed.
// crypto/tls also has no exported knob to restrict the signature
// schemes a server will accept during negotiation, so the
// ECDSA+SHA256/RSA+SHA256 restriction is not enforced at all: a peer
// presenting RSA+SHA384 or a P-384 certificate can still complete the
// handshake. Session tickets are disabled explicitly; TLS-level
// compression was never implemented by crypto/tls, so there is
// nothing to disable there.
func baseTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:             tlsMinVersion,
		MaxVersion:             tlsMaxVersion,
		CurvePreferences:       []tls.CurveID{tls.X25519, tls.CurveP256},
		SessionTicketsDisabled: true,
		ClientAuth:             tls.NoClientCert,
		InsecureSkipVerify:     true, // custom VerifyPeerCertificate replaces chain validation
	}
}

// Dialer connects to a Coordinator or Worker under the given transport
// mode.
type Dialer struct {
	Mode     Mode
	Provider attestation.Provider // required for RATLS, ignored otherwise
	Logger   *slog.Logger
}

// Dial establishes a connection, performing the TLS/RA-TLS handshake
// if required. Connection establishment is strictly ordered per spec
// §4.2: TCP connect, then (if secure) handshake; a connect or handshake
// failure aborts and returns a KindTransport error (KindAttestation for
// an RATLS handshake). RATLS without a Provider returns KindFatalInit.
func (d Dialer) Dial(address string) (net.Conn, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, seccaskerr.New(seccaskerr.KindTransport, fmt.Errorf("dialing %s: %w", address, err))
	}

	if d.Mode == Plaintext {
		return conn, nil
	}

	config := baseTLSConfig()
	config.ClientAuth = tls.NoClientCert
	config.Certificates = nil

	switch d.Mode {
	case TLS:
		config.VerifyPeerCertificate = d.verifyLogOnly()
	case RATLS:
		if d.Provider == nil {
			conn.Close()
			return nil, seccaskerr.New(seccaskerr.KindFatalInit, fmt.Errorf("ratls dial requires an attestation.Provider"))
		}
		config.VerifyPeerCertificate = d.verifyAttestation()
	}

	tlsConn := tls.Client(conn, config)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		kind := seccaskerr.KindTransport
		if d.Mode == RATLS {
			kind = seccaskerr.KindAttestation
		}
		return nil, seccaskerr.New(kind, fmt.Errorf("tls handshake with %s: %w", address, err))
	}

	return tlsConn, nil
}

func (d Dialer) verifyLogOnly() func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("transport: peer presented no certificate")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("transport: parsing peer certificate: %w", err)
		}
		if d.Logger != nil {
			d.Logger.Debug("peer certificate", "subject", cert.Subject.String())
		}
		return nil
	}
}

func (d Dialer) verifyAttestation() func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("transport: peer presented no certificate")
		}
		if d.Logger != nil {
			if cert, err := x509.ParseCertificate(rawCerts[0]); err == nil {
				d.Logger.Debug("peer certificate", "subject", cert.Subject.String())
			}
		}
		return d.Provider.VerifyPeer(rawCerts[0])
	}
}

// Listener accepts connections from Workers under the given transport
// mode.
type Listener struct {
	Mode     Mode
	Provider attestation.Provider // required for RATLS, ignored otherwise
	Logger   *slog.Logger

	tlsConfig *tls.Config
}

// Listen prepares the transport mode's credentials; it does not bind.
// The caller binds the socket itself and passes the raw listener to
// Accept, and address is not used. For RATLS this calls
// Provider.InstallServerCredentials once, idempotently with respect to
// the returned Listener (subsequent Accepts reuse the same credentials).
// Returns a KindFatalInit error on TLS-context failure, per spec §7.
func Listen(address string, mode Mode, provider attestation.Provider, logger *slog.Logger) (*Listener, error) {
	l := &Listener{Mode: mode, Provider: provider, Logger: logger}

	if mode == Plaintext {
		return l, nil
	}

	config := baseTLSConfig()

	switch mode {
	case TLS:
		cert, err := selfSignedServerCertificate()
		if err != nil {
			return nil, seccaskerr.New(seccaskerr.KindFatalInit, err)
		}
		config.Certificates = []tls.Certificate{cert}
		config.VerifyPeerCertificate = (Dialer{Logger: logger}).verifyLogOnly()

	case RATLS:
		if provider == nil {
			return nil, seccaskerr.New(seccaskerr.KindFatalInit, fmt.Errorf("ratls listen requires an attestation.Provider"))
		}
		certDER, keyDER, err := provider.InstallServerCredentials()
		if err != nil {
			return nil, seccaskerr.New(seccaskerr.KindFatalInit, fmt.Errorf("installing server credentials: %w", err))
		}
		key, err := x509.ParseECPrivateKey(keyDER)
		if err != nil {
			return nil, seccaskerr.New(seccaskerr.KindFatalInit, fmt.Errorf("parsing server key: %w", err))
		}
		config.Certificates = []tls.Certificate{{Certificate: [][]byte{certDER}, PrivateKey: key}}
		config.VerifyPeerCertificate = (Dialer{Provider: provider, Logger: logger}).verifyAttestation()
	}

	l.tlsConfig = config
	return l, nil
}

// Accept accepts one connection on the raw listener and, if the mode is
// secure, performs the server-side handshake before returning. Ordering
// matches spec §4.2: TCP accept -> (if secure) handshake -> caller's
// on_connected.
func (l *Listener) Accept(raw net.Listener) (net.Conn, error) {
	conn, err := raw.Accept()
	if err != nil {
		return nil, seccaskerr.New(seccaskerr.KindTransport, err)
	}

	if l.Mode == Plaintext {
		return conn, nil
	}

	tlsConn := tls.Server(conn, l.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		kind := seccaskerr.KindTransport
		if l.Mode == RATLS {
			kind = seccaskerr.KindAttestation
		}
		return nil, seccaskerr.New(kind, fmt.Errorf("server handshake: %w", err))
	}

	return tlsConn, nil
}

// selfSignedServerCertificate produces an ephemeral self-signed
// certificate for plain-TLS mode, where — per spec §4.2 — the
// certificate's subject is informational only and verification is by
// "log and accept" rather than chain validation.
func selfSignedServerCertificate() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating server key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "seccask-coordinator"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("creating certificate: %w", err)
	}

	return tls.Certificate{Certificate: [][]byte{certDER}, PrivateKey: key}, nil
}
