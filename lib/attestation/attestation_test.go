// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

package attestation

import "testing"

func measurement(fill byte) [MeasurementSize]byte {
	var m [MeasurementSize]byte
	m[len(m)-1] = fill
	return m
}

func TestVerifyPeerAcceptsMatchingMeasurements(t *testing.T) {
	expected := Measurements{MREnclave: measurement(1), MRSigner: measurement(1)}
	local := Quote{MREnclave: expected.MREnclave, MRSigner: expected.MRSigner}

	provider := NewSimulatedProvider(local, expected)

	certDER, _, err := provider.InstallServerCredentials()
	if err != nil {
		t.Fatalf("InstallServerCredentials: %v", err)
	}

	if err := provider.VerifyPeer(certDER); err != nil {
		t.Fatalf("VerifyPeer: %v, want accept", err)
	}
}

func TestVerifyPeerRejectsMREnclaveMismatch(t *testing.T) {
	// S5: expected mrenclave = 0x00...01, peer's quote carries mrenclave = 0x00...02.
	expected := Measurements{MREnclave: measurement(1), MRSigner: measurement(1)}
	local := Quote{MREnclave: measurement(2), MRSigner: measurement(1)}

	provider := NewSimulatedProvider(local, expected)

	certDER, _, err := provider.InstallServerCredentials()
	if err != nil {
		t.Fatalf("InstallServerCredentials: %v", err)
	}

	if err := provider.VerifyPeer(certDER); err == nil {
		t.Fatal("VerifyPeer: want mrenclave mismatch error, got nil")
	}
}

func TestVerifyPeerRejectsMRSignerMismatch(t *testing.T) {
	expected := Measurements{MREnclave: measurement(1), MRSigner: measurement(1)}
	local := Quote{MREnclave: measurement(1), MRSigner: measurement(2)}

	provider := NewSimulatedProvider(local, expected)

	certDER, _, err := provider.InstallServerCredentials()
	if err != nil {
		t.Fatalf("InstallServerCredentials: %v", err)
	}

	if err := provider.VerifyPeer(certDER); err == nil {
		t.Fatal("VerifyPeer: want mrsigner mismatch error, got nil")
	}
}

func TestVerifyPeerIgnoresISVFields(t *testing.T) {
	expected := Measurements{MREnclave: measurement(1), MRSigner: measurement(1)}
	local := Quote{MREnclave: measurement(1), MRSigner: measurement(1), ISVProdID: 7, ISVSVN: 3}

	provider := NewSimulatedProvider(local, expected)

	certDER, _, err := provider.InstallServerCredentials()
	if err != nil {
		t.Fatalf("InstallServerCredentials: %v", err)
	}

	if err := provider.VerifyPeer(certDER); err != nil {
		t.Fatalf("VerifyPeer: %v, want accept regardless of ISVProdID/ISVSVN", err)
	}
}
