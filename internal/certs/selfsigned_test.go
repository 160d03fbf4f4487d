package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(cert.TLS.Certificate) == 0 {
		t.Fatal("no certificate data")
	}
	leaf, err := x509.ParseCertificate(cert.TLS.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}

	if validity := leaf.NotAfter.Sub(leaf.NotBefore); validity != 24*time.Hour {
		t.Errorf("validity: got %v, want 24h", validity)
	}
	if leaf.NotAfter.Before(time.Now()) {
		t.Error("cert is already expired")
	}
	if cert.Fingerprint != sha256.Sum256(cert.TLS.Certificate[0]) {
		t.Error("fingerprint mismatch")
	}
	if !slices.Contains(leaf.DNSNames, "localhost") {
		t.Errorf("DNS names: got %v, want localhost", leaf.DNSNames)
	}
	if cfg := cert.ServerConfig("mediaplay-tap"); len(cfg.Certificates) != 1 || cfg.NextProtos[0] != "mediaplay-tap" {
		t.Errorf("server config: got %+v", cfg)
	}
}

func TestGenerateDefaultValidity(t *testing.T) {
	t.Parallel()
	cert, err := Generate(0)
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := x509.ParseCertificate(cert.TLS.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if validity := leaf.NotAfter.Sub(leaf.NotBefore); validity != DefaultValidity {
		t.Errorf("validity: got %v, want %v", validity, DefaultValidity)
	}
}

func TestParseFingerprint(t *testing.T) {
	t.Parallel()
	cert, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	hexFP := cert.FingerprintHex()

	var colons []string
	for i := 0; i < len(hexFP); i += 2 {
		colons = append(colons, strings.ToUpper(hexFP[i:i+2]))
	}
	for _, s := range []string{hexFP, strings.Join(colons, ":"), " " + hexFP + "\n"} {
		fp, err := ParseFingerprint(s)
		if err != nil || fp != cert.Fingerprint {
			t.Errorf("ParseFingerprint(%q): got %x, %v", s, fp, err)
		}
	}
	for _, s := range []string{"zz", hexFP[:10]} {
		if _, err := ParseFingerprint(s); err == nil {
			t.Errorf("ParseFingerprint(%q) accepted", s)
		}
	}
}

func TestClientConfigPins(t *testing.T) {
	t.Parallel()
	a, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	verify := ClientConfig(a.Fingerprint, "mediaplay-tap").VerifyPeerCertificate
	if err := verify(a.TLS.Certificate, nil); err != nil {
		t.Errorf("pinned cert rejected: %v", err)
	}
	if err := verify(b.TLS.Certificate, nil); !errors.Is(err, ErrFingerprint) {
		t.Errorf("other cert: got %v, want ErrFingerprint", err)
	}
	if err := verify(nil, nil); !errors.Is(err, ErrFingerprint) {
		t.Errorf("no cert: got %v, want ErrFingerprint", err)
	}
}
