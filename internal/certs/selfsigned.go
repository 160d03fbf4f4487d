// Package certs makes the throwaway TLS identity of the event tap. Watchers
// trust it by pinning its SHA-256 fingerprint instead of a CA chain.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"
)

// DefaultValidity applies when Generate gets a non-positive validity.
const DefaultValidity = 7 * 24 * time.Hour

// ErrFingerprint is returned when a peer presents an unexpected certificate.
var ErrFingerprint = errors.New("certs: certificate fingerprint mismatch")

// Cert is a self-signed certificate and the digest watchers pin.
type Cert struct {
	TLS         tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintHex returns the fingerprint as lowercase hex, the form the
// CLI prints and accepts.
func (c *Cert) FingerprintHex() string {
	return hex.EncodeToString(c.Fingerprint[:])
}

// ServerConfig returns a TLS config presenting c for the given ALPN
// protocol.
func (c *Cert) ServerConfig(proto string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLS},
		NextProtos:   []string{proto},
		MinVersion:   tls.VersionTLS13,
	}
}

// Generate creates an ECDSA P-256 certificate for localhost.
func Generate(validity time.Duration) (*Cert, error) {
	if validity <= 0 {
		validity = DefaultValidity
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("certs: private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("certs: serial number: %w", err)
	}

	// Backdated a minute for clock skew.
	notBefore := time.Now().Add(-time.Minute)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "mediaplay"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("certs: create: %w", err)
	}
	return &Cert{
		TLS:         tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		Fingerprint: sha256.Sum256(der),
		NotAfter:    template.NotAfter,
	}, nil
}

// ParseFingerprint accepts hex with or without colons.
func ParseFingerprint(s string) ([32]byte, error) {
	var fp [32]byte
	b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), ":", ""))
	if err != nil {
		return fp, fmt.Errorf("certs: fingerprint: %w", err)
	}
	if len(b) != len(fp) {
		return fp, fmt.Errorf("certs: fingerprint has %d bytes, want %d", len(b), len(fp))
	}
	copy(fp[:], b)
	return fp, nil
}

// ClientConfig returns a TLS config that accepts only a leaf certificate
// with the given fingerprint.
func ClientConfig(fp [32]byte, proto string) *tls.Config {
	return &tls.Config{
		// Chain verification is replaced by the pin below.
		InsecureSkipVerify: true,
		NextProtos:         []string{proto},
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(raw [][]byte, _ [][]*x509.Certificate) error {
			if len(raw) == 0 {
				return ErrFingerprint
			}
			got := sha256.Sum256(raw[0])
			if subtle.ConstantTimeCompare(got[:], fp[:]) != 1 {
				return ErrFingerprint
			}
			return nil
		},
	}
}
