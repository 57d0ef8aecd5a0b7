// Package tlsutil generates a self-signed TLS certificate for the admin
// HTTP(S) surface, so an operator can turn on TLS without supplying their
// own certificate material.
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"time"
)

// adminCertValidity is fixed rather than a caller-supplied parameter: the
// admin surface regenerates this certificate fresh on every relayd start, so
// there is no certificate to renew or rotate, and nothing in this repo needs
// anything other than "works for one process lifetime".
const adminCertValidity = 365 * 24 * time.Hour

// adminCommonName identifies the relay's admin surface in the certificate
// subject; it has no bearing on how the cert is validated, since the admin
// surface is only ever reached over loopback or a name the operator already
// trusts directly.
const adminCommonName = "chatrelay-admin"

// GenerateConfig creates a self-signed TLS certificate for the admin HTTP(S)
// listener and returns a tls.Config serving it, plus its SHA-256 fingerprint
// for an operator to verify out of band. Unlike a certificate meant for
// clients scattered across arbitrary hostnames, the admin surface is always
// dialed over loopback (directly, or via an operator's own reverse proxy
// terminating a name it controls), so the certificate covers "localhost" and
// the loopback addresses only — it does not take a hostname to embed.
func GenerateConfig() (*tls.Config, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, "", fmt.Errorf("generate serial: %w", err)
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: adminCommonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(adminCertValidity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, "", fmt.Errorf("create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, "", fmt.Errorf("parse certificate: %w", err)
	}

	fp := sha256.Sum256(certDER)
	fingerprint := hex.EncodeToString(fp[:])

	cfg := &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
			Leaf:        cert,
		}},
	}

	return cfg, fingerprint, nil
}
