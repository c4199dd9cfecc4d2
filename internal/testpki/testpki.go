// Package testpki generates throwaway PEM-encoded certificate chains for
// tests: a root CA and an end-entity leaf signed directly by it (no
// intermediate). It is test-only scaffolding, never imported by non-test code.
package testpki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Chain is a minimal PKI: a self-signed root and a leaf issued by it,
// PEM-encoded the way signature.LoadMaterial expects.
type Chain struct {
	RootPEM   []byte
	RootCert  *x509.Certificate
	LeafPEM   []byte
	LeafCert  *x509.Certificate
	KeyPEM    []byte
	NotBefore time.Time
	NotAfter  time.Time
}

// NewECDSAChain builds a root CA and a P-256 leaf certificate, both valid
// for the given window, each tagged with a uuid-derived serial number the
// same way the teacher's cmd/example mints a uuid for an OAuth state value.
func NewECDSAChain(t *testing.T, notBefore, notAfter time.Time) *Chain {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate root key: %v", err)
	}
	rootTemplate := &x509.Certificate{
		SerialNumber:          serialFromUUID(t),
		Subject:               pkix.Name{CommonName: "scrate test root"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("create root certificate: %v", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		t.Fatalf("parse root certificate: %v", err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate leaf key: %v", err)
	}
	leafTemplate := &x509.Certificate{
		SerialNumber: serialFromUUID(t),
		Subject:      pkix.Name{CommonName: "scrate test leaf"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, rootTemplate, &leafKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("create leaf certificate: %v", err)
	}
	leafCert, err := x509.ParseCertificate(leafDER)
	if err != nil {
		t.Fatalf("parse leaf certificate: %v", err)
	}

	leafKeyDER, err := x509.MarshalPKCS8PrivateKey(leafKey)
	if err != nil {
		t.Fatalf("marshal leaf key: %v", err)
	}

	return &Chain{
		RootPEM:   pemEncode("CERTIFICATE", rootDER),
		RootCert:  rootCert,
		LeafPEM:   pemEncode("CERTIFICATE", leafDER),
		LeafCert:  leafCert,
		KeyPEM:    pemEncode("PRIVATE KEY", leafKeyDER),
		NotBefore: notBefore,
		NotAfter:  notAfter,
	}
}

// NewRSAChain builds the same kind of root+leaf pair as NewECDSAChain but
// with 2048-bit RSA keys, exercising the other signature algorithm spec.md
// §4.2 allows.
func NewRSAChain(t *testing.T, notBefore, notAfter time.Time) *Chain {
	t.Helper()

	rootKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate root key: %v", err)
	}
	rootTemplate := &x509.Certificate{
		SerialNumber:          serialFromUUID(t),
		Subject:               pkix.Name{CommonName: "scrate test root (RSA)"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("create root certificate: %v", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		t.Fatalf("parse root certificate: %v", err)
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate leaf key: %v", err)
	}
	leafTemplate := &x509.Certificate{
		SerialNumber: serialFromUUID(t),
		Subject:      pkix.Name{CommonName: "scrate test leaf (RSA)"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, rootTemplate, &leafKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("create leaf certificate: %v", err)
	}
	leafCert, err := x509.ParseCertificate(leafDER)
	if err != nil {
		t.Fatalf("parse leaf certificate: %v", err)
	}

	leafKeyDER, err := x509.MarshalPKCS8PrivateKey(leafKey)
	if err != nil {
		t.Fatalf("marshal leaf key: %v", err)
	}

	return &Chain{
		RootPEM:   pemEncode("CERTIFICATE", rootDER),
		RootCert:  rootCert,
		LeafPEM:   pemEncode("CERTIFICATE", leafDER),
		LeafCert:  leafCert,
		KeyPEM:    pemEncode("PRIVATE KEY", leafKeyDER),
		NotBefore: notBefore,
		NotAfter:  notAfter,
	}
}

func serialFromUUID(t *testing.T) *big.Int {
	t.Helper()
	id := uuid.New()
	return new(big.Int).SetBytes(id[:])
}

func pemEncode(blockType string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}
