package signature_test

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratesig/scrate/internal/testpki"
	"github.com/cratesig/scrate/signature"
)

// go test -timeout 30s -run ^TestSignAndVerify_ECDSA$ github.com/cratesig/scrate/signature
func TestSignAndVerify_ECDSA(t *testing.T) {
	chain := testpki.NewECDSAChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	material, err := signature.LoadMaterial(chain.LeafPEM, chain.KeyPEM)
	require.NoError(t, err, "LoadMaterial failed")

	data := []byte("crate binary section contents")
	der, err := material.Sign(data)
	require.NoError(t, err, "Sign failed")

	err = signature.Verify(der, data, []*x509.Certificate{chain.RootCert})
	require.NoError(t, err, "Verify should succeed against its own root")
}

// go test -timeout 30s -run ^TestSignAndVerify_RSA$ github.com/cratesig/scrate/signature
func TestSignAndVerify_RSA(t *testing.T) {
	chain := testpki.NewRSAChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	material, err := signature.LoadMaterial(chain.LeafPEM, chain.KeyPEM)
	require.NoError(t, err, "LoadMaterial failed")

	data := []byte("crate binary section contents")
	der, err := material.Sign(data)
	require.NoError(t, err, "Sign failed")

	err = signature.Verify(der, data, []*x509.Certificate{chain.RootCert})
	require.NoError(t, err, "Verify should succeed against its own root")
}

// go test -timeout 30s -run ^TestVerify_DigestMismatch$ github.com/cratesig/scrate/signature
func TestVerify_DigestMismatch(t *testing.T) {
	chain := testpki.NewECDSAChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	material, err := signature.LoadMaterial(chain.LeafPEM, chain.KeyPEM)
	require.NoError(t, err)

	data := []byte("original content")
	der, err := material.Sign(data)
	require.NoError(t, err)

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0xFF

	err = signature.Verify(der, tampered, []*x509.Certificate{chain.RootCert})
	assert.ErrorIs(t, err, signature.ErrDigestMismatch, "verification over mutated range must fail")
}

// go test -timeout 30s -run ^TestVerify_UnknownIssuer$ github.com/cratesig/scrate/signature
func TestVerify_UnknownIssuer(t *testing.T) {
	chain := testpki.NewECDSAChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	unrelated := testpki.NewECDSAChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	material, err := signature.LoadMaterial(chain.LeafPEM, chain.KeyPEM)
	require.NoError(t, err)

	data := []byte("content")
	der, err := material.Sign(data)
	require.NoError(t, err)

	err = signature.Verify(der, data, []*x509.Certificate{unrelated.RootCert})
	require.ErrorIs(t, err, signature.ErrUnknownIssuer)
}

// go test -timeout 30s -run ^TestVerify_Expired$ github.com/cratesig/scrate/signature
func TestVerify_Expired(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	chain := testpki.NewECDSAChain(t, past, past.Add(time.Hour))

	material, err := signature.LoadMaterial(chain.LeafPEM, chain.KeyPEM)
	require.NoError(t, err)

	data := []byte("content")
	der, err := material.Sign(data)
	require.NoError(t, err)

	err = signature.Verify(der, data, []*x509.Certificate{chain.RootCert})
	require.ErrorIs(t, err, signature.ErrExpired, "validity window is checked ahead of the cryptographic verify step")
}

// go test -timeout 30s -run ^TestVerify_NoRoots$ github.com/cratesig/scrate/signature
func TestVerify_NoRoots(t *testing.T) {
	chain := testpki.NewECDSAChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	material, err := signature.LoadMaterial(chain.LeafPEM, chain.KeyPEM)
	require.NoError(t, err)

	data := []byte("content")
	der, err := material.Sign(data)
	require.NoError(t, err)

	err = signature.Verify(der, data, nil)
	require.ErrorIs(t, err, signature.ErrUnknownIssuer)
}
