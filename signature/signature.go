// Package signature wraps CMS/PKCS#7 SignedData production and verification
// for a .scrate container: given a byte range, it produces a detached
// signature rooted in a caller-supplied certificate, and given a signature
// plus the same range it verifies the chain against caller-supplied trust
// anchors.
package signature

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/pkg/errors"
)

// oidAttributeMessageDigest is the PKCS#9 messageDigest signed-attribute OID
// (1.2.840.113549.1.9.4), used to recompute-and-compare independently of
// whatever the underlying CMS library checks internally.
var oidAttributeMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}

// Sentinel errors. Kept distinct so callers (and the container decoder) can
// map them onto the signature failure kinds spec.md §7 requires.
var (
	ErrMalformed      = errors.New("signature: malformed CMS structure")
	ErrUnknownIssuer  = errors.New("signature: no chain terminates at a supplied root")
	ErrExpired        = errors.New("signature: certificate outside its validity window")
	ErrDigestMismatch = errors.New("signature: recomputed digest does not match signed message digest")
	ErrBadSignature   = errors.New("signature: cryptographic signature verification failed")

	errNoCertificate = errors.New("signature: no end-entity certificate provided")
	errNoPrivateKey  = errors.New("signature: no private key provided")
	errNoSigner      = errors.New("signature: private key does not implement crypto.Signer")
)

// Material is the signer's key material: the end-entity certificate, its
// private key, and any intermediate certificates that should accompany the
// signature. Roots are never embedded — they are supplied only at verify
// time by the caller.
type Material struct {
	Certificate   *x509.Certificate
	PrivateKey    crypto.PrivateKey
	Intermediates []*x509.Certificate
}

// LoadMaterial parses PEM-encoded certificate, private key, and intermediate
// chain bytes into a Material ready for signing. No password-protected keys
// are supported, matching spec.md §6.
func LoadMaterial(certPEM, keyPEM []byte, intermediatesPEM ...[]byte) (*Material, error) {
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return nil, errors.Wrap(err, "signature: parse end-entity certificate")
	}

	key, err := parsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "signature: parse private key")
	}
	if _, ok := key.(crypto.Signer); !ok {
		return nil, errNoSigner
	}

	var intermediates []*x509.Certificate
	for _, raw := range intermediatesPEM {
		c, err := parseCertificatePEM(raw)
		if err != nil {
			return nil, errors.Wrap(err, "signature: parse intermediate certificate")
		}
		intermediates = append(intermediates, c)
	}

	return &Material{Certificate: cert, PrivateKey: key, Intermediates: intermediates}, nil
}

// Zero overwrites the private key's scalar material in place, matching
// spec.md §5's "zeroize key material on drop". It is a best-effort wipe:
// only the concrete RSA/ECDSA representations we load expose mutable byte
// backing; anything else is left to the garbage collector.
func (m *Material) Zero() {
	if m == nil {
		return
	}
	switch k := m.PrivateKey.(type) {
	case *rsa.PrivateKey:
		zeroBigInt(k.D)
		for _, p := range k.Primes {
			zeroBigInt(p)
		}
	case *ecdsa.PrivateKey:
		zeroBigInt(k.D)
	}
	m.PrivateKey = nil
}

// zeroBigInt clears v's backing words in place. big.Int.Bits() returns the
// mantissa's actual storage (little-endian Word slice), not a copy, so
// zeroing elements of it scrubs the underlying key material.
func zeroBigInt(v *big.Int) {
	if v == nil {
		return
	}
	for i, bits := 0, v.Bits(); i < len(bits); i++ {
		bits[i] = 0
	}
}

// Sign produces a detached CMS SignedData over dataRange, embedding the
// signer certificate and any intermediates but never a root CA.
func (m *Material) Sign(dataRange []byte) ([]byte, error) {
	if m == nil || m.Certificate == nil {
		return nil, errNoCertificate
	}
	if m.PrivateKey == nil {
		return nil, errNoPrivateKey
	}
	signer, ok := m.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, errNoSigner
	}

	sd, err := pkcs7.NewSignedData(dataRange)
	if err != nil {
		return nil, errors.Wrap(err, "signature: initialize SignedData")
	}
	if err := sd.AddSignerChain(m.Certificate, signer, m.Intermediates, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, errors.Wrap(err, "signature: add signer")
	}
	sd.Detach()

	der, err := sd.Finish()
	if err != nil {
		return nil, errors.Wrap(err, "signature: finish SignedData")
	}
	return der, nil
}

// Verify parses signedData as a detached CMS SignedData over dataRange and
// checks, in order: DER well-formedness, digest correctness, certificate
// validity windows, cryptographic signature validity, and finally
// chain-of-trust to one of roots. Validity windows are checked ahead of the
// cryptographic step because the underlying library's own Verify would
// otherwise surface an expired certificate as a signature failure first,
// making ErrExpired unreachable. The ordering keeps DigestMismatch,
// Expired, BadSignature and UnknownIssuer distinguishable, as spec.md
// §4.2/§7 requires.
func Verify(signedData, dataRange []byte, roots []*x509.Certificate) error {
	if len(roots) == 0 {
		return ErrUnknownIssuer
	}

	p7, err := pkcs7.Parse(signedData)
	if err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	p7.Content = dataRange

	if len(p7.Certificates) == 0 {
		return errors.Wrap(ErrMalformed, "no signer certificate embedded in SignedData")
	}

	if err := checkMessageDigest(p7, dataRange); err != nil {
		return err
	}

	// Checked before p7.Verify(): digitorus/pkcs7's Verify compares the
	// signing-time attribute against each certificate's validity window
	// internally and surfaces an expired certificate as a wrapped signature
	// failure, which would make ErrExpired unreachable through this path.
	now := time.Now()
	for _, cert := range p7.Certificates {
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return errors.Wrapf(ErrExpired, "certificate %q valid [%s, %s]", cert.Subject.CommonName, cert.NotBefore, cert.NotAfter)
		}
	}

	if err := p7.Verify(); err != nil {
		return errors.Wrap(ErrBadSignature, err.Error())
	}

	pool := x509.NewCertPool()
	for _, root := range roots {
		pool.AddCert(root)
	}
	if err := p7.VerifyWithChain(pool); err != nil {
		return errors.Wrap(ErrUnknownIssuer, err.Error())
	}

	return nil
}

// checkMessageDigest recomputes the SHA-256 digest of dataRange and compares
// it against the messageDigest signed attribute, independent of whatever the
// underlying library does internally, so DigestMismatch and BadSignature
// remain distinguishable failure modes as spec.md §4.2 requires.
func checkMessageDigest(p7 *pkcs7.PKCS7, dataRange []byte) error {
	want := sha256.Sum256(dataRange)

	var got []byte
	if err := p7.UnmarshalSignedAttribute(oidAttributeMessageDigest, &got); err != nil {
		// No signed messageDigest attribute to compare against; leave
		// the cryptographic check in Verify as the authoritative one.
		return nil
	}
	if len(got) != len(want) || string(got) != string(want[:]) {
		return errors.Wrapf(ErrDigestMismatch, "expected %x, got %x", want, got)
	}
	return nil
}

func parseCertificatePEM(raw []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("signature: no PEM block found")
	}
	return x509.ParseCertificate(block.Bytes)
}

// ParseCertificatePEM parses a single PEM-encoded X.509 certificate. It is
// exported for callers (such as the context façade) that need to turn
// caller-supplied root CA bytes into *x509.Certificate values the same way
// LoadMaterial parses the end-entity certificate.
func ParseCertificatePEM(raw []byte) (*x509.Certificate, error) {
	return parseCertificatePEM(raw)
}

func parsePrivateKeyPEM(raw []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("signature: no PEM block found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, errors.New("signature: unrecognized private key encoding")
}
