// Package context implements the user-facing façade over the container
// codec: ingest metadata and archive bytes, register signatures, encode a
// complete .scrate buffer, or parse one back and verify every signature it
// carries. It is the only entry point spec.md §4.4's external CLI
// collaborator is expected to call.
package context

import (
	"crypto/x509"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cratesig/scrate/container"
	"github.com/cratesig/scrate/signature"
)

var errNoMetadata = errors.New("context: ingest_metadata was never called")

// Context is the runtime-only façade spec.md §3 calls PackageContext. It is
// not safe for concurrent use; callers needing parallelism should construct
// independent Contexts.
type Context struct {
	packageInfo  *container.PackageInfo
	dependencies []container.DependencyRecord
	crateBinary  []byte
	pending      []container.PendingSignature
	rootCAs      []*x509.Certificate
}

// NewContext returns an empty façade.
func NewContext() *Context {
	return &Context{}
}

// SetRootCAs parses PEM-encoded root certificates and installs them as the
// context's trust anchors, replacing any previously configured set.
func (c *Context) SetRootCAs(pemBlobs ...[]byte) error {
	roots := make([]*x509.Certificate, 0, len(pemBlobs))
	for i, raw := range pemBlobs {
		cert, err := signature.ParseCertificatePEM(raw)
		if err != nil {
			return errors.Wrapf(err, "context: root CA %d", i)
		}
		roots = append(roots, cert)
	}
	c.rootCAs = roots
	return nil
}

// IngestMetadata records the package's structured metadata and declared
// dependencies. Neither is validated against a registry — spec.md §1's
// Non-goal rules out package resolution entirely.
func (c *Context) IngestMetadata(info container.PackageInfo, deps []container.DependencyRecord) {
	c.packageInfo = &info
	c.dependencies = deps
}

// IngestCrateBinary records the .crate archive bytes verbatim. The context
// never mutates them.
func (c *Context) IngestCrateBinary(data []byte) {
	c.crateBinary = data
}

// AddSignature registers a pending signature: material plus the coverage
// SigType declares. The signature is not produced until
// EncodeToCratePackage runs Phase 3.
func (c *Context) AddSignature(material *signature.Material, sigType container.SIGTYPE) {
	c.pending = append(c.pending, container.PendingSignature{
		ID:       uuid.NewString(),
		Material: material,
		SigType:  sigType,
	})
}

// EncodeToCratePackage validates preconditions, then runs the container
// package's three-phase encode and returns the in-memory model alongside
// the serialized bytes. Missing metadata, a pending signature with no
// material, or signing failures are all treated as precondition errors
// here rather than path-addressed decode failures, per spec.md §7.
func (c *Context) EncodeToCratePackage() (*container.CratePackage, []byte, error) {
	if c.packageInfo == nil {
		return nil, nil, errNoMetadata
	}
	for _, p := range c.pending {
		if p.Material == nil {
			return nil, nil, errors.Errorf("context: signature %q has no material", p.ID)
		}
	}

	pkg, buf, err := container.Encode(container.EncodeInput{
		PackageInfo:  *c.packageInfo,
		Dependencies: c.dependencies,
		CrateBinary:  c.crateBinary,
		Pending:      c.pending,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "context: encode")
	}
	return pkg, buf, nil
}

// DecodeFromCratePackage parses buf and verifies every signature section
// against the context's configured root CAs. If signatures are present but
// no roots were configured, decode fails with codec.ErrNoTrustAnchors
// (surfaced by container.Decode) rather than silently skipping
// verification.
func (c *Context) DecodeFromCratePackage(buf []byte) (*container.CratePackage, error) {
	pkg, err := container.Decode(buf, c.rootCAs)
	if err != nil {
		return nil, err
	}
	return pkg, nil
}
