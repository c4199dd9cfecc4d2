// Command scrate-demo exercises the package context façade end to end:
// it mints a throwaway self-signed root and a leaf it issues, ingests in-memory
// metadata and a stand-in crate archive, signs, serializes, re-parses,
// and verifies — all without touching the filesystem or a network, the
// same boundary spec.md §1 draws around the core.
package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"log/slog"
	"math/big"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cratesig/scrate/container"
	"github.com/cratesig/scrate/context"
	"github.com/cratesig/scrate/signature"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rootPEM, leafPEM, keyPEM, err := mintDemoChain()
	if err != nil {
		slog.Error("failed to mint demo certificate chain", "error", err)
		os.Exit(1)
	}

	material, err := signature.LoadMaterial(leafPEM, keyPEM)
	if err != nil {
		slog.Error("failed to load signing material", "error", err)
		os.Exit(1)
	}
	defer material.Zero()

	ctx := context.NewContext()
	if err := ctx.SetRootCAs(rootPEM); err != nil {
		slog.Error("failed to set root CAs", "error", err)
		os.Exit(1)
	}

	ctx.IngestMetadata(container.PackageInfo{
		Name:        "demo",
		Version:     "0.1.0",
		License:     "MIT",
		Description: "scrate-demo stand-in package",
		Authors:     []string{"scrate-demo"},
	}, []container.DependencyRecord{
		{Name: "serde", VersionReq: "^1.0", SourceKind: container.DependencySourceRegistry},
	})
	ctx.IngestCrateBinary([]byte("pretend this is a tar.gz of a crate source tree"))
	ctx.AddSignature(material, container.SigTypeCrateBinary)
	ctx.AddSignature(material, container.SigTypeWhole)

	_, buf, err := ctx.EncodeToCratePackage()
	if err != nil {
		slog.Error("encode failed", "error", err)
		os.Exit(1)
	}
	slog.Info("package encoded", "bytes", len(buf))

	verifier := context.NewContext()
	if err := verifier.SetRootCAs(rootPEM); err != nil {
		slog.Error("failed to set root CAs for verification", "error", err)
		os.Exit(1)
	}

	pkg, err := verifier.DecodeFromCratePackage(buf)
	if err != nil {
		slog.Error("decode failed", "error", err)
		os.Exit(1)
	}

	slog.Info("package decoded and all signatures verified",
		"name", pkg.PackageInfo.Name,
		"version", pkg.PackageInfo.Version,
		"dependencies", len(pkg.Dependencies),
		"signatures", len(pkg.Signatures),
	)
}

// mintDemoChain generates a throwaway P-256 root and leaf certificate so
// this demonstrator needs no files on disk. Real issuance belongs to a
// caller's own PKI; the core signature engine only ever verifies.
func mintDemoChain() (rootPEM, leafPEM, keyPEM []byte, err error) {
	now := time.Now()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, nil, err
	}
	rootTemplate := &x509.Certificate{
		SerialNumber:          serialFromUUID(),
		Subject:               pkix.Name{CommonName: "scrate-demo root"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, nil, nil, err
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, nil, err
	}
	leafTemplate := &x509.Certificate{
		SerialNumber: serialFromUUID(),
		Subject:      pkix.Name{CommonName: "scrate-demo leaf"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, rootTemplate, &leafKey.PublicKey, rootKey)
	if err != nil {
		return nil, nil, nil, err
	}

	leafKeyDER, err := x509.MarshalPKCS8PrivateKey(leafKey)
	if err != nil {
		return nil, nil, nil, err
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER}),
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: leafKeyDER}),
		nil
}

func serialFromUUID() *big.Int {
	id := uuid.New()
	return new(big.Int).SetBytes(id[:])
}
