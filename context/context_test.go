package context_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratesig/scrate/container"
	scontext "github.com/cratesig/scrate/context"
	"github.com/cratesig/scrate/internal/testpki"
	"github.com/cratesig/scrate/signature"
)

// go test -timeout 30s -run ^TestContext_EncodeDecodeRoundTrip$ github.com/cratesig/scrate/context
func TestContext_EncodeDecodeRoundTrip(t *testing.T) {
	chain := testpki.NewECDSAChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	material, err := signature.LoadMaterial(chain.LeafPEM, chain.KeyPEM)
	require.NoError(t, err)

	c := scontext.NewContext()
	require.NoError(t, c.SetRootCAs(chain.RootPEM))
	c.IngestMetadata(container.PackageInfo{Name: "demo", Version: "0.1.0"}, nil)
	c.IngestCrateBinary([]byte("source archive bytes"))
	c.AddSignature(material, container.SigTypeWhole)

	_, buf, err := c.EncodeToCratePackage()
	require.NoError(t, err, "encode")

	verifier := scontext.NewContext()
	require.NoError(t, verifier.SetRootCAs(chain.RootPEM))
	pkg, err := verifier.DecodeFromCratePackage(buf)
	require.NoError(t, err, "decode")

	assert.Equal(t, "demo", pkg.PackageInfo.Name)
	assert.Equal(t, []byte("source archive bytes"), pkg.CrateBinary)
	require.Len(t, pkg.Signatures, 1)
}

// go test -timeout 30s -run ^TestContext_EncodeMissingMetadata$ github.com/cratesig/scrate/context
func TestContext_EncodeMissingMetadata(t *testing.T) {
	c := scontext.NewContext()
	_, _, err := c.EncodeToCratePackage()
	require.Error(t, err, "encoding without ingest_metadata must fail as a precondition error")
}

// go test -timeout 30s -run ^TestContext_DecodeWithoutTrustAnchors$ github.com/cratesig/scrate/context
func TestContext_DecodeWithoutTrustAnchors(t *testing.T) {
	chain := testpki.NewECDSAChain(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	material, err := signature.LoadMaterial(chain.LeafPEM, chain.KeyPEM)
	require.NoError(t, err)

	c := scontext.NewContext()
	c.IngestMetadata(container.PackageInfo{Name: "demo", Version: "0.1.0"}, nil)
	c.IngestCrateBinary([]byte("bytes"))
	c.AddSignature(material, container.SigTypeCrateBinary)
	_, buf, err := c.EncodeToCratePackage()
	require.NoError(t, err)

	verifier := scontext.NewContext() // no SetRootCAs call
	_, err = verifier.DecodeFromCratePackage(buf)
	require.Error(t, err, "decoding a signed package with no configured roots must fail")
}
