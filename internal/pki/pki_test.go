package pki

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"xpanel/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.AutoMigrate())
	return NewManager(st)
}

func TestEnsureCAGeneratesOnFirstCall(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	ca, err := mgr.EnsureCA(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, ca.CertPEM)
	assert.NotEmpty(t, ca.KeyPEM)

	block, _ := pem.Decode([]byte(ca.CertPEM))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.True(t, cert.IsCA)
}

func TestEnsureCAIsIdempotent(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.EnsureCA(ctx)
	require.NoError(t, err)
	second, err := mgr.EnsureCA(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.CertPEM, second.CertPEM, "EnsureCA must not regenerate a non-expiring CA")
}

func TestIssueNodeCertsCarriesExpectedSANs(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	certs, err := mgr.IssueNodeCerts(ctx, 1, "node-a", "203.0.113.5")
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(certs.ServerCertPEM))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Contains(t, cert.DNSNames, "node-a")
	assert.Contains(t, cert.DNSNames, "localhost")

	var sawIP bool
	for _, ip := range cert.IPAddresses {
		if ip.String() == "203.0.113.5" || ip.String() == "127.0.0.1" {
			sawIP = true
		}
	}
	assert.True(t, sawIP, "server cert should carry the node address and loopback as IP SANs")

	require.Len(t, cert.ExtKeyUsage, 1)
	assert.Equal(t, x509.ExtKeyUsageServerAuth, cert.ExtKeyUsage[0])
}

func TestIssueNodeCertsClientCertHasClientAuthUsage(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	certs, err := mgr.IssueNodeCerts(ctx, 1, "node-a", "203.0.113.5")
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(certs.PanelClientCertPEM))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	require.Len(t, cert.ExtKeyUsage, 1)
	assert.Equal(t, x509.ExtKeyUsageClientAuth, cert.ExtKeyUsage[0])
}

func TestIssueNodeCertsAreSignedByCA(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	ca, err := mgr.EnsureCA(ctx)
	require.NoError(t, err)
	caBlock, _ := pem.Decode([]byte(ca.CertPEM))
	caCert, err := x509.ParseCertificate(caBlock.Bytes)
	require.NoError(t, err)

	certs, err := mgr.IssueNodeCerts(ctx, 1, "node-a", "203.0.113.5")
	require.NoError(t, err)
	leafBlock, _ := pem.Decode([]byte(certs.ServerCertPEM))
	leaf, err := x509.ParseCertificate(leafBlock.Bytes)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	_, err = leaf.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}})
	assert.NoError(t, err)
}
