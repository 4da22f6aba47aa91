// Package pki issues and rotates the certificates backing the panel↔node
// mTLS channel: a single self-signed CA, plus a short-lived server and
// panel-client certificate pair per node. Built directly on
// crypto/x509 — certificate authorities are a case where the standard
// library is the normal tool, not a fallback.
package pki

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"xpanel/internal/store"
	"xpanel/internal/store/models"
	"xpanel/pkg/apperror"
)

const (
	caSubjectName      = "xpanel Certificate Authority"
	caValidity         = 3650 * 24 * time.Hour
	certValidity       = 365 * 24 * time.Hour
	caRenewalThreshold = 30 * 24 * time.Hour
	caRSABits          = 4096
	nodeRSABits        = 2048
)

// NodeCerts is the pair issued for one worker node.
type NodeCerts struct {
	ServerCertPEM      string
	ServerKeyPEM       string
	PanelClientCertPEM string
	PanelClientKeyPEM  string
	NotAfter           time.Time
}

// Manager owns CA bootstrap and node certificate issuance. CA
// generation is guarded by the Manager's mutex, so concurrent EnsureCA
// calls on one Manager never race into creating two CAs.
type Manager struct {
	store *store.Store
	mu    sync.Mutex
}

// NewManager builds a PKI manager backed by store.
func NewManager(st *store.Store) *Manager {
	return &Manager{store: st}
}

// EnsureCA returns the current CA, generating one if none exists or the
// existing one expires within 30 days.
func (m *Manager) EnsureCA(ctx store.Ctx) (*models.CertificateAuthority, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ca, err := m.store.GetCA(ctx)
	if err == nil && time.Until(ca.NotAfter) > caRenewalThreshold {
		return ca, nil
	}
	if err != nil && apperror.KindOf(err) != apperror.KindNotFound {
		return nil, err
	}

	return m.generateCA(ctx)
}

func (m *Manager) generateCA(ctx store.Ctx) (*models.CertificateAuthority, error) {
	key, err := rsa.GenerateKey(rand.Reader, caRSABits)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("generate CA key: %w", err))
	}

	serial, err := newSerial()
	if err != nil {
		return nil, apperror.Internal(err)
	}

	now := time.Now().UTC()
	notAfter := now.Add(caValidity)

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: caSubjectName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("create CA certificate: %w", err))
	}

	certPEM := encodeCertPEM(der)
	keyPEM := encodeKeyPEM(key)

	return m.store.SaveCA(ctx, certPEM, keyPEM, notAfter)
}

// IssueNodeCerts generates a server certificate (ExtendedKeyUsage
// serverAuth) and a panel-client certificate (ExtendedKeyUsage
// clientAuth) for nodeName/nodeAddress, both signed by the CA and valid
// 365 days.
func (m *Manager) IssueNodeCerts(ctx store.Ctx, nodeID uint, nodeName, nodeAddress string) (*NodeCerts, error) {
	caModel, err := m.EnsureCA(ctx)
	if err != nil {
		return nil, err
	}
	caCert, caKey, err := parseCAPair(caModel)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	serverCertPEM, serverKeyPEM, notAfter, err := issueLeaf(caCert, caKey, nodeName, sanFor(nodeName, nodeAddress), x509.ExtKeyUsageServerAuth)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	clientCertPEM, clientKeyPEM, _, err := issueLeaf(caCert, caKey, "panel-client-"+nodeName, nil, x509.ExtKeyUsageClientAuth)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	result := &NodeCerts{
		ServerCertPEM:      serverCertPEM,
		ServerKeyPEM:       serverKeyPEM,
		PanelClientCertPEM: clientCertPEM,
		PanelClientKeyPEM:  clientKeyPEM,
		NotAfter:           notAfter,
	}

	if err := m.store.SaveNodeCertificate(ctx, &models.NodeCertificate{
		NodeID:             nodeID,
		ServerCertPEM:      serverCertPEM,
		ServerKeyPEM:       serverKeyPEM,
		PanelClientCertPEM: clientCertPEM,
		PanelClientKeyPEM:  clientKeyPEM,
		NotAfter:           notAfter,
	}); err != nil {
		return nil, err
	}
	if err := m.store.MirrorNodeClientCert(ctx, nodeID, clientCertPEM, clientKeyPEM); err != nil {
		return nil, err
	}

	return result, nil
}

// Rotate reissues both certificates for nodeName/nodeAddress and
// replaces the stored PEMs. Propagating the new material to the worker
// is the caller's responsibility.
func (m *Manager) Rotate(ctx store.Ctx, nodeID uint, nodeName, nodeAddress string) (*NodeCerts, error) {
	return m.IssueNodeCerts(ctx, nodeID, nodeName, nodeAddress)
}

// Export writes ca.crt, server.crt, server.key, panel-client.crt,
// panel-client.key under dir; key files are written mode 0600.
func Export(dir string, ca *models.CertificateAuthority, node *models.NodeCertificate) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperror.Internal(err)
	}
	files := map[string]struct {
		content string
		mode    os.FileMode
	}{
		"ca.crt":             {ca.CertPEM, 0o644},
		"server.crt":         {node.ServerCertPEM, 0o644},
		"server.key":         {node.ServerKeyPEM, 0o600},
		"panel-client.crt":   {node.PanelClientCertPEM, 0o644},
		"panel-client.key":   {node.PanelClientKeyPEM, 0o600},
	}
	for name, f := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(f.content), f.mode); err != nil {
			return apperror.Internal(fmt.Errorf("write %s: %w", name, err))
		}
	}
	return nil
}

func issueLeaf(caCert *x509.Certificate, caKey *rsa.PrivateKey, commonName string, sans []string, eku x509.ExtKeyUsage) (certPEM, keyPEM string, notAfter time.Time, err error) {
	key, err := rsa.GenerateKey(rand.Reader, nodeRSABits)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("generate key: %w", err)
	}

	serial, err := newSerial()
	if err != nil {
		return "", "", time.Time{}, err
	}

	now := time.Now().UTC()
	notAfter = now.Add(certValidity)

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{eku},
	}
	for _, san := range sans {
		if ip := net.ParseIP(san); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, san)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("create certificate: %w", err)
	}

	return encodeCertPEM(der), encodeKeyPEM(key), notAfter, nil
}

// sanFor builds the SAN list a server cert must carry: the node's
// name, its address (as IP or DNS), plus 127.0.0.1 and localhost for
// local/loopback connectivity checks.
func sanFor(nodeName, nodeAddress string) []string {
	sans := []string{nodeName}
	if nodeAddress != "" {
		sans = append(sans, nodeAddress)
	}
	sans = append(sans, "127.0.0.1", "localhost")
	return sans
}

func newSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

func encodeCertPEM(der []byte) string {
	var buf bytes.Buffer
	_ = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	return buf.String()
}

func encodeKeyPEM(key *rsa.PrivateKey) string {
	var buf bytes.Buffer
	_ = pem.Encode(&buf, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return buf.String()
}

func parseCAPair(ca *models.CertificateAuthority) (*x509.Certificate, *rsa.PrivateKey, error) {
	certBlock, _ := pem.Decode([]byte(ca.CertPEM))
	if certBlock == nil {
		return nil, nil, fmt.Errorf("decode CA cert PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse CA cert: %w", err)
	}
	keyBlock, _ := pem.Decode([]byte(ca.KeyPEM))
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("decode CA key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse CA key: %w", err)
	}
	return cert, key, nil
}
