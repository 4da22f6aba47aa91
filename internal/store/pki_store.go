package store

import (
	"time"

	"xpanel/internal/store/models"
	"xpanel/pkg/apperror"
)

// GetCA returns the current CA row, or NotFound if none has been
// generated yet (internal/pki treats that as "must bootstrap").
func (s *Store) GetCA(ctx Ctx) (*models.CertificateAuthority, error) {
	var ca models.CertificateAuthority
	err := s.db.WithContext(ctx).Order("id desc").First(&ca).Error
	if err != nil {
		return nil, wrapGormErr(err, "no CA generated yet")
	}
	return &ca, nil
}

// SaveCA persists a freshly generated or rotated CA.
func (s *Store) SaveCA(ctx Ctx, certPEM, keyPEM string, notAfter time.Time) (*models.CertificateAuthority, error) {
	ca := &models.CertificateAuthority{CertPEM: certPEM, KeyPEM: keyPEM, NotAfter: notAfter}
	if err := s.db.WithContext(ctx).Create(ca).Error; err != nil {
		return nil, apperror.Internal(err)
	}
	return ca, nil
}

// GetNodeCertificate loads the certificate pair issued to a node.
func (s *Store) GetNodeCertificate(ctx Ctx, nodeID uint) (*models.NodeCertificate, error) {
	var cert models.NodeCertificate
	err := s.db.WithContext(ctx).Where("node_id = ?", nodeID).First(&cert).Error
	if err != nil {
		return nil, wrapGormErr(err, "no certificate issued for node")
	}
	return &cert, nil
}

// SaveNodeCertificate upserts the certificate pair for a node (used by
// both initial issuance and Rotate).
func (s *Store) SaveNodeCertificate(ctx Ctx, cert *models.NodeCertificate) error {
	var existing models.NodeCertificate
	var err error
	if e := s.db.WithContext(ctx).Where("node_id = ?", cert.NodeID).First(&existing).Error; e == nil {
		cert.ID = existing.ID
		err = s.db.WithContext(ctx).Save(cert).Error
	} else {
		err = s.db.WithContext(ctx).Create(cert).Error
	}
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}
