package models

import "time"

// CertificateAuthority is the single panel-wide signing CA. There is at
// most one row; PKI regenerates it only when absent or near expiry.
type CertificateAuthority struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CertPEM    string    `gorm:"type:text;not null" json:"-"`
	KeyPEM     string    `gorm:"type:text;not null" json:"-"`
	NotAfter   time.Time `json:"not_after"`
	CreatedAt  time.Time `json:"created_at"`
}

// NodeCertificate is the server + panel-client certificate pair issued
// to one node. The panel-client half is mirrored into Node for
// NodeClient's convenience at dial time.
type NodeCertificate struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	NodeID           uint      `gorm:"uniqueIndex;not null" json:"node_id"`
	ServerCertPEM    string    `gorm:"type:text;not null" json:"-"`
	ServerKeyPEM     string    `gorm:"type:text;not null" json:"-"`
	PanelClientCertPEM string  `gorm:"type:text;not null" json:"-"`
	PanelClientKeyPEM  string  `gorm:"type:text;not null" json:"-"`
	NotAfter         time.Time `json:"not_after"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NodeAPIKey authenticates inbound callbacks a worker node makes to the
// panel (distinct from the outbound mTLS session NodeClient owns).
type NodeAPIKey struct {
	NodeID    uint      `gorm:"primaryKey" json:"node_id"`
	KeyHash   string    `gorm:"type:varchar(255);not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
