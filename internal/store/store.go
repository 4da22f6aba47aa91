// Package store owns all persistent state: users, admins, nodes,
// service configurations, proxies, usage rows, and PKI material. Every
// mutation is one transaction; reads may share a session within a
// request. Collapses the repository-per-entity layout into a single
// typed Store.
package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"xpanel/internal/store/models"
	"xpanel/pkg/apperror"
)

// Store is the control plane's persistence boundary.
type Store struct {
	db *gorm.DB
}

// New wraps an already-connected *gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migration tooling and tests
// that need to seed fixtures directly.
func (s *Store) DB() *gorm.DB { return s.db }

// AutoMigrate creates/updates tables for every model the control plane
// owns. cmd/panel calls it on every startup; the versioned SQL files
// under internal/store/migrations/sql are applied separately by
// cmd/migrate.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.Admin{},
		&models.User{},
		&models.Proxy{},
		&models.NextPlan{},
		&models.NotificationReminder{},
		&models.UsageResetLog{},
		&models.Node{},
		&models.ServiceConfiguration{},
		&models.PerNodeUserUsage{},
		&models.PerNodeUsage{},
		&models.CertificateAuthority{},
		&models.NodeCertificate{},
		&models.NodeAPIKey{},
	)
}

func wrapGormErr(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if gorm.ErrRecordNotFound == err {
		return apperror.NotFound("%s", notFoundMsg)
	}
	return apperror.Internal(err)
}

// nowUnix returns the current UTC time as Unix seconds, the clock the
// status-derivation rules compare expire_ts against.
func nowUnix() int64 { return time.Now().UTC().Unix() }

// Ctx carries a request- or job-scoped deadline for long Store calls.
// The GORM calls below mostly run against a local/regional database and
// do not thread ctx through every clause; WithContext is applied to
// each top-level call.
type Ctx = context.Context
