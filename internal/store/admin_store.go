package store

import (
	"strings"
	"time"

	"xpanel/internal/store/models"
	"xpanel/pkg/apperror"
)

// CreateAdmin persists a new admin account. Username is stored
// lowercase so lookups are case-insensitive.
func (s *Store) CreateAdmin(ctx Ctx, username, passwordHash string, isSudo bool) (*models.Admin, error) {
	admin := &models.Admin{
		Username:     strings.ToLower(strings.TrimSpace(username)),
		PasswordHash: passwordHash,
		IsSudo:       isSudo,
	}
	err := s.db.WithContext(ctx).Create(admin).Error
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.AlreadyExists("admin %q already exists", admin.Username)
		}
		return nil, apperror.Internal(err)
	}
	return admin, nil
}

// GetAdminByUsername looks up an admin case-insensitively.
func (s *Store) GetAdminByUsername(ctx Ctx, username string) (*models.Admin, error) {
	var admin models.Admin
	err := s.db.WithContext(ctx).
		Where("username = ?", strings.ToLower(strings.TrimSpace(username))).
		First(&admin).Error
	if err != nil {
		return nil, wrapGormErr(err, "admin not found")
	}
	return &admin, nil
}

// CountAdmins reports how many admin rows exist, used at startup to
// decide whether a default super-admin must be bootstrapped.
func (s *Store) CountAdmins(ctx Ctx) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Admin{}).Count(&count).Error
	if err != nil {
		return 0, apperror.Internal(err)
	}
	return count, nil
}

// MarkPasswordReset stamps password_reset_at = now, invalidating
// previously issued tokens whose iat predates it.
func (s *Store) MarkPasswordReset(ctx Ctx, adminID uint) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&models.Admin{}).Where("id = ?", adminID).
		Update("password_reset_at", &now).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// ListAdmins returns every admin account.
func (s *Store) ListAdmins(ctx Ctx) ([]models.Admin, error) {
	var admins []models.Admin
	err := s.db.WithContext(ctx).Find(&admins).Error
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return admins, nil
}

// UpdateAdminPassword replaces an admin's password hash and stamps
// password_reset_at so tokens issued before the change stop validating.
func (s *Store) UpdateAdminPassword(ctx Ctx, adminID uint, passwordHash string) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&models.Admin{}).Where("id = ?", adminID).
		Updates(map[string]interface{}{
			"password_hash":     passwordHash,
			"password_reset_at": &now,
		}).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// DeleteAdmin removes an admin account. Users owned by the admin are
// left in place with owner_admin_id intact (FK has no cascade).
func (s *Store) DeleteAdmin(ctx Ctx, adminID uint) error {
	err := s.db.WithContext(ctx).Delete(&models.Admin{ID: adminID}).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}
