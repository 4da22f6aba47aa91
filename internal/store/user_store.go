package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"xpanel/internal/store/models"
	"xpanel/pkg/apperror"
)

// UserSpec is the create-time payload for a new user.
type UserSpec struct {
	AccountNumber          string
	Status                 models.UserStatus
	DataLimitBytes         *uint64
	ExpireTs               *int64
	OnHoldExpireDurationS  *int64
	DataLimitResetStrategy models.DataLimitResetStrategy
	AutoDeleteInDays       *int
	Proxies                []models.Proxy
}

// UserPatch is the update-time partial payload. Nil fields are left
// untouched; ClearExpire/ClearDataLimit distinguish "no change" from
// "set to NULL" since the underlying fields are themselves pointers.
type UserPatch struct {
	DataLimitBytes  *uint64
	ClearDataLimit  bool
	ExpireTs        *int64
	ClearExpire     bool
	Status          *models.UserStatus
	Proxies         []models.Proxy
}

// CreateUser canonicalizes account_number to lowercase, defaults status
// to disabled unless specified, and persists proxies atomically.
func (s *Store) CreateUser(ctx Ctx, owner *uint, spec UserSpec) (*models.User, error) {
	if spec.OnHoldExpireDurationS != nil && *spec.OnHoldExpireDurationS == 0 {
		return nil, apperror.InvalidInput("on_hold_expire_duration_s must be greater than zero")
	}

	acct := strings.ToLower(strings.TrimSpace(spec.AccountNumber))
	if acct == "" {
		acct = strings.ToLower(uuid.New().String())
	}

	status := spec.Status
	if status == "" {
		status = models.UserStatusDisabled
	}

	user := &models.User{
		AccountNumber:          acct,
		OwnerAdminID:           owner,
		Status:                 status,
		DataLimitBytes:         spec.DataLimitBytes,
		ExpireTs:               spec.ExpireTs,
		OnHoldExpireDurationS:  spec.OnHoldExpireDurationS,
		DataLimitResetStrategy: spec.DataLimitResetStrategy,
		AutoDeleteInDays:       spec.AutoDeleteInDays,
		LastStatusChange:       time.Now().UTC(),
		LastReset:              time.Now().UTC(),
		Proxies:                spec.Proxies,
	}
	if user.DataLimitResetStrategy == "" {
		user.DataLimitResetStrategy = models.ResetStrategyNone
	}

	err := s.db.WithContext(ctx).Create(user).Error
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.AlreadyExists("user with account_number %q already exists", acct)
		}
		return nil, apperror.Internal(err)
	}
	return user, nil
}

// GetUserByID loads a user with its proxies and next plan.
func (s *Store) GetUserByID(ctx Ctx, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Proxies").Preload("NextPlan").First(&user, id).Error
	if err != nil {
		return nil, wrapGormErr(err, "user not found")
	}
	return &user, nil
}

// GetUserByAccountNumber loads a user by its canonical account number.
func (s *Store) GetUserByAccountNumber(ctx Ctx, accountNumber string) (*models.User, error) {
	var user models.User
	acct := strings.ToLower(strings.TrimSpace(accountNumber))
	err := s.db.WithContext(ctx).Preload("Proxies").Preload("NextPlan").
		Where("account_number = ?", acct).First(&user).Error
	if err != nil {
		return nil, wrapGormErr(err, "user not found")
	}
	return &user, nil
}

// ListUsersByStatus returns all users in the given status, used by the
// Scheduler's ReviewUsers job.
func (s *Store) ListUsersByStatus(ctx Ctx, status models.UserStatus) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Where("status = ?", status).Find(&users).Error
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return users, nil
}

// ListUsersOnNode returns the users whose active_node_id equals nodeID,
// with their proxies preloaded — the ConfigBuilder's primary input.
func (s *Store) ListUsersOnNode(ctx Ctx, nodeID uint) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Preload("Proxies").
		Where("active_node_id = ?", nodeID).Find(&users).Error
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return users, nil
}

// UpdateUser applies patch and recomputes status-derivation rules:
// data_limit / expire changes may promote or demote limited/expired
// status, and any status change bumps last_status_change.
func (s *Store) UpdateUser(ctx Ctx, userID uint, patch UserPatch) (*models.User, error) {
	var updated *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Preload("Proxies").First(&user, userID).Error; err != nil {
			return wrapGormErr(err, "user not found")
		}

		statusChanged := false

		if patch.ClearDataLimit {
			user.DataLimitBytes = nil
		} else if patch.DataLimitBytes != nil {
			user.DataLimitBytes = patch.DataLimitBytes
		}
		if patch.ClearExpire {
			user.ExpireTs = nil
		} else if patch.ExpireTs != nil {
			user.ExpireTs = patch.ExpireTs
		}

		// data_limit demotion/promotion
		if user.Status == models.UserStatusLimited {
			if user.DataLimitBytes == nil || user.UsedTrafficBytes < *user.DataLimitBytes {
				user.Status = models.UserStatusActive
				statusChanged = true
			}
		} else if user.DataLimitBytes != nil && user.UsedTrafficBytes >= *user.DataLimitBytes {
			user.Status = models.UserStatusLimited
			statusChanged = true
		}

		// expire demotion/promotion
		now := nowUnix()
		if user.Status == models.UserStatusExpired {
			if user.ExpireTs == nil || *user.ExpireTs > now {
				user.Status = models.UserStatusActive
				statusChanged = true
			}
		} else if user.ExpireTs != nil && *user.ExpireTs <= now {
			user.Status = models.UserStatusExpired
			statusChanged = true
		}

		if patch.Status != nil && *patch.Status != user.Status {
			user.Status = *patch.Status
			statusChanged = true
		}

		if statusChanged {
			user.LastStatusChange = time.Now().UTC()
		}

		if patch.Proxies != nil {
			if err := tx.Where("user_id = ?", userID).Delete(&models.Proxy{}).Error; err != nil {
				return apperror.Internal(err)
			}
			for i := range patch.Proxies {
				patch.Proxies[i].ID = 0
				patch.Proxies[i].UserID = userID
			}
			if len(patch.Proxies) > 0 {
				if err := tx.Create(&patch.Proxies).Error; err != nil {
					return apperror.Internal(err)
				}
			}
			user.Proxies = patch.Proxies
		}

		if err := tx.Save(&user).Error; err != nil {
			return apperror.Internal(err)
		}
		updated = &user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetUserActiveNode sets or clears active_node_id directly, bypassing
// the general patch path since Operations owns this transition.
func (s *Store) SetUserActiveNode(ctx Ctx, userID uint, nodeID *uint) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("active_node_id", nodeID).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// SetUserStatus is a narrow status-only write used by ReviewUsers,
// which has already computed the destination status.
func (s *Store) SetUserStatus(ctx Ctx, userID uint, status models.UserStatus) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"status":             status,
			"last_status_change": time.Now().UTC(),
		}).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// StartUserExpire converts an on_hold user's duration into a concrete
// expire_ts anchored at now, called when ReviewUsers promotes the user
// out of on_hold.
func (s *Store) StartUserExpire(ctx Ctx, userID uint, durationS int64) error {
	expire := time.Now().UTC().Unix() + durationS
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("expire_ts", expire).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// RevokeUserSub stamps sub_revoked_at = now, invalidating every
// subscription token issued before this instant (spec §4.9, §8 I-6).
func (s *Store) RevokeUserSub(ctx Ctx, userID uint) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"sub_revoked_at": now,
			"sub_updated_at": now,
		}).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// RevokeUserProxy regenerates the in-place secret for one of the user's
// proxies (new UUID for vless/vmess, new random password for
// trojan/shadowsocks) without touching its address/port — per spec §3,
// "Revocation regenerates the secret in place."
func (s *Store) RevokeUserProxy(ctx Ctx, userID uint, protocol models.ProxyProtocol) (*models.Proxy, error) {
	var proxy models.Proxy
	err := s.db.WithContext(ctx).Where("user_id = ? AND protocol = ?", userID, protocol).First(&proxy).Error
	if err != nil {
		return nil, wrapGormErr(err, "proxy not found")
	}

	switch protocol {
	case models.ProtocolVLESS, models.ProtocolVMess:
		proxy.Settings.UUID = uuid.New().String()
	case models.ProtocolTrojan, models.ProtocolShadowsocks:
		proxy.Settings.Password = uuid.New().String()
	}

	if err := s.db.WithContext(ctx).Save(&proxy).Error; err != nil {
		return nil, apperror.Internal(err)
	}
	return &proxy, nil
}

// RecordOnline stamps online_at = now for a user, called by
// UsagePipeline whenever a reporting delta is positive.
func (s *Store) RecordOnline(ctx Ctx, userID uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("online_at", at).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// AddUsedTraffic increments used_traffic_bytes by delta; zero delta is
// rejected by the caller (UsagePipeline), not here.
func (s *Store) AddUsedTraffic(ctx Ctx, userID uint, delta uint64) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("used_traffic_bytes", gorm.Expr("used_traffic_bytes + ?", delta)).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// ResetUserDataUsage appends a usage-reset log row with the pre-reset
// counter, zeroes used_traffic, deletes PerNodeUserUsage rows for the
// user, clears any pending next_plan, and reactivates a limited user.
func (s *Store) ResetUserDataUsage(ctx Ctx, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return wrapGormErr(err, "user not found")
		}

		if err := tx.Create(&models.UsageResetLog{
			UserID:             userID,
			UsedTrafficAtReset: user.UsedTrafficBytes,
			CreatedAt:          time.Now().UTC(),
		}).Error; err != nil {
			return apperror.Internal(err)
		}

		if err := tx.Where("user_id = ?", userID).Delete(&models.PerNodeUserUsage{}).Error; err != nil {
			return apperror.Internal(err)
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.NextPlan{}).Error; err != nil {
			return apperror.Internal(err)
		}

		updates := map[string]interface{}{
			"used_traffic_bytes": 0,
			"last_reset":         time.Now().UTC(),
		}
		if user.Status == models.UserStatusLimited {
			updates["status"] = models.UserStatusActive
			updates["last_status_change"] = time.Now().UTC()
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error
	})
}

// ApplyNextPlan merges a pending NextPlan into the user, zeroes usage,
// deletes PerNodeUserUsage rows, and activates the user. Fails with
// NotFound if no plan is pending.
func (s *Store) ApplyNextPlan(ctx Ctx, userID uint) (*models.User, error) {
	var result *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan models.NextPlan
		if err := tx.First(&plan, "user_id = ?", userID).Error; err != nil {
			return wrapGormErr(err, "no next_plan pending for user")
		}
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return wrapGormErr(err, "user not found")
		}

		if err := tx.Where("user_id = ?", userID).Delete(&models.PerNodeUserUsage{}).Error; err != nil {
			return apperror.Internal(err)
		}

		remaining := uint64(0)
		if plan.AddRemainingTraffic && user.DataLimitBytes != nil && user.UsedTrafficBytes < *user.DataLimitBytes {
			remaining = *user.DataLimitBytes - user.UsedTrafficBytes
		}

		if plan.DataLimit != nil {
			newLimit := *plan.DataLimit + remaining
			user.DataLimitBytes = &newLimit
		}
		if plan.ExpireS != nil {
			expire := time.Now().UTC().Unix() + *plan.ExpireS
			user.ExpireTs = &expire
		}
		user.UsedTrafficBytes = 0
		user.Status = models.UserStatusActive
		user.LastStatusChange = time.Now().UTC()
		user.LastReset = time.Now().UTC()

		if err := tx.Save(&user).Error; err != nil {
			return apperror.Internal(err)
		}
		if err := tx.Delete(&plan).Error; err != nil {
			return apperror.Internal(err)
		}
		result = &user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetNextPlan upserts the pending plan mutation for a user.
func (s *Store) SetNextPlan(ctx Ctx, plan models.NextPlan) error {
	err := s.db.WithContext(ctx).Save(&plan).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// AutoDeleteExpired returns users whose last_status_change plus their
// effective auto-delete window has elapsed. Deletion itself is the
// caller's (Operations') responsibility.
func (s *Store) AutoDeleteExpired(ctx Ctx, includeLimited bool, defaultDays int) ([]models.User, error) {
	statuses := []models.UserStatus{models.UserStatusExpired}
	if includeLimited {
		statuses = append(statuses, models.UserStatusLimited)
	}

	var candidates []models.User
	if err := s.db.WithContext(ctx).Where("status IN ?", statuses).Find(&candidates).Error; err != nil {
		return nil, apperror.Internal(err)
	}

	now := time.Now().UTC()
	var due []models.User
	for _, u := range candidates {
		days := defaultDays
		if u.AutoDeleteInDays != nil {
			days = *u.AutoDeleteInDays
		}
		if days <= 0 {
			continue
		}
		if now.Sub(u.LastStatusChange) >= time.Duration(days)*24*time.Hour {
			due = append(due, u)
		}
	}
	return due, nil
}

// DeleteUser soft-deletes the user row (User carries gorm.DeletedAt) and
// deletes its proxies through GORM's association delete.
func (s *Store) DeleteUser(ctx Ctx, userID uint) error {
	err := s.db.WithContext(ctx).Select("Proxies").Delete(&models.User{ID: userID}).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// UsersForUsageMapping returns the (id, account_number) pairs
// UsagePipeline needs to build its email→user_id lookup table.
func (s *Store) UsersForUsageMapping(ctx Ctx) ([]struct {
	ID            uint
	AccountNumber string
}, error) {
	var rows []struct {
		ID            uint
		AccountNumber string
	}
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Select("id, account_number").Find(&rows).Error
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return rows, nil
}

// ListUsersWithResetStrategy returns users whose data_limit_reset_strategy
// is not none, for the hourly PeriodicReset job to evaluate.
func (s *Store) ListUsersWithResetStrategy(ctx Ctx) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Where("data_limit_reset_strategy <> ?", models.ResetStrategyNone).Find(&users).Error
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	// Postgres unique_violation SQLSTATE is 23505; go-gorm's postgres
	// driver wraps pgconn errors, so a substring match keeps this
	// independent of the concrete driver error type.
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate") ||
		(err != nil && strings.Contains(err.Error(), "23505"))
}
