package models

import (
	"time"

	"gorm.io/gorm"
)

// UserStatus represents the lifecycle state of a subscriber.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
	UserStatusLimited  UserStatus = "limited"
	UserStatusExpired  UserStatus = "expired"
	UserStatusOnHold   UserStatus = "on_hold"
)

// DataLimitResetStrategy controls PeriodicReset cadence for a user's quota.
type DataLimitResetStrategy string

const (
	ResetStrategyNone  DataLimitResetStrategy = "none"
	ResetStrategyDay   DataLimitResetStrategy = "day"
	ResetStrategyWeek  DataLimitResetStrategy = "week"
	ResetStrategyMonth DataLimitResetStrategy = "month"
	ResetStrategyYear  DataLimitResetStrategy = "year"
)

// User is a VPN subscriber. AccountNumber is the canonical, lowercase
// identifier carried in proxy emails and subscription tokens.
type User struct {
	ID                     uint                    `gorm:"primaryKey;index:idx_user_lookup,priority:1" json:"id"`
	AccountNumber          string                  `gorm:"type:varchar(36);unique;not null;index" json:"account_number"`
	OwnerAdminID           *uint                   `gorm:"index" json:"owner_admin_id,omitempty"`
	Status                 UserStatus              `gorm:"type:varchar(20);default:'disabled';index" json:"status"`
	DataLimitBytes         *uint64                 `json:"data_limit_bytes,omitempty"`
	UsedTrafficBytes       uint64                  `gorm:"default:0" json:"used_traffic_bytes"`
	ExpireTs               *int64                  `json:"expire_ts,omitempty"`
	OnHoldExpireDurationS  *int64                  `json:"on_hold_expire_duration_s,omitempty"`
	OnHoldTimeoutTs        *int64                  `json:"on_hold_timeout_ts,omitempty"`
	DataLimitResetStrategy DataLimitResetStrategy  `gorm:"type:varchar(10);default:'none'" json:"data_limit_reset_strategy"`
	ActiveNodeID           *uint                   `gorm:"index" json:"active_node_id,omitempty"`
	LastStatusChange       time.Time               `json:"last_status_change"`
	LastReset              time.Time               `json:"last_reset"`
	OnlineAt               *time.Time              `json:"online_at,omitempty"`
	EditAt                 *time.Time              `json:"edit_at,omitempty"`
	SubRevokedAt           *time.Time              `json:"sub_revoked_at,omitempty"`
	SubUpdatedAt           *time.Time              `json:"sub_updated_at,omitempty"`
	AutoDeleteInDays       *int                    `json:"auto_delete_in_days,omitempty"`
	CreatedAt              time.Time               `gorm:"index:idx_user_lookup,priority:2" json:"created_at"`
	UpdatedAt              time.Time               `json:"updated_at"`
	DeletedAt              gorm.DeletedAt          `gorm:"index" json:"-"`

	Proxies  []Proxy   `gorm:"foreignKey:UserID" json:"proxies,omitempty"`
	NextPlan *NextPlan `gorm:"foreignKey:UserID" json:"next_plan,omitempty"`
}

// IsActive reports whether the user may currently have an active node.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive || u.Status == UserStatusOnHold
}

// HasDataRemaining reports whether the user still has quota left, or has
// no quota configured at all.
func (u *User) HasDataRemaining() bool {
	if u.DataLimitBytes == nil {
		return true
	}
	return u.UsedTrafficBytes < *u.DataLimitBytes
}

// UserResponse is the safe user data structure for API responses.
type UserResponse struct {
	ID               uint       `json:"id"`
	AccountNumber    string     `json:"account_number"`
	Status           UserStatus `json:"status"`
	DataLimitBytes   *uint64    `json:"data_limit_bytes,omitempty"`
	UsedTrafficBytes uint64     `json:"used_traffic_bytes"`
	ExpireTs         *int64     `json:"expire_ts,omitempty"`
	ActiveNodeID     *uint      `json:"active_node_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	Proxies          []Proxy    `json:"proxies,omitempty"`
}

// ToResponse converts User to a safe response structure.
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:               u.ID,
		AccountNumber:    u.AccountNumber,
		Status:           u.Status,
		DataLimitBytes:   u.DataLimitBytes,
		UsedTrafficBytes: u.UsedTrafficBytes,
		ExpireTs:         u.ExpireTs,
		ActiveNodeID:     u.ActiveNodeID,
		CreatedAt:        u.CreatedAt,
		Proxies:          u.Proxies,
	}
}

// NextPlan is a pending plan mutation applied when the user's current
// limit or expiry trips during ReviewUsers.
type NextPlan struct {
	UserID              uint  `gorm:"primaryKey" json:"user_id"`
	DataLimit           *uint64 `json:"data_limit,omitempty"`
	ExpireS             *int64  `json:"expire_s,omitempty"`
	AddRemainingTraffic bool    `json:"add_remaining_traffic"`
	FireOnEither        bool    `json:"fire_on_either"`
}

// ReminderType distinguishes notification reminder kinds.
type ReminderType string

const (
	ReminderTypeExpiration ReminderType = "expiration_date"
	ReminderTypeDataUsage  ReminderType = "data_usage"
)

// NotificationReminder records a threshold already notified for a user;
// rows with expires_at in the past are deleted by the ReminderSweep job.
type NotificationReminder struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	UserID    uint         `gorm:"uniqueIndex:idx_reminder,priority:1;not null" json:"user_id"`
	Type      ReminderType `gorm:"type:varchar(20);uniqueIndex:idx_reminder,priority:2;not null" json:"type"`
	Threshold *int         `gorm:"uniqueIndex:idx_reminder,priority:3" json:"threshold,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// UsageResetLog audits every call to Store.ResetUserDataUsage.
type UsageResetLog struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UserID             uint      `gorm:"index;not null" json:"user_id"`
	UsedTrafficAtReset uint64    `json:"used_traffic_at_reset"`
	CreatedAt          time.Time `json:"created_at"`
}
