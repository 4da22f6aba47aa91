// Package models contains all GORM database models for the control plane.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Admin owns zero or more Users and authenticates against the panel API.
type Admin struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Username        string         `gorm:"type:varchar(64);unique;not null;index" json:"username"`
	PasswordHash    string         `gorm:"type:varchar(255);not null" json:"-"`
	IsSudo          bool           `gorm:"default:false" json:"is_sudo"`
	PasswordResetAt *time.Time     `json:"password_reset_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	Users []User `gorm:"foreignKey:OwnerAdminID" json:"-"`
}

// AdminResponse is the safe admin data structure for API responses.
type AdminResponse struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	IsSudo   bool   `json:"is_sudo"`
}

// ToResponse converts Admin to a safe response structure.
func (a *Admin) ToResponse() AdminResponse {
	return AdminResponse{ID: a.ID, Username: a.Username, IsSudo: a.IsSudo}
}
