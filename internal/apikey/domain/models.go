package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// APIKey stores a hashed credential bound to one member of one organization.
type APIKey struct {
	ID               snowflake.ID                `gorm:"primaryKey;autoIncrement:false"`
	KeyID            string                      `gorm:"column:key_id;type:varchar(64);not null;uniqueIndex:ux_api_keys_key_id"`
	OrgID            string                      `gorm:"column:org_id;type:varchar(36);not null;index:ix_api_keys_org"`
	UserID           string                      `gorm:"column:user_id;type:varchar(64);not null"`
	Name             string                      `gorm:"type:varchar(120);not null"`
	Scopes           datatypes.JSONSlice[string] `gorm:"not null"`
	KeyHash          string                      `gorm:"column:key_hash;type:varchar(64);not null;uniqueIndex:ux_api_keys_hash"`
	IsActive         bool                        `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time                   `gorm:"not null"`
	UpdatedAt        time.Time                   `gorm:"not null"`
	LastUsedAt       *time.Time                  `gorm:"column:last_used_at"`
	ExpiresAt        *time.Time                  `gorm:"column:expires_at"`
	RotatedFromKeyID *string                     `gorm:"column:rotated_from_key_id;type:varchar(64)"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// Usable reports whether the key may authenticate at now.
func (k *APIKey) Usable(now time.Time) bool {
	if k == nil || !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}
