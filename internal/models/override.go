package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DynamicOverride supersedes the catalog default limit for a tier+resource
// pair until removed.
type DynamicOverride struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Tier     string    `gorm:"uniqueIndex:idx_override_tier_resource;not null" json:"tier"`
	Resource string    `gorm:"uniqueIndex:idx_override_tier_resource;not null" json:"resource"`
	Limit    int64     `gorm:"not null" json:"limit"`
	SetBy    string    `gorm:"not null" json:"set_by"`
	SetAt    time.Time `json:"set_at"`
}

func (o *DynamicOverride) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.SetAt.IsZero() {
		o.SetAt = time.Now().UTC()
	}
	return nil
}

func (DynamicOverride) TableName() string {
	return "dynamic_overrides"
}
