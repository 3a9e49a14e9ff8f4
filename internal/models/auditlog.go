package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog records every administrative mutation: overrides, access list
// changes, counter resets.
type AuditLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	ActorID   string    `gorm:"index;not null" json:"actor_id"`
	Action    string    `gorm:"not null" json:"action"`
	Target    string    `gorm:"index" json:"target"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	return nil
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
