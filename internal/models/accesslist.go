package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Access list kinds
const (
	ListWhitelist = "whitelist"
	ListBlacklist = "blacklist"
)

// AccessListEntry puts a user on the whitelist (bypass all limiting) or the
// blacklist (deny everything). A user should not be on both; blacklist wins
// if state ever conflicts.
type AccessListEntry struct {
	ID      uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	UserID  string    `gorm:"uniqueIndex:idx_access_user_list;not null" json:"user_id"`
	List    string    `gorm:"uniqueIndex:idx_access_user_list;not null" json:"list"`
	Reason  string    `json:"reason"`
	AddedBy string    `gorm:"not null" json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

func (e *AccessListEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now().UTC()
	}
	return nil
}

func (AccessListEntry) TableName() string {
	return "access_list_entries"
}
