package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsageSample is a periodically flushed aggregate of admission decisions,
// used by the stats read path so dashboards never touch the hot counters.
type UsageSample struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	UserID    string    `gorm:"index" json:"user_id"`
	Resource  string    `gorm:"index" json:"resource"`
	Tier      string    `gorm:"index" json:"tier"`
	Allowed   int64     `json:"allowed"`
	Denied    int64     `json:"denied"`
	CostUsed  int64     `json:"cost_used"`
	SampledAt time.Time `gorm:"index" json:"sampled_at"`
}

func (s *UsageSample) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (UsageSample) TableName() string {
	return "usage_samples"
}
