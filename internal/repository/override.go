package repository

import (
	"context"

	"github.com/quotagate/quotagate/internal/models"
	"github.com/quotagate/quotagate/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OverrideRepository struct {
	db *storage.Postgres
}

func NewOverrideRepository(db *storage.Postgres) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// Retrieves the override for a tier+resource pair, nil when absent
func (r *OverrideRepository) Find(ctx context.Context, tier, resource string) (*models.DynamicOverride, error) {
	var override models.DynamicOverride
	err := r.db.DB.WithContext(ctx).
		Where("tier = ? AND resource = ?", tier, resource).
		First(&override).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &override, err
}

// Inserts or updates the override for its tier+resource pair
func (r *OverrideRepository) Upsert(ctx context.Context, override *models.DynamicOverride) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tier"}, {Name: "resource"}},
			DoUpdates: clause.AssignmentColumns([]string{"limit", "set_by", "set_at"}),
		}).
		Create(override).Error
}

// Deletes an override; reports whether a row existed
func (r *OverrideRepository) Delete(ctx context.Context, tier, resource string) (bool, error) {
	result := r.db.DB.WithContext(ctx).
		Where("tier = ? AND resource = ?", tier, resource).
		Delete(&models.DynamicOverride{})

	return result.RowsAffected > 0, result.Error
}

// Retrieves all overrides
func (r *OverrideRepository) List(ctx context.Context) ([]models.DynamicOverride, error) {
	var overrides []models.DynamicOverride
	err := r.db.DB.WithContext(ctx).
		Order("tier, resource").
		Find(&overrides).Error

	return overrides, err
}
