package repository

import (
	"context"

	"github.com/quotagate/quotagate/internal/models"
	"github.com/quotagate/quotagate/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccessListRepository struct {
	db *storage.Postgres
}

func NewAccessListRepository(db *storage.Postgres) *AccessListRepository {
	return &AccessListRepository{db: db}
}

// Retrieves a user's entry on the given list, nil when absent
func (r *AccessListRepository) Find(ctx context.Context, userID, list string) (*models.AccessListEntry, error) {
	var entry models.AccessListEntry
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND list = ?", userID, list).
		First(&entry).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &entry, err
}

// Inserts or refreshes a list entry; re-adding an existing user is idempotent
func (r *AccessListRepository) Upsert(ctx context.Context, entry *models.AccessListEntry) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "list"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason", "added_by", "added_at"}),
		}).
		Create(entry).Error
}

// Deletes a list entry; reports whether a row existed
func (r *AccessListRepository) Delete(ctx context.Context, userID, list string) (bool, error) {
	result := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND list = ?", userID, list).
		Delete(&models.AccessListEntry{})

	return result.RowsAffected > 0, result.Error
}

// Retrieves all entries on the given list
func (r *AccessListRepository) List(ctx context.Context, list string) ([]models.AccessListEntry, error) {
	var entries []models.AccessListEntry
	err := r.db.DB.WithContext(ctx).
		Where("list = ?", list).
		Order("added_at DESC").
		Find(&entries).Error

	return entries, err
}
