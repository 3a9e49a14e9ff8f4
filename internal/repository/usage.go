package repository

import (
	"context"
	"time"

	"github.com/quotagate/quotagate/internal/models"
	"github.com/quotagate/quotagate/internal/storage"
)

type UsageRepository struct {
	db *storage.Postgres
}

func NewUsageRepository(db *storage.Postgres) *UsageRepository {
	return &UsageRepository{db: db}
}

// Inserts a batch of sampled usage aggregates
func (r *UsageRepository) CreateBatch(ctx context.Context, samples []models.UsageSample) error {
	if len(samples) == 0 {
		return nil
	}
	return r.db.DB.WithContext(ctx).Create(&samples).Error
}

// Counts active users per tier since the cutoff
func (r *UsageRepository) TierCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []struct {
		Tier  string
		Users int64
	}

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageSample{}).
		Select("tier, COUNT(DISTINCT user_id) AS users").
		Where("sampled_at >= ?", since).
		Group("tier").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Tier] = row.Users
	}
	return counts, nil
}

// Aggregates allowed/denied/cost per resource since the cutoff
func (r *UsageRepository) ResourceTotals(ctx context.Context, since time.Time) ([]models.ResourceUsage, error) {
	var rows []models.ResourceUsage

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageSample{}).
		Select("resource, SUM(allowed) AS allowed, SUM(denied) AS denied, SUM(cost_used) AS cost_used").
		Where("sampled_at >= ?", since).
		Group("resource").
		Order("resource").
		Scan(&rows).Error

	return rows, err
}

// Ranks users by denial count since the cutoff
func (r *UsageRepository) MostDenied(ctx context.Context, since time.Time, n int) ([]models.LimitedUser, error) {
	if n <= 0 {
		n = 10
	}

	var rows []models.LimitedUser
	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageSample{}).
		Select("user_id, tier, SUM(denied) AS denied, SUM(allowed) AS allowed").
		Where("sampled_at >= ?", since).
		Group("user_id, tier").
		Having("SUM(denied) > 0").
		Order("SUM(denied) DESC").
		Limit(n).
		Scan(&rows).Error

	return rows, err
}

// Deletes samples older than the cutoff
func (r *UsageRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("sampled_at < ?", cutoff).
		Delete(&models.UsageSample{})

	return result.RowsAffected, result.Error
}
