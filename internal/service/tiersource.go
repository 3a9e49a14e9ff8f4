package service

import (
	"context"
	"log"
	"time"

	"github.com/quotagate/quotagate/internal/models"
)

// UserTierStore is the repository-backed default tier source.
type UserTierStore interface {
	FindTier(ctx context.Context, userID string) (string, error)
}

// NewRepositoryTierSource derives a user's tier from the users table.
// Unknown users are treated as free tier.
func NewRepositoryTierSource(repo UserTierStore) TierSource {
	return func(ctx context.Context, userID string) (models.Tier, error) {
		name, err := repo.FindTier(ctx, userID)
		if err != nil {
			return models.TierFree, err
		}
		if name == "" {
			return models.TierFree, nil
		}
		return models.ParseTier(name)
	}
}

// NewCachedTierSource wraps a tier source with a short-TTL cache; tier
// changes propagate within one TTL, which is acceptable staleness for a
// subscription attribute.
func NewCachedTierSource(src TierSource, cache Cache, ttl time.Duration) TierSource {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	return func(ctx context.Context, userID string) (models.Tier, error) {
		cacheKey := "quota:tier:" + userID

		cached, err := cache.Get(ctx, cacheKey)
		if err == nil && cached != "" {
			if tier, err := models.ParseTier(cached); err == nil {
				return tier, nil
			}
		}

		tier, err := src(ctx, userID)
		if err != nil {
			return tier, err
		}

		if err := cache.Set(ctx, cacheKey, tier.String(), ttl); err != nil {
			log.Printf("Warning: failed to cache tier for %s: %v", userID, err)
		}
		return tier, nil
	}
}
