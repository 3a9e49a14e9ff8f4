package catalog

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/quotagate/quotagate/internal/models"
)

// OverrideSource is the persisted store of dynamic overrides.
type OverrideSource interface {
	Find(ctx context.Context, tier, resource string) (*models.DynamicOverride, error)
	Upsert(ctx context.Context, override *models.DynamicOverride) error
	Delete(ctx context.Context, tier, resource string) (bool, error)
	List(ctx context.Context) ([]models.DynamicOverride, error)
}

// Cache is the short-TTL read-through cache in front of OverrideSource.
// An empty value or an error both count as a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Cached value for "no override exists", so repeated misses skip the database.
const noOverride = "none"

// Resolver answers resolveLimit(tier, resource): dynamic override first,
// catalog default otherwise. Overrides are cached with a short TTL and
// invalidated explicitly on write, so an admin change is visible to every
// process within one TTL rather than instantly.
type Resolver struct {
	catalog   *Catalog
	overrides OverrideSource
	cache     Cache
	cacheTTL  time.Duration
}

func NewResolver(catalog *Catalog, overrides OverrideSource, cache Cache, cacheTTL time.Duration) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Resolver{
		catalog:   catalog,
		overrides: overrides,
		cache:     cache,
		cacheTTL:  cacheTTL,
	}
}

func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

func overrideCacheKey(tier models.Tier, resource string) string {
	return fmt.Sprintf("quota:override:%s:%s", tier, resource)
}

// ResolveLimit returns the effective limit for tier+resource. Unlimited
// tiers short-circuit before any override lookup.
func (r *Resolver) ResolveLimit(ctx context.Context, tier models.Tier, resource string) (models.ResourceLimit, error) {
	def := r.catalog.DefaultLimit(tier, resource)
	if def.Unlimited {
		return def, nil
	}

	limit, found, err := r.overrideLimit(ctx, tier, resource)
	if err != nil {
		return models.ResourceLimit{}, err
	}
	if found {
		def.Limit = limit
	}
	return def, nil
}

func (r *Resolver) overrideLimit(ctx context.Context, tier models.Tier, resource string) (int64, bool, error) {
	cacheKey := overrideCacheKey(tier, resource)

	// Check cache first
	cached, err := r.cache.Get(ctx, cacheKey)
	if err == nil && cached != "" {
		if cached == noOverride {
			return 0, false, nil
		}
		if limit, err := strconv.ParseInt(cached, 10, 64); err == nil {
			return limit, true, nil
		}
	}

	// Cache miss - query the override store
	override, err := r.overrides.Find(ctx, tier.String(), resource)
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up override: %w", err)
	}

	if override == nil {
		if err := r.cache.Set(ctx, cacheKey, noOverride, r.cacheTTL); err != nil {
			log.Printf("Warning: failed to cache override miss for %s/%s: %v", tier, resource, err)
		}
		return 0, false, nil
	}

	if err := r.cache.Set(ctx, cacheKey, strconv.FormatInt(override.Limit, 10), r.cacheTTL); err != nil {
		log.Printf("Warning: failed to cache override for %s/%s: %v", tier, resource, err)
	}
	return override.Limit, true, nil
}

// SetOverride validates and persists an override, then invalidates its cache
// entry. Invalid limits are rejected, not clamped.
func (r *Resolver) SetOverride(ctx context.Context, actorID string, tier models.Tier, resource string, limit int64) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: unknown tier", ErrValidation)
	}
	if resource == "" {
		return fmt.Errorf("%w: resource is required", ErrValidation)
	}
	if limit < 0 {
		return fmt.Errorf("%w: limit must be >= 0", ErrValidation)
	}

	override := &models.DynamicOverride{
		Tier:     tier.String(),
		Resource: resource,
		Limit:    limit,
		SetBy:    actorID,
		SetAt:    time.Now().UTC(),
	}

	if err := r.overrides.Upsert(ctx, override); err != nil {
		return fmt.Errorf("failed to save override: %w", err)
	}

	return r.invalidate(ctx, tier, resource)
}

// RemoveOverride deletes an override and invalidates its cache entry.
// Removing a non-existent override is not an error.
func (r *Resolver) RemoveOverride(ctx context.Context, tier models.Tier, resource string) (bool, error) {
	if !tier.Valid() {
		return false, fmt.Errorf("%w: unknown tier", ErrValidation)
	}

	removed, err := r.overrides.Delete(ctx, tier.String(), resource)
	if err != nil {
		return false, fmt.Errorf("failed to remove override: %w", err)
	}

	return removed, r.invalidate(ctx, tier, resource)
}

func (r *Resolver) ListOverrides(ctx context.Context) ([]models.DynamicOverride, error) {
	return r.overrides.List(ctx)
}

func (r *Resolver) invalidate(ctx context.Context, tier models.Tier, resource string) error {
	if err := r.cache.Del(ctx, overrideCacheKey(tier, resource)); err != nil {
		// The stale entry ages out within one TTL; surface but don't fail.
		log.Printf("Warning: failed to invalidate override cache for %s/%s: %v", tier, resource, err)
	}
	return nil
}
