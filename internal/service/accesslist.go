package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quotagate/quotagate/internal/catalog"
	"github.com/quotagate/quotagate/internal/models"
)

// AccessListStore is the persisted whitelist/blacklist storage.
type AccessListStore interface {
	Find(ctx context.Context, userID, list string) (*models.AccessListEntry, error)
	Upsert(ctx context.Context, entry *models.AccessListEntry) error
	Delete(ctx context.Context, userID, list string) (bool, error)
	List(ctx context.Context, list string) ([]models.AccessListEntry, error)
}

// AuditSink receives every administrative mutation.
type AuditSink interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// Cache is a short-TTL key-value cache. An empty value or an error both
// count as a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// AccessListService answers isWhitelisted/isBlacklisted in O(1) via a cached
// lookup and owns the audited admin mutations. Membership changes become
// visible to all processes within one cache TTL.
type AccessListService struct {
	repo     AccessListStore
	cache    Cache
	audit    AuditSink
	cacheTTL time.Duration
}

func NewAccessListService(repo AccessListStore, cache Cache, audit AuditSink, cacheTTL time.Duration) *AccessListService {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &AccessListService{
		repo:     repo,
		cache:    cache,
		audit:    audit,
		cacheTTL: cacheTTL,
	}
}

func accessCacheKey(userID, list string) string {
	return fmt.Sprintf("quota:acl:%s:%s", list, userID)
}

func (s *AccessListService) IsWhitelisted(ctx context.Context, userID string) (bool, error) {
	return s.isListed(ctx, userID, models.ListWhitelist)
}

func (s *AccessListService) IsBlacklisted(ctx context.Context, userID string) (bool, error) {
	return s.isListed(ctx, userID, models.ListBlacklist)
}

func (s *AccessListService) isListed(ctx context.Context, userID, list string) (bool, error) {
	cacheKey := accessCacheKey(userID, list)

	// Check cache first
	cached, err := s.cache.Get(ctx, cacheKey)
	if err == nil && cached != "" {
		return cached == "1", nil
	}

	// Cache miss - query storage
	entry, err := s.repo.Find(ctx, userID, list)
	if err != nil {
		return false, fmt.Errorf("failed to look up %s entry: %w", list, err)
	}

	val := "0"
	if entry != nil {
		val = "1"
	}
	if err := s.cache.Set(ctx, cacheKey, val, s.cacheTTL); err != nil {
		log.Printf("Warning: failed to cache %s entry for %s: %v", list, userID, err)
	}

	return entry != nil, nil
}

// Add puts a user on the given list. Re-adding is idempotent. If the user
// already sits on the opposite list the write still wins, but the conflict
// is surfaced as a warning; the admission path lets blacklist win either way.
func (s *AccessListService) Add(ctx context.Context, actorID, userID, list, reason string) error {
	if userID == "" {
		return fmt.Errorf("%w: userId is required", catalog.ErrValidation)
	}
	if list != models.ListWhitelist && list != models.ListBlacklist {
		return fmt.Errorf("%w: unknown list %q", catalog.ErrValidation, list)
	}

	other := models.ListWhitelist
	if list == models.ListWhitelist {
		other = models.ListBlacklist
	}
	if existing, err := s.repo.Find(ctx, userID, other); err == nil && existing != nil {
		log.Printf("Warning: user %s is on both access lists after %s add; blacklist takes precedence", userID, list)
	}

	entry := &models.AccessListEntry{
		UserID:  userID,
		List:    list,
		Reason:  reason,
		AddedBy: actorID,
		AddedAt: time.Now().UTC(),
	}

	if err := s.repo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("failed to add %s entry: %w", list, err)
	}

	s.invalidate(ctx, userID, list)

	return s.audit.Record(ctx, &models.AuditLog{
		ActorID: actorID,
		Action:  list + "_add",
		Target:  userID,
		Detail:  reason,
	})
}

// Remove takes a user off the given list. Removing a missing entry is not
// an error.
func (s *AccessListService) Remove(ctx context.Context, actorID, userID, list string) error {
	if userID == "" {
		return fmt.Errorf("%w: userId is required", catalog.ErrValidation)
	}
	if list != models.ListWhitelist && list != models.ListBlacklist {
		return fmt.Errorf("%w: unknown list %q", catalog.ErrValidation, list)
	}

	removed, err := s.repo.Delete(ctx, userID, list)
	if err != nil {
		return fmt.Errorf("failed to remove %s entry: %w", list, err)
	}

	s.invalidate(ctx, userID, list)

	if !removed {
		return nil
	}

	return s.audit.Record(ctx, &models.AuditLog{
		ActorID: actorID,
		Action:  list + "_remove",
		Target:  userID,
	})
}

// Entries lists the members of one list.
func (s *AccessListService) Entries(ctx context.Context, list string) ([]models.AccessListEntry, error) {
	if list != models.ListWhitelist && list != models.ListBlacklist {
		return nil, fmt.Errorf("%w: unknown list %q", catalog.ErrValidation, list)
	}
	return s.repo.List(ctx, list)
}

func (s *AccessListService) invalidate(ctx context.Context, userID, list string) {
	if err := s.cache.Del(ctx, accessCacheKey(userID, list)); err != nil {
		log.Printf("Warning: failed to invalidate %s cache for %s: %v", list, userID, err)
	}
}
