package service

import (
	"context"
	"sync"
	"time"

	"github.com/quotagate/quotagate/internal/models"
)

type fakeAccessRepo struct {
	mu    sync.Mutex
	rows  map[string]*models.AccessListEntry
	finds int
}

func newFakeAccessRepo() *fakeAccessRepo {
	return &fakeAccessRepo{rows: make(map[string]*models.AccessListEntry)}
}

func (f *fakeAccessRepo) Find(ctx context.Context, userID, list string) (*models.AccessListEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	return f.rows[userID+"/"+list], nil
}

func (f *fakeAccessRepo) Upsert(ctx context.Context, entry *models.AccessListEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[entry.UserID+"/"+entry.List] = entry
	return nil
}

func (f *fakeAccessRepo) Delete(ctx context.Context, userID, list string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID + "/" + list
	_, ok := f.rows[key]
	delete(f.rows, key)
	return ok, nil
}

func (f *fakeAccessRepo) List(ctx context.Context, list string) ([]models.AccessListEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AccessListEntry
	for _, entry := range f.rows {
		if entry.List == list {
			out = append(out, *entry)
		}
	}
	return out, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (f *fakeAudit) Record(ctx context.Context, entry *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, entry := range f.entries {
		out[i] = entry.Action
	}
	return out
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string)}
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key], nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	return nil
}

func (f *fakeCache) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

type fakeOverrides struct {
	mu   sync.Mutex
	rows map[string]*models.DynamicOverride
}

func newFakeOverrides() *fakeOverrides {
	return &fakeOverrides{rows: make(map[string]*models.DynamicOverride)}
}

func (f *fakeOverrides) Find(ctx context.Context, tier, resource string) (*models.DynamicOverride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[tier+"/"+resource], nil
}

func (f *fakeOverrides) Upsert(ctx context.Context, o *models.DynamicOverride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[o.Tier+"/"+o.Resource] = o
	return nil
}

func (f *fakeOverrides) Delete(ctx context.Context, tier, resource string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := tier + "/" + resource
	_, ok := f.rows[key]
	delete(f.rows, key)
	return ok, nil
}

func (f *fakeOverrides) List(ctx context.Context) ([]models.DynamicOverride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DynamicOverride
	for _, o := range f.rows {
		out = append(out, *o)
	}
	return out, nil
}

type fakeUsageStore struct {
	mu      sync.Mutex
	batches [][]models.UsageSample
}

func (f *fakeUsageStore) CreateBatch(ctx context.Context, samples []models.UsageSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, samples)
	return nil
}

func (f *fakeUsageStore) TierCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int64)
	seen := make(map[string]map[string]bool)
	for _, batch := range f.batches {
		for _, s := range batch {
			if seen[s.Tier] == nil {
				seen[s.Tier] = make(map[string]bool)
			}
			if !seen[s.Tier][s.UserID] {
				seen[s.Tier][s.UserID] = true
				counts[s.Tier]++
			}
		}
	}
	return counts, nil
}

func (f *fakeUsageStore) ResourceTotals(ctx context.Context, since time.Time) ([]models.ResourceUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	totals := make(map[string]*models.ResourceUsage)
	for _, batch := range f.batches {
		for _, s := range batch {
			u := totals[s.Resource]
			if u == nil {
				u = &models.ResourceUsage{Resource: s.Resource}
				totals[s.Resource] = u
			}
			u.Allowed += s.Allowed
			u.Denied += s.Denied
			u.CostUsed += s.CostUsed
		}
	}
	var out []models.ResourceUsage
	for _, u := range totals {
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeUsageStore) MostDenied(ctx context.Context, since time.Time, n int) ([]models.LimitedUser, error) {
	return nil, nil
}

func (f *fakeUsageStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
