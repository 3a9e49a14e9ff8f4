package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quotagate/quotagate/internal/models"
)

type fakeOverrides struct {
	mu    sync.Mutex
	rows  map[string]*models.DynamicOverride
	finds int
}

func newFakeOverrides() *fakeOverrides {
	return &fakeOverrides{rows: make(map[string]*models.DynamicOverride)}
}

func (f *fakeOverrides) Find(ctx context.Context, tier, resource string) (*models.DynamicOverride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
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

func newTestResolver(t *testing.T) (*Resolver, *fakeOverrides, *fakeCache) {
	t.Helper()

	cat, err := New(testDefaults(), nil)
	if err != nil {
		t.Fatal(err)
	}

	overrides := newFakeOverrides()
	cache := newFakeCache()
	return NewResolver(cat, overrides, cache, 30*time.Second), overrides, cache
}

func TestResolveLimitUsesCatalogDefault(t *testing.T) {
	r, _, _ := newTestResolver(t)

	rl, err := r.ResolveLimit(context.Background(), models.TierVIP, "analysis")
	if err != nil {
		t.Fatal(err)
	}
	if rl.Limit != 300 {
		t.Fatalf("expected catalog default 300, got %d", rl.Limit)
	}
}

func TestOverridePrecedence(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	if err := r.SetOverride(ctx, "admin-1", models.TierVIP, "analysis", 5); err != nil {
		t.Fatal(err)
	}

	rl, err := r.ResolveLimit(ctx, models.TierVIP, "analysis")
	if err != nil {
		t.Fatal(err)
	}
	if rl.Limit != 5 {
		t.Fatalf("override should win over catalog default, got %d", rl.Limit)
	}

	// Window and burst still come from the catalog row
	if rl.Window != time.Hour || rl.BurstSize != 50 {
		t.Fatalf("override must only replace the limit: %+v", rl)
	}

	// Removing the override reverts to the default immediately here, since
	// the fake cache honors the invalidation synchronously
	removed, err := r.RemoveOverride(ctx, models.TierVIP, "analysis")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("override should have existed")
	}

	rl, _ = r.ResolveLimit(ctx, models.TierVIP, "analysis")
	if rl.Limit != 300 {
		t.Fatalf("catalog default should apply after removal, got %d", rl.Limit)
	}
}

func TestOverrideValidation(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	if err := r.SetOverride(ctx, "admin-1", models.TierVIP, "analysis", -1); !errors.Is(err, ErrValidation) {
		t.Fatalf("negative limit must be rejected, got %v", err)
	}
	if err := r.SetOverride(ctx, "admin-1", models.TierVIP, "", 10); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty resource must be rejected, got %v", err)
	}
	if err := r.SetOverride(ctx, "admin-1", models.Tier(99), "analysis", 10); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown tier must be rejected, got %v", err)
	}
}

func TestOverrideLookupsAreCached(t *testing.T) {
	r, overrides, _ := newTestResolver(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := r.ResolveLimit(ctx, models.TierVIP, "analysis"); err != nil {
			t.Fatal(err)
		}
	}

	// The first miss is cached as "no override"; the store is not hit again
	if overrides.finds != 1 {
		t.Fatalf("expected a single store lookup, got %d", overrides.finds)
	}
}

func TestUnlimitedSkipsOverrideLookup(t *testing.T) {
	r, overrides, _ := newTestResolver(t)

	rl, err := r.ResolveLimit(context.Background(), models.TierAdmin, "analysis")
	if err != nil {
		t.Fatal(err)
	}
	if !rl.Unlimited {
		t.Fatal("admin must resolve unlimited")
	}
	if overrides.finds != 0 {
		t.Fatal("unlimited tiers must not consult the override store")
	}
}

func TestRemoveMissingOverrideIsNotAnError(t *testing.T) {
	r, _, _ := newTestResolver(t)

	removed, err := r.RemoveOverride(context.Background(), models.TierFree, "analysis")
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatal("nothing should have been removed")
	}
}
