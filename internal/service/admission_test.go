package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quotagate/quotagate/internal/catalog"
	"github.com/quotagate/quotagate/internal/models"
	"github.com/quotagate/quotagate/internal/ratelimit"
)

type testEnv struct {
	admission *AdmissionService
	store     *ratelimit.MemoryStore
	access    *AccessListService
	audit     *fakeAudit
	overrides *fakeOverrides
	tiers     map[string]models.Tier
}

func testCatalogDefaults() map[models.Tier]map[string]models.ResourceLimit {
	return map[models.Tier]map[string]models.ResourceLimit{
		models.TierFree: {
			"api":    {Limit: 10, Window: time.Minute},
			"bursty": {Limit: 10, Window: time.Minute, BurstSize: 3},
		},
		models.TierVIP: {
			"api":    {Limit: 50, Window: time.Minute},
			"bursty": {Limit: 50, Window: time.Minute, BurstSize: 10},
		},
		models.TierAdmin: {
			catalog.DefaultResource: {Unlimited: true},
		},
	}
}

func newTestEnv(t *testing.T, failOpen bool) *testEnv {
	t.Helper()

	cat, err := catalog.New(testCatalogDefaults(), map[string]int64{"costly": 5})
	if err != nil {
		t.Fatal(err)
	}

	store := ratelimit.NewMemoryStore()
	audit := &fakeAudit{}
	overrides := newFakeOverrides()
	resolver := catalog.NewResolver(cat, overrides, newFakeCache(), time.Second)
	access := NewAccessListService(newFakeAccessRepo(), newFakeCache(), audit, time.Second)

	env := &testEnv{
		store:     store,
		access:    access,
		audit:     audit,
		overrides: overrides,
		tiers:     make(map[string]models.Tier),
	}

	env.admission = NewAdmissionService(AdmissionConfig{
		Store:    store,
		Resolver: resolver,
		Access:   access,
		TierSource: func(ctx context.Context, userID string) (models.Tier, error) {
			if tier, ok := env.tiers[userID]; ok {
				return tier, nil
			}
			return models.TierFree, nil
		},
		Audit:    audit,
		FailOpen: failOpen,
	})

	return env
}

func TestConsumeWithinQuota(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := env.admission.Consume(ctx, "user-1", "api", 1)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
		if d.Remaining != int64(10-i-1) {
			t.Fatalf("call %d: remaining = %d, want %d", i+1, d.Remaining, 10-i-1)
		}
	}

	d, err := env.admission.Consume(ctx, "user-1", "api", 1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("11th call should be denied")
	}
	if d.Reason != models.ReasonQuotaExceeded {
		t.Fatalf("reason = %q, want quota_exceeded", d.Reason)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 60 {
		t.Fatalf("retryAfter = %d, want within the window", d.RetryAfter)
	}
}

func TestConsumeNoOvershootUnderConcurrency(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	const workers = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := env.admission.Consume(ctx, "user-1", "api", 1)
			if err != nil {
				t.Error(err)
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Fatalf("exactly 10 of %d concurrent calls should be admitted, got %d", workers, allowed)
	}
}

func TestBlacklistWinsOverWhitelist(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	if err := env.access.Add(ctx, "admin-1", "user-1", models.ListWhitelist, "trusted"); err != nil {
		t.Fatal(err)
	}
	if err := env.access.Add(ctx, "admin-1", "user-1", models.ListBlacklist, "abuse"); err != nil {
		t.Fatal(err)
	}

	d, err := env.admission.Consume(ctx, "user-1", "api", 1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("conflicting state must deny: blacklist always wins")
	}
	if d.Reason != models.ReasonBlacklisted {
		t.Fatalf("reason = %q, want blacklisted", d.Reason)
	}
}

func TestWhitelistBypassesAllLimiting(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	if err := env.access.Add(ctx, "admin-1", "user-1", models.ListWhitelist, "internal"); err != nil {
		t.Fatal(err)
	}

	// Far past any quota
	for i := 0; i < 100; i++ {
		d, err := env.admission.Consume(ctx, "user-1", "api", 100)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("whitelisted call %d should be allowed", i+1)
		}
		if d.Reason != models.ReasonWhitelisted {
			t.Fatalf("reason = %q, want whitelisted", d.Reason)
		}
	}
}

func TestListedDecisionsCarryRealTier(t *testing.T) {
	env := newTestEnv(t, true)
	env.tiers["vip-1"] = models.TierVIP
	env.tiers["vip-2"] = models.TierVIP
	ctx := context.Background()

	if err := env.access.Add(ctx, "admin-1", "vip-1", models.ListBlacklist, "abuse"); err != nil {
		t.Fatal(err)
	}
	if err := env.access.Add(ctx, "admin-1", "vip-2", models.ListWhitelist, "partner"); err != nil {
		t.Fatal(err)
	}

	d, err := env.admission.Consume(ctx, "vip-1", "api", 1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Tier != models.TierVIP {
		t.Fatalf("blacklisted decision tier = %v, want vip", d.Tier)
	}

	d, err = env.admission.Consume(ctx, "vip-2", "api", 1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Tier != models.TierVIP {
		t.Fatalf("whitelisted decision tier = %v, want vip", d.Tier)
	}
}

func TestAdminTierNeverDenied(t *testing.T) {
	env := newTestEnv(t, true)
	env.tiers["boss"] = models.TierAdmin
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		d, err := env.admission.Consume(ctx, "boss", "api", 1000)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("admin call %d must never be denied", i+1)
		}
	}
}

func TestBurstDrawsBeforeWindow(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	// Freeze the clock so the burst bucket cannot refill mid-test
	now := time.Now()
	env.store.NowFunc = func() time.Time { return now }

	// Three burst tokens absorb the first three calls without touching the
	// window budget
	for i := 0; i < 3; i++ {
		d, err := env.admission.Consume(ctx, "user-1", "bursty", 1)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("burst call %d should be allowed", i+1)
		}
		if d.Remaining != 10 {
			t.Fatalf("burst call %d consumed the window: remaining = %d, want 10", i+1, d.Remaining)
		}
	}

	// With burst exhausted the window takes over
	d, err := env.admission.Consume(ctx, "user-1", "bursty", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("window should admit once burst is empty")
	}
	if d.Remaining != 9 {
		t.Fatalf("remaining = %d after the first window draw, want 9", d.Remaining)
	}
}

func TestCostDefaultsToCostModel(t *testing.T) {
	env := newTestEnv(t, true)

	d, err := env.admission.Consume(context.Background(), "user-1", "costly", 0)
	if err != nil {
		t.Fatal(err)
	}
	if d.Cost != 5 {
		t.Fatalf("cost = %d, want 5 from the cost model", d.Cost)
	}
}

func TestCostAboveLimitAlwaysDenied(t *testing.T) {
	env := newTestEnv(t, true)

	d, err := env.admission.Consume(context.Background(), "user-1", "api", 11)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("cost above the whole limit must be denied")
	}
	if d.Reason != models.ReasonQuotaExceeded {
		t.Fatalf("reason = %q, want quota_exceeded", d.Reason)
	}
}

func TestSoftLimitWarning(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	// 8 of 10 = 80%: warning attached even though allowed
	var d models.AdmissionDecision
	var err error
	for i := 0; i < 8; i++ {
		d, err = env.admission.Consume(ctx, "user-1", "api", 1)
		if err != nil {
			t.Fatal(err)
		}
	}

	if !d.Allowed {
		t.Fatal("call at 80% should still be allowed")
	}
	if !d.SoftLimitWarning {
		t.Fatalf("soft limit warning should fire at %.0f%%", d.PercentUsed)
	}

	// Below the threshold there is no warning
	env2 := newTestEnv(t, true)
	d, _ = env2.admission.Consume(ctx, "user-1", "api", 1)
	if d.SoftLimitWarning {
		t.Fatal("warning must not fire at 10%")
	}
}

func TestStoreFailureFailOpen(t *testing.T) {
	env := newTestEnv(t, true)
	env.store.FailWith = errors.New("connection refused")

	d, err := env.admission.Consume(context.Background(), "user-1", "api", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("fail-open must allow while the store is down")
	}
	if d.Reason != models.ReasonStoreUnavailable {
		t.Fatalf("reason = %q, want store_unavailable", d.Reason)
	}
}

func TestStoreFailureFailClosed(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.FailWith = errors.New("connection refused")

	d, err := env.admission.Consume(context.Background(), "user-1", "api", 1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("fail-closed must deny while the store is down")
	}
	if d.Reason != models.ReasonStoreUnavailable {
		t.Fatalf("reason = %q, want store_unavailable", d.Reason)
	}
}

func TestCheckDoesNotConsume(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		d, err := env.admission.Check(ctx, "user-1", "api", 1)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("check %d should report allowed", i+1)
		}
	}

	// The real budget is still intact
	d, err := env.admission.Consume(ctx, "user-1", "api", 1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Remaining != 9 {
		t.Fatalf("remaining = %d after 20 checks and 1 consume, want 9", d.Remaining)
	}
}

func TestValidationErrors(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	cases := []struct {
		name     string
		userID   string
		resource string
		cost     int64
	}{
		{"missing user", "", "api", 1},
		{"missing resource", "user-1", "", 1},
		{"negative cost", "user-1", "api", -1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.admission.Consume(ctx, tc.userID, tc.resource, tc.cost)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("want validation error, got %v", err)
			}
		})
	}
}

func TestDynamicLimitLifecycle(t *testing.T) {
	env := newTestEnv(t, true)
	env.tiers["vip-user"] = models.TierVIP
	ctx := context.Background()

	if err := env.admission.SetDynamicLimit(ctx, "admin-1", models.TierVIP, "api", 5); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		d, err := env.admission.Consume(ctx, "vip-user", "api", 1)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("call %d should fit the overridden limit", i+1)
		}
		if d.Limit != 5 {
			t.Fatalf("limit = %d, want override 5", d.Limit)
		}
	}

	d, _ := env.admission.Consume(ctx, "vip-user", "api", 1)
	if d.Allowed {
		t.Fatal("6th call should be denied under the override")
	}

	if err := env.admission.RemoveDynamicLimit(ctx, "admin-1", models.TierVIP, "api"); err != nil {
		t.Fatal(err)
	}

	// Back on the catalog default of 50 there is room again. The fake
	// cache invalidates synchronously; production accepts one TTL of lag.
	d, err := env.admission.Consume(ctx, "vip-user", "api", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed || d.Limit != 50 {
		t.Fatalf("default limit should be restored: allowed=%v limit=%d", d.Allowed, d.Limit)
	}

	actions := env.audit.actions()
	want := map[string]bool{"override_set": false, "override_remove": false}
	for _, action := range actions {
		if _, ok := want[action]; ok {
			want[action] = true
		}
	}
	for action, seen := range want {
		if !seen {
			t.Fatalf("audit log is missing %s (got %v)", action, actions)
		}
	}
}

func TestResetClearsCounters(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		env.admission.Consume(ctx, "user-1", "api", 1)
	}
	if d, _ := env.admission.Consume(ctx, "user-1", "api", 1); d.Allowed {
		t.Fatal("quota should be exhausted")
	}

	if err := env.admission.Reset(ctx, "admin-1", "user-1", "api"); err != nil {
		t.Fatal(err)
	}

	d, err := env.admission.Consume(ctx, "user-1", "api", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed || d.Remaining != 9 {
		t.Fatalf("reset should restore the quota: allowed=%v remaining=%d", d.Allowed, d.Remaining)
	}

	found := false
	for _, action := range env.audit.actions() {
		if action == "rate_limit_reset" {
			found = true
		}
	}
	if !found {
		t.Fatal("reset must be audit-logged")
	}
}

func TestStatusSnapshot(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		env.admission.Consume(ctx, "user-1", "api", 1)
	}

	status, err := env.admission.Status(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if status.Tier != models.TierFree {
		t.Fatalf("tier = %v, want free", status.Tier)
	}

	var apiRow *models.PerResourceStatus
	for i := range status.Resources {
		if status.Resources[i].Resource == "api" {
			apiRow = &status.Resources[i]
		}
	}
	if apiRow == nil {
		t.Fatal("status should cover the api resource")
	}
	if apiRow.Used != 4 || apiRow.Remaining != 6 {
		t.Fatalf("api row used=%d remaining=%d, want 4/6", apiRow.Used, apiRow.Remaining)
	}
	if apiRow.PercentUsed != 40 {
		t.Fatalf("percentUsed = %v, want 40", apiRow.PercentUsed)
	}
}
