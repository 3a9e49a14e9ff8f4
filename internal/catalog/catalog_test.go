package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/quotagate/quotagate/internal/models"
)

func testDefaults() map[models.Tier]map[string]models.ResourceLimit {
	return map[models.Tier]map[string]models.ResourceLimit{
		models.TierFree: {
			"analysis":      {Limit: 10, Window: time.Hour, BurstSize: 2},
			DefaultResource: {Limit: 30, Window: time.Minute, BurstSize: 5},
		},
		models.TierVIP: {
			"analysis": {Limit: 300, Window: time.Hour, BurstSize: 50},
		},
		models.TierAdmin: {
			DefaultResource: {Unlimited: true},
		},
	}
}

func TestNewRejectsBadCatalog(t *testing.T) {
	cases := []struct {
		name     string
		defaults map[models.Tier]map[string]models.ResourceLimit
		costs    map[string]int64
	}{
		{
			name: "negative limit",
			defaults: map[models.Tier]map[string]models.ResourceLimit{
				models.TierFree: {"api": {Limit: -1, Window: time.Minute}},
			},
		},
		{
			name: "zero window",
			defaults: map[models.Tier]map[string]models.ResourceLimit{
				models.TierFree: {"api": {Limit: 10}},
			},
		},
		{
			name: "limited admin",
			defaults: map[models.Tier]map[string]models.ResourceLimit{
				models.TierAdmin: {"api": {Limit: 10, Window: time.Minute}},
			},
		},
		{
			name:     "cost below one",
			defaults: testDefaults(),
			costs:    map[string]int64{"analysis": 0},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.defaults, tc.costs)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("want validation error, got %v", err)
			}
		})
	}
}

func TestCostOfDefaultsToOne(t *testing.T) {
	c, err := New(testDefaults(), map[string]int64{"analysis": 5})
	if err != nil {
		t.Fatal(err)
	}

	if got := c.CostOf("analysis"); got != 5 {
		t.Fatalf("CostOf(analysis) = %d, want 5", got)
	}
	if got := c.CostOf("neverHeardOfIt"); got != 1 {
		t.Fatalf("unknown resources must cost 1, got %d", got)
	}
}

func TestReloadCosts(t *testing.T) {
	c, err := New(testDefaults(), map[string]int64{"analysis": 5})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.ReloadCosts(map[string]int64{"analysis": 7}); err != nil {
		t.Fatal(err)
	}
	if got := c.CostOf("analysis"); got != 7 {
		t.Fatalf("CostOf after reload = %d, want 7", got)
	}

	if err := c.ReloadCosts(map[string]int64{"analysis": 0}); !errors.Is(err, ErrValidation) {
		t.Fatalf("want validation error for cost 0, got %v", err)
	}
}

func TestReloadSwapsTablesAndCosts(t *testing.T) {
	c, err := New(testDefaults(), map[string]int64{"analysis": 5})
	if err != nil {
		t.Fatal(err)
	}

	next := map[models.Tier]map[string]models.ResourceLimit{
		models.TierFree: {
			"analysis": {Limit: 20, Window: time.Hour},
		},
		models.TierAdmin: {
			DefaultResource: {Unlimited: true},
		},
	}

	if err := c.Reload(next, map[string]int64{"analysis": 8}); err != nil {
		t.Fatal(err)
	}

	if rl := c.DefaultLimit(models.TierFree, "analysis"); rl.Limit != 20 {
		t.Fatalf("limit after reload = %d, want 20", rl.Limit)
	}
	if got := c.CostOf("analysis"); got != 8 {
		t.Fatalf("cost after reload = %d, want 8", got)
	}
}

func TestReloadRejectionLeavesCatalogIntact(t *testing.T) {
	c, err := New(testDefaults(), map[string]int64{"analysis": 5})
	if err != nil {
		t.Fatal(err)
	}

	// Valid tables paired with a bad cost: neither half may apply
	err = c.Reload(map[models.Tier]map[string]models.ResourceLimit{
		models.TierFree: {"analysis": {Limit: 99, Window: time.Hour}},
	}, map[string]int64{"analysis": 0})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}

	if rl := c.DefaultLimit(models.TierFree, "analysis"); rl.Limit != 10 {
		t.Fatalf("limit after rejected reload = %d, want the original 10", rl.Limit)
	}
	if got := c.CostOf("analysis"); got != 5 {
		t.Fatalf("cost after rejected reload = %d, want the original 5", got)
	}

	// Bad tables are rejected the same way
	err = c.Reload(map[models.Tier]map[string]models.ResourceLimit{
		models.TierAdmin: {"api": {Limit: 10, Window: time.Minute}},
	}, nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want validation error for limited admin, got %v", err)
	}
}

func TestDefaultLimitFallbacks(t *testing.T) {
	c, err := New(testDefaults(), nil)
	if err != nil {
		t.Fatal(err)
	}

	// Explicit row
	rl := c.DefaultLimit(models.TierFree, "analysis")
	if rl.Limit != 10 || rl.Window != time.Hour {
		t.Fatalf("explicit row not used: %+v", rl)
	}

	// Unknown resource falls back to the tier's default row
	rl = c.DefaultLimit(models.TierFree, "somethingNew")
	if rl.Limit != 30 || rl.Window != time.Minute {
		t.Fatalf("default row not used: %+v", rl)
	}

	// Tier without a default row degrades to the built-in floor
	rl = c.DefaultLimit(models.TierVIP, "somethingNew")
	if rl.Limit <= 0 || rl.Window <= 0 {
		t.Fatalf("built-in floor should apply: %+v", rl)
	}
}

func TestAdminAlwaysUnlimited(t *testing.T) {
	c, err := New(testDefaults(), nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, resource := range []string{"analysis", "anythingAtAll"} {
		if rl := c.DefaultLimit(models.TierAdmin, resource); !rl.Unlimited {
			t.Fatalf("admin must be unlimited for %s", resource)
		}
	}
}

func TestResourcesUnion(t *testing.T) {
	c, err := New(testDefaults(), map[string]int64{"ai": 10})
	if err != nil {
		t.Fatal(err)
	}

	resources := c.Resources()
	want := []string{"ai", "analysis"}
	if len(resources) != len(want) {
		t.Fatalf("Resources() = %v, want %v", resources, want)
	}
	for i := range want {
		if resources[i] != want[i] {
			t.Fatalf("Resources() = %v, want %v", resources, want)
		}
	}
}
