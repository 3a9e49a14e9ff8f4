package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quotagate/quotagate/internal/models"
)

// ErrValidation marks rejected catalog/override input. Handlers translate it
// to a 400; it is never clamped away silently.
var ErrValidation = errors.New("validation error")

// DefaultResource is the per-tier fallback row applied to resources the
// catalog does not list explicitly.
const DefaultResource = "default"

// Catalog holds the tier limit tables and the cost model. Loaded and
// validated at startup; both may be swapped at runtime by a config reload.
type Catalog struct {
	mu       sync.RWMutex
	defaults map[models.Tier]map[string]models.ResourceLimit
	costs    map[string]int64
}

func New(defaults map[models.Tier]map[string]models.ResourceLimit, costs map[string]int64) (*Catalog, error) {
	if err := validateDefaults(defaults); err != nil {
		return nil, err
	}

	c := &Catalog{
		defaults: defaults,
		costs:    make(map[string]int64),
	}

	if err := c.ReloadCosts(costs); err != nil {
		return nil, err
	}

	return c, nil
}

func validateDefaults(defaults map[models.Tier]map[string]models.ResourceLimit) error {
	for tier, table := range defaults {
		if !tier.Valid() {
			return fmt.Errorf("%w: unknown tier %d in catalog", ErrValidation, tier)
		}
		for resource, rl := range table {
			if rl.Limit < 0 {
				return fmt.Errorf("%w: negative limit for %s/%s", ErrValidation, tier, resource)
			}
			if !rl.Unlimited && rl.Window <= 0 {
				return fmt.Errorf("%w: non-positive window for %s/%s", ErrValidation, tier, resource)
			}
			if rl.BurstSize < 0 {
				return fmt.Errorf("%w: negative burst size for %s/%s", ErrValidation, tier, resource)
			}
		}
	}

	// Admin is unconditionally unlimited, whatever the config says.
	for resource, rl := range defaults[models.TierAdmin] {
		if !rl.Unlimited {
			return fmt.Errorf("%w: admin tier must be unlimited for %s", ErrValidation, resource)
		}
	}

	return nil
}

func validateCosts(costs map[string]int64) (map[string]int64, error) {
	next := make(map[string]int64, len(costs))
	for resource, cost := range costs {
		if cost < 1 {
			return nil, fmt.Errorf("%w: cost for %s must be >= 1", ErrValidation, resource)
		}
		next[resource] = cost
	}
	return next, nil
}

// Reload replaces the tier tables and cost model together, e.g. after the
// config file changed. Everything is validated up front; a rejected reload
// leaves the running catalog untouched.
func (c *Catalog) Reload(defaults map[models.Tier]map[string]models.ResourceLimit, costs map[string]int64) error {
	if err := validateDefaults(defaults); err != nil {
		return err
	}
	nextCosts, err := validateCosts(costs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.defaults = defaults
	c.costs = nextCosts
	c.mu.Unlock()
	return nil
}

// DefaultLimit returns the catalog row for tier+resource, falling back to
// the tier's default row. Admin is always unlimited.
func (c *Catalog) DefaultLimit(tier models.Tier, resource string) models.ResourceLimit {
	if tier == models.TierAdmin {
		return models.ResourceLimit{Unlimited: true}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	table := c.defaults[tier]
	if rl, ok := table[resource]; ok {
		return rl
	}
	if rl, ok := table[DefaultResource]; ok {
		return rl
	}

	// A tier with no catalog rows at all gets a conservative floor rather
	// than a failure; unknown resources must degrade, not error.
	return models.ResourceLimit{Limit: 10, Window: time.Minute, BurstSize: 0}
}

// CostOf returns the quota units one call to resource consumes. Unknown
// resources cost 1.
func (c *Catalog) CostOf(resource string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cost, ok := c.costs[resource]; ok {
		return cost
	}
	return 1
}

// ReloadCosts replaces the cost table alone, leaving tier tables in place.
func (c *Catalog) ReloadCosts(costs map[string]int64) error {
	next, err := validateCosts(costs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.costs = next
	c.mu.Unlock()
	return nil
}

// Resources returns the sorted set of resource names known to the catalog
// or the cost model, excluding the per-tier fallback row.
func (c *Catalog) Resources() []string {
	c.mu.RLock()
	seen := make(map[string]bool)
	for _, table := range c.defaults {
		for resource := range table {
			if resource != DefaultResource {
				seen[resource] = true
			}
		}
	}
	for resource := range c.costs {
		seen[resource] = true
	}
	c.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for resource := range seen {
		names = append(names, resource)
	}
	sort.Strings(names)
	return names
}
