package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quotagate/quotagate/internal/catalog"
	"github.com/quotagate/quotagate/internal/circuitbreaker"
	"github.com/quotagate/quotagate/internal/models"
	"github.com/quotagate/quotagate/internal/ratelimit"
)

// ErrValidation marks rejected admission/admin input; handlers map it to 400.
var ErrValidation = catalog.ErrValidation

// TierSource resolves a user's subscription tier. Tier derivation itself is
// external; the admission controller only consumes the lookup.
type TierSource func(ctx context.Context, userID string) (models.Tier, error)

// DecisionRecorder receives decisions for background sampling. Must not block.
type DecisionRecorder interface {
	Record(userID string, decision models.AdmissionDecision)
}

// AdmissionConfig wires the controller's collaborators. Everything is
// injected; there is no ambient store state.
type AdmissionConfig struct {
	Store        ratelimit.CounterStore
	Resolver     *catalog.Resolver
	Access       *AccessListService
	TierSource   TierSource
	Audit        AuditSink
	Stats        DecisionRecorder // optional
	Breaker      *circuitbreaker.CircuitBreaker
	FailOpen     bool          // store unreachable: allow (true) or deny (false)
	StoreTimeout time.Duration // per round trip; default 500ms
	SoftLimitPct float64       // default 80
}

// AdmissionService decides whether a user may consume a resource right now.
// Evaluation order: blacklist, whitelist, tier resolution (unlimited
// short-circuit), cost lookup, burst bucket, window counter. Consumption is
// a single atomic store round trip; concurrent calls never overshoot the
// quota. When the counter store is unreachable the configured
// fail-open/fail-closed policy applies and the decision carries
// reason=store_unavailable.
type AdmissionService struct {
	store        ratelimit.CounterStore
	window       *ratelimit.WindowLimiter
	burst        *ratelimit.BurstBucket
	resolver     *catalog.Resolver
	access       *AccessListService
	tierOf       TierSource
	audit        AuditSink
	stats        DecisionRecorder
	breaker      *circuitbreaker.CircuitBreaker
	failOpen     bool
	storeTimeout time.Duration
	softLimitPct float64
}

func NewAdmissionService(cfg AdmissionConfig) *AdmissionService {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 500 * time.Millisecond
	}
	if cfg.SoftLimitPct <= 0 {
		cfg.SoftLimitPct = 80
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.New(circuitbreaker.Config{})
	}

	return &AdmissionService{
		store:        cfg.Store,
		window:       ratelimit.NewWindowLimiter(cfg.Store),
		burst:        ratelimit.NewBurstBucket(cfg.Store),
		resolver:     cfg.Resolver,
		access:       cfg.Access,
		tierOf:       cfg.TierSource,
		audit:        cfg.Audit,
		stats:        cfg.Stats,
		breaker:      cfg.Breaker,
		failOpen:     cfg.FailOpen,
		storeTimeout: cfg.StoreTimeout,
		softLimitPct: cfg.SoftLimitPct,
	}
}

// Consume atomically evaluates and, if allowed, consumes cost units. Pass
// cost 0 to use the resource's cost model value. A denial is a normal
// decision, not an error.
func (s *AdmissionService) Consume(ctx context.Context, userID, resource string, cost int64) (models.AdmissionDecision, error) {
	return s.evaluate(ctx, userID, resource, cost, true)
}

// Check evaluates without consuming.
func (s *AdmissionService) Check(ctx context.Context, userID, resource string, cost int64) (models.AdmissionDecision, error) {
	return s.evaluate(ctx, userID, resource, cost, false)
}

func (s *AdmissionService) evaluate(ctx context.Context, userID, resource string, cost int64, consume bool) (models.AdmissionDecision, error) {
	if userID == "" {
		return models.AdmissionDecision{}, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if resource == "" {
		return models.AdmissionDecision{}, fmt.Errorf("%w: resource is required", ErrValidation)
	}
	if cost < 0 {
		return models.AdmissionDecision{}, fmt.Errorf("%w: cost must be >= 0", ErrValidation)
	}
	if cost == 0 {
		cost = s.resolver.Catalog().CostOf(resource)
	}

	// Access-list verdicts still report the user's real tier.
	tier := s.resolveTier(ctx, userID)

	// Blacklist first: nothing downstream can bypass it.
	blacklisted, err := s.access.IsBlacklisted(ctx, userID)
	if err != nil {
		return s.storeFailure(userID, resource, tier, cost, consume, err), nil
	}
	if blacklisted {
		decision := models.AdmissionDecision{
			Allowed:  false,
			Tier:     tier,
			Resource: resource,
			Cost:     cost,
			Reason:   models.ReasonBlacklisted,
		}
		s.record(userID, decision, consume)
		return decision, nil
	}

	whitelisted, err := s.access.IsWhitelisted(ctx, userID)
	if err != nil {
		return s.storeFailure(userID, resource, tier, cost, consume, err), nil
	}
	if whitelisted {
		decision := models.AdmissionDecision{
			Allowed:   true,
			Tier:      tier,
			Resource:  resource,
			Cost:      cost,
			Remaining: models.UnlimitedRemaining,
			Reason:    models.ReasonWhitelisted,
		}
		s.record(userID, decision, consume)
		return decision, nil
	}

	rl, err := s.resolver.ResolveLimit(ctx, tier, resource)
	if err != nil {
		return s.storeFailure(userID, resource, tier, cost, consume, err), nil
	}

	if rl.Unlimited {
		decision := models.AdmissionDecision{
			Allowed:   true,
			Tier:      tier,
			Resource:  resource,
			Cost:      cost,
			Remaining: models.UnlimitedRemaining,
			Reason:    models.ReasonUnlimited,
		}
		s.record(userID, decision, consume)
		return decision, nil
	}

	// A cost no window could ever admit is denied outright, never split.
	if cost > rl.Limit {
		decision := s.deniedQuota(ctx, userID, resource, tier, rl, cost)
		s.record(userID, decision, consume)
		return decision, nil
	}

	refill := ratelimit.RefillRate(rl.Limit, rl.Window)

	// Burst tokens are drawn before the steady-state window is touched.
	if consume && rl.BurstSize > 0 {
		var burstRes ratelimit.BurstResult
		err := s.storeCall(ctx, func(ctx context.Context) error {
			var err error
			burstRes, err = s.burst.Draw(ctx, userID, resource, cost, rl.BurstSize, refill)
			return err
		})
		if err != nil {
			return s.storeFailure(userID, resource, tier, cost, consume, err), nil
		}

		if burstRes.Allowed {
			decision := s.decorate(ctx, models.AdmissionDecision{
				Allowed:  true,
				Tier:     tier,
				Resource: resource,
				Cost:     cost,
			}, userID, resource, rl)
			s.record(userID, decision, consume)
			return decision, nil
		}
	}

	if !consume {
		return s.peek(ctx, userID, resource, tier, rl, cost)
	}

	var winRes ratelimit.WindowResult
	err = s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		winRes, err = s.window.Consume(ctx, userID, resource, cost, rl.Limit, rl.Window)
		return err
	})
	if err != nil {
		return s.storeFailure(userID, resource, tier, cost, consume, err), nil
	}

	decision := s.windowDecision(userID, resource, tier, rl, cost, winRes)
	s.record(userID, decision, consume)
	return decision, nil
}

// peek mirrors the consume path read-only: would this cost be admitted now?
func (s *AdmissionService) peek(ctx context.Context, userID, resource string, tier models.Tier, rl models.ResourceLimit, cost int64) (models.AdmissionDecision, error) {
	refill := ratelimit.RefillRate(rl.Limit, rl.Window)

	var tokens float64
	var winRes ratelimit.WindowResult

	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		if rl.BurstSize > 0 {
			if tokens, err = s.burst.Tokens(ctx, userID, resource, rl.BurstSize, refill); err != nil {
				return err
			}
		}
		winRes, err = s.window.Peek(ctx, userID, resource, rl.Window)
		return err
	})
	if err != nil {
		return s.storeFailure(userID, resource, tier, cost, false, err), nil
	}

	allowed := tokens >= float64(cost) || winRes.Count+cost <= rl.Limit

	decision := models.AdmissionDecision{
		Allowed:     allowed,
		Tier:        tier,
		Resource:    resource,
		Cost:        cost,
		Limit:       rl.Limit,
		Remaining:   remaining(rl.Limit, winRes.Count),
		ResetTime:   time.Now().Add(winRes.ResetIn),
		PercentUsed: percentUsed(rl.Limit, winRes.Count),
	}
	decision.SoftLimitWarning = decision.PercentUsed >= s.softLimitPct
	if !allowed {
		decision.Reason = models.ReasonQuotaExceeded
		decision.RetryAfter = retryAfter(winRes.ResetIn)
	}
	return decision, nil
}

// decorate fills window-derived fields (remaining, reset, percent) onto an
// already-allowed decision, e.g. after a burst draw.
func (s *AdmissionService) decorate(ctx context.Context, decision models.AdmissionDecision, userID, resource string, rl models.ResourceLimit) models.AdmissionDecision {
	decision.Limit = rl.Limit

	var winRes ratelimit.WindowResult
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		winRes, err = s.window.Peek(ctx, userID, resource, rl.Window)
		return err
	})
	if err != nil {
		// The admit verdict already happened; reporting fields degrade.
		decision.Remaining = remaining(rl.Limit, 0)
		decision.ResetTime = time.Now().Add(rl.Window)
		return decision
	}

	decision.Remaining = remaining(rl.Limit, winRes.Count)
	decision.ResetTime = time.Now().Add(winRes.ResetIn)
	decision.PercentUsed = percentUsed(rl.Limit, winRes.Count)
	decision.SoftLimitWarning = decision.PercentUsed >= s.softLimitPct
	return decision
}

func (s *AdmissionService) windowDecision(userID, resource string, tier models.Tier, rl models.ResourceLimit, cost int64, winRes ratelimit.WindowResult) models.AdmissionDecision {
	decision := models.AdmissionDecision{
		Allowed:     winRes.Allowed,
		Tier:        tier,
		Resource:    resource,
		Cost:        cost,
		Limit:       rl.Limit,
		Remaining:   remaining(rl.Limit, winRes.Count),
		ResetTime:   time.Now().Add(winRes.ResetIn),
		PercentUsed: percentUsed(rl.Limit, winRes.Count),
	}
	decision.SoftLimitWarning = decision.PercentUsed >= s.softLimitPct

	if !winRes.Allowed {
		decision.Reason = models.ReasonQuotaExceeded
		decision.RetryAfter = retryAfter(winRes.ResetIn)
	}
	return decision
}

func (s *AdmissionService) deniedQuota(ctx context.Context, userID, resource string, tier models.Tier, rl models.ResourceLimit, cost int64) models.AdmissionDecision {
	resetIn := rl.Window
	var winRes ratelimit.WindowResult
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		winRes, err = s.window.Peek(ctx, userID, resource, rl.Window)
		return err
	})
	if err == nil {
		resetIn = winRes.ResetIn
	}

	return models.AdmissionDecision{
		Allowed:     false,
		Tier:        tier,
		Resource:    resource,
		Cost:        cost,
		Limit:       rl.Limit,
		Remaining:   remaining(rl.Limit, winRes.Count),
		ResetTime:   time.Now().Add(resetIn),
		PercentUsed: percentUsed(rl.Limit, winRes.Count),
		Reason:      models.ReasonQuotaExceeded,
		RetryAfter:  retryAfter(resetIn),
	}
}

// Status returns the full per-resource snapshot for a user's dashboard.
func (s *AdmissionService) Status(ctx context.Context, userID string) (models.RateLimitStatus, error) {
	if userID == "" {
		return models.RateLimitStatus{}, fmt.Errorf("%w: userId is required", ErrValidation)
	}

	tier := s.resolveTier(ctx, userID)
	status := models.RateLimitStatus{UserID: userID, Tier: tier}

	for _, resource := range s.resolver.Catalog().Resources() {
		rl, err := s.resolver.ResolveLimit(ctx, tier, resource)
		if err != nil {
			return models.RateLimitStatus{}, err
		}

		if rl.Unlimited {
			status.Resources = append(status.Resources, models.PerResourceStatus{
				Resource:  resource,
				Remaining: models.UnlimitedRemaining,
				Unlimited: true,
			})
			continue
		}

		var winRes ratelimit.WindowResult
		err = s.storeCall(ctx, func(ctx context.Context) error {
			var err error
			winRes, err = s.window.Peek(ctx, userID, resource, rl.Window)
			return err
		})
		if err != nil {
			return models.RateLimitStatus{}, fmt.Errorf("failed to read %s usage: %w", resource, err)
		}

		status.Resources = append(status.Resources, models.PerResourceStatus{
			Resource:    resource,
			Limit:       rl.Limit,
			Used:        winRes.Count,
			Remaining:   remaining(rl.Limit, winRes.Count),
			PercentUsed: percentUsed(rl.Limit, winRes.Count),
			ResetTime:   time.Now().Add(winRes.ResetIn),
		})
	}

	return status, nil
}

// Reset clears a user's counters for one resource, or all known resources
// when resource is empty. Audit-logged with the acting admin.
func (s *AdmissionService) Reset(ctx context.Context, actorID, userID, resource string) error {
	if userID == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}

	resources := []string{resource}
	if resource == "" {
		resources = s.resolver.Catalog().Resources()
	}

	tier := s.resolveTier(ctx, userID)

	for _, res := range resources {
		rl, err := s.resolver.ResolveLimit(ctx, tier, res)
		if err != nil {
			return err
		}
		if rl.Unlimited {
			continue
		}

		if err := s.window.Reset(ctx, userID, res, rl.Window); err != nil {
			return fmt.Errorf("failed to reset window for %s: %w", res, err)
		}
		if err := s.burst.Reset(ctx, userID, res); err != nil {
			return fmt.Errorf("failed to reset burst for %s: %w", res, err)
		}
	}

	target := userID
	if resource != "" {
		target = userID + "/" + resource
	}
	return s.audit.Record(ctx, &models.AuditLog{
		ActorID: actorID,
		Action:  "rate_limit_reset",
		Target:  target,
	})
}

// SetDynamicLimit installs an admin override for a tier+resource pair.
func (s *AdmissionService) SetDynamicLimit(ctx context.Context, actorID string, tier models.Tier, resource string, limit int64) error {
	if err := s.resolver.SetOverride(ctx, actorID, tier, resource, limit); err != nil {
		return err
	}

	return s.audit.Record(ctx, &models.AuditLog{
		ActorID: actorID,
		Action:  "override_set",
		Target:  tier.String() + "/" + resource,
		Detail:  fmt.Sprintf("limit=%d", limit),
	})
}

// ListOverrides returns every installed override.
func (s *AdmissionService) ListOverrides(ctx context.Context) ([]models.DynamicOverride, error) {
	return s.resolver.ListOverrides(ctx)
}

// RemoveDynamicLimit deletes an override; the catalog default applies again
// within one cache TTL.
func (s *AdmissionService) RemoveDynamicLimit(ctx context.Context, actorID string, tier models.Tier, resource string) error {
	removed, err := s.resolver.RemoveOverride(ctx, tier, resource)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	return s.audit.Record(ctx, &models.AuditLog{
		ActorID: actorID,
		Action:  "override_remove",
		Target:  tier.String() + "/" + resource,
	})
}

// resolveTier consults the external tier source; an unreachable source
// degrades to the free tier rather than failing admission.
func (s *AdmissionService) resolveTier(ctx context.Context, userID string) models.Tier {
	tier, err := s.tierOf(ctx, userID)
	if err != nil {
		log.Printf("Warning: tier lookup failed for %s, assuming free: %v", userID, err)
		return models.TierFree
	}
	if !tier.Valid() {
		return models.TierFree
	}
	return tier
}

// storeCall runs one counter-store round trip under the breaker with a
// bounded timeout. A timeout surfaces as an error, never as a silent verdict.
func (s *AdmissionService) storeCall(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.breaker.Call(func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		return fn(callCtx)
	})
}

// storeFailure applies the fail-open/fail-closed policy for a degraded
// store. Labeled distinctly so callers can alert on it, and logged here as
// a warning; normal denials are neither.
func (s *AdmissionService) storeFailure(userID, resource string, tier models.Tier, cost int64, consume bool, err error) models.AdmissionDecision {
	log.Printf("Warning: counter store unavailable for %s/%s: %v", userID, resource, err)

	decision := models.AdmissionDecision{
		Allowed:  s.failOpen,
		Tier:     tier,
		Resource: resource,
		Cost:     cost,
		Reason:   models.ReasonStoreUnavailable,
	}
	s.record(userID, decision, consume)
	return decision
}

func (s *AdmissionService) record(userID string, decision models.AdmissionDecision, consume bool) {
	if s.stats == nil || !consume {
		return
	}
	s.stats.Record(userID, decision)
}

func remaining(limit, count int64) int64 {
	r := limit - count
	if r < 0 {
		return 0
	}
	return r
}

func percentUsed(limit, count int64) float64 {
	if limit <= 0 {
		return 0
	}
	pct := float64(count) / float64(limit) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

func retryAfter(resetIn time.Duration) int {
	secs := int(resetIn.Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}
