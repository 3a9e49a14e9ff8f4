package models

import "time"

// Decision reasons. Quota and blacklist denials are expected traffic, not
// errors; store_unavailable marks a degraded-mode verdict.
const (
	ReasonQuotaExceeded    = "quota_exceeded"
	ReasonBlacklisted      = "blacklisted"
	ReasonWhitelisted      = "whitelisted"
	ReasonUnlimited        = "unlimited"
	ReasonStoreUnavailable = "store_unavailable"
)

// UnlimitedRemaining is reported as the remaining budget for unlimited
// tiers and whitelisted users.
const UnlimitedRemaining int64 = -1

// AdmissionDecision is the verdict for one consumption attempt. It is a
// regular return value; a denial is never an error.
type AdmissionDecision struct {
	Allowed          bool      `json:"allowed"`
	Tier             Tier      `json:"tier"`
	Resource         string    `json:"resource"`
	Limit            int64     `json:"limit"`
	Remaining        int64     `json:"remaining"`
	Cost             int64     `json:"cost"`
	ResetTime        time.Time `json:"reset_time"`
	PercentUsed      float64   `json:"percent_used"`
	SoftLimitWarning bool      `json:"soft_limit_warning"`
	Reason           string    `json:"reason,omitempty"`
	RetryAfter       int       `json:"retry_after,omitempty"`
}

// PerResourceStatus is one row of a user's dashboard snapshot.
type PerResourceStatus struct {
	Resource    string    `json:"resource"`
	Limit       int64     `json:"limit"`
	Used        int64     `json:"used"`
	Remaining   int64     `json:"remaining"`
	PercentUsed float64   `json:"percent_used"`
	ResetTime   time.Time `json:"reset_time"`
	Unlimited   bool      `json:"unlimited"`
}

// RateLimitStatus is the full per-user snapshot across all known resources.
type RateLimitStatus struct {
	UserID    string              `json:"user_id"`
	Tier      Tier                `json:"tier"`
	Resources []PerResourceStatus `json:"resources"`
}
