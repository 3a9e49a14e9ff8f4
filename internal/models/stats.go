package models

// ResourceUsage is an aggregate of admission outcomes for one resource.
type ResourceUsage struct {
	Resource string `json:"resource"`
	Allowed  int64  `json:"allowed"`
	Denied   int64  `json:"denied"`
	CostUsed int64  `json:"cost_used"`
}

// LimitedUser is one row of the most-limited-users ranking.
type LimitedUser struct {
	UserID  string `json:"user_id"`
	Tier    string `json:"tier"`
	Denied  int64  `json:"denied"`
	Allowed int64  `json:"allowed"`
}

// TierDistribution maps tier name to active user count.
type TierDistribution map[string]int64
