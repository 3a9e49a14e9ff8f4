package models

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the closed set of subscription classes. Higher priority means more
// privileged. Tiers are catalog data loaded at startup, never created at runtime.
type Tier int

const (
	TierFree Tier = iota
	TierBasic
	TierVIP
	TierAnalyst
	TierAdmin
)

var tierNames = map[Tier]string{
	TierFree:    "free",
	TierBasic:   "basic",
	TierVIP:     "vip",
	TierAnalyst: "analyst",
	TierAdmin:   "admin",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

func (t Tier) Priority() int {
	return int(t)
}

func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// Returns every tier in priority order
func AllTiers() []Tier {
	return []Tier{TierFree, TierBasic, TierVIP, TierAnalyst, TierAdmin}
}

// Maps a tier name to its Tier. Unknown names are an error since tiers
// are a closed set.
func ParseTier(name string) (Tier, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for tier, n := range tierNames {
		if n == name {
			return tier, nil
		}
	}
	return TierFree, fmt.Errorf("unknown tier: %q", name)
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Tier) UnmarshalJSON(b []byte) error {
	tier, err := ParseTier(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// ResourceLimit is one row of the tier catalog: the steady-state quota for a
// tier+resource pair plus its burst capacity.
type ResourceLimit struct {
	Limit     int64         `json:"limit"`
	Window    time.Duration `json:"window"`
	BurstSize int64         `json:"burst_size"`
	Unlimited bool          `json:"unlimited"`
}
