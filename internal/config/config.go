package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/quotagate/quotagate/internal/models"
)

type Config struct {
	Server    ServerConfig          `json:"server"`
	Redis     RedisConfig           `json:"redis"`
	Postgres  PostgresConfig        `json:"postgres"`
	Auth      AuthConfig            `json:"auth"`
	Admission AdmissionConfig       `json:"admission"`
	Tiers     map[string]TierConfig `json:"tiers"`
	Costs     map[string]int64      `json:"costs"`

	// Path the config was loaded from, kept so an admin reload can re-read it.
	Path string `json:"-"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type AuthConfig struct {
	JWTSecret   string `json:"jwt_secret"`
	ExpiryHours int    `json:"expiry_hours"`
}

type AdmissionConfig struct {
	// "open" preserves availability when the counter store is down;
	// "closed" preserves strict enforcement.
	FailPolicy       string `json:"fail_policy"`
	StoreTimeoutMs   int    `json:"store_timeout_ms"`
	CacheTTLSeconds  int    `json:"cache_ttl_seconds"`
	SoftLimitPercent int    `json:"soft_limit_percent"`

	StatsBufferSize     int `json:"stats_buffer_size"`
	StatsFlushSeconds   int `json:"stats_flush_seconds"`
	StatsRetentionHours int `json:"stats_retention_hours"`
	BreakerMaxFailures  int `json:"breaker_max_failures"`
	BreakerCooldownSec  int `json:"breaker_cooldown_seconds"`
}

type TierConfig struct {
	Resources map[string]LimitConfig `json:"resources"`
}

type LimitConfig struct {
	Limit         int64 `json:"limit"`
	WindowSeconds int64 `json:"window_seconds"`
	BurstSize     int64 `json:"burst_size"`
	Unlimited     bool  `json:"unlimited"`
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	config.applyEnv()
	config.Path = path

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == "" {
		c.Redis.Port = "6379"
	}
	if c.Auth.ExpiryHours <= 0 {
		c.Auth.ExpiryHours = 24
	}
	if c.Admission.FailPolicy == "" {
		c.Admission.FailPolicy = "open"
	}
	if c.Admission.StoreTimeoutMs <= 0 {
		c.Admission.StoreTimeoutMs = 500
	}
	if c.Admission.CacheTTLSeconds <= 0 {
		c.Admission.CacheTTLSeconds = 30
	}
	if c.Admission.SoftLimitPercent <= 0 {
		c.Admission.SoftLimitPercent = 80
	}
	if len(c.Tiers) == 0 {
		c.Tiers = DefaultTiers()
	}
	if len(c.Costs) == 0 {
		c.Costs = DefaultCosts()
	}
}

// Secrets come from the environment when set, so the config file can be
// committed without them
func (c *Config) applyEnv() {
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

func (c *Config) FailOpen() bool {
	return c.Admission.FailPolicy != "closed"
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Admission.StoreTimeoutMs) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Admission.CacheTTLSeconds) * time.Second
}

// CatalogDefaults converts the tier tables into catalog rows. Unknown tier
// names are a startup error; tiers are a closed set.
func (c *Config) CatalogDefaults() (map[models.Tier]map[string]models.ResourceLimit, error) {
	defaults := make(map[models.Tier]map[string]models.ResourceLimit, len(c.Tiers))

	for name, tierCfg := range c.Tiers {
		tier, err := models.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("invalid tier in config: %w", err)
		}

		table := make(map[string]models.ResourceLimit, len(tierCfg.Resources))
		for resource, lc := range tierCfg.Resources {
			table[resource] = models.ResourceLimit{
				Limit:     lc.Limit,
				Window:    time.Duration(lc.WindowSeconds) * time.Second,
				BurstSize: lc.BurstSize,
				Unlimited: lc.Unlimited,
			}
		}
		defaults[tier] = table
	}

	return defaults, nil
}

// DefaultTiers is the built-in catalog used when the config file does not
// provide one.
func DefaultTiers() map[string]TierConfig {
	return map[string]TierConfig{
		"free": {Resources: map[string]LimitConfig{
			"default":    {Limit: 30, WindowSeconds: 60, BurstSize: 5},
			"analysis":   {Limit: 10, WindowSeconds: 3600, BurstSize: 2},
			"marketData": {Limit: 30, WindowSeconds: 60, BurstSize: 5},
			"search":     {Limit: 20, WindowSeconds: 60, BurstSize: 5},
			"ai":         {Limit: 5, WindowSeconds: 3600, BurstSize: 0},
			"scanner":    {Limit: 10, WindowSeconds: 3600, BurstSize: 0},
		}},
		"basic": {Resources: map[string]LimitConfig{
			"default":    {Limit: 120, WindowSeconds: 60, BurstSize: 20},
			"analysis":   {Limit: 50, WindowSeconds: 3600, BurstSize: 10},
			"marketData": {Limit: 120, WindowSeconds: 60, BurstSize: 20},
			"search":     {Limit: 60, WindowSeconds: 60, BurstSize: 10},
			"ai":         {Limit: 25, WindowSeconds: 3600, BurstSize: 5},
			"scanner":    {Limit: 50, WindowSeconds: 3600, BurstSize: 5},
		}},
		"vip": {Resources: map[string]LimitConfig{
			"default":    {Limit: 600, WindowSeconds: 60, BurstSize: 100},
			"analysis":   {Limit: 300, WindowSeconds: 3600, BurstSize: 50},
			"marketData": {Limit: 600, WindowSeconds: 60, BurstSize: 100},
			"search":     {Limit: 300, WindowSeconds: 60, BurstSize: 50},
			"ai":         {Limit: 150, WindowSeconds: 3600, BurstSize: 20},
			"scanner":    {Limit: 300, WindowSeconds: 3600, BurstSize: 50},
		}},
		"analyst": {Resources: map[string]LimitConfig{
			"default":    {Limit: 1200, WindowSeconds: 60, BurstSize: 200},
			"analysis":   {Limit: 1000, WindowSeconds: 3600, BurstSize: 100},
			"marketData": {Limit: 1200, WindowSeconds: 60, BurstSize: 200},
			"search":     {Limit: 600, WindowSeconds: 60, BurstSize: 100},
			"ai":         {Limit: 500, WindowSeconds: 3600, BurstSize: 50},
			"scanner":    {Limit: 1000, WindowSeconds: 3600, BurstSize: 100},
		}},
		"admin": {Resources: map[string]LimitConfig{
			"default": {Unlimited: true},
		}},
	}
}

// DefaultCosts is the built-in cost model: expensive operations consume
// more quota units per call.
func DefaultCosts() map[string]int64 {
	return map[string]int64{
		"analysis":   5,
		"marketData": 1,
		"search":     1,
		"ai":         10,
		"scanner":    5,
	}
}
