package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Rotation    RotationConfig    `json:"rotation"`
	Retry       RetryConfig       `json:"retry"`
	Cooldown    CooldownConfig    `json:"cooldown"`
	Sticky      StickyConfig      `json:"sticky"`
	Throttle    ThrottleConfig    `json:"throttle"`
	Classify    ClassifyConfig    `json:"classify"`
	Persistence PersistenceConfig `json:"persistence"`
	Providers   ProvidersConfig   `json:"providers"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	API         APIConfig         `json:"api"`
	Metrics     MetricsConfig     `json:"metrics"`
	Logging     LoggingConfig     `json:"logging"`
}

type RotationConfig struct {
	Strategy         string `json:"strategy"` // "round_robin", "weighted", "random", "sticky"
	Seed             int64  `json:"seed"`     // 0 = time-seeded
	SelectionRetries int    `json:"selection_retries"`
	ProxiesEnabled   bool   `json:"proxies_enabled"`
}

type RetryConfig struct {
	MaxAttempts      int `json:"max_attempts"`
	AttemptTimeoutMs int `json:"attempt_timeout_ms"`
	TotalTimeoutMs   int `json:"total_timeout_ms"` // 0 = no whole-request gate
}

type CooldownConfig struct {
	FailureThreshold int `json:"failure_threshold"`
	BackoffBaseMs    int `json:"backoff_base_ms"`
	BackoffCapMs     int `json:"backoff_cap_ms"` // also the hard-failure cooldown
	BackoffJitterMs  int `json:"backoff_jitter_ms"`
}

type StickyConfig struct {
	Enabled    bool `json:"enabled"`
	TTLSeconds int  `json:"ttl_seconds"`
}

type ThrottleConfig struct {
	Enabled           bool    `json:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
	UseServerHints    bool    `json:"use_server_hints"` // honor Retry-After
}

type ClassifyConfig struct {
	SoftStatuses []int `json:"soft_statuses"`
	HardStatuses []int `json:"hard_statuses"`
	MinBodyBytes int   `json:"min_body_bytes"` // smaller successful bodies count as hard (ban page heuristic)
}

type PersistenceConfig struct {
	Backend   string `json:"backend"` // "memory", "sqlite", "redis"
	DSN       string `json:"dsn"`
	Namespace string `json:"namespace"`
}

type ProvidersConfig struct {
	ProxyFile           string   `json:"proxy_file"`
	ProxyEnv            string   `json:"proxy_env"`
	ProxyURLs           []string `json:"proxy_urls"` // remote newline feeds
	ProfileFile         string   `json:"profile_file"`
	ProfileURL          string   `json:"profile_url"` // remote JSON feed
	RefreshIntervalSec  int      `json:"refresh_interval_seconds"`
	FetchTimeoutMs      int      `json:"fetch_timeout_ms"`
	RefreshOnExhaustion bool     `json:"refresh_on_exhaustion"`
}

type TelemetryConfig struct {
	Enabled    bool    `json:"enabled"`
	SampleRate float64 `json:"sample_rate"`
	LogEvents  bool    `json:"log_events"`
}

type APIConfig struct {
	Addr               string `json:"addr"`
	APIKeyEnv          string `json:"api_key_env"`
	EnableAPIKeyAuth   bool   `json:"enable_api_key_auth"`
	EnableIPRateLimit  bool   `json:"enable_ip_rate_limit"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	Namespace string `json:"namespace"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load reads configuration from a JSON file and fills defaults.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a config with every default filled, used by tests and by
// library callers that skip the config file.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Rotation.Strategy == "" {
		c.Rotation.Strategy = "round_robin"
	}
	if c.Rotation.SelectionRetries == 0 {
		c.Rotation.SelectionRetries = 3
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.AttemptTimeoutMs == 0 {
		c.Retry.AttemptTimeoutMs = 15000
	}
	if c.Cooldown.FailureThreshold == 0 {
		c.Cooldown.FailureThreshold = 3
	}
	if c.Cooldown.BackoffBaseMs == 0 {
		c.Cooldown.BackoffBaseMs = 30000
	}
	if c.Cooldown.BackoffCapMs == 0 {
		c.Cooldown.BackoffCapMs = 300000
	}
	if c.Cooldown.BackoffJitterMs == 0 {
		c.Cooldown.BackoffJitterMs = 5000
	}
	if c.Sticky.TTLSeconds == 0 {
		c.Sticky.TTLSeconds = 900
	}
	if c.Throttle.RequestsPerSecond == 0 {
		c.Throttle.RequestsPerSecond = 5
	}
	if c.Throttle.Burst == 0 {
		c.Throttle.Burst = 5
	}
	if len(c.Classify.SoftStatuses) == 0 {
		c.Classify.SoftStatuses = []int{408, 425, 429, 500, 502, 503, 504}
	}
	if len(c.Classify.HardStatuses) == 0 {
		c.Classify.HardStatuses = []int{403, 407}
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "memory"
	}
	if c.Persistence.Namespace == "" {
		c.Persistence.Namespace = "rotator"
	}
	if c.Providers.RefreshIntervalSec == 0 {
		c.Providers.RefreshIntervalSec = 300
	}
	if c.Providers.FetchTimeoutMs == 0 {
		c.Providers.FetchTimeoutMs = 30000
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8085"
	}
	if c.API.RateLimitPerMinute == 0 {
		c.API.RateLimitPerMinute = 600
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "headerrotator"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch c.Rotation.Strategy {
	case "round_robin", "weighted", "random", "sticky":
	default:
		return fmt.Errorf("rotation strategy must be 'round_robin', 'weighted', 'random', or 'sticky'")
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 100 {
		return fmt.Errorf("max_attempts must be between 1 and 100")
	}
	if c.Retry.AttemptTimeoutMs < 100 || c.Retry.AttemptTimeoutMs > 300000 {
		return fmt.Errorf("attempt_timeout_ms must be between 100 and 300000")
	}
	if c.Cooldown.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1")
	}
	if c.Cooldown.BackoffCapMs < c.Cooldown.BackoffBaseMs {
		return fmt.Errorf("backoff_cap_ms cannot be smaller than backoff_base_ms")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be between 0 and 1")
	}
	switch c.Persistence.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("persistence backend must be 'memory', 'sqlite', or 'redis'")
	}
	return nil
}
