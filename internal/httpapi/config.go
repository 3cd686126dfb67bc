package httpapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr       = ":8080"
	defaultAllowedOrigin    = "http://localhost:8000"
	defaultSessionIssuer    = "tauth"
	defaultSessionCookie    = "app_session"
	defaultRequestTimeout   = 5 * time.Second
	defaultRateCapacity     = 60
	defaultRateRefillTokens = 1
	defaultRateInterval     = time.Second
	defaultRateTTL          = 10 * time.Minute
	defaultRatePrefix       = "spacebook:ratelimit"
)

// Config aggregates runtime settings for the HTTP API.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	RequestTimeout    time.Duration
	// CalendarVenue is the event location written into calendar exports.
	CalendarVenue     string
	RateLimit         RateLimitConfig
}

// RateLimitConfig configures the per-holder token bucket. A bucket holds
// Capacity tokens and regains RefillTokens every RefillInterval.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

// Validate applies defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	return cfg.RateLimit.validate()
}

func (cfg *RateLimitConfig) validate() error {
	if cfg.Capacity == 0 {
		cfg.Capacity = defaultRateCapacity
	}
	if cfg.RefillTokens == 0 {
		cfg.RefillTokens = defaultRateRefillTokens
	}
	if cfg.RefillInterval == 0 {
		cfg.RefillInterval = defaultRateInterval
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultRateTTL
	}
	cfg.Prefix = defaultIfEmpty(cfg.Prefix, defaultRatePrefix)
	if cfg.Capacity < 0 || cfg.RefillTokens < 0 || cfg.RefillInterval < 0 || cfg.TTL < time.Second {
		return fmt.Errorf("rate limit: invalid bucket %+v", *cfg)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
