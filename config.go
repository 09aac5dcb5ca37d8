package govauth

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config defines a public type used by govauth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	API        APIConfig
	Session    SessionConfig
	TwoFactor  TwoFactorConfig
	Permission PermissionConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

// APIConfig points the client at the portal API.
type APIConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// SessionConfig controls persistence and the refresh protocol.
type SessionConfig struct {
	RedisPrefix string
	Key         string
	PersistTTL  time.Duration

	// RefreshTimeout bounds one refresh attempt. A timeout ends the session.
	RefreshTimeout time.Duration
	LogoutTimeout  time.Duration

	// ProactiveRefresh refreshes before sending when the access token
	// expires within ExpirySkew.
	ProactiveRefresh bool
	ExpirySkew       time.Duration
}

// TwoFactorConfig bounds a pending second-factor challenge.
type TwoFactorConfig struct {
	MaxAttempts  int
	ChallengeTTL time.Duration
}

// PermissionConfig sizes the catalog and resolver.
type PermissionConfig struct {
	MaxBits           int
	MaxHierarchyDepth int
	CacheSize         int
	CacheTTL          time.Duration
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		API: APIConfig{
			Timeout:   15 * time.Second,
			UserAgent: "govauth",
		},
		Session: SessionConfig{
			RedisPrefix:      "govauth:session",
			Key:              "default",
			PersistTTL:       7 * 24 * time.Hour,
			RefreshTimeout:   10 * time.Second,
			LogoutTimeout:    3 * time.Second,
			ProactiveRefresh: true,
			ExpirySkew:       15 * time.Second,
		},
		TwoFactor: TwoFactorConfig{
			MaxAttempts:  3,
			ChallengeTTL: 5 * time.Minute,
		},
		Permission: PermissionConfig{
			MaxBits:           256,
			MaxHierarchyDepth: 16,
			CacheSize:         1024,
			CacheTTL:          10 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate returns the first problem found and does not modify c.
func (c *Config) Validate() error {
	// API
	if c.API.BaseURL == "" {
		return errors.New("API BaseURL is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("API BaseURL must be an absolute http(s) URL")
	}
	if c.API.Timeout <= 0 {
		return errors.New("API Timeout must be > 0")
	}

	// Session
	if strings.TrimSpace(c.Session.Key) == "" {
		return errors.New("Session Key must not be blank")
	}
	if c.Session.PersistTTL <= 0 {
		return errors.New("Session PersistTTL must be > 0")
	}
	if c.Session.RefreshTimeout <= 0 {
		return errors.New("Session RefreshTimeout must be > 0")
	}
	if c.Session.LogoutTimeout <= 0 {
		return errors.New("Session LogoutTimeout must be > 0")
	}
	if c.Session.ExpirySkew < 0 || c.Session.ExpirySkew > 10*time.Minute {
		return errors.New("Session ExpirySkew must be between 0 and 10m")
	}

	// Two-factor
	if c.TwoFactor.MaxAttempts < 1 || c.TwoFactor.MaxAttempts > 10 {
		return errors.New("TwoFactor MaxAttempts must be between 1 and 10")
	}
	if c.TwoFactor.ChallengeTTL <= 0 {
		return errors.New("TwoFactor ChallengeTTL must be > 0")
	}

	// Permission
	switch c.Permission.MaxBits {
	case 64, 128, 256, 512:
	default:
		return errors.New("Permission MaxBits must be 64, 128, 256 or 512")
	}
	if c.Permission.MaxHierarchyDepth < 1 {
		return errors.New("Permission MaxHierarchyDepth must be >= 1")
	}
	if c.Permission.CacheSize < 1 {
		return errors.New("Permission CacheSize must be >= 1")
	}
	if c.Permission.CacheTTL <= 0 {
		return errors.New("Permission CacheTTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}
