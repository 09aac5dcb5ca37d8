package govauth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/audit"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/metrics"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/jwt"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/permission"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/remote"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/session"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder defines a public type used by govauth APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config

	redis      redis.UniversalClient
	persister  session.Persister
	logger     logrus.FieldLogger
	auditSink  AuditSink
	httpClient *http.Client
	catalog    *permission.Catalog
	roles      []Role
	onExpired  func(error)
	now        func() time.Time

	verifyMethod jwt.SigningMethod
	verifyKey    []byte

	built bool
}

// New returns a builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig replaces the whole configuration. Start from [DefaultConfig]
// and override fields; Build validates the result.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBaseURL sets API.BaseURL.
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.API.BaseURL = baseURL
	return b
}

// WithRedis persists the session snapshot in Redis under
// Session.RedisPrefix and Session.Key.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPersister overrides the snapshot persister. It takes precedence over
// WithRedis.
func (b *Builder) WithPersister(p session.Persister) *Builder {
	b.persister = p
	return b
}

// WithLogger sets the logger for every component. The default is
// logrus.StandardLogger().
func (b *Builder) WithLogger(logger logrus.FieldLogger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink enables the audit trail and routes it to sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithHTTPClient sets the client whose transport carries every API call.
// Its Transport is wrapped for authorized calls; the client itself is not
// modified.
func (b *Builder) WithHTTPClient(hc *http.Client) *Builder {
	b.httpClient = hc
	return b
}

// WithCatalog replaces the built-in permission catalog. The catalog is
// frozen by Build.
func (b *Builder) WithCatalog(c *permission.Catalog) *Builder {
	b.catalog = c
	return b
}

// WithRoles seeds the role registry before the first sync.
func (b *Builder) WithRoles(roles []Role) *Builder {
	b.roles = roles
	return b
}

// WithSessionExpiredHook registers fn to run whenever the session ends
// because a refresh failed.
func (b *Builder) WithSessionExpiredHook(fn func(error)) *Builder {
	b.onExpired = fn
	return b
}

// WithTokenVerification makes access-token inspection verify signatures.
// Without it tokens are inspected unverified, which is enough to schedule
// refreshes.
func (b *Builder) WithTokenVerification(method jwt.SigningMethod, key []byte) *Builder {
	b.verifyMethod = method
	b.verifyKey = append([]byte(nil), key...)
	return b
}

// WithClock overrides time.Now.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration and wires every component. A builder
// can be built once.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	catalog := b.catalog
	if catalog == nil {
		var err error
		catalog, err = permission.DefaultCatalog(cfg.Permission.MaxBits)
		if err != nil {
			return nil, fmt.Errorf("build catalog: %w", err)
		}
	}
	catalog.Freeze()

	registry := permission.NewRoleRegistry(catalog, permission.RegistryOptions{
		MaxDepth: cfg.Permission.MaxHierarchyDepth,
		Now:      now,
	})
	if len(b.roles) > 0 {
		if err := registry.Replace(b.roles); err != nil {
			return nil, fmt.Errorf("seed roles: %w", err)
		}
	}

	m := metrics.New(metrics.Config{
		Enabled:                 cfg.Metrics.Enabled,
		EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms,
	})
	resolver := permission.NewResolver(registry, permission.ResolverOptions{
		CacheSize:  cfg.Permission.CacheSize,
		CacheTTL:   cfg.Permission.CacheTTL,
		Now:        now,
		Logger:     logger,
		OnCacheHit: func() { m.Inc(metrics.ResolverCacheHit) },
		OnGuard:    func(string, string) { m.Inc(metrics.HierarchyGuard) },
	})

	persister := b.persister
	if persister == nil && b.redis != nil {
		persister = session.NewRedisPersister(b.redis, cfg.Session.RedisPrefix, cfg.Session.Key, cfg.Session.PersistTTL)
	}
	tokens := session.NewTokenStore(persister, now)

	inspector, err := jwt.NewInspector(jwt.Config{
		Skew:      cfg.Session.ExpirySkew,
		Method:    b.verifyMethod,
		VerifyKey: b.verifyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("token inspector: %w", err)
	}

	base := b.httpClient
	if base == nil {
		base = &http.Client{Timeout: cfg.API.Timeout}
	}
	public := *base
	authorized := *base

	var sink audit.Sink = b.auditSink
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	c := &Client{
		config:     cfg,
		logger:     logger,
		now:        now,
		tokens:     tokens,
		registry:   registry,
		resolver:   resolver,
		inspector:  inspector,
		metrics:    m,
		audit:      dispatcher,
		state:      newStateMachine(logger),
		onExpired:  b.onExpired,
		assignment: newAssignmentBook(),
		ready:      make(chan struct{}),
	}
	c.gate = newGate(logger)
	c.replay = newReplayQueue()
	authorized.Transport = &authTransport{client: c, next: transportOf(base)}

	api, err := remote.New(cfg.API.BaseURL, remote.Options{
		Timeout:    cfg.API.Timeout,
		Public:     &public,
		Authorized: &authorized,
		UserAgent:  cfg.API.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	c.api = api
	c.httpClient = &authorized

	tokens.OnChange(c.onTokensChanged)
	registry.OnChange(c.onRolesChanged)
	c.recompute()

	b.built = true
	return c, nil
}

func transportOf(hc *http.Client) http.RoundTripper {
	if hc.Transport != nil {
		return hc.Transport
	}
	return http.DefaultTransport
}
