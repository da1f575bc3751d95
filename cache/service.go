// Package cache implements C2 (Cache Facade) and C5 (Request Pipeline):
// the store/lookup/purge handlers, tenant policy enforcement, upstream
// hydration on miss, and the metrics and health surface.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"scedge.app/backend"
	"scedge.app/metrics"
	"scedge.app/pkg/middleware"
	"scedge.app/policy"
	"scedge.app/upstream"
)

// Service wires the facade, policy engine, upstream client, and metrics
// collector behind the HTTP surface in spec §6.1.
//
//encore:service
type Service struct {
	facade            *Facade
	policy            *policy.Engine
	upstream          *upstream.Client
	metrics           *metrics.Collector
	defaultTTLSeconds int
	now               func() time.Time
}

// Config mirrors the recognized options in §6.4 that this service reads at
// boot. ApplyConfig turns it into the concrete dependencies (backend,
// upstream client, policy secret) the same way the teacher's
// cache-manager.Config is turned into L1Cache/RemoteCache/OriginFetcher in
// initService, then overridden by setters for anything config can't supply.
type Config struct {
	DefaultTTLSeconds int
	BackendURL        string
	JWTSecret         string
	Upstream          UpstreamConfig
}

type UpstreamConfig struct {
	BaseURL     string
	TimeoutSecs int
	MaxRPS      float64
}

var (
	svc  *Service
	once sync.Once
)

// defaultConfig mirrors the teacher's hardcoded Config defaults in
// cache-manager/service.go's initService -- safe for unit tests and
// `encore run` before production values are loaded.
func defaultConfig() Config {
	return Config{
		DefaultTTLSeconds: 86400,
		Upstream: UpstreamConfig{
			TimeoutSecs: 5,
			MaxRPS:      50,
		},
	}
}

// initService builds the default, all-in-memory configuration used by
// unit tests and by `encore run` before production wiring (ApplyConfig) is
// applied. The policy engine is the policy service's shared registry
// (policy.Shared()), not a private one, so a tenant registered through
// POST /policy/tenants is immediately visible to cache validation -- the
// same in-process sharing the invalidation service uses to call
// cache.PurgeTenant directly rather than going over the network.
func initService() (*Service, error) {
	once.Do(func() {
		policyEngine := policy.Shared()
		if policyEngine == nil {
			policyEngine = policy.NewEngine("")
		}
		cfg := defaultConfig()
		svc = &Service{
			facade:            NewFacade(backend.NewMemoryBackend()),
			policy:            policyEngine,
			upstream:          nil,
			metrics:           metrics.NewCollector(),
			defaultTTLSeconds: cfg.DefaultTTLSeconds,
			now:               time.Now,
		}
	})
	return svc, nil
}

// ApplyConfig wires production dependencies from the options named in
// SPEC_FULL.md §1.2/§6.4: a Redis backend URL, a JWT secret applied to the
// existing policy engine, and the upstream lookup client's base
// URL/timeout/rate limit. Empty fields are left at their current value, so
// ApplyConfig(Config{}) is a no-op -- the same "only override what's
// configured" behavior as the teacher's SetL2Cache/SetOriginFetcher setters
// called after initService's zero-value defaults.
func (s *Service) ApplyConfig(cfg Config) error {
	if cfg.DefaultTTLSeconds > 0 {
		s.SetDefaultTTLSeconds(cfg.DefaultTTLSeconds)
	}
	if cfg.BackendURL != "" {
		opts, err := redis.ParseURL(cfg.BackendURL)
		if err != nil {
			return fmt.Errorf("invalid backend_url: %w", err)
		}
		s.SetBackend(backend.NewRedisBackend(redis.NewClient(opts)))
	}
	if cfg.JWTSecret != "" {
		s.policy.SetJWTSecret(cfg.JWTSecret)
	}
	if cfg.Upstream.BaseURL != "" {
		timeout := time.Duration(cfg.Upstream.TimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		s.SetUpstream(upstream.NewClient(cfg.Upstream.BaseURL, timeout, cfg.Upstream.MaxRPS))
	}
	return nil
}

// NewService builds a fully wired Service from explicit dependencies. It is
// the constructor production wiring and cross-package tests use in place of
// the package-singleton initService/svc pair.
func NewService(b backend.Backend, p *policy.Engine, u *upstream.Client, m *metrics.Collector, defaultTTLSeconds int) *Service {
	return &Service{
		facade:            NewFacade(b),
		policy:            p,
		upstream:          u,
		metrics:           m,
		defaultTTLSeconds: defaultTTLSeconds,
		now:               time.Now,
	}
}

// SetBackend injects a production storage backend (e.g. RedisBackend).
func (s *Service) SetBackend(b backend.Backend) {
	s.facade = NewFacade(b)
}

// SetUpstream injects the upstream client; nil disables hydration.
func (s *Service) SetUpstream(c *upstream.Client) {
	s.upstream = c
}

// SetDefaultTTLSeconds overrides the fallback TTL applied when neither the
// stored artifact nor the upstream response supplies one.
func (s *Service) SetDefaultTTLSeconds(seconds int) {
	s.defaultTTLSeconds = seconds
}

// SetGlobalForTesting installs s as the package-wide service instance so
// tests in other packages (notably invalidation) can exercise PurgeTenant,
// PurgeSupersededByEvent, and PurgeRevokeCapsuleEvent against a
// deterministic, in-memory-backed service.
func SetGlobalForTesting(s *Service) {
	svc = s
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

//encore:api public method=GET path=/healthz
func Healthz(ctx context.Context) (*HealthzResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return &HealthzResponse{Status: "healthy", Service: "scedge-cache", Version: "1.0.0"}, nil
}

// Metrics serves the Prometheus exposition format text, wrapped in the
// shared request logger so scrapes show up with the same request-id
// correlation as every other raw endpoint.
//
//encore:api public raw method=GET path=/metrics
func Metrics(w http.ResponseWriter, r *http.Request) {
	middleware.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		svc.metrics.Handler().ServeHTTP(w, r)
	})).ServeHTTP(w, r)
}
