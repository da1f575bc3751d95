// Package policy implements the tenant registry and credential/TTL/region
// validation gates every cache request passes through.
package policy

import (
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"scedge.app/pkg/apperr"
	"scedge.app/pkg/models"
)

// Engine holds the process-wide mutable tenant registry behind a
// reader/writer lock: writes (AddTenant) are rare, reads happen on every
// request.
type Engine struct {
	mu        sync.RWMutex
	tenants   map[string]models.TenantConfig
	jwtSecret []byte
}

// NewEngine creates an empty registry. Call LoadTenants at boot to
// populate it from configuration.
func NewEngine(jwtSecret string) *Engine {
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &Engine{
		tenants:   make(map[string]models.TenantConfig),
		jwtSecret: secret,
	}
}

// LoadTenants replaces the registry wholesale with already-parsed configs.
// This package does not read tenant_keys_path itself.
func (e *Engine) LoadTenants(configs []models.TenantConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tenants = make(map[string]models.TenantConfig, len(configs))
	for _, cfg := range configs {
		e.tenants[cfg.TenantID] = cfg
	}
}

// AddTenant registers or replaces a single tenant at runtime.
func (e *Engine) AddTenant(cfg models.TenantConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tenants[cfg.TenantID] = cfg
}

// SetJWTSecret updates the HMAC secret ValidateJWT verifies against,
// without disturbing the tenant registry -- used when the secret arrives
// from config after the registry is already populated.
func (e *Engine) SetJWTSecret(secret string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if secret == "" {
		e.jwtSecret = nil
		return
	}
	e.jwtSecret = []byte(secret)
}

func (e *Engine) tenant(tenantID string) (models.TenantConfig, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, ok := e.tenants[tenantID]
	return cfg, ok
}

// ValidateAPIKey fails if the tenant is unknown or the key mismatches.
// Per the error taxonomy, both cases surface as BadRequest, not a distinct
// Unauthorized status.
func (e *Engine) ValidateAPIKey(tenantID, key string) error {
	cfg, ok := e.tenant(tenantID)
	if !ok {
		return apperr.BadRequest("unknown tenant %s", tenantID)
	}
	if cfg.APIKey != key {
		return apperr.BadRequest("invalid API key for tenant %s", tenantID)
	}
	return nil
}

// ValidateTTL rejects a requested TTL above the tenant's ceiling. An
// absent tenant or absent TTL is permitted through.
func (e *Engine) ValidateTTL(tenantID string, ttlSeconds *int) error {
	if ttlSeconds == nil {
		return nil
	}
	cfg, ok := e.tenant(tenantID)
	if !ok || cfg.MaxTTLSeconds == nil {
		return nil
	}
	if *ttlSeconds > *cfg.MaxTTLSeconds {
		return apperr.BadRequest("TTL %d exceeds maximum allowed %d for tenant %s", *ttlSeconds, *cfg.MaxTTLSeconds, tenantID)
	}
	return nil
}

// ValidateRegion rejects a region outside the tenant's allow-list, when
// both a list and a region are supplied.
func (e *Engine) ValidateRegion(tenantID string, region *string) error {
	if region == nil || *region == "" {
		return nil
	}
	cfg, ok := e.tenant(tenantID)
	if !ok || len(cfg.AllowedRegions) == 0 {
		return nil
	}
	for _, allowed := range cfg.AllowedRegions {
		if allowed == *region {
			return nil
		}
	}
	return apperr.BadRequest("region %s not allowed for tenant %s", *region, tenantID)
}

// ValidateCompliance is, today, a logging-only pass-through: it must still
// be invoked on every store so that tightening it into an enforcement gate
// later is a one-line change.
func (e *Engine) ValidateCompliance(tenantID string, phi, pii bool) error {
	cfg, ok := e.tenant(tenantID)
	if !ok {
		return nil
	}
	if (cfg.RequirePHICompliance && !phi) || (cfg.RequirePIICompliance && !pii) {
		log.Printf("[INFO] compliance flags for tenant %s did not match registration (phi=%v pii=%v) -- not enforced", tenantID, phi, pii)
	}
	return nil
}

// Claims is the minimal bearer-token claim set this engine verifies.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// ValidateJWT verifies an HMAC-SHA256 bearer token and its expiration.
// Only usable once a secret has been configured.
func (e *Engine) ValidateJWT(token string) (*Claims, error) {
	if len(e.jwtSecret) == 0 {
		return nil, apperr.Internal(nil, "jwt validation requested but no secret configured")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.BadRequest("unexpected signing method")
		}
		return e.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, apperr.BadRequest("invalid token: %v", err)
	}
	if !parsed.Valid {
		return nil, apperr.BadRequest("invalid token")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, apperr.BadRequest("token expired")
	}
	return claims, nil
}
