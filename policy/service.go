package policy

import (
	"context"
	"errors"
	"sync"

	"scedge.app/pkg/apperr"
	"scedge.app/pkg/models"
)

// Service exposes the tenant registry for administrative management,
// following the teacher's own //encore:service-around-a-plain-struct
// convention (cache-manager/service.go, invalidation/service.go).
//
//encore:service
type Service struct {
	engine *Engine
}

var (
	svc  *Service
	once sync.Once
)

func initService() (*Service, error) {
	once.Do(func() {
		svc = &Service{engine: NewEngine("")}
	})
	return svc, nil
}

func init() {
	var err error
	svc, err = initService()
	if err != nil {
		panic("failed to initialize policy service: " + err.Error())
	}
}

// Shared returns the process-wide tenant registry, so the cache service's
// initService can validate requests against the same registry this service's
// administrative endpoints mutate -- the same in-process sharing pattern the
// invalidation service uses to call cache.PurgeTenant directly.
func Shared() *Engine {
	if svc == nil {
		return nil
	}
	return svc.engine
}

// AddTenantRequest registers or replaces a tenant's policy configuration.
type AddTenantRequest struct {
	TenantID             string   `json:"tenant_id"`
	APIKey               string   `json:"api_key"`
	MaxTTLSeconds        *int     `json:"max_ttl_seconds,omitempty"`
	AllowedRegions       []string `json:"allowed_regions,omitempty"`
	RequirePHICompliance bool     `json:"require_phi_compliance,omitempty"`
	RequirePIICompliance bool     `json:"require_pii_compliance,omitempty"`
}

type AddTenantResponse struct {
	TenantID string `json:"tenant_id"`
}

//encore:api public method=POST path=/policy/tenants
func AddTenant(ctx context.Context, req *AddTenantRequest) (*AddTenantResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	resp, err := svc.AddTenant(ctx, req)
	return resp, apperr.ToEncoreError(err)
}

func (s *Service) AddTenant(ctx context.Context, req *AddTenantRequest) (*AddTenantResponse, error) {
	if req.TenantID == "" {
		return nil, apperr.BadRequest("tenant_id is required")
	}
	if req.APIKey == "" {
		return nil, apperr.BadRequest("api_key is required")
	}

	s.engine.AddTenant(models.TenantConfig{
		TenantID:             req.TenantID,
		APIKey:               req.APIKey,
		MaxTTLSeconds:        req.MaxTTLSeconds,
		AllowedRegions:       req.AllowedRegions,
		RequirePHICompliance: req.RequirePHICompliance,
		RequirePIICompliance: req.RequirePIICompliance,
	})
	return &AddTenantResponse{TenantID: req.TenantID}, nil
}

// GetTenantResponse lets an operator confirm a tenant's registered policy
// without exposing its API key.
type GetTenantResponse struct {
	TenantID             string   `json:"tenant_id"`
	MaxTTLSeconds        *int     `json:"max_ttl_seconds,omitempty"`
	AllowedRegions       []string `json:"allowed_regions,omitempty"`
	RequirePHICompliance bool     `json:"require_phi_compliance"`
	RequirePIICompliance bool     `json:"require_pii_compliance"`
}

//encore:api public method=GET path=/policy/tenants/:tenant_id
func GetTenant(ctx context.Context, tenantID string) (*GetTenantResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	resp, err := svc.GetTenant(ctx, tenantID)
	return resp, apperr.ToEncoreError(err)
}

func (s *Service) GetTenant(ctx context.Context, tenantID string) (*GetTenantResponse, error) {
	cfg, ok := s.engine.tenant(tenantID)
	if !ok {
		return nil, apperr.NotFound("unknown tenant %s", tenantID)
	}
	return &GetTenantResponse{
		TenantID:             cfg.TenantID,
		MaxTTLSeconds:        cfg.MaxTTLSeconds,
		AllowedRegions:       cfg.AllowedRegions,
		RequirePHICompliance: cfg.RequirePHICompliance,
		RequirePIICompliance: cfg.RequirePIICompliance,
	}, nil
}
