package cache

import (
	"context"
	"errors"
	"time"

	"scedge.app/pkg/apperr"
	"scedge.app/pkg/models"
	"scedge.app/upstream"
)

// StoreRequest is the body of POST /store.
type StoreRequest struct {
	Key      string                  `json:"key"`
	Artifact models.ArtifactPayload  `json:"artifact"`
	APIKey   string                  `header:"X-Api-Key"`
}

// StoreResponse reports the outcome of a store call. The cache does not
// distinguish create from overwrite at this layer, so Status is always
// "created".
type StoreResponse struct {
	Key       string     `json:"key"`
	Status    string     `json:"status"`
	Hash      string     `json:"hash"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

//encore:api public method=POST path=/store
func Store(ctx context.Context, req *StoreRequest) (*StoreResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	resp, err := svc.Store(ctx, req)
	return resp, apperr.ToEncoreError(err)
}

func (s *Service) Store(ctx context.Context, req *StoreRequest) (*StoreResponse, error) {
	if req.Key == "" || req.Artifact.Hash == "" {
		return nil, apperr.BadRequest("key and artifact.hash must not be blank")
	}

	tenant := req.Artifact.Policy.Tenant
	if req.APIKey != "" {
		if err := s.policy.ValidateAPIKey(tenant, req.APIKey); err != nil {
			return nil, err
		}
	}

	var requestedTTL *int
	if req.Artifact.TTLSeconds > 0 {
		requestedTTL = &req.Artifact.TTLSeconds
	}
	if err := s.policy.ValidateTTL(tenant, requestedTTL); err != nil {
		return nil, err
	}
	var region *string
	if req.Artifact.Policy.Region != "" {
		region = &req.Artifact.Policy.Region
	}
	if err := s.policy.ValidateRegion(tenant, region); err != nil {
		return nil, err
	}
	if err := s.policy.ValidateCompliance(tenant, req.Artifact.Policy.PHI, req.Artifact.Policy.PII); err != nil {
		return nil, err
	}

	ttlEffective := req.Artifact.TTLSeconds
	if ttlEffective <= 0 {
		ttlEffective = s.defaultTTLSeconds
	}
	var expiresAt *time.Time
	if ttlEffective > 0 {
		t := s.now().Add(time.Duration(ttlEffective) * time.Second)
		expiresAt = &t
	}

	if _, err := s.facade.Set(ctx, req.Key, req.Artifact, expiresAt); err != nil {
		return nil, err
	}
	s.metrics.CacheStores.Inc()

	return &StoreResponse{
		Key:       req.Key,
		Status:    "created",
		Hash:      req.Artifact.Hash,
		ExpiresAt: expiresAt,
	}, nil
}

// LookupParams carries the query/header inputs of GET /lookup.
type LookupParams struct {
	Key    string  `query:"key"`
	Tenant *string `query:"tenant"`
	APIKey string  `header:"X-Api-Key"`
}

// LookupResponse is the hit-path response shape.
type LookupResponse struct {
	Key                 string                 `json:"key"`
	Artifact            models.ArtifactPayload `json:"artifact"`
	StoredAt            time.Time              `json:"stored_at"`
	ExpiresAt           *time.Time             `json:"expires_at,omitempty"`
	TTLRemainingSeconds *int64                 `json:"ttl_remaining_seconds,omitempty"`
}

//encore:api public method=GET path=/lookup
func Lookup(ctx context.Context, params *LookupParams) (*LookupResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	resp, err := svc.Lookup(ctx, params)
	return resp, apperr.ToEncoreError(err)
}

func (s *Service) Lookup(ctx context.Context, params *LookupParams) (*LookupResponse, error) {
	if params.Key == "" {
		return nil, apperr.BadRequest("key must not be blank")
	}

	record, err := s.facade.Get(ctx, params.Key)
	if err != nil {
		return nil, err
	}

	if record != nil {
		if params.Tenant != nil && *params.Tenant != "" && *params.Tenant != record.Artifact.Policy.Tenant {
			s.metrics.CacheMisses.Inc()
			return nil, apperr.NotFound("cache miss")
		}
		if params.APIKey != "" {
			if err := s.policy.ValidateAPIKey(record.Artifact.Policy.Tenant, params.APIKey); err != nil {
				return nil, err
			}
		}
		s.metrics.CacheHits.Inc()
		return s.toLookupResponse(record), nil
	}

	s.metrics.CacheMisses.Inc()
	if s.upstream == nil {
		return nil, apperr.NotFound("cache miss")
	}
	return s.hydrate(ctx, params.Key, params.Tenant, params.APIKey)
}

func (s *Service) hydrate(ctx context.Context, key string, tenant *string, apiKey string) (*LookupResponse, error) {
	start := s.now()
	s.metrics.UpstreamRequests.Inc()
	result, err := s.upstream.Lookup(ctx, key, tenant)
	s.metrics.UpstreamLatency.Observe(s.now().Sub(start).Seconds())

	if err != nil {
		s.metrics.UpstreamFailures.Inc()
		return nil, err
	}
	if result == nil {
		return nil, apperr.NotFound("cache miss")
	}

	if tenant != nil && *tenant != "" && *tenant != result.Artifact.Policy.Tenant {
		s.metrics.UpstreamFailures.Inc()
		return nil, apperr.NotFound("cache miss")
	}
	if apiKey != "" {
		if err := s.policy.ValidateAPIKey(result.Artifact.Policy.Tenant, apiKey); err != nil {
			return nil, err
		}
	}

	expiresAt := s.resolveHydratedExpiry(result)

	record, err := s.facade.Set(ctx, key, result.Artifact, expiresAt)
	if err != nil {
		return nil, err
	}
	s.metrics.CacheStores.Inc()

	return s.toLookupResponse(record), nil
}

// resolveHydratedExpiry implements the five-step fallback chain: the
// upstream record's explicit expires_at, then its ttl_remaining_seconds,
// then the artifact's own ttl_seconds, then the configured default, else
// none -- the first of these that yields a positive-TTL instant wins.
func (s *Service) resolveHydratedExpiry(result *upstream.LookupResult) *time.Time {
	now := s.now()

	if result.ExpiresAt != nil && result.ExpiresAt.After(now) {
		return result.ExpiresAt
	}
	if result.TTLRemainingSeconds != nil && *result.TTLRemainingSeconds > 0 {
		t := now.Add(time.Duration(*result.TTLRemainingSeconds) * time.Second)
		return &t
	}
	if result.Artifact.TTLSeconds > 0 {
		t := now.Add(time.Duration(result.Artifact.TTLSeconds) * time.Second)
		return &t
	}
	if s.defaultTTLSeconds > 0 {
		t := now.Add(time.Duration(s.defaultTTLSeconds) * time.Second)
		return &t
	}
	return nil
}

func (s *Service) toLookupResponse(record *models.CachedArtifact) *LookupResponse {
	return &LookupResponse{
		Key:                 record.Key,
		Artifact:            record.Artifact,
		StoredAt:            record.StoredAt,
		ExpiresAt:           record.ExpiresAt,
		TTLRemainingSeconds: record.TTLRemainingSeconds(s.now()),
	}
}
