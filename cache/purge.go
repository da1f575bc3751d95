package cache

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"scedge.app/pkg/apperr"
)

const provenanceScanConcurrency = 16

// PurgeRequest is the body of POST /purge. Exactly one discriminator must
// be set; when more than one is, keys wins, then tenant, then provenance.
type PurgeRequest struct {
	Keys           []string `json:"keys,omitempty"`
	Tenant         *string  `json:"tenant,omitempty"`
	ProvenanceHash *string  `json:"provenance_hash,omitempty"`
	APIKey         string   `header:"X-Api-Key"`
}

type PurgeResponse struct {
	Purged int `json:"purged"`
}

//encore:api public method=POST path=/purge
func Purge(ctx context.Context, req *PurgeRequest) (*PurgeResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	resp, err := svc.Purge(ctx, req)
	return resp, apperr.ToEncoreError(err)
}

func (s *Service) Purge(ctx context.Context, req *PurgeRequest) (*PurgeResponse, error) {
	var (
		count int
		err   error
	)

	if req.Tenant != nil && *req.Tenant != "" && req.APIKey != "" {
		if verr := s.policy.ValidateAPIKey(*req.Tenant, req.APIKey); verr != nil {
			return nil, verr
		}
	}

	switch {
	case len(req.Keys) > 0:
		count, err = s.facade.DeleteMany(ctx, req.Keys)
	case req.Tenant != nil && *req.Tenant != "":
		count, err = s.PurgeByTenant(ctx, *req.Tenant)
	case req.ProvenanceHash != nil && *req.ProvenanceHash != "":
		count, err = s.purgeByProvenanceHash(ctx, *req.ProvenanceHash)
	default:
		return nil, apperr.BadRequest("purge requires exactly one of keys, tenant, or provenance_hash")
	}

	if err != nil {
		return nil, err
	}
	s.metrics.CachePurges.Add(float64(count))
	return &PurgeResponse{Purged: count}, nil
}

// PurgeByTenant scans "<tenant>:*" and deletes every match. Exported so the
// invalidation service can drive INVALIDATE_TENANT the same way the HTTP
// purge-by-tenant path does.
func (s *Service) PurgeByTenant(ctx context.Context, tenant string) (int, error) {
	keys, err := s.facade.ScanByPattern(ctx, tenant+":*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.facade.DeleteMany(ctx, keys)
}

// purgeByProvenanceHash scans every key, fetching records concurrently
// (bounded, since the hydration path explicitly forgoes single-flight but
// an unbounded fan-out here would still be a self-inflicted stampede) and
// purges any whose artifact hash or provenance chain matches.
func (s *Service) purgeByProvenanceHash(ctx context.Context, hash string) (int, error) {
	keys, err := s.facade.ScanByPattern(ctx, "*")
	if err != nil {
		return 0, err
	}

	matched, err := s.scanMatchingProvenance(ctx, keys, hash)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}
	return s.facade.DeleteMany(ctx, matched)
}

// PurgeSupersededBy implements the SUPERSEDED_BY event: scan the tenant's
// keys, purge any record whose hash or provenance chain contains old_hash.
func (s *Service) PurgeSupersededBy(ctx context.Context, tenant, oldHash string) (int, error) {
	keys, err := s.facade.ScanByPattern(ctx, tenant+":*")
	if err != nil {
		return 0, err
	}
	matched, err := s.scanMatchingProvenance(ctx, keys, oldHash)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}
	return s.facade.DeleteMany(ctx, matched)
}

// PurgeRevokeCapsule implements REVOKE_CAPSULE: scan the tenant's keys,
// purge records whose provenance source substring-contains capsuleID.
func (s *Service) PurgeRevokeCapsule(ctx context.Context, tenant, capsuleID string) (int, error) {
	keys, err := s.facade.ScanByPattern(ctx, tenant+":*")
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(provenanceScanConcurrency)

	var mu sync.Mutex
	var matched []string

	for _, key := range keys {
		key := key
		g.Go(func() error {
			record, err := s.facade.Get(gctx, key)
			if err != nil {
				return err
			}
			if record == nil {
				return nil
			}
			if record.Artifact.HasProvenanceSourceContaining(capsuleID) {
				mu.Lock()
				matched = append(matched, key)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}
	return s.facade.DeleteMany(ctx, matched)
}

// The three functions below are the in-process call surface the
// invalidation service drives directly (package import, not a network
// hop), the same way the teacher's cache-manager imports the invalidation
// package's topic in cache-manager/subscriptions.go.

// PurgeTenant purges every record under "<tenant>:*", for INVALIDATE_TENANT.
func PurgeTenant(ctx context.Context, tenant string) (int, error) {
	if svc == nil {
		return 0, errors.New("service not initialized")
	}
	return svc.PurgeByTenant(ctx, tenant)
}

// PurgeSupersededByEvent drives the SUPERSEDED_BY event.
func PurgeSupersededByEvent(ctx context.Context, tenant, oldHash string) (int, error) {
	if svc == nil {
		return 0, errors.New("service not initialized")
	}
	return svc.PurgeSupersededBy(ctx, tenant, oldHash)
}

// PurgeRevokeCapsuleEvent drives the REVOKE_CAPSULE event.
func PurgeRevokeCapsuleEvent(ctx context.Context, tenant, capsuleID string) (int, error) {
	if svc == nil {
		return 0, errors.New("service not initialized")
	}
	return svc.PurgeRevokeCapsule(ctx, tenant, capsuleID)
}

func (s *Service) scanMatchingProvenance(ctx context.Context, keys []string, hash string) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(provenanceScanConcurrency)

	var mu sync.Mutex
	var matched []string

	for _, key := range keys {
		key := key
		g.Go(func() error {
			record, err := s.facade.Get(gctx, key)
			if err != nil {
				return err
			}
			if record == nil {
				return nil
			}
			if record.Artifact.HasProvenanceHash(hash) {
				mu.Lock()
				matched = append(matched, key)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return matched, nil
}
