package cache

import (
	"context"
	"time"

	"scedge.app/backend"
	"scedge.app/pkg/models"
)

// Facade is the thin forwarder described by C2: it fixes the physical-key
// namespace and serialization format (left to backend.Backend) and is the
// single place that guarantees I3 (expiry-on-read) and I5 (lossless
// round-trip) hold regardless of which Backend is wired in. Backend.Get
// already enforces I3 itself; the facade exists so the pipeline never
// talks to a Backend directly, keeping that guarantee in one named place.
type Facade struct {
	backend backend.Backend
}

func NewFacade(b backend.Backend) *Facade {
	return &Facade{backend: b}
}

func (f *Facade) Get(ctx context.Context, key string) (*models.CachedArtifact, error) {
	return f.backend.Get(ctx, key)
}

func (f *Facade) Set(ctx context.Context, key string, artifact models.ArtifactPayload, expiresAt *time.Time) (*models.CachedArtifact, error) {
	return f.backend.Set(ctx, key, artifact, expiresAt)
}

func (f *Facade) Delete(ctx context.Context, key string) (bool, error) {
	return f.backend.Delete(ctx, key)
}

func (f *Facade) DeleteMany(ctx context.Context, keys []string) (int, error) {
	return f.backend.DeleteMany(ctx, keys)
}

func (f *Facade) ScanByPattern(ctx context.Context, pattern string) ([]string, error) {
	return f.backend.ScanByPattern(ctx, pattern)
}
