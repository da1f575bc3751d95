// Package backend implements the storage-backend capability set: a
// polymorphic persistence layer for CachedArtifact records, namespaced
// under physical keys and honoring native TTL where the underlying store
// supports it.
package backend

import (
	"context"
	"time"

	"scedge.app/pkg/models"
)

// PhysicalKeyPrefix namespaces logical keys in the underlying store.
const PhysicalKeyPrefix = "scedge:artifact:"

// PhysicalKey returns the namespaced physical key for a logical key.
func PhysicalKey(key string) string {
	return PhysicalKeyPrefix + key
}

// Backend is the capability set every storage implementation must provide.
// Get returns (nil, nil) when the key is absent or has expired; an expired
// record is best-effort deleted as a side effect, and that deletion's
// failure is never surfaced to the caller.
type Backend interface {
	Get(ctx context.Context, key string) (*models.CachedArtifact, error)
	Set(ctx context.Context, key string, artifact models.ArtifactPayload, expiresAt *time.Time) (*models.CachedArtifact, error)
	Delete(ctx context.Context, key string) (bool, error)
	DeleteMany(ctx context.Context, keys []string) (int, error)
	ScanByPattern(ctx context.Context, pattern string) ([]string, error)
}
