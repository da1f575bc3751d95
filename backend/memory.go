package backend

import (
	"context"
	"sync"
	"time"

	"scedge.app/pkg/apperr"
	"scedge.app/pkg/models"
)

// MemoryBackend is a deterministic in-process implementation of Backend,
// used in tests and in single-node deployments with no external store
// configured. It is guarded by a single RWMutex, the same trade-off the
// teacher's L1Cache makes: acceptable for moderate throughput, a single
// global lock rather than sharded maps.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*models.CachedArtifact // physical key -> record
	matcher *PatternMatcher
	now     func() time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string]*models.CachedArtifact),
		matcher: NewPatternMatcher(),
		now:     time.Now,
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) (*models.CachedArtifact, error) {
	physKey := PhysicalKey(key)

	b.mu.RLock()
	record, exists := b.records[physKey]
	b.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if record.IsExpired(b.now()) {
		b.mu.Lock()
		delete(b.records, physKey)
		b.mu.Unlock()
		return nil, nil
	}

	return record.Clone(), nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, artifact models.ArtifactPayload, expiresAt *time.Time) (*models.CachedArtifact, error) {
	now := b.now()

	if expiresAt != nil {
		ttl := expiresAt.Sub(now)
		if ttl <= 0 {
			return nil, apperr.Internal(nil, "artifact already expired")
		}
	}

	record := &models.CachedArtifact{
		Key:       key,
		Artifact:  artifact,
		StoredAt:  now,
		ExpiresAt: expiresAt,
	}

	b.mu.Lock()
	b.records[PhysicalKey(key)] = record
	b.mu.Unlock()

	return record.Clone(), nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) (bool, error) {
	physKey := PhysicalKey(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.records[physKey]; !exists {
		return false, nil
	}
	delete(b.records, physKey)
	return true, nil
}

func (b *MemoryBackend) DeleteMany(_ context.Context, keys []string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, key := range keys {
		physKey := PhysicalKey(key)
		if _, exists := b.records[physKey]; exists {
			delete(b.records, physKey)
			count++
		}
	}
	return count, nil
}

func (b *MemoryBackend) ScanByPattern(_ context.Context, pattern string) ([]string, error) {
	now := b.now()

	b.mu.Lock()
	logicalKeys := make([]string, 0, len(b.records))
	var expired []string
	for physKey, record := range b.records {
		if record.IsExpired(now) {
			expired = append(expired, physKey)
			continue
		}
		logicalKeys = append(logicalKeys, record.Key)
	}
	for _, physKey := range expired {
		delete(b.records, physKey)
	}
	b.mu.Unlock()

	return b.matcher.Match(pattern, logicalKeys), nil
}
