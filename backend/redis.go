package backend

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"scedge.app/pkg/apperr"
	"scedge.app/pkg/models"
)

// RedisBackend is the production storage backend: a multiplexed connection
// to an external key-value store, namespacing logical keys under
// PhysicalKeyPrefix and relying on native key TTL rather than an
// application-level sweep.
type RedisBackend struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisBackend wraps an already-configured *redis.Client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, now: time.Now}
}

func (b *RedisBackend) Get(ctx context.Context, key string) (*models.CachedArtifact, error) {
	physKey := PhysicalKey(key)

	raw, err := b.client.Get(ctx, physKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "backend get failed for %s", key)
	}

	var record models.CachedArtifact
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, apperr.Internal(err, "backend record for %s is corrupt", key)
	}

	if record.IsExpired(b.now()) {
		_ = b.client.Del(ctx, physKey).Err()
		return nil, nil
	}

	return &record, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, artifact models.ArtifactPayload, expiresAt *time.Time) (*models.CachedArtifact, error) {
	now := b.now()

	var ttl time.Duration
	if expiresAt != nil {
		ttl = expiresAt.Sub(now)
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

	data, err := json.Marshal(record)
	if err != nil {
		return nil, apperr.Internal(err, "failed to serialize record for %s", key)
	}

	// ttl == 0 means no expiry: go-redis treats a zero expiration as "no TTL",
	// matching the non-expiring-record contract.
	if err := b.client.Set(ctx, PhysicalKey(key), data, ttl).Err(); err != nil {
		return nil, apperr.Internal(err, "backend set failed for %s", key)
	}

	return record, nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Del(ctx, PhysicalKey(key)).Result()
	if err != nil {
		return false, apperr.Internal(err, "backend delete failed for %s", key)
	}
	return n > 0, nil
}

func (b *RedisBackend) DeleteMany(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	physKeys := make([]string, len(keys))
	for i, key := range keys {
		physKeys[i] = PhysicalKey(key)
	}
	n, err := b.client.Del(ctx, physKeys...).Result()
	if err != nil {
		return 0, apperr.Internal(err, "backend delete_many failed")
	}
	return int(n), nil
}

// ScanByPattern uses a cursor-based SCAN rather than KEYS so enumeration
// never blocks the server on a large keyspace.
func (b *RedisBackend) ScanByPattern(ctx context.Context, pattern string) ([]string, error) {
	physPattern := PhysicalKey(pattern)

	var keys []string
	iter := b.client.Scan(ctx, 0, physPattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), PhysicalKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, apperr.Internal(err, "backend scan failed for pattern %s", pattern)
	}
	return keys, nil
}
