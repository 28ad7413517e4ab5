package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// firingRecord is the msgpack payload stored per alert type
type firingRecord struct {
	Type    string    `msgpack:"type"`
	FiredAt time.Time `msgpack:"fired_at"`
}

// RedisSuppressionStore shares suppression windows and cooldown firings
// across instances. Keys expire via redis TTLs, so membership alone decides
// suppression. Implements SuppressionStore.
type RedisSuppressionStore struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisSuppressionStore connects to redis
func NewRedisSuppressionStore(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisSuppressionStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	return &RedisSuppressionStore{client: client, logger: logger}
}

// Ping tests the connection
func (s *RedisSuppressionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the connection
func (s *RedisSuppressionStore) Close() error {
	return s.client.Close()
}

func suppressionKey(fingerprint string) string {
	return "argus:suppress:" + fingerprint
}

func cooldownKey(alertType string) string {
	return "argus:cooldown:" + alertType
}

// Suppress implements SuppressionStore
func (s *RedisSuppressionStore) Suppress(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if err := s.client.Set(ctx, suppressionKey(fingerprint), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set suppression key: %w", err)
	}
	return nil
}

// IsSuppressed implements SuppressionStore
func (s *RedisSuppressionStore) IsSuppressed(ctx context.Context, fingerprint string) (bool, error) {
	n, err := s.client.Exists(ctx, suppressionKey(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check suppression key: %w", err)
	}
	return n > 0, nil
}

// RecordFiring implements SuppressionStore
func (s *RedisSuppressionStore) RecordFiring(ctx context.Context, alertType string, at time.Time, ttl time.Duration) error {
	data, err := msgpack.Marshal(&firingRecord{Type: alertType, FiredAt: at})
	if err != nil {
		return fmt.Errorf("failed to marshal firing record: %w", err)
	}
	if err := s.client.Set(ctx, cooldownKey(alertType), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cooldown key: %w", err)
	}
	return nil
}

// LastFiring implements SuppressionStore
func (s *RedisSuppressionStore) LastFiring(ctx context.Context, alertType string) (time.Time, bool, error) {
	data, err := s.client.Get(ctx, cooldownKey(alertType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get cooldown key: %w", err)
	}
	var rec firingRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to unmarshal firing record: %w", err)
	}
	return rec.FiredAt, true, nil
}

// compile-time interface check
var _ SuppressionStore = (*RedisSuppressionStore)(nil)
