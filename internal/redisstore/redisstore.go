// Package redisstore is the Block Store's optional distributed mirror
// cache (blockstore.Mirror): a fast, best-effort membership cache for
// hasChunk lookups across processes sharing one disk-backed queue. It is
// never the source of truth — bbolt (internal/blockstore) is. Methods
// here return redis errors to their caller; the Block Store is what
// ignores them and falls back to bbolt.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/voltrail/upload-engine/internal/config"
)

// RedisClient is the subset of *redis.Client this package calls, kept as
// an interface so tests can substitute a mock.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Mirror is the redis-backed blockstore.Mirror implementation.
type Mirror struct {
	client RedisClient
	log    *zap.Logger
	ttl    time.Duration
}

// New builds a redis-backed mirror cache from cfg. If cfg.RedisAddr is
// empty, callers should skip wiring a mirror entirely rather than call
// New with an unreachable address.
func New(cfg *config.Config, log *zap.Logger) *Mirror {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Mirror{client: client, log: log, ttl: 7 * 24 * time.Hour}
}

func chunkKey(fileID string, index int) string {
	return fmt.Sprintf("chunk_uploaded:%s:%05d", fileID, index)
}

func filePrefix(fileID string) string {
	return "chunk_uploaded:" + fileID + ":*"
}

// MarkUploaded records that (fileID, index) has been persisted.
func (m *Mirror) MarkUploaded(ctx context.Context, fileID string, index int) error {
	if err := m.client.Set(ctx, chunkKey(fileID, index), true, m.ttl).Err(); err != nil {
		m.log.Debug("redisstore: MarkUploaded failed", zap.Error(err))
		return err
	}
	return nil
}

// IsUploaded reports whether (fileID, index) is marked in the mirror.
func (m *Mirror) IsUploaded(ctx context.Context, fileID string, index int) (bool, error) {
	res, err := m.client.Get(ctx, chunkKey(fileID, index)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res == "1" || res == "true", nil
}

// ForgetFile removes every mirrored entry for fileID.
func (m *Mirror) ForgetFile(ctx context.Context, fileID string) error {
	iter := m.client.Scan(ctx, 0, filePrefix(fileID), 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return m.client.Del(ctx, keys...).Err()
}
