package cache

import (
	"context"
	"errors"
	"time"

	"recipe-extractor/internal/infrastructure/config"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
)

const redisKeyPrefix = "recipe-extractor:"

// RedisStore 以 Redis 實作 Store，可供多個實例共用
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 連線 Redis 並確認可用
func NewRedisStore(cfg config.CacheConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "cache: connect redis")
	}
	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient 使用既有的 client
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get 讀取快取
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: redis get")
	}
	return data, true, nil
}

// Set 寫入快取
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		return eris.Wrap(err, "cache: redis set")
	}
	return nil
}

// Delete 刪除快取
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return eris.Wrap(err, "cache: redis delete")
	}
	return nil
}

// Close 關閉連線
func (s *RedisStore) Close() error {
	return s.client.Close()
}
