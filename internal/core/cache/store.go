package cache

import (
	"context"
	"time"

	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/infrastructure/database"
	"recipe-extractor/internal/pkg/common"

	"github.com/rotisserie/eris"
)

// Store 以位元組儲存的鍵值快取，找不到時回傳 ok=false 而非錯誤
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ErrCorrupted 快取內容無法解碼
var ErrCorrupted = common.ErrCacheCorrupted

// NewStore 依設定的 driver 建立 Store；postgres 需要傳入連線池
func NewStore(cfg *config.Config, pool database.Pool) (Store, error) {
	switch cfg.Cache.Driver {
	case "", "memory":
		return NewMemoryStore(cfg.Cache.MaxSize, cfg.Cache.CleanupInterval), nil
	case "redis":
		return NewRedisStore(cfg.Cache)
	case "postgres":
		if pool == nil {
			return nil, eris.New("cache: postgres driver requires a database pool")
		}
		return NewPostgresStore(pool), nil
	default:
		return nil, eris.Errorf("cache: unknown driver %q", cfg.Cache.Driver)
	}
}
