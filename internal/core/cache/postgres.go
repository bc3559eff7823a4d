package cache

import (
	"context"
	"errors"
	"time"

	"recipe-extractor/internal/infrastructure/database"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

const (
	selectEntrySQL = `SELECT payload FROM extraction_cache WHERE cache_key = $1 AND expires_at > $2`
	upsertEntrySQL = `INSERT INTO extraction_cache (cache_key, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (cache_key) DO UPDATE
		SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, updated_at = now()`
	deleteEntrySQL  = `DELETE FROM extraction_cache WHERE cache_key = $1`
	purgeExpiredSQL = `DELETE FROM extraction_cache WHERE expires_at <= $1`
)

// noExpiry 沒有 ttl 的項目使用的過期時間
var noExpiry = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// PostgresStore 以 extraction_cache 資料表實作 Store
type PostgresStore struct {
	pool database.Pool
	now  func() time.Time
}

// NewPostgresStore 建立 Postgres 快取
func NewPostgresStore(pool database.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Get 讀取未過期的快取
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, selectEntrySQL, key, s.now().UTC()).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: select %s", key)
	}
	return payload, true, nil
}

// Set 以 upsert 寫入
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := noExpiry
	if ttl > 0 {
		expiresAt = s.now().UTC().Add(ttl)
	}
	if _, err := s.pool.Exec(ctx, upsertEntrySQL, key, value, expiresAt); err != nil {
		return eris.Wrapf(err, "cache: upsert %s", key)
	}
	return nil
}

// Delete 刪除快取
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, deleteEntrySQL, key); err != nil {
		return eris.Wrapf(err, "cache: delete %s", key)
	}
	return nil
}

// PurgeExpired 刪除過期資料列
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, purgeExpiredSQL, s.now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "cache: purge expired")
	}
	return tag.RowsAffected(), nil
}

// Close 連線池由呼叫端管理
func (s *PostgresStore) Close() error {
	return nil
}
