package database

import (
	"context"

	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/pkg/common"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool 快取與額度計數使用的最小連線池介面，pgxpool.Pool 與 pgxmock 皆可滿足
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Connect 建立 Postgres 連線池
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "database: parse url")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "database: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "database: ping")
	}

	common.LogInfo("資料庫已連線",
		zap.Int32("max_conns", poolCfg.MaxConns),
	)
	return pool, nil
}

// schema 依序執行，皆可重複執行
var schema = []string{
	`CREATE TABLE IF NOT EXISTS extraction_cache (
		cache_key  TEXT PRIMARY KEY,
		payload    BYTEA NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS extraction_cache_expires_idx ON extraction_cache (expires_at)`,
	`CREATE TABLE IF NOT EXISTS extraction_usage (
		user_id    TEXT NOT NULL,
		period     TEXT NOT NULL,
		used       INTEGER NOT NULL DEFAULT 0 CHECK (used >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, period)
	)`,
}

// Migrate 建立快取與額度資料表
func Migrate(ctx context.Context, pool Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return eris.Wrapf(err, "database: migrate statement %d", i+1)
		}
	}
	common.LogInfo("資料表遷移完成", zap.Int("statements", len(schema)))
	return nil
}
