package usage

import (
	"context"
	"errors"
	"time"

	"recipe-extractor/internal/infrastructure/database"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

const (
	// 條件式 upsert：已達上限時不更新也不回傳資料列
	reserveSQL = `INSERT INTO extraction_usage (user_id, period, used, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (user_id, period) DO UPDATE
		SET used = extraction_usage.used + 1, updated_at = now()
		WHERE extraction_usage.used < $3
		RETURNING used`
	reserveUnlimitedSQL = `INSERT INTO extraction_usage (user_id, period, used, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (user_id, period) DO UPDATE
		SET used = extraction_usage.used + 1, updated_at = now()
		RETURNING used`
	releaseSQL = `UPDATE extraction_usage SET used = used - 1, updated_at = now()
		WHERE user_id = $1 AND period = $2 AND used > 0`
)

// PostgresGate 以 extraction_usage 資料表計數
type PostgresGate struct {
	pool  database.Pool
	limit int
	now   func() time.Time
}

// NewPostgresGate limit <= 0 表示不限
func NewPostgresGate(pool database.Pool, limit int) *PostgresGate {
	return &PostgresGate{pool: pool, limit: limit, now: time.Now}
}

// CheckAndReserve 在單一陳述式中檢查並預扣一次額度
func (g *PostgresGate) CheckAndReserve(ctx context.Context, userID string) (Decision, error) {
	period := Period(g.now())

	var used int
	var err error
	if g.limit <= 0 {
		err = g.pool.QueryRow(ctx, reserveUnlimitedSQL, userID, period).Scan(&used)
	} else {
		err = g.pool.QueryRow(ctx, reserveSQL, userID, period, g.limit).Scan(&used)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return Decision{Allowed: false, Remaining: 0}, nil
	}
	if err != nil {
		return Decision{}, eris.Wrapf(err, "usage: reserve for %s", userID)
	}
	if g.limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	return Decision{Allowed: true, Remaining: max(g.limit-used, 0)}, nil
}

// Release 退還一次額度，不會低於零
func (g *PostgresGate) Release(ctx context.Context, userID string) error {
	if _, err := g.pool.Exec(ctx, releaseSQL, userID, Period(g.now())); err != nil {
		return eris.Wrapf(err, "usage: release for %s", userID)
	}
	return nil
}
