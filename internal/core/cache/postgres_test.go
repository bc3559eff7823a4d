package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s := NewPostgresStore(mock)
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, mock
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockStore(t)
	now := s.now()

	mock.ExpectQuery(`SELECT payload FROM extraction_cache`).
		WithArgs("result:u", now).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow([]byte(`{"x":1}`)))
	mock.ExpectQuery(`SELECT payload FROM extraction_cache`).
		WithArgs("result:missing", now).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT payload FROM extraction_cache`).
		WithArgs("result:broken", now).
		WillReturnError(assert.AnError)

	v, ok, err := s.Get(context.Background(), "result:u")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"x":1}`, string(v))

	_, ok, err = s.Get(context.Background(), "result:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.Get(context.Background(), "result:broken")
	assert.ErrorIs(t, err, assert.AnError)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetAndDelete(t *testing.T) {
	s, mock := newMockStore(t)
	now := s.now()

	mock.ExpectExec(`INSERT INTO extraction_cache .* ON CONFLICT \(cache_key\) DO UPDATE`).
		WithArgs("evidence:u", []byte("data"), now.Add(24*time.Hour)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO extraction_cache`).
		WithArgs("evidence:forever", []byte("data"), noExpiry).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM extraction_cache WHERE cache_key`).
		WithArgs("evidence:u").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM extraction_cache WHERE expires_at`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "evidence:u", []byte("data"), 24*time.Hour))
	require.NoError(t, s.Set(ctx, "evidence:forever", []byte("data"), 0))
	require.NoError(t, s.Delete(ctx, "evidence:u"))

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, mock.ExpectationsWereMet())
}
