package kv

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps keys in a Postgres table; expired rows are invisible and
// removed by Purge.
type PGStore struct {
	pool  *pgxpool.Pool
	owned bool
}

// NewPGStore connects to url and owns the resulting pool.
func NewPGStore(ctx context.Context, url string) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PGStore{pool: p, owned: true}, nil
}

// NewPGStoreFromPool shares a pool owned by someone else.
func NewPGStoreFromPool(p *pgxpool.Pool) *PGStore {
	return &PGStore{pool: p}
}

func (s *PGStore) Migrate(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS session_kv (
  key        TEXT PRIMARY KEY,
  value      BYTEA NOT NULL,
  expires_at TIMESTAMP WITH TIME ZONE
);

CREATE INDEX IF NOT EXISTS session_kv_expires_idx
  ON session_kv (expires_at);
`
	_, err := s.pool.Exec(ctx, q)
	return err
}

func (s *PGStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const q = `
		INSERT INTO session_kv (key, value, expires_at)
		VALUES ($1, $2, CASE WHEN $3::bigint > 0 THEN now() + $3::bigint * interval '1 millisecond' END)
		ON CONFLICT (key) DO UPDATE SET
			value      = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at;`
	_, err := s.pool.Exec(ctx, q, key, value, ttl.Milliseconds())
	return err
}

func (s *PGStore) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `
		SELECT value FROM session_kv
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`
	var v []byte
	if err := s.pool.QueryRow(ctx, q, key).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (s *PGStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	const q = `
		UPDATE session_kv
		SET expires_at = CASE WHEN $2::bigint > 0 THEN now() + $2::bigint * interval '1 millisecond' END
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`
	tag, err := s.pool.Exec(ctx, q, key, ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	const q = `
		WITH gone AS (
			DELETE FROM session_kv WHERE key = ANY($1) RETURNING expires_at
		)
		SELECT count(*) FROM gone WHERE expires_at IS NULL OR expires_at > now()`
	var n int
	err := s.pool.QueryRow(ctx, q, keys).Scan(&n)
	return n, err
}

func (s *PGStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	const q = `
		SELECT key FROM session_kv
		WHERE key LIKE $1 ESCAPE '\' AND (expires_at IS NULL OR expires_at > now())
		ORDER BY key`
	rows, err := s.pool.Query(ctx, q, globToLike(pattern))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Purge deletes expired rows and reports how many were removed.
func (s *PGStore) Purge(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM session_kv WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}
