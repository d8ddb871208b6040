package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/contractlens/pkg/models"
)

// PGIndex stores passages in Postgres with pgvector.
type PGIndex struct {
	pool *pgxpool.Pool
}

// NewPGIndex creates a new PGIndex connected to the given database URL.
func NewPGIndex(ctx context.Context, url string) (*PGIndex, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PGIndex{pool: p}, nil
}

// NewPGIndexFromPool shares an existing pool, e.g. with the session store.
func NewPGIndexFromPool(p *pgxpool.Pool) *PGIndex { return &PGIndex{pool: p} }

func (s *PGIndex) Close() { s.pool.Close() }

// Pool exposes the underlying pool for components sharing the database.
func (s *PGIndex) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies necessary database migrations and schema setup.
func (s *PGIndex) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS passages (
  id           TEXT NOT NULL,
  collection   TEXT NOT NULL,
  session_id   TEXT NOT NULL,
  seq          INT NOT NULL,
  clause_label TEXT NOT NULL DEFAULT '',
  page         INT NOT NULL DEFAULT 0,
  content      TEXT NOT NULL,
  embedding    vector(%d) NOT NULL,
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now(),
  PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS passages_session_idx
  ON passages (session_id);

CREATE INDEX IF NOT EXISTS passages_embedding_idx
  ON passages USING hnsw (embedding vector_cosine_ops);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// Upsert writes all items in one transaction.
func (s *PGIndex) Upsert(ctx context.Context, sessionID string, items []models.IndexItem) error {
	if len(items) == 0 {
		return nil
	}
	const q = `
		INSERT INTO passages (id, collection, session_id, seq, clause_label, page, content, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (collection, id) DO UPDATE SET
			seq          = EXCLUDED.seq,
			clause_label = EXCLUDED.clause_label,
			page         = EXCLUDED.page,
			content      = EXCLUDED.content,
			embedding    = EXCLUDED.embedding;`

	coll := CollectionName(sessionID)
	batch := &pgx.Batch{}
	for _, it := range items {
		c := it.Chunk
		batch.Queue(q, c.ID, coll, sessionID, c.Index, c.ClauseLabel, c.Page, c.Text, pgvector.NewVector(it.Vector))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert passages: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PGIndex) Query(ctx context.Context, sessionID string, vec []float32, k int) ([]models.RetrievedChunk, error) {
	out := []models.RetrievedChunk{}
	if k <= 0 {
		return out, nil
	}
	const q = `
		SELECT id, seq, clause_label, page, content, embedding <=> $2 AS distance
		FROM passages
		WHERE collection = $1
		ORDER BY distance
		LIMIT $3`

	rows, err := s.pool.Query(ctx, q, CollectionName(sessionID), pgvector.NewVector(vec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r models.RetrievedChunk
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.Index, &r.Chunk.ClauseLabel, &r.Chunk.Page, &r.Chunk.Text, &r.Distance); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGIndex) Drop(ctx context.Context, sessionID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM passages WHERE collection = $1`, CollectionName(sessionID))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Sessions returns a list of all sessions owning passages.
func (s *PGIndex) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT session_id FROM passages ORDER BY session_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGIndex) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM passages WHERE collection = $1`, CollectionName(sessionID)).Scan(&n)
	return n, err
}

// Ping checks the database connectivity.
func (s *PGIndex) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
