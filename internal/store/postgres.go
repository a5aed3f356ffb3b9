package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"faq-rag/internal/embeddings"
)

type PostgresStore struct {
	db        *sql.DB
	dimension int
}

func NewPostgres(dsn string, dimension int) (*PostgresStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db, dimension: dimension}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Advisory lock keeps replicas that start together from racing the DDL.
	const lockID = 424242001

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if !acquired {
		// Another replica is migrating; give it a moment and carry on.
		time.Sleep(2 * time.Second)
		return nil
	}

	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS passages (
			id UUID PRIMARY KEY,
			source_id TEXT NOT NULL,
			ord INT NOT NULL,
			text TEXT NOT NULL,
			vector vector(%d) NOT NULL,
			inserted_at TIMESTAMPTZ DEFAULT now()
		)`, s.dimension)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS passages_source_idx ON passages(source_id)`); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS passages_vector_idx
		ON passages USING ivfflat (vector vector_cosine_ops)
		WITH (lists = 100)
	`)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, passages []Passage) error {
	for _, p := range passages {
		if len(p.Vector) != s.dimension {
			return ErrDimensionMismatch
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, p := range passages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO passages(id, source_id, ord, text, vector)
			VALUES($1,$2,$3,$4,$5::vector)
			ON CONFLICT (id) DO UPDATE SET source_id=excluded.source_id, ord=excluded.ord,
				text=excluded.text, vector=excluded.vector`,
			p.ID, p.SourceID, p.Index, p.Text, vectorToString(p.Vector))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) TopK(ctx context.Context, vector embeddings.Vector, k int) ([]SearchResult, error) {
	if len(vector) != s.dimension {
		return nil, ErrDimensionMismatch
	}
	queryVec := vectorToString(vector)

	// Ties fall back to insertion order so results are stable.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, ord, text, 1 - (vector <=> $1::vector) AS similarity
		FROM passages
		ORDER BY vector <=> $1::vector, inserted_at, ord
		LIMIT $2
	`, queryVec, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			id         uuid.UUID
			p          Passage
			similarity float32
		)
		if err := rows.Scan(&id, &p.SourceID, &p.Index, &p.Text, &similarity); err != nil {
			return nil, err
		}
		p.ID = id
		results = append(results, SearchResult{Passage: p, Score: similarity})
	}
	return results, rows.Err()
}

func (s *PostgresStore) DeleteSources(ctx context.Context, sourceIDs []string) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM passages WHERE source_id = ANY($1)`, pq.Array(sourceIDs))
	return err
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n)
	return n, err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// vectorToString converts a Vector ([]float32) to pgvector array format.
// Format: "[0.1,0.2,0.3,...]"
func vectorToString(v embeddings.Vector) string {
	if len(v) == 0 {
		return "[]"
	}
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
