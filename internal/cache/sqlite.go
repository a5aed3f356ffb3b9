package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"faq-rag/internal/fingerprint"
)

// SQLiteStore is a Store persisted in a local SQLite file, so cached answers
// survive restarts of a single-node deployment.
type SQLiteStore struct {
	db   *sql.DB
	opts options

	hits   atomic.Int64
	misses atomic.Int64
	evicts atomic.Int64
}

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	hash TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	signature TEXT NOT NULL,
	answer TEXT NOT NULL,
	sources TEXT NOT NULL,
	usage TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	last_access INTEGER NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS cache_entries_last_access ON cache_entries(last_access);
`

// NewSQLiteStore opens (and migrates) the cache database at dbPath.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// A single connection serializes writers; SQLite would otherwise return SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createEntriesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &SQLiteStore{db: db, opts: applyOptions(opts)}, nil
}

func sqliteErr(op string, err error) error {
	return fmt.Errorf("%w: sqlite %s: %w", ErrUnavailable, op, err)
}

const selectEntry = `SELECT hash, question, signature, answer, sources, usage, created_at, expires_at, hit_count FROM cache_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                  Entry
		sig, srcs, usage   string
		created, expiresAt int64
	)
	if err := row.Scan(&e.Hash, &e.Question, &sig, &e.Answer, &srcs, &usage, &created, &expiresAt, &e.HitCount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sig), &e.Signature); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(srcs), &e.Sources); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(usage), &e.Usage); err != nil {
		return nil, err
	}
	e.CreatedAt = time.Unix(0, created)
	e.ExpiresAt = time.Unix(0, expiresAt)
	return &e, nil
}

func (c *SQLiteStore) Get(ctx context.Context, hash string) (*Entry, error) {
	now := c.opts.now()
	entry, err := scanEntry(c.db.QueryRowContext(ctx, selectEntry+` WHERE hash = ? AND expires_at > ?`, hash, now.UnixNano()))
	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		return nil, sqliteErr("get", err)
	}
	if err := c.touch(ctx, entry, now); err != nil {
		return nil, err
	}
	return entry, nil
}

func (c *SQLiteStore) touch(ctx context.Context, entry *Entry, now time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE cache_entries SET hit_count = hit_count + 1, last_access = ? WHERE hash = ?`,
		now.UnixNano(), entry.Hash)
	if err != nil {
		return sqliteErr("touch", err)
	}
	entry.HitCount++
	c.hits.Add(1)
	return nil
}

func (c *SQLiteStore) GetNearDuplicate(ctx context.Context, sig fingerprint.Signature, threshold float64) (*Entry, float64, error) {
	now := c.opts.now()
	rows, err := c.db.QueryContext(ctx, `SELECT hash, signature FROM cache_entries WHERE expires_at > ?`, now.UnixNano())
	if err != nil {
		return nil, 0, sqliteErr("scan signatures", err)
	}

	var bestHash string
	var bestScore float64
	for rows.Next() {
		var hash, raw string
		if err := rows.Scan(&hash, &raw); err != nil {
			rows.Close()
			return nil, 0, sqliteErr("scan signatures", err)
		}
		var other fingerprint.Signature
		if err := json.Unmarshal([]byte(raw), &other); err != nil {
			continue
		}
		if score := c.opts.similarity(sig, other); score >= threshold && (bestHash == "" || score > bestScore) {
			bestHash, bestScore = hash, score
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, 0, sqliteErr("scan signatures", err)
	}

	if bestHash == "" {
		c.misses.Add(1)
		return nil, 0, nil
	}
	entry, err := c.Get(ctx, bestHash)
	if err != nil || entry == nil {
		return nil, 0, err
	}
	return entry, bestScore, nil
}

func (c *SQLiteStore) Put(ctx context.Context, entry *Entry, ttl time.Duration) error {
	now := c.opts.now()
	created := entry.CreatedAt
	if created.IsZero() {
		created = now
	}
	sig, err := json.Marshal(entry.Signature)
	if err != nil {
		return err
	}
	srcs, err := json.Marshal(entry.Sources)
	if err != nil {
		return err
	}
	usage, err := json.Marshal(entry.Usage)
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (hash, question, signature, answer, sources, usage, created_at, expires_at, last_access, hit_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		entry.Hash, entry.Question, string(sig), entry.Answer, string(srcs), string(usage),
		created.UnixNano(), now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return sqliteErr("put", err)
	}
	if c.opts.maxEntries > 0 {
		if _, err := c.evictOverflow(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *SQLiteStore) Evict(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, c.opts.now().UnixNano())
	if err != nil {
		return 0, sqliteErr("evict expired", err)
	}
	expired, _ := res.RowsAffected()
	overflow, err := c.evictOverflow(ctx)
	total := int(expired) + overflow
	c.evicts.Add(int64(total))
	return total, err
}

func (c *SQLiteStore) evictOverflow(ctx context.Context) (int, error) {
	if c.opts.maxEntries <= 0 {
		return 0, nil
	}
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE hash IN (
			SELECT hash FROM cache_entries ORDER BY last_access DESC LIMIT -1 OFFSET ?
		)`, c.opts.maxEntries)
	if err != nil {
		return 0, sqliteErr("evict overflow", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (c *SQLiteStore) Flush(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return sqliteErr("flush", err)
	}
	return nil
}

func (c *SQLiteStore) Stats() Stats {
	var count int64
	_ = c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count)
	return Stats{
		Entries:   count,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicts.Load(),
	}
}

// Close releases the database connection.
func (c *SQLiteStore) Close() error {
	return c.db.Close()
}
