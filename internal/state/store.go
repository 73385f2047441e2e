package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// Well-known keys. Each key has a single writer per phase: forward catch-up
// owns the anchor pair, backfill owns its page counter and done flag, the
// index step owns the index watermark.
const (
	KeyForwardAnchor   = "forward_anchor"
	KeyForwardAnchorTS = "forward_anchor_ts"
	KeyBackfillPage    = "backfill_page"
	KeyBackfillDone    = "backfill_done"
	KeyLastIndexSync   = "last_index_sync"
	KeyLastEvolutionAt = "last_evolution_date"
)

var ErrNotFound = errors.New("state: key not found")

// Store is the durable key/value state shared by the schedulers, the
// workflow's index step, and the expansion/suggestion caches.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	GetAll(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	IncrBy(ctx context.Context, key string, delta float64, ttl time.Duration) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	query := `SELECT value FROM kv_store WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *PostgresStore) GetAll(ctx context.Context, keys ...string) (map[string]string, error) {
	query := `SELECT key, value FROM kv_store WHERE key = ANY($1) AND (expires_at IS NULL OR expires_at > NOW())`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO kv_store (key, value, expires_at) VALUES ($1, $2, NULL)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = NULL, updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

func (s *PostgresStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	query := `
		INSERT INTO kv_store (key, value, expires_at) VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, key, value, interval(ttl))
	return err
}

// IncrBy atomically adds delta to a numeric counter, creating it if absent.
// Expired counters restart from delta, which is what keeps daily usage keys
// from leaking across days.
func (s *PostgresStore) IncrBy(ctx context.Context, key string, delta float64, ttl time.Duration) error {
	query := `
		INSERT INTO kv_store (key, value, expires_at) VALUES ($1, $2::text, NOW() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE SET
			value = CASE
				WHEN kv_store.expires_at IS NOT NULL AND kv_store.expires_at <= NOW() THEN EXCLUDED.value
				ELSE (kv_store.value::numeric + $2)::text
			END,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, key, delta, interval(ttl))
	return err
}

func interval(ttl time.Duration) float64 {
	return ttl.Seconds()
}
