// Package postgres provides a PostgreSQL-backed [cache.Cache].
//
// Results are stored as msgpack payloads in a single table keyed by request
// fingerprint. Expired rows are ignored on read and removed by [Cache.Purge].
//
// Usage:
//
//	c, err := postgres.New(ctx, dsn, postgres.WithTTL(time.Hour))
//	if err != nil { … }
//	defer c.Close()
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/copyedit/internal/cache"
	"github.com/MrWong99/copyedit/pkg/types"
)

// payloadSchema is bumped whenever the payload layout changes. Rows written
// with another schema are treated as misses.
const payloadSchema uint16 = 1

const ddlResults = `
CREATE TABLE IF NOT EXISTS copyedit_results (
    key         TEXT         PRIMARY KEY,
    payload     BYTEA        NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at  TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_copyedit_results_expires_at
    ON copyedit_results (expires_at);
`

// payload is the msgpack-encoded row content.
type payload struct {
	Schema uint16
	Result types.Result
}

// Option is a functional option for configuring a [Cache].
type Option func(*Cache)

// WithTTL sets the entry lifetime. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// Cache stores results in PostgreSQL. It is safe for concurrent use.
type Cache struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

var _ cache.Cache = (*Cache)(nil)

// New opens a connection pool to dsn, verifies connectivity and creates the
// results table when missing.
func New(ctx context.Context, dsn string, opts ...Option) (*Cache, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres cache: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres cache: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres cache: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres cache: migrate: %w", err)
	}

	c := &Cache{pool: pool, ttl: cache.DefaultTTL}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Migrate creates the results table and its index. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlResults); err != nil {
		return fmt.Errorf("create copyedit_results: %w", err)
	}
	return nil
}

// Get implements [cache.Cache].
func (c *Cache) Get(ctx context.Context, key string) (types.Result, bool, error) {
	const q = `
		SELECT payload
		FROM   copyedit_results
		WHERE  key = $1
		  AND  expires_at > now()`

	var raw []byte
	if err := c.pool.QueryRow(ctx, q, key).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Result{}, false, nil
		}
		return types.Result{}, false, fmt.Errorf("postgres cache: get: %w", err)
	}

	p, err := decode(raw)
	if err != nil {
		return types.Result{}, false, fmt.Errorf("postgres cache: get: %w", err)
	}
	if p.Schema != payloadSchema {
		return types.Result{}, false, nil
	}
	return p.Result, true, nil
}

// Set implements [cache.Cache]. An existing row for key is overwritten and
// its lifetime restarted.
func (c *Cache) Set(ctx context.Context, key string, res types.Result) error {
	const q = `
		INSERT INTO copyedit_results (key, payload, expires_at)
		VALUES ($1, $2, now() + ($3::bigint * interval '1 microsecond'))
		ON CONFLICT (key) DO UPDATE
		    SET payload    = EXCLUDED.payload,
		        created_at = now(),
		        expires_at = EXCLUDED.expires_at`

	raw, err := encode(payload{Schema: payloadSchema, Result: res})
	if err != nil {
		return fmt.Errorf("postgres cache: set: %w", err)
	}
	if _, err := c.pool.Exec(ctx, q, key, raw, c.ttl.Microseconds()); err != nil {
		return fmt.Errorf("postgres cache: set: %w", err)
	}
	return nil
}

// Ping implements [cache.Cache].
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres cache: ping: %w", err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM copyedit_results WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("postgres cache: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases all pooled connections.
func (c *Cache) Close() {
	c.pool.Close()
}

func encode(p payload) ([]byte, error) {
	raw, err := msgpack.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (payload, error) {
	var p payload
	if err := msgpack.Unmarshal(raw, &p); err != nil {
		return payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
