// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store implements the durable, idempotent header repository of
// spec §4.2, including the gap-detection primitive of §4.2.1. Per §9's
// redesign note, there is no ORM: the four operations are hand-rolled
// parameterized statements against jackc/pgx/v5, and durations are
// recorded at the call site rather than by hooking a query-logging
// layer.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luxfi/blockwatch/internal/headers"
)

// Observer is the narrow capability the Store reports durations and
// counts to, breaking the store<->metrics circular dependency the
// teacher resolves with framework forward-references (spec §9): the
// metrics package implements this interface and is handed to the store
// at construction, nothing more.
type Observer interface {
	RecordQuery(model, action string, duration time.Duration, success bool)
}

type noopObserver struct{}

func (noopObserver) RecordQuery(string, string, time.Duration, bool) {}

// Store is the Block Store of spec §4.2.
type Store struct {
	pool     *pgxpool.Pool
	observer Observer
}

// Option configures a Store.
type Option func(*Store)

// WithObserver attaches an Observer; omitted, a no-op observer is used.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// New wraps an already-connected pool. Connection lifecycle (dialing,
// max size, health checks) is the caller's concern; the Store only ever
// acquires and releases per operation (spec §5: no connection held
// across a suspension point).
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, observer: noopObserver{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PoolStats reports real values from the underlying pool, per §9's
// note that the connection-pool gauges must not be stand-ins.
type PoolStats struct {
	Active int32
	Idle   int32
}

func (s *Store) PoolStats() PoolStats {
	stat := s.pool.Stat()
	return PoolStats{
		Active: stat.AcquiredConns(),
		Idle:   stat.IdleConns(),
	}
}

// Ping reports whether the underlying pool can still reach the
// database, for the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS block_headers (
	id          BIGSERIAL PRIMARY KEY,
	chain_id    INTEGER NOT NULL,
	number      BIGINT NOT NULL,
	hash        TEXT NOT NULL,
	parent_hash TEXT NOT NULL,
	timestamp   BIGINT NOT NULL,
	CONSTRAINT block_headers_chain_number_uniq UNIQUE (chain_id, number),
	CONSTRAINT block_headers_chain_hash_uniq UNIQUE (chain_id, hash)
);
CREATE INDEX IF NOT EXISTS block_headers_chain_number_idx ON block_headers (chain_id, number);
CREATE INDEX IF NOT EXISTS block_headers_chain_timestamp_idx ON block_headers (chain_id, timestamp);
`

// Migrate applies the schema of spec §3/§6 idempotently.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) observe(model, action string, start time.Time, err error) {
	s.observer.RecordQuery(model, action, time.Since(start), err == nil)
}

// Latest returns the header with the maximum number for chainID, or
// ok=false if the chain has no stored blocks (spec §4.2).
func (s *Store) Latest(ctx context.Context, chainID uint32) (h headers.Header, ok bool, err error) {
	start := time.Now()
	const q = `SELECT number, hash, parent_hash, timestamp FROM block_headers
	           WHERE chain_id = $1 ORDER BY number DESC LIMIT 1`
	row := s.pool.QueryRow(ctx, q, chainID)
	err = row.Scan(&h.Number, &h.Hash, &h.ParentHash, &h.Timestamp)
	defer func() { s.observe("block_header", "latest", start, err) }()
	if errors.Is(err, pgx.ErrNoRows) {
		return headers.Header{}, false, nil
	}
	if err != nil {
		return headers.Header{}, false, fmt.Errorf("%w: latest(%d): %v", ErrUnavailable, chainID, err)
	}
	h.ChainID = chainID
	return h, true, nil
}

// ByNumber returns the header at the given height for chainID, or
// ok=false if absent (spec §4.2).
func (s *Store) ByNumber(ctx context.Context, chainID uint32, number uint64) (h headers.Header, ok bool, err error) {
	start := time.Now()
	const q = `SELECT number, hash, parent_hash, timestamp FROM block_headers
	           WHERE chain_id = $1 AND number = $2`
	row := s.pool.QueryRow(ctx, q, chainID, int64(number))
	err = row.Scan(&h.Number, &h.Hash, &h.ParentHash, &h.Timestamp)
	defer func() { s.observe("block_header", "by_number", start, err) }()
	if errors.Is(err, pgx.ErrNoRows) {
		return headers.Header{}, false, nil
	}
	if err != nil {
		return headers.Header{}, false, fmt.Errorf("%w: byNumber(%d, %d): %v", ErrUnavailable, chainID, number, err)
	}
	h.ChainID = chainID
	return h, true, nil
}

// UpsertMany inserts rows that do not already exist under either
// uniqueness constraint, atomically, and returns the count actually
// inserted (spec §4.2's upsertMany contract: I1, I2, atomic batch,
// silent duplicate skip).
func (s *Store) UpsertMany(ctx context.Context, rows []headers.Header) (inserted int, err error) {
	if len(rows) == 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() { s.observe("block_header", "upsert_many", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: upsertMany begin: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// ON CONFLICT DO NOTHING with no target catches a violation of
	// *either* unique constraint (I1 on (chain_id, number), I2 on
	// (chain_id, hash)) in one atomic statement, so duplicates under
	// both are silently skipped without a separate existence check.
	const q = `INSERT INTO block_headers (chain_id, number, hash, parent_hash, timestamp)
	           VALUES ($1, $2, $3, $4, $5)
	           ON CONFLICT DO NOTHING`

	for _, r := range rows {
		tag, execErr := tx.Exec(ctx, q, r.ChainID, int64(r.Number), r.Hash, r.ParentHash, int64(r.Timestamp))
		if execErr != nil {
			return 0, classifyPGErr(execErr, "upsertMany insert")
		}
		inserted += int(tag.RowsAffected())
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: upsertMany commit: %v", ErrUnavailable, err)
	}
	return inserted, nil
}

// FindMissingInRange returns the ascending heights missing strictly
// inside the per-chain stored range, truncated to limit, per the
// gap-detection algorithm of spec §4.2.1. The entire computation is one
// statement (a window-function scan over stored heights), so concurrent
// inserts during the call cannot produce duplicate gap entries within
// this one result set.
func (s *Store) FindMissingInRange(ctx context.Context, chainID uint32, limit int) (missing []uint64, err error) {
	if limit <= 0 {
		return nil, fmt.Errorf("store: limit must be positive, got %d", limit)
	}

	start := time.Now()
	defer func() { s.observe("block_header", "find_missing_in_range", start, err) }()

	const q = `
WITH ordered AS (
	SELECT number, LEAD(number) OVER (ORDER BY number) AS next_number
	FROM block_headers
	WHERE chain_id = $1
),
gaps AS (
	SELECT generate_series(number + 1, next_number - 1) AS missing
	FROM ordered
	WHERE next_number IS NOT NULL AND next_number > number + 1
)
SELECT missing FROM gaps ORDER BY missing LIMIT $2`

	rows, qErr := s.pool.Query(ctx, q, chainID, limit)
	if qErr != nil {
		return nil, fmt.Errorf("%w: findMissingInRange(%d): %v", ErrUnavailable, chainID, qErr)
	}
	defer rows.Close()

	for rows.Next() {
		var n int64
		if scanErr := rows.Scan(&n); scanErr != nil {
			return nil, fmt.Errorf("%w: findMissingInRange(%d) scan: %v", ErrUnavailable, chainID, scanErr)
		}
		missing = append(missing, uint64(n))
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%w: findMissingInRange(%d): %v", ErrUnavailable, chainID, rows.Err())
	}
	return missing, nil
}

func classifyPGErr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code != "" && pgErr.Code[:2] != "23" {
		// 23xxx is the Postgres integrity-constraint-violation class;
		// anything else (syntax, permission, connection) is surfaced as
		// a constraint violation only when it actually is one.
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %s: %v", ErrConstraintViolation, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
