// Run-metadata persistence. Only the summary row of each run is stored; the
// full evidence payload stays with the caller. The sink is optional and
// fire-and-forget, so everything here is best-effort from the engine's view.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consent-audit/api/schemas"
)

// DBPool is the slice of pgxpool behavior the store uses. Tests substitute a
// mock; production passes *pgxpool.Pool.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store persists run metadata rows.
type Store struct {
	pool   DBPool
	logger *zap.Logger
}

// New wraps an existing pool.
func New(pool DBPool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger.Named("store")}
}

// Connect opens a pool, verifies the connection and ensures the schema.
func Connect(ctx context.Context, logger *zap.Logger, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s := New(pool, logger)
	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.logger.Info("Connected to run-metadata store")
	return s, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS audit_runs (
    trace_id    TEXT PRIMARY KEY,
    target_url  TEXT        NOT NULL,
    path_mode   TEXT        NOT NULL,
    status      TEXT        NOT NULL,
    partial     BOOLEAN     NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    pre_ms      BIGINT      NOT NULL,
    post_ms     BIGINT      NOT NULL,
    requests    INTEGER     NOT NULL,
    cookies     INTEGER     NOT NULL
)`

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const insertRunMeta = `
INSERT INTO audit_runs (
    trace_id, target_url, path_mode, status, partial,
    started_at, finished_at, pre_ms, post_ms, requests, cookies
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (trace_id) DO NOTHING`

// SaveRunMeta inserts one run summary row. Replays of the same trace are
// no-ops.
func (s *Store) SaveRunMeta(ctx context.Context, meta schemas.RunMeta) error {
	tag, err := s.pool.Exec(ctx, insertRunMeta,
		meta.TraceID, meta.TargetURL, string(meta.PathMode), meta.Status, meta.Partial,
		meta.StartedAt, meta.FinishedAt, meta.PreMs, meta.PostMs, meta.Requests, meta.Cookies,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run metadata: %w", err)
	}
	s.logger.Debug("Run metadata saved",
		zap.String("trace_id", meta.TraceID),
		zap.Int64("rows", tag.RowsAffected()))
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
