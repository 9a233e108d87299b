// File: internal/history/store.go
// Description: Optional PostgreSQL persistence of finished comparison runs.
// A nil *Store disables history entirely; the orchestrator checks for that.

package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Run is one persisted comparison run.
type Run struct {
	ID            string
	DesignURL     string
	WebURL        string
	Status        string
	MismatchCount int
	Duration      time.Duration
	CreatedAt     time.Time
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id             UUID PRIMARY KEY,
    design_url     TEXT NOT NULL,
    web_url        TEXT NOT NULL,
    status         TEXT NOT NULL,
    mismatch_count INT  NOT NULL DEFAULT 0,
    duration_ms    BIGINT NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Store records comparison runs in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New verifies the connection and ensures the schema exists.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to ensure runs table: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("history")}, nil
}

// Connect dials the DSN and returns a ready store.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}
	return New(ctx, pool, logger)
}

// Record inserts one finished run. History failures are reported but must
// never fail the pipeline; the caller logs and continues.
func (s *Store) Record(ctx context.Context, run Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, design_url, web_url, status, mismatch_count, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`, run.ID, run.DesignURL, run.WebURL, run.Status, run.MismatchCount,
		run.Duration.Milliseconds(), run.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns the newest runs, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, design_url, web_url, status, mismatch_count, duration_ms, created_at
		FROM runs ORDER BY created_at DESC LIMIT $1;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.DesignURL, &r.WebURL, &r.Status,
			&r.MismatchCount, &durationMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
