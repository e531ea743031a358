// Package store persists classified request outcomes to PostgreSQL so
// operators can audit which owners are failing, how often, and why.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/korvuslabs/prowl/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// OutcomeRecord is one audited request outcome. Kind is empty for
// successful requests.
type OutcomeRecord struct {
	ID        string
	Owner     string
	Operation string
	Kind      schemas.ErrorKind
	Message   string
	Attempts  int
	Latency   time.Duration
	CreatedAt time.Time
}

// Store is the PostgreSQL-backed outcome audit log.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

const schemaSQL = `
    CREATE TABLE IF NOT EXISTS request_outcomes (
        id UUID PRIMARY KEY,
        owner_key TEXT NOT NULL,
        operation TEXT NOT NULL,
        kind TEXT NOT NULL DEFAULT '',
        message TEXT NOT NULL DEFAULT '',
        attempts INT NOT NULL,
        latency_ms BIGINT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_request_outcomes_owner
        ON request_outcomes (owner_key, created_at DESC);
`

// EnsureSchema creates the audit table if it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure outcome schema: %w", err)
	}
	return nil
}

// RecordOutcome appends one outcome row. A zero ID and CreatedAt are filled
// in. Audit writes must never fail a request, so callers log and drop the
// error rather than propagating it.
func (s *Store) RecordOutcome(ctx context.Context, rec OutcomeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	sql := `
        INSERT INTO request_outcomes (id, owner_key, operation, kind, message, attempts, latency_ms, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	_, err := s.pool.Exec(ctx, sql,
		rec.ID, rec.Owner, rec.Operation, string(rec.Kind),
		rec.Message, rec.Attempts, rec.Latency.Milliseconds(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome for owner %s: %w", rec.Owner, err)
	}
	return nil
}

// RecentOutcomes returns the newest outcomes for an owner, newest first.
func (s *Store) RecentOutcomes(ctx context.Context, owner string, limit int) ([]OutcomeRecord, error) {
	query := `
        SELECT id, owner_key, operation, kind, message, attempts, latency_ms, created_at
        FROM request_outcomes
        WHERE owner_key = $1
        ORDER BY created_at DESC
        LIMIT $2;
    `
	rows, err := s.pool.Query(ctx, query, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var rec OutcomeRecord
		var kind string
		var latencyMS int64
		if err := rows.Scan(
			&rec.ID, &rec.Owner, &rec.Operation, &kind,
			&rec.Message, &rec.Attempts, &latencyMS, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		rec.Kind = schemas.ErrorKind(kind)
		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
