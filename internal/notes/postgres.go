package notes

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/neron/internal/logging"
)

// PostgresStore reads notes from a pgvector-enabled Postgres table.
type PostgresStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	logger       *logging.Logger
}

// NewPool creates a bounded pgx connection pool with pgvector types
// registered on every connection.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return pool, nil
}

// NewPostgresStore wraps a pool with per-query timeouts.
func NewPostgresStore(pool *pgxpool.Pool, queryTimeout time.Duration, logger *logging.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if queryTimeout <= 0 {
		return nil, fmt.Errorf("query timeout must be > 0")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PostgresStore{
		pool:         pool,
		queryTimeout: queryTimeout,
		logger:       logger.Named("notes"),
	}, nil
}

// NotesByDay returns the notes in [day 00:00, next day 00:00), ascending.
func (s *PostgresStore) NotesByDay(ctx context.Context, day string) ([]Note, error) {
	start, end, err := DayBounds(day, time.UTC)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, text FROM neron
		 WHERE timestamp >= $1 AND timestamp < $2
		 ORDER BY timestamp ASC`,
		start, end,
	)
	if err != nil {
		return nil, s.unavailable(ctx, "notes by day query failed", err)
	}
	defer rows.Close()

	return s.collectNotes(ctx, rows)
}

// AllNotes returns every note ordered by timestamp ascending.
func (s *PostgresStore) AllNotes(ctx context.Context) ([]Note, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, text FROM neron ORDER BY timestamp ASC`,
	)
	if err != nil {
		return nil, s.unavailable(ctx, "all notes query failed", err)
	}
	defer rows.Close()

	return s.collectNotes(ctx, rows)
}

// SearchByVector runs a cosine nearest-neighbor query. The <=> operator
// must match the metric the table's index was built with; a mismatched
// metric silently produces wrong rankings.
func (s *PostgresStore) SearchByVector(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0, got %d", limit)
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, text, embedding <=> $1 AS distance FROM neron
		 ORDER BY embedding <=> $1, timestamp DESC
		 LIMIT $2`,
		pgvector.NewVector(vector), limit,
	)
	if err != nil {
		return nil, s.unavailable(ctx, "vector search query failed", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, limit)
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Note.ID, &r.Note.Timestamp, &r.Note.Text, &r.Distance); err != nil {
			return nil, s.unavailable(ctx, "vector search scan failed", err)
		}
		r.Similarity = 1 - r.Distance
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.unavailable(ctx, "vector search rows failed", err)
	}
	return results, nil
}

// Ping verifies connectivity for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) collectNotes(ctx context.Context, rows pgx.Rows) ([]Note, error) {
	out := make([]Note, 0, 64)
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Timestamp, &n.Text); err != nil {
			return nil, s.unavailable(ctx, "note scan failed", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, s.unavailable(ctx, "note rows failed", err)
	}
	return out, nil
}

func (s *PostgresStore) unavailable(ctx context.Context, msg string, err error) error {
	s.logger.Error(ctx, msg, zap.Error(err))
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
