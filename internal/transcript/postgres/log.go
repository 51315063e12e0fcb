// Package postgres persists accepted transcripts to PostgreSQL.
//
// [Log] implements [dispatch.Sink] and appends one row per accepted utterance
// to the transcript_log table, which [Migrate] creates on startup.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/hearken/internal/dispatch"
)

const ddlTranscriptLog = `
CREATE TABLE IF NOT EXISTS transcript_log (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_log_session_created
    ON transcript_log (session_id, created_at);
`

// Entry is one stored transcript.
type Entry struct {
	SessionID string
	Text      string
	CreatedAt time.Time
}

// Log is a PostgreSQL-backed transcript log. It is safe for concurrent use.
type Log struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ dispatch.Sink = (*Log)(nil)

// New connects to dsn, verifies the connection, and runs [Migrate].
func New(ctx context.Context, dsn string) (*Log, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript log: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript log: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript log: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Log{pool: pool, now: time.Now}, nil
}

// Migrate creates the transcript_log table if it does not exist. It is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscriptLog); err != nil {
		return fmt.Errorf("transcript log: migrate: %w", err)
	}
	return nil
}

// OnFinalTranscript implements [dispatch.Sink].
func (l *Log) OnFinalTranscript(ctx context.Context, sessionID, text string) error {
	const q = `INSERT INTO transcript_log (session_id, text, created_at) VALUES ($1, $2, $3)`
	if _, err := l.pool.Exec(ctx, q, sessionID, text, l.now()); err != nil {
		return fmt.Errorf("transcript log: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit entries of sessionID, oldest first.
func (l *Log) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	const q = `
		SELECT session_id, text, created_at FROM (
		    SELECT session_id, text, created_at, id
		    FROM   transcript_log
		    WHERE  session_id = $1
		    ORDER  BY id DESC
		    LIMIT  $2
		) recent
		ORDER BY id`

	rows, err := l.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript log: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.SessionID, &e.Text, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("transcript log: scan: %w", err)
	}
	return entries, nil
}

// Ping reports whether the database is reachable.
func (l *Log) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close releases the connection pool.
func (l *Log) Close() {
	l.pool.Close()
}
