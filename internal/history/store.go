package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Sink = (*Store)(nil)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS dictation_sessions (
    session_id  TEXT         PRIMARY KEY,
    request_id  TEXT         NOT NULL DEFAULT '',
    trigger     TEXT         NOT NULL DEFAULT '',
    outcome     TEXT         NOT NULL,
    reason      TEXT         NOT NULL DEFAULT '',
    text        TEXT         NOT NULL DEFAULT '',
    locale      TEXT         NOT NULL DEFAULT '',
    model_size  TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dictation_sessions_ended_at
    ON dictation_sessions (ended_at DESC);
`

// Store persists entries in PostgreSQL. All methods are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the history table if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		return fmt.Errorf("history migrate: %w", err)
	}
	return nil
}

// Save implements [Sink]. Saving the same session twice overwrites the
// earlier row.
func (s *Store) Save(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO dictation_sessions
		    (session_id, request_id, trigger, outcome, reason, text, locale, model_size, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
		    request_id = EXCLUDED.request_id,
		    outcome    = EXCLUDED.outcome,
		    reason     = EXCLUDED.reason,
		    text       = EXCLUDED.text,
		    ended_at   = EXCLUDED.ended_at`

	_, err := s.pool.Exec(ctx, q,
		e.SessionID,
		e.RequestID,
		e.Trigger,
		e.Outcome,
		e.Reason,
		e.Text,
		e.Locale,
		e.ModelSize,
		e.StartedAt,
		e.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("history store: save %s: %w", e.SessionID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	const q = `
		SELECT session_id, request_id, trigger, outcome, reason, text, locale, model_size, started_at, ended_at
		FROM   dictation_sessions
		ORDER  BY ended_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history store: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(
			&e.SessionID,
			&e.RequestID,
			&e.Trigger,
			&e.Outcome,
			&e.Reason,
			&e.Text,
			&e.Locale,
			&e.ModelSize,
			&e.StartedAt,
			&e.EndedAt,
		)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Prune deletes entries that ended before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dictation_sessions WHERE ended_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history store: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
