// Package journal records the text side of a voxlink session: transcripts,
// assistant replies, emotion labels and utterance boundaries. Audio is never
// stored.
//
// A [Recorder] subscribes to stream message hooks and writes [Event]s to a
// [Store] from a background goroutine behind a circuit breaker, so a slow or
// dead database never blocks the streaming loops.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one journal entry.
type Event struct {
	SessionID uuid.UUID
	StreamID  string
	Direction string // "in" or "out"
	Type      string
	Text      string
	Emotion   string
	UtterID   string
	At        time.Time
}

// Store persists events.
type Store interface {
	Append(ctx context.Context, e Event) error
	Ping(ctx context.Context) error
	Close()
}

// Schema is the DDL for the journal table. [PostgresStore.Migrate] applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS voxlink_events (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL,
    stream_id   TEXT NOT NULL DEFAULT '',
    direction   TEXT NOT NULL,
    type        TEXT NOT NULL,
    text        TEXT NOT NULL DEFAULT '',
    emotion     TEXT NOT NULL DEFAULT '',
    utter_id    TEXT NOT NULL DEFAULT '',
    at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_voxlink_events_session ON voxlink_events(session_id, at);
`

// DB is the subset of *pgxpool.Pool and *pgx.Conn used by [PostgresStore].
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db    DB
	close func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection or pool. The caller owns db
// and must call [PostgresStore.Migrate] before the first Append.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, close: func() {}}
}

// Connect opens a pool for dsn, pings it and applies [Schema].
func Connect(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse dsn: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Append inserts e. A zero At is stamped by the database.
func (s *PostgresStore) Append(ctx context.Context, e Event) error {
	const query = `
		INSERT INTO voxlink_events (session_id, stream_id, direction, type, text, emotion, utter_id, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))`

	var at *time.Time
	if !e.At.IsZero() {
		at = &e.At
	}
	_, err := s.db.Exec(ctx, query,
		e.SessionID.String(), e.StreamID, e.Direction, e.Type, e.Text, e.Emotion, e.UtterID, at)
	if err != nil {
		return fmt.Errorf("journal: append %s: %w", e.Type, err)
	}
	return nil
}

// Session returns the events of one session in order.
func (s *PostgresStore) Session(ctx context.Context, id uuid.UUID) ([]Event, error) {
	const query = `
		SELECT session_id, stream_id, direction, type, text, emotion, utter_id, at
		FROM voxlink_events
		WHERE session_id = $1
		ORDER BY at, id`

	rows, err := s.db.Query(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("journal: query session %s: %w", id, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e   Event
			sid string
		)
		if err := rows.Scan(&sid, &e.StreamID, &e.Direction, &e.Type,
			&e.Text, &e.Emotion, &e.UtterID, &e.At); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		if e.SessionID, err = uuid.Parse(sid); err != nil {
			return nil, fmt.Errorf("journal: parse session id %q: %w", sid, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate events: %w", err)
	}
	return out, nil
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("journal: ping: %w", err)
	}
	return nil
}

// Close releases the pool opened by [Connect]. It is a no-op for stores
// built with [NewPostgresStore].
func (s *PostgresStore) Close() { s.close() }

// NopStore discards every event. It is used when no database is configured.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) Append(context.Context, Event) error { return nil }
func (NopStore) Ping(context.Context) error          { return nil }
func (NopStore) Close()                              {}
