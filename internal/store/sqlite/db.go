package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"circle_go/internal/domain"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the foreign_keys pragma in effect and avoids
	// SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate creates the circle schema. Timestamps are stored as unix
// nanoseconds so they sort numerically.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			full_name VARCHAR(100) NOT NULL DEFAULT '',
			current_status VARCHAR(20) DEFAULT NULL,
			last_seen INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS activities (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			category VARCHAR(20) NOT NULL,
			description TEXT NOT NULL,
			scheduled_at INTEGER NOT NULL,
			location TEXT NOT NULL,
			max_participants INTEGER NOT NULL DEFAULT 2,
			duration_hours INTEGER NOT NULL DEFAULT 1,
			repeat_type VARCHAR(20) NOT NULL DEFAULT 'ONE_TIME',
			created_at INTEGER NOT NULL,
			FOREIGN KEY (user_id) REFERENCES profiles(id)
		);`,
		`CREATE TABLE IF NOT EXISTS activity_participants (
			activity_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			joined_at INTEGER NOT NULL,
			PRIMARY KEY (activity_id, user_id),
			FOREIGN KEY (activity_id) REFERENCES activities(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES profiles(id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			activity_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (activity_id) REFERENCES activities(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES profiles(id)
		);`,
		`CREATE TABLE IF NOT EXISTS friendships (
			user_id TEXT NOT NULL,
			friend_id TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, friend_id),
			FOREIGN KEY (user_id) REFERENCES profiles(id),
			FOREIGN KEY (friend_id) REFERENCES profiles(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_activities_user ON activities(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user ON activity_participants(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_activity_created ON messages(activity_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_friendships_friend ON friendships(friend_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}

// Feed stands in for a database change feed: repos call it after every
// successful write. A nil Feed drops changes.
type Feed struct {
	pub domain.EventPublisher
	log zerolog.Logger
}

func NewFeed(pub domain.EventPublisher, log zerolog.Logger) *Feed {
	return &Feed{pub: pub, log: log}
}

// publishTimeout bounds how long a committed write waits on slow subscribers.
const publishTimeout = 5 * time.Second

func (f *Feed) emit(ctx context.Context, c domain.Change) {
	if f == nil || f.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	// The write already committed; a lost event is logged, not returned.
	if err := f.pub.Publish(ctx, c); err != nil {
		f.log.Warn().Err(err).
			Str("table", c.Table).
			Str("operation", string(c.Operation)).
			Str("row_id", c.RowID.String()).
			Msg("publish change")
	}
}

// classify wraps err with the matching domain sentinel.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %w", domain.ErrConstraintViolation, err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
			return fmt.Errorf("%w: %w", domain.ErrNetworkFailure, err)
		case sqlite3.SQLITE_AUTH:
			return fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
		}
		return err
	}
	if domain.IsTransient(err) {
		return fmt.Errorf("%w: %w", domain.ErrNetworkFailure, err)
	}
	return err
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func placeholders(n int) string {
	return "?" + strings.Repeat(",?", n-1)
}

func idArgs(ids []uuid.UUID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	return args
}
