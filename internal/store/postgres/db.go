package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"circle_go/internal/domain"
)

// NotifyChannel is the LISTEN/NOTIFY channel the change triggers publish on.
const NotifyChannel = "circle_changes"

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the circle schema on PostgreSQL,
// including the triggers that feed NotifyChannel.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id             UUID         PRIMARY KEY,
			full_name      VARCHAR(100) NOT NULL DEFAULT '',
			current_status VARCHAR(20),
			last_seen      TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS activities (
			id               UUID         PRIMARY KEY,
			user_id          UUID         NOT NULL REFERENCES profiles(id),
			category         VARCHAR(20)  NOT NULL,
			description      TEXT         NOT NULL,
			scheduled_at     TIMESTAMPTZ  NOT NULL,
			location         TEXT         NOT NULL,
			max_participants INTEGER      NOT NULL DEFAULT 2,
			duration_hours   INTEGER      NOT NULL DEFAULT 1,
			repeat_type      VARCHAR(20)  NOT NULL DEFAULT 'ONE_TIME',
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS activity_participants (
			activity_id UUID        NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
			user_id     UUID        NOT NULL REFERENCES profiles(id),
			joined_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (activity_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id          UUID        PRIMARY KEY,
			activity_id UUID        NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
			user_id     UUID        NOT NULL REFERENCES profiles(id),
			content     TEXT        NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS friendships (
			user_id    UUID        NOT NULL REFERENCES profiles(id),
			friend_id  UUID        NOT NULL REFERENCES profiles(id),
			status     VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, friend_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_activities_user ON activities(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user ON activity_participants(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_activity_created ON messages(activity_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_friendships_friend ON friendships(friend_id)`,

		// Row changes are pushed as JSON matching domain.Change.
		`CREATE OR REPLACE FUNCTION circle_notify_change() RETURNS trigger AS $$
		DECLARE
			rec JSONB;
		BEGIN
			IF TG_OP = 'DELETE' THEN
				rec := to_jsonb(OLD);
			ELSE
				rec := to_jsonb(NEW);
			END IF;
			PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
				'operation', TG_OP,
				'table',     TG_TABLE_NAME,
				'row_id',    COALESCE(rec->>'id', rec->>'user_id'),
				'columns',   jsonb_strip_nulls(jsonb_build_object(
					'activity_id', rec->>'activity_id',
					'user_id',     rec->>'user_id'))
			)::text);
			RETURN NULL;
		END
		$$ LANGUAGE plpgsql`,

		`DROP TRIGGER IF EXISTS trg_messages_notify ON messages`,
		`CREATE TRIGGER trg_messages_notify AFTER INSERT ON messages
			FOR EACH ROW EXECUTE FUNCTION circle_notify_change()`,
		`DROP TRIGGER IF EXISTS trg_participants_notify ON activity_participants`,
		`CREATE TRIGGER trg_participants_notify AFTER INSERT OR DELETE ON activity_participants
			FOR EACH ROW EXECUTE FUNCTION circle_notify_change()`,
		`DROP TRIGGER IF EXISTS trg_activities_notify ON activities`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// PostgreSQL error codes the store maps onto domain failures.
const (
	codeUniqueViolation = "23505"
	classConnection     = "08"
	classAuthorization  = "28"
)

// classify wraps err with the matching domain sentinel, keeping the driver
// error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation:
			return fmt.Errorf("%w: %w", domain.ErrConstraintViolation, err)
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == classConnection:
			return fmt.Errorf("%w: %w", domain.ErrNetworkFailure, err)
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == classAuthorization:
			return fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || domain.IsTransient(err) {
		return fmt.Errorf("%w: %w", domain.ErrNetworkFailure, err)
	}
	return err
}
