package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"circle_go/internal/domain"
)

type ActivityRepo struct {
	db *sql.DB
}

func NewActivityRepo(db *sql.DB) *ActivityRepo {
	return &ActivityRepo{db: db}
}

var _ domain.ActivityStore = (*ActivityRepo)(nil)

const activityColumns = `
	a.id, a.user_id, a.category, a.description, a.scheduled_at, a.location,
	a.max_participants, a.duration_hours, a.repeat_type, a.created_at,
	p.id, p.full_name, p.current_status, p.last_seen`

const activityFrom = `
	FROM activities a
	JOIN profiles p ON p.id = a.user_id`

func (r *ActivityRepo) Create(ctx context.Context, a *domain.Activity) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activities
			(id, user_id, category, description, scheduled_at, location,
			 max_participants, duration_hours, repeat_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID.String(), a.CreatorID.String(), string(a.Category), a.Description, toNanos(a.ScheduledAt), a.Location,
		a.MaxParticipants, a.DurationHours, string(a.Repeat), toNanos(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert activity: %w", classify(err))
	}
	return nil
}

func (r *ActivityRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Activity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+activityColumns+activityFrom+` WHERE a.id = ?`, id.String())
	a, err := scanActivity(row)
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", classify(err))
	}
	return a, nil
}

func (r *ActivityRepo) ListFeed(ctx context.Context, limit int) ([]*domain.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+activityColumns+activityFrom+`
		ORDER BY a.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", classify(err))
	}
	return scanActivities(rows)
}

func (r *ActivityRepo) ListCreatedBy(ctx context.Context, userID uuid.UUID) ([]*domain.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+activityColumns+activityFrom+`
		WHERE a.user_id = ?
		ORDER BY a.scheduled_at ASC`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list created activities: %w", classify(err))
	}
	return scanActivities(rows)
}

func (r *ActivityRepo) ListJoinedBy(ctx context.Context, userID uuid.UUID) ([]*domain.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+activityColumns+activityFrom+`
		JOIN activity_participants ap ON ap.activity_id = a.id
		WHERE ap.user_id = ?
		ORDER BY a.scheduled_at ASC`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list joined activities: %w", classify(err))
	}
	return scanActivities(rows)
}

func (r *ActivityRepo) ListCreatedByAny(ctx context.Context, userIDs []uuid.UUID) ([]*domain.Activity, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+activityColumns+activityFrom+`
		WHERE a.user_id IN (`+placeholders(len(userIDs))+`)
		ORDER BY a.scheduled_at ASC`, idArgs(userIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list friends' activities: %w", classify(err))
	}
	return scanActivities(rows)
}

// ── helpers ──────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(s rowScanner) (*domain.Activity, error) {
	a := &domain.Activity{Creator: &domain.Profile{}}
	var (
		category, repeat                 string
		scheduledAt, createdAt, lastSeen int64
	)
	if err := s.Scan(
		&a.ID, &a.CreatorID, &category, &a.Description, &scheduledAt, &a.Location,
		&a.MaxParticipants, &a.DurationHours, &repeat, &createdAt,
		&a.Creator.ID, &a.Creator.FullName, &a.Creator.CurrentStatus, &lastSeen,
	); err != nil {
		return nil, err
	}
	a.Category = domain.Category(category)
	a.Repeat = domain.Repeat(repeat)
	a.ScheduledAt = fromNanos(scheduledAt)
	a.CreatedAt = fromNanos(createdAt)
	a.Creator.LastSeen = fromNanos(lastSeen)
	return a, nil
}

func scanActivities(rows *sql.Rows) ([]*domain.Activity, error) {
	defer rows.Close()
	var res []*domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return res, nil
}
