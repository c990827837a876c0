package postgres

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

func (r *ActivityRepo) Create(ctx context.Context, a *domain.Activity) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO activities
			(id, user_id, category, description, scheduled_at, location,
			 max_participants, duration_hours, repeat_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at
	`, a.ID, a.CreatorID, string(a.Category), a.Description, a.ScheduledAt.UTC(), a.Location,
		a.MaxParticipants, a.DurationHours, string(a.Repeat),
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", classify(err))
	}
	return nil
}

func (r *ActivityRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Activity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities a
		JOIN profiles p ON p.id = a.user_id
		WHERE a.id = $1
	`, id)
	a, err := scanActivity(row)
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", classify(err))
	}
	return a, nil
}

func (r *ActivityRepo) ListFeed(ctx context.Context, limit int) ([]*domain.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities a
		JOIN profiles p ON p.id = a.user_id
		ORDER BY a.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", classify(err))
	}
	return scanActivities(rows)
}

func (r *ActivityRepo) ListCreatedBy(ctx context.Context, userID uuid.UUID) ([]*domain.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities a
		JOIN profiles p ON p.id = a.user_id
		WHERE a.user_id = $1
		ORDER BY a.scheduled_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list created activities: %w", classify(err))
	}
	return scanActivities(rows)
}

func (r *ActivityRepo) ListJoinedBy(ctx context.Context, userID uuid.UUID) ([]*domain.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities a
		JOIN profiles p ON p.id = a.user_id
		JOIN activity_participants ap ON ap.activity_id = a.id
		WHERE ap.user_id = $1
		ORDER BY a.scheduled_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list joined activities: %w", classify(err))
	}
	return scanActivities(rows)
}

func (r *ActivityRepo) ListCreatedByAny(ctx context.Context, userIDs []uuid.UUID) ([]*domain.Activity, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities a
		JOIN profiles p ON p.id = a.user_id
		WHERE a.user_id = ANY($1::uuid[])
		ORDER BY a.scheduled_at ASC
	`, ids)
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
		category, repeat string
		scheduledAt      time.Time
	)
	if err := s.Scan(
		&a.ID, &a.CreatorID, &category, &a.Description, &scheduledAt, &a.Location,
		&a.MaxParticipants, &a.DurationHours, &repeat, &a.CreatedAt,
		&a.Creator.ID, &a.Creator.FullName, &a.Creator.CurrentStatus, &a.Creator.LastSeen,
	); err != nil {
		return nil, err
	}
	a.Category = domain.Category(category)
	a.Repeat = domain.Repeat(repeat)
	a.ScheduledAt = scheduledAt
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
