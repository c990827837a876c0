package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"circle_go/internal/domain"
)

type ParticipantRepo struct {
	db *sql.DB
}

func NewParticipantRepo(db *sql.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

var _ domain.ParticipantStore = (*ParticipantRepo)(nil)

// Insert adds the participant row. A second row for the same pair fails on
// the primary key and is reported as ErrConstraintViolation.
func (r *ParticipantRepo) Insert(ctx context.Context, p *domain.Participant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_participants (activity_id, user_id, joined_at)
		VALUES ($1, $2, $3)
	`, p.ActivityID, p.UserID, p.JoinedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert participant: %w", classify(err))
	}
	return nil
}

func (r *ParticipantRepo) Delete(ctx context.Context, activityID, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM activity_participants WHERE activity_id = $1 AND user_id = $2
	`, activityID, userID)
	if err != nil {
		return fmt.Errorf("delete participant: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete participant: %w", classify(err))
	}
	if n == 0 {
		return fmt.Errorf("delete participant: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *ParticipantRepo) ListForActivity(ctx context.Context, activityID uuid.UUID) ([]*domain.Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT activity_id, user_id, joined_at
		FROM activity_participants
		WHERE activity_id = $1
		ORDER BY joined_at ASC
	`, activityID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", classify(err))
	}
	defer rows.Close()

	var res []*domain.Participant
	for rows.Next() {
		p := &domain.Participant{}
		if err := rows.Scan(&p.ActivityID, &p.UserID, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
