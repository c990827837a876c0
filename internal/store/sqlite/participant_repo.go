package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"circle_go/internal/domain"
)

type ParticipantRepo struct {
	db   *sql.DB
	feed *Feed
}

func NewParticipantRepo(db *sql.DB, feed *Feed) *ParticipantRepo {
	return &ParticipantRepo{db: db, feed: feed}
}

var _ domain.ParticipantStore = (*ParticipantRepo)(nil)

func (r *ParticipantRepo) Insert(ctx context.Context, p *domain.Participant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_participants (activity_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`, p.ActivityID.String(), p.UserID.String(), toNanos(p.JoinedAt))
	if err != nil {
		return fmt.Errorf("insert participant: %w", classify(err))
	}
	r.feed.emit(ctx, participantChange(domain.OpInsert, p.ActivityID, p.UserID))
	return nil
}

func (r *ParticipantRepo) Delete(ctx context.Context, activityID, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM activity_participants WHERE activity_id = ? AND user_id = ?
	`, activityID.String(), userID.String())
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
	r.feed.emit(ctx, participantChange(domain.OpDelete, activityID, userID))
	return nil
}

func (r *ParticipantRepo) ListForActivity(ctx context.Context, activityID uuid.UUID) ([]*domain.Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT activity_id, user_id, joined_at
		FROM activity_participants
		WHERE activity_id = ?
		ORDER BY joined_at ASC
	`, activityID.String())
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", classify(err))
	}
	defer rows.Close()

	var res []*domain.Participant
	for rows.Next() {
		p := &domain.Participant{}
		var joinedAt int64
		if err := rows.Scan(&p.ActivityID, &p.UserID, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.JoinedAt = fromNanos(joinedAt)
		res = append(res, p)
	}
	return res, rows.Err()
}

func participantChange(op domain.Operation, activityID, userID uuid.UUID) domain.Change {
	return domain.Change{
		Operation: op,
		Table:     domain.TableParticipants,
		RowID:     userID,
		Columns: map[string]string{
			"activity_id": activityID.String(),
			"user_id":     userID.String(),
		},
	}
}
