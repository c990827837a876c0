package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"circle_go/internal/domain"
)

// FriendStatusAccepted is the only friendship status that counts.
const FriendStatusAccepted = "accepted"

type FriendshipRepo struct {
	db *sql.DB
}

func NewFriendshipRepo(db *sql.DB) *FriendshipRepo {
	return &FriendshipRepo{db: db}
}

var _ domain.FriendshipStore = (*FriendshipRepo)(nil)

// Add records a friendship request (or an accepted one) from userID to friendID.
func (r *FriendshipRepo) Add(ctx context.Context, userID, friendID uuid.UUID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO friendships (user_id, friend_id, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, friend_id) DO UPDATE SET status = excluded.status
	`, userID.String(), friendID.String(), status, toNanos(time.Now()))
	if err != nil {
		return fmt.Errorf("insert friendship: %w", classify(err))
	}
	return nil
}

func (r *FriendshipRepo) ListFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT friend_id FROM friendships WHERE user_id = ? AND status = ?
		UNION
		SELECT user_id FROM friendships WHERE friend_id = ? AND status = ?
	`, userID.String(), FriendStatusAccepted, userID.String(), FriendStatusAccepted)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", classify(err))
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan friend id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
