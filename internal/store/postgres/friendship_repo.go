package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"circle_go/internal/domain"
)

type FriendshipRepo struct {
	db *sql.DB
}

func NewFriendshipRepo(db *sql.DB) *FriendshipRepo {
	return &FriendshipRepo{db: db}
}

var _ domain.FriendshipStore = (*FriendshipRepo)(nil)

// ListFriendIDs returns accepted friends, whichever side sent the request.
func (r *FriendshipRepo) ListFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT friend_id FROM friendships WHERE user_id = $1 AND status = 'accepted'
		UNION
		SELECT user_id FROM friendships WHERE friend_id = $1 AND status = 'accepted'
	`, userID)
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
