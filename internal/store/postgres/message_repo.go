package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"circle_go/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageStore = (*MessageRepo)(nil)

func (r *MessageRepo) Insert(ctx context.Context, m *domain.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, activity_id, user_id, content, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at
	`, m.ID, m.ConversationID, m.SenderID, m.Content).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", classify(err))
	}
	return nil
}

func (r *MessageRepo) GetWithSender(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT m.id, m.activity_id, m.user_id, m.content, m.created_at, COALESCE(p.full_name, '')
		FROM messages m
		LEFT JOIN profiles p ON p.id = m.user_id
		WHERE m.id = $1
	`, id).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.SenderName)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", classify(err))
	}
	return m, nil
}

func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID uuid.UUID) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.activity_id, m.user_id, m.content, m.created_at, COALESCE(p.full_name, '')
		FROM messages m
		LEFT JOIN profiles p ON p.id = m.user_id
		WHERE m.activity_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", classify(err))
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.SenderName); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
