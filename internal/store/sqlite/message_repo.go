package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"circle_go/internal/domain"
)

type MessageRepo struct {
	db   *sql.DB
	feed *Feed
}

func NewMessageRepo(db *sql.DB, feed *Feed) *MessageRepo {
	return &MessageRepo{db: db, feed: feed}
}

var _ domain.MessageStore = (*MessageRepo)(nil)

func (r *MessageRepo) Insert(ctx context.Context, m *domain.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, activity_id, user_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID.String(), m.ConversationID.String(), m.SenderID.String(), m.Content, toNanos(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", classify(err))
	}
	r.feed.emit(ctx, domain.Change{
		Operation: domain.OpInsert,
		Table:     domain.TableMessages,
		RowID:     m.ID,
		Columns: map[string]string{
			"activity_id": m.ConversationID.String(),
			"user_id":     m.SenderID.String(),
		},
	})
	return nil
}

func (r *MessageRepo) GetWithSender(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT m.id, m.activity_id, m.user_id, m.content, m.created_at, COALESCE(p.full_name, '')
		FROM messages m
		LEFT JOIN profiles p ON p.id = m.user_id
		WHERE m.id = ?
	`, id.String())
	m, err := scanMessage(row)
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
		WHERE m.activity_id = ?
		ORDER BY m.created_at ASC, m.id ASC
	`, conversationID.String())
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", classify(err))
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func scanMessage(s rowScanner) (*domain.Message, error) {
	m := &domain.Message{}
	var createdAt int64
	if err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &createdAt, &m.SenderName); err != nil {
		return nil, err
	}
	m.CreatedAt = fromNanos(createdAt)
	return m, nil
}
