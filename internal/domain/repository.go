package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActivityStore defines remote-store operations for activities. List methods
// join the creator profile.
type ActivityStore interface {
	Create(ctx context.Context, a *Activity) error
	GetByID(ctx context.Context, id uuid.UUID) (*Activity, error)
	ListFeed(ctx context.Context, limit int) ([]*Activity, error)
	ListCreatedBy(ctx context.Context, userID uuid.UUID) ([]*Activity, error)
	ListJoinedBy(ctx context.Context, userID uuid.UUID) ([]*Activity, error)
	ListCreatedByAny(ctx context.Context, userIDs []uuid.UUID) ([]*Activity, error)
}

// ParticipantStore defines remote-store operations on activity participation.
// Insert reports ErrConstraintViolation for a duplicate (activity, user) pair
// and Delete reports ErrNotFound when no row was removed.
type ParticipantStore interface {
	Insert(ctx context.Context, p *Participant) error
	Delete(ctx context.Context, activityID, userID uuid.UUID) error
	ListForActivity(ctx context.Context, activityID uuid.UUID) ([]*Participant, error)
}

// MessageStore defines remote-store operations for conversation messages.
type MessageStore interface {
	Insert(ctx context.Context, m *Message) error
	GetWithSender(ctx context.Context, id uuid.UUID) (*Message, error)
	// ListForConversation returns the full history ascending by creation time,
	// ties broken by id.
	ListForConversation(ctx context.Context, conversationID uuid.UUID) ([]*Message, error)
}

// ProfileStore defines operations on user profiles.
type ProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	SetStatus(ctx context.Context, id uuid.UUID, status *string, at time.Time) error
	ListSeenSince(ctx context.Context, ids []uuid.UUID, since time.Time) ([]*Profile, error)
}

// FriendshipStore resolves accepted friendships in both directions.
type FriendshipStore interface {
	ListFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}
