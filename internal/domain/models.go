package domain

import (
	"time"

	"github.com/google/uuid"
)

// Category is the kind of plan an activity belongs to.
type Category string

const (
	CategorySports  Category = "SPORTS"
	CategoryCulture Category = "CULTURE"
	CategoryFood    Category = "FOOD"
	CategoryCoffee  Category = "COFFEE"
	CategoryMore    Category = "MORE"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategorySports, CategoryCulture, CategoryFood, CategoryCoffee, CategoryMore:
		return true
	}
	return false
}

// Repeat describes how often an activity recurs.
type Repeat string

const (
	RepeatOnce   Repeat = "ONE_TIME"
	RepeatDaily  Repeat = "DAILY"
	RepeatWeekly Repeat = "WEEKLY"
)

func (r Repeat) Valid() bool {
	return r == RepeatOnce || r == RepeatDaily || r == RepeatWeekly
}

// Profile is the display identity of a user.
type Profile struct {
	ID            uuid.UUID `db:"id" json:"id"`
	FullName      string    `db:"full_name" json:"full_name"`
	CurrentStatus *string   `db:"current_status" json:"current_status,omitempty"`
	LastSeen      time.Time `db:"last_seen" json:"last_seen"`
}

// StatusFree marks a profile as available to hang out.
const StatusFree = "free"

// Activity is a plan posted by a user. Every activity is also an implicit
// conversation whose id equals the activity id.
type Activity struct {
	ID              uuid.UUID `db:"id" json:"id"`
	CreatorID       uuid.UUID `db:"user_id" json:"user_id"`
	Category        Category  `db:"category" json:"category"`
	Description     string    `db:"description" json:"description"`
	ScheduledAt     time.Time `db:"scheduled_at" json:"scheduled_at"`
	Location        string    `db:"location" json:"location"`
	MaxParticipants int       `db:"max_participants" json:"max_participants"`
	DurationHours   int       `db:"duration_hours" json:"duration_hours"`
	Repeat          Repeat    `db:"repeat_type" json:"repeat_type"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`

	Creator *Profile `json:"creator,omitempty"`
}

// Participant is the membership of a user in an activity.
type Participant struct {
	ActivityID uuid.UUID `db:"activity_id" json:"activity_id"`
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	JoinedAt   time.Time `db:"joined_at" json:"joined_at"`
}

// Message is a single chat line in an activity conversation.
type Message struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ConversationID uuid.UUID `db:"activity_id" json:"conversation_id"`
	SenderID       uuid.UUID `db:"user_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`

	// SenderName is filled by GetWithSender / ListForConversation.
	SenderName string `json:"sender_name,omitempty"`
}

// Source tags where a merged activity came from.
type Source string

const (
	SourceCreated Source = "created"
	SourceJoined  Source = "joined"
	SourceFriend  Source = "friend"
)

// MergedItem is an activity annotated with its provenance.
type MergedItem struct {
	Activity *Activity `json:"activity"`
	Source   Source    `json:"source"`
}
