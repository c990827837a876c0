package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"circle_go/internal/collection"
	"circle_go/internal/domain"
)

// Defaults applied by Post when the input leaves a field empty.
const (
	DefaultMaxParticipants = 2
	DefaultDurationHours   = 1
	DefaultFeedLimit       = 50
	DefaultLiveWindow      = 2 * time.Hour
)

// ActivityService serves the plan feed and the per-user merged surfaces.
type ActivityService struct {
	activities domain.ActivityStore
	profiles   domain.ProfileStore
	friends    domain.FriendshipStore
	log        zerolog.Logger

	feedLimit  int
	liveWindow time.Duration
	now        func() time.Time
}

type ActivityOption func(*ActivityService)

func WithFeedLimit(n int) ActivityOption {
	return func(s *ActivityService) {
		if n > 0 {
			s.feedLimit = n
		}
	}
}

// WithLiveWindow sets how recently a friend must have been seen to count as live.
func WithLiveWindow(d time.Duration) ActivityOption {
	return func(s *ActivityService) {
		if d > 0 {
			s.liveWindow = d
		}
	}
}

func WithClock(now func() time.Time) ActivityOption {
	return func(s *ActivityService) { s.now = now }
}

func NewActivityService(
	activities domain.ActivityStore,
	profiles domain.ProfileStore,
	friends domain.FriendshipStore,
	log zerolog.Logger,
	opts ...ActivityOption,
) *ActivityService {
	s := &ActivityService{
		activities: activities,
		profiles:   profiles,
		friends:    friends,
		log:        log,
		feedLimit:  DefaultFeedLimit,
		liveWindow: DefaultLiveWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ActivityInput struct {
	Category        domain.Category `json:"category"`
	Description     string          `json:"description"`
	ScheduledAt     time.Time       `json:"scheduled_at"`
	Location        string          `json:"location"`
	MaxParticipants int             `json:"max_participants"`
	DurationHours   int             `json:"duration_hours"`
	Repeat          domain.Repeat   `json:"repeat_type"`
}

// Post validates in and publishes it as a plan created by userID.
func (s *ActivityService) Post(ctx context.Context, userID uuid.UUID, in ActivityInput) (*domain.Activity, error) {
	a := &domain.Activity{
		CreatorID:       userID,
		Category:        in.Category,
		Description:     strings.TrimSpace(in.Description),
		ScheduledAt:     in.ScheduledAt.UTC(),
		Location:        strings.TrimSpace(in.Location),
		MaxParticipants: in.MaxParticipants,
		DurationHours:   in.DurationHours,
		Repeat:          in.Repeat,
	}
	switch {
	case a.Description == "":
		return nil, fmt.Errorf("%w: description is required", domain.ErrInvalidInput)
	case in.ScheduledAt.IsZero():
		return nil, fmt.Errorf("%w: time is required", domain.ErrInvalidInput)
	case a.Location == "":
		return nil, fmt.Errorf("%w: location is required", domain.ErrInvalidInput)
	case !a.Category.Valid():
		return nil, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidInput, a.Category)
	}
	if a.MaxParticipants <= 0 {
		a.MaxParticipants = DefaultMaxParticipants
	}
	if a.DurationHours <= 0 {
		a.DurationHours = DefaultDurationHours
	}
	if a.Repeat == "" {
		a.Repeat = domain.RepeatOnce
	}
	if !a.Repeat.Valid() {
		return nil, fmt.Errorf("%w: unknown repeat %q", domain.ErrInvalidInput, a.Repeat)
	}

	if err := s.activities.Create(ctx, a); err != nil {
		return nil, err
	}
	s.log.Info().Str("activity_id", a.ID.String()).Str("user_id", userID.String()).Msg("plan published")
	return a, nil
}

// Feed returns every plan, newest first.
func (s *ActivityService) Feed(ctx context.Context) ([]*domain.Activity, error) {
	return s.activities.ListFeed(ctx, s.feedLimit)
}

// Schedule is the calendar surface: plans the user created or joined, each
// listed once, created wins.
func (s *ActivityService) Schedule(ctx context.Context, userID uuid.UUID) ([]domain.MergedItem, error) {
	created, joined, err := s.own(ctx, userID)
	if err != nil {
		return nil, err
	}
	return mergeActivities(
		collection.Source[*domain.Activity]{Tag: string(domain.SourceCreated), Items: created},
		collection.Source[*domain.Activity]{Tag: string(domain.SourceJoined), Items: joined},
	), nil
}

// Inbox lists the conversations available to the user. It is the same merge
// as Schedule.
func (s *ActivityService) Inbox(ctx context.Context, userID uuid.UUID) ([]domain.MergedItem, error) {
	return s.Schedule(ctx, userID)
}

// CircleView is the "my circle" surface.
type CircleView struct {
	Plans       []domain.MergedItem `json:"plans"`
	LiveFriends []*domain.Profile   `json:"live_friends"`
}

// Circle merges the user's own plans with the plans of accepted friends and
// lists the friends seen within the live window.
func (s *ActivityService) Circle(ctx context.Context, userID uuid.UUID) (*CircleView, error) {
	created, joined, err := s.own(ctx, userID)
	if err != nil {
		return nil, err
	}

	friendIDs, err := s.friends.ListFriendIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}

	var (
		plans []*domain.Activity
		live  []*domain.Profile
	)
	if len(friendIDs) > 0 {
		if plans, err = s.activities.ListCreatedByAny(ctx, friendIDs); err != nil {
			return nil, fmt.Errorf("list friends' plans: %w", err)
		}
		if live, err = s.profiles.ListSeenSince(ctx, friendIDs, s.now().Add(-s.liveWindow)); err != nil {
			return nil, fmt.Errorf("list live friends: %w", err)
		}
	}

	return &CircleView{
		Plans: mergeActivities(
			collection.Source[*domain.Activity]{Tag: string(domain.SourceCreated), Items: created},
			collection.Source[*domain.Activity]{Tag: string(domain.SourceJoined), Items: joined},
			collection.Source[*domain.Activity]{Tag: string(domain.SourceFriend), Items: plans},
		),
		LiveFriends: live,
	}, nil
}

// Touch records that the user is active now.
func (s *ActivityService) Touch(ctx context.Context, userID uuid.UUID) error {
	return s.profiles.Touch(ctx, userID, s.now())
}

// SetAvailable toggles the user's "free" status.
func (s *ActivityService) SetAvailable(ctx context.Context, userID uuid.UUID, free bool) error {
	var status *string
	if free {
		v := domain.StatusFree
		status = &v
	}
	return s.profiles.SetStatus(ctx, userID, status, s.now())
}

func (s *ActivityService) own(ctx context.Context, userID uuid.UUID) (created, joined []*domain.Activity, err error) {
	if created, err = s.activities.ListCreatedBy(ctx, userID); err != nil {
		return nil, nil, fmt.Errorf("list created plans: %w", err)
	}
	if joined, err = s.activities.ListJoinedBy(ctx, userID); err != nil {
		return nil, nil, fmt.Errorf("list joined plans: %w", err)
	}
	return created, joined, nil
}

func mergeActivities(sources ...collection.Source[*domain.Activity]) []domain.MergedItem {
	merged := collection.Merge(func(a *domain.Activity) uuid.UUID { return a.ID }, sources...)
	out := make([]domain.MergedItem, len(merged))
	for i, it := range merged {
		out[i] = domain.MergedItem{Activity: it.Value, Source: domain.Source(it.Tag)}
	}
	return out
}
