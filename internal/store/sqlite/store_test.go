package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circle_go/internal/domain"
	"circle_go/internal/logging"
	"circle_go/internal/store/sqlite"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []domain.Change
}

func (p *recordingPublisher) Publish(_ context.Context, c domain.Change) error {
	p.mu.Lock()
	p.changes = append(p.changes, c)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) all() []domain.Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Change(nil), p.changes...)
}

type testDB struct {
	db           *sql.DB
	pub          *recordingPublisher
	activities   *sqlite.ActivityRepo
	participants *sqlite.ParticipantRepo
	messages     *sqlite.MessageRepo
	profiles     *sqlite.ProfileRepo
	friends      *sqlite.FriendshipRepo
}

func openTestDB(t *testing.T) *testDB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "circle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(db))
	// Migrations are idempotent.
	require.NoError(t, sqlite.Migrate(db))

	pub := &recordingPublisher{}
	feed := sqlite.NewFeed(pub, logging.Nop())
	return &testDB{
		db:           db,
		pub:          pub,
		activities:   sqlite.NewActivityRepo(db),
		participants: sqlite.NewParticipantRepo(db, feed),
		messages:     sqlite.NewMessageRepo(db, feed),
		profiles:     sqlite.NewProfileRepo(db),
		friends:      sqlite.NewFriendshipRepo(db),
	}
}

func (d *testDB) profile(t *testing.T, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, d.profiles.Upsert(context.Background(), &domain.Profile{ID: id, FullName: name}))
	return id
}

func (d *testDB) activity(t *testing.T, creator uuid.UUID, desc string) *domain.Activity {
	t.Helper()
	a := &domain.Activity{
		CreatorID:       creator,
		Category:        domain.CategoryCoffee,
		Description:     desc,
		ScheduledAt:     time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC),
		Location:        "Corner cafe",
		MaxParticipants: 2,
		DurationHours:   1,
		Repeat:          domain.RepeatOnce,
	}
	require.NoError(t, d.activities.Create(context.Background(), a))
	return a
}

func TestParticipants(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	u := d.profile(t, "Ana")
	v := d.profile(t, "Ben")
	x := d.activity(t, u, "coffee")

	require.NoError(t, d.participants.Insert(ctx, &domain.Participant{ActivityID: x.ID, UserID: v}))

	err := d.participants.Insert(ctx, &domain.Participant{ActivityID: x.ID, UserID: v})
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)
	assert.Equal(t, domain.KindConstraintViolation, domain.Classify(err))

	parts, err := d.participants.ListForActivity(ctx, x.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, v, parts[0].UserID)

	require.NoError(t, d.participants.Delete(ctx, x.ID, v))
	err = d.participants.Delete(ctx, x.ID, v)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	joined, err := d.activities.ListJoinedBy(ctx, v)
	require.NoError(t, err)
	assert.Empty(t, joined)
}

func TestMessagesHistoryOrderAndSender(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	u := d.profile(t, "Ana")
	x := d.activity(t, u, "run")
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, content := range []string{"third", "first", "second"} {
		offset := []time.Duration{2 * time.Minute, 0, time.Minute}[i]
		require.NoError(t, d.messages.Insert(ctx, &domain.Message{
			ConversationID: x.ID,
			SenderID:       u,
			Content:        content,
			CreatedAt:      base.Add(offset),
		}))
	}

	msgs, err := d.messages.ListForConversation(ctx, x.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, "third", msgs[2].Content)
	assert.Equal(t, "Ana", msgs[0].SenderName)
	assert.True(t, msgs[0].CreatedAt.Equal(base))

	got, err := d.messages.GetWithSender(ctx, msgs[2].ID)
	require.NoError(t, err)
	assert.Equal(t, "third", got.Content)
	assert.Equal(t, x.ID, got.ConversationID)

	_, err = d.messages.GetWithSender(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFeedPublishesChanges(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	u := d.profile(t, "Ana")
	v := d.profile(t, "Ben")
	x := d.activity(t, u, "museum")

	require.NoError(t, d.participants.Insert(ctx, &domain.Participant{ActivityID: x.ID, UserID: v}))
	m := &domain.Message{ConversationID: x.ID, SenderID: v, Content: "hi"}
	require.NoError(t, d.messages.Insert(ctx, m))
	// A rejected write publishes nothing.
	_ = d.participants.Insert(ctx, &domain.Participant{ActivityID: x.ID, UserID: v})

	changes := d.pub.all()
	require.Len(t, changes, 2)
	assert.Equal(t, domain.TableParticipants, changes[0].Table)
	assert.Equal(t, x.ID.String(), changes[0].Columns["activity_id"])

	msgChange := changes[1]
	assert.Equal(t, domain.OpInsert, msgChange.Operation)
	assert.Equal(t, m.ID, msgChange.RowID)
	filter := domain.EventFilter{
		Table:      domain.TableMessages,
		Operations: []domain.Operation{domain.OpInsert},
		Column:     "activity_id",
		Value:      x.ID.String(),
	}
	assert.True(t, filter.Match(msgChange))
}

func TestActivityQueries(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	u := d.profile(t, "Ana")
	v := d.profile(t, "Ben")
	w := d.profile(t, "Cleo")
	mine := d.activity(t, u, "mine")
	theirs := d.activity(t, v, "theirs")
	d.activity(t, w, "stranger")

	got, err := d.activities.GetByID(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Description)
	assert.Equal(t, "Ana", got.Creator.FullName)
	assert.Equal(t, domain.CategoryCoffee, got.Category)
	assert.True(t, got.ScheduledAt.Equal(mine.ScheduledAt))

	_, err = d.activities.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	feed, err := d.activities.ListFeed(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, feed, 2)

	created, err := d.activities.ListCreatedBy(ctx, u)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, mine.ID, created[0].ID)

	anyOf, err := d.activities.ListCreatedByAny(ctx, []uuid.UUID{u, v})
	require.NoError(t, err)
	ids := []uuid.UUID{anyOf[0].ID, anyOf[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{mine.ID, theirs.ID}, ids)

	none, err := d.activities.ListCreatedByAny(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFriendsAndPresence(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	u := d.profile(t, "Ana")
	v := d.profile(t, "Ben")
	w := d.profile(t, "Cleo")
	z := d.profile(t, "Dan")

	require.NoError(t, d.friends.Add(ctx, u, v, sqlite.FriendStatusAccepted))
	require.NoError(t, d.friends.Add(ctx, w, u, sqlite.FriendStatusAccepted))
	require.NoError(t, d.friends.Add(ctx, u, z, "pending"))

	ids, err := d.friends.ListFriendIDs(ctx, u)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{v, w}, ids)

	now := time.Now().UTC()
	require.NoError(t, d.profiles.Touch(ctx, v, now))
	require.NoError(t, d.profiles.Touch(ctx, w, now.Add(-3*time.Hour)))
	free := domain.StatusFree
	require.NoError(t, d.profiles.SetStatus(ctx, v, &free, now))

	seen, err := d.profiles.ListSeenSince(ctx, ids, now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, v, seen[0].ID)
	require.NotNil(t, seen[0].CurrentStatus)
	assert.Equal(t, domain.StatusFree, *seen[0].CurrentStatus)

	err = d.profiles.Touch(ctx, uuid.New(), now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
